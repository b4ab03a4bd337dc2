// Package cli implements the oaistream command structure using Cobra.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/spf13/cobra"

	"oaistream/config"
	"oaistream/internal/app"
	"oaistream/internal/core"
)

// Version is set at build time with -ldflags "-X oaistream/internal/cli.Version=...".
var Version = "dev"

// Exit codes
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitUpstream   = 2
	ExitNetwork    = 3
)

const shutdownTimeout = 30 * time.Second

// options holds the global flags and the configuration they resolve to.
type options struct {
	configPath string
	logLevel   string
	logFormat  string
	baseURL    string
	jsonOutput bool

	loaded *config.LoadResult
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "oaistream",
		Short: "Stream responses from an OpenAI-compatible API",
		Long: `oaistream opens streaming sessions against an OpenAI-compatible API and
prints each increment as it arrives.

Configuration is read from config.yaml, .env and the environment
(OPENAI_API_KEY, OPENAI_BASE_URL, LOG_LEVEL, ...).`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.loadConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default is config.yaml or config/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: auto, text, json")
	flags.StringVar(&opts.baseURL, "base-url", "", "API base URL (overrides OPENAI_BASE_URL)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "emit JSON output")

	root.AddCommand(
		newChatCommand(opts),
		newRunCommand(opts),
		newModelsCommand(opts),
		newModerateCommand(opts),
		newUploadCommand(opts),
		newMockCommand(opts),
	)
	return root
}

// Execute runs the root command with ctx, typically canceled on SIGINT.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (o *options) loadConfig() error {
	result, err := config.Load(o.configPath)
	if err != nil {
		return exitWithCode(ExitValidation, err)
	}

	cfg := result.Config
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if o.baseURL != "" {
		cfg.OpenAI.BaseURL = o.baseURL
	}
	if err := cfg.Validate(); err != nil {
		return exitWithCode(ExitValidation, err)
	}

	o.loaded = result
	return nil
}

type appRunFunc func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error

// withApp builds the application for one command and shuts it down afterwards.
func (o *options) withApp(serveMetrics bool, fn appRunFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := app.New(ctx, app.Config{AppConfig: o.loaded, LogOutput: cmd.ErrOrStderr()})
		if err != nil {
			return exitWithCode(ExitValidation, err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.Shutdown(shutdownCtx); err != nil {
				a.Logger().Error("shutdown failed", "error", err)
			}
		}()

		if serveMetrics {
			if _, err := a.StartMetrics(); err != nil {
				return exitWithCode(ExitValidation, err)
			}
		}

		return classify(fn(ctx, cmd, a, args))
	}
}

// exitError carries a process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// ExitCode returns the process exit code.
func (e *exitError) ExitCode() int { return e.code }

func exitWithCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitValidation
}

// classify assigns exit codes by error type. Invalid requests rejected
// before anything was sent are validation failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}

	var ce *core.ClientError
	switch {
	case core.IsType(err, core.ErrorTypeTransport), core.IsType(err, core.ErrorTypeCanceled):
		return exitWithCode(ExitNetwork, err)
	case errors.As(err, &ce) && ce.Type == core.ErrorTypeInvalidRequest && ce.StatusCode == 0:
		return exitWithCode(ExitValidation, err)
	case errors.As(err, &ce):
		return exitWithCode(ExitUpstream, err)
	default:
		return exitWithCode(ExitValidation, err)
	}
}

func writeJSON(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
