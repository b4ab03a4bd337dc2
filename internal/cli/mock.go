package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"oaistream/internal/app"
)

type mockOptions struct {
	port       string
	scenario   string
	chunkDelay time.Duration
}

func newMockCommand(opts *options) *cobra.Command {
	mock := &mockOptions{}

	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve a scripted OpenAI-compatible upstream",
		Long: `Serve a scripted OpenAI-compatible upstream for local testing.

Scenarios: normal, malformed, no-done, error, rate-limit. A request picks its
own scenario with the X-Mock-Scenario header or a "mock-<scenario>" model.

Examples:
  oaistream mock --port 8089
  OPENAI_BASE_URL=http://localhost:8089/v1 oaistream chat --prompt "Hello"`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.loaded.Config
			if cmd.Flags().Changed("port") {
				cfg.Mock.Port = mock.port
			}
			if cmd.Flags().Changed("scenario") {
				cfg.Mock.Scenario = mock.scenario
			}
			if cmd.Flags().Changed("chunk-delay") {
				cfg.Mock.ChunkDelay = int(mock.chunkDelay / time.Millisecond)
			}
			return nil
		},
		RunE: opts.withApp(false, func(ctx context.Context, cmd *cobra.Command, a *app.App, _ []string) error {
			return serveMock(ctx, a, ":"+opts.loaded.Config.Mock.Port)
		}),
	}

	cmd.Flags().StringVar(&mock.port, "port", "", "listen port (default from MOCK_PORT or 8089)")
	cmd.Flags().StringVar(&mock.scenario, "scenario", "", "default scenario")
	cmd.Flags().DurationVar(&mock.chunkDelay, "chunk-delay", 0, "pause between streamed frames")
	return cmd
}

// serveMock runs the mock upstream until ctx is canceled.
func serveMock(ctx context.Context, a *app.App, addr string) error {
	srv, err := a.MockServer()
	if err != nil {
		return exitWithCode(ExitValidation, err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger().Info("starting mock upstream", "address", addr)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return exitWithCode(ExitValidation, err)
	case <-ctx.Done():
	}

	a.Logger().Info("shutting down mock upstream...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitWithCode(ExitValidation, err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return exitWithCode(ExitValidation, err)
	}
	a.Logger().Info("mock upstream stopped gracefully")
	return nil
}
