package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"oaistream/internal/app"
	"oaistream/internal/core"
	"oaistream/internal/stream"
)

type chatOptions struct {
	model       string
	prompt      string
	system      string
	temperature float64
	maxTokens   int
	usage       bool
}

func newChatCommand(opts *options) *cobra.Command {
	chat := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Stream a chat completion",
		Long: `Stream a chat completion and print each increment as it arrives.

Examples:
  oaistream chat --prompt "Hello"
  oaistream chat --model gpt-4o --system "Be brief" --prompt "Hello"
  oaistream chat --prompt "Hello" --json`,
		Args: cobra.NoArgs,
		RunE: opts.withApp(true, func(ctx context.Context, cmd *cobra.Command, a *app.App, _ []string) error {
			return runChat(ctx, cmd, a, chat, opts.jsonOutput)
		}),
	}

	cmd.Flags().StringVar(&chat.model, "model", "gpt-4o-mini", "model ID")
	cmd.Flags().StringVar(&chat.prompt, "prompt", "", "user message (required)")
	cmd.Flags().StringVar(&chat.system, "system", "", "system message")
	cmd.Flags().Float64Var(&chat.temperature, "temperature", 0, "temperature (0 = use default)")
	cmd.Flags().IntVar(&chat.maxTokens, "max-tokens", 0, "max tokens (0 = use default)")
	cmd.Flags().BoolVar(&chat.usage, "usage", false, "request and print token usage")
	_ = cmd.MarkFlagRequired("prompt")

	return cmd
}

func (c *chatOptions) request() *core.ChatRequest {
	req := &core.ChatRequest{Model: c.model}
	if c.system != "" {
		req.Messages = append(req.Messages, core.Message{Role: "system", Content: c.system})
	}
	req.Messages = append(req.Messages, core.Message{Role: "user", Content: c.prompt})
	if c.temperature > 0 {
		req.Temperature = &c.temperature
	}
	if c.maxTokens > 0 {
		req.MaxTokens = &c.maxTokens
	}
	if c.usage {
		req.StreamOptions = &core.StreamOptions{IncludeUsage: true}
	}
	return req
}

func runChat(ctx context.Context, cmd *cobra.Command, a *app.App, chat *chatOptions, jsonOutput bool) error {
	out := cmd.OutOrStdout()

	events, s, err := a.Client().ChatCompletionEvents(ctx, chat.request())
	if err != nil {
		return err
	}

	var (
		streamErr error
		usage     *core.Usage
	)
	for ev := range events {
		switch ev.Kind {
		case stream.EventData:
			if ev.Data.Usage != nil {
				usage = ev.Data.Usage
			}
			if jsonOutput {
				if err := writeJSON(out, ev.Data, false); err != nil {
					a.Logger().Warn("failed to write chunk", "error", err)
				}
				continue
			}
			fmt.Fprint(out, ev.Data.Text())
		case stream.EventError:
			streamErr = ev.Err
		}
	}
	if !jsonOutput {
		fmt.Fprintln(out)
	}

	a.Logger().Debug("chat stream finished", "session_id", s.ID(), "state", s.State().String())
	if streamErr != nil {
		return streamErr
	}

	if chat.usage && usage != nil && !jsonOutput {
		fmt.Fprintf(cmd.ErrOrStderr(), "Usage: %d prompt + %d completion = %d total tokens\n",
			usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
	}
	return nil
}
