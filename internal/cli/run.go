package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"oaistream/internal/app"
	"oaistream/internal/core"
	"oaistream/internal/stream"
)

type runOptions struct {
	assistantID  string
	threadID     string
	prompt       string
	model        string
	instructions string
}

func newRunCommand(opts *options) *cobra.Command {
	run := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream an assistant run",
		Long: `Stream an assistant run and print the message deltas as they arrive.

Without --thread a new thread is created holding the prompt. With --thread
the run executes on that thread and the prompt is passed as additional
instructions.

Examples:
  oaistream run --assistant asst_123 --prompt "Summarize the report"
  oaistream run --assistant asst_123 --thread thread_456 --json`,
		Args: cobra.NoArgs,
		RunE: opts.withApp(true, func(ctx context.Context, cmd *cobra.Command, a *app.App, _ []string) error {
			return runRun(ctx, cmd, a, run, opts.jsonOutput)
		}),
	}

	cmd.Flags().StringVar(&run.assistantID, "assistant", "", "assistant ID (required)")
	cmd.Flags().StringVar(&run.threadID, "thread", "", "existing thread ID")
	cmd.Flags().StringVar(&run.prompt, "prompt", "", "user message")
	cmd.Flags().StringVar(&run.model, "model", "", "model override")
	cmd.Flags().StringVar(&run.instructions, "instructions", "", "instructions override")
	_ = cmd.MarkFlagRequired("assistant")

	return cmd
}

func runRun(ctx context.Context, cmd *cobra.Command, a *app.App, run *runOptions, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	logger := a.Logger()

	var mu sync.Mutex
	onData := func(obj core.RunStreamObject) {
		mu.Lock()
		defer mu.Unlock()
		if jsonOutput {
			fmt.Fprintln(out, string(obj.Raw))
			return
		}
		if obj.Status != "" {
			logger.Debug("run event", "object", obj.Object, "id", obj.ID, "status", obj.Status)
		}
		fmt.Fprint(out, obj.DeltaText())
	}

	var (
		s   *stream.Session
		err error
	)
	if run.threadID != "" {
		s, err = a.Client().StreamRun(ctx, run.threadID, &core.RunRequest{
			AssistantID:            run.assistantID,
			Model:                  run.model,
			Instructions:           run.instructions,
			AdditionalInstructions: run.prompt,
		}, onData, stream.Options{})
	} else {
		req := &core.ThreadAndRunRequest{
			AssistantID:  run.assistantID,
			Model:        run.model,
			Instructions: run.instructions,
		}
		if run.prompt != "" {
			req.Thread = &core.ThreadRequest{Messages: []core.MessageRequest{{Role: "user", Content: run.prompt}}}
		}
		s, err = a.Client().CreateThreadAndRunStream(ctx, req, onData, stream.Options{})
	}
	if err != nil {
		return err
	}

	err = s.Wait()
	if !jsonOutput {
		fmt.Fprintln(out)
	}
	return err
}
