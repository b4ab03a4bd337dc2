package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"oaistream/internal/app"
	"oaistream/internal/core"
)

func newUploadCommand(opts *options) *cobra.Command {
	var purpose string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file",
		Long: `Upload a file for use with assistants or batches.

Examples:
  oaistream upload notes.pdf
  oaistream upload requests.jsonl --purpose batch`,
		Args: cobra.ExactArgs(1),
		RunE: opts.withApp(false, func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return exitWithCode(ExitValidation, fmt.Errorf("failed to read %s: %w", args[0], err))
			}

			file, err := a.Client().UploadFile(ctx, &core.FileCreateRequest{
				Purpose:  purpose,
				Filename: filepath.Base(args[0]),
				Content:  data,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeJSON(out, file, true)
			}
			fmt.Fprintf(out, "%s\t%s\t%d bytes\n", file.ID, file.Filename, file.Bytes)
			return nil
		}),
	}

	cmd.Flags().StringVar(&purpose, "purpose", "assistants", "file purpose (assistants, batch, fine-tune, vision)")
	return cmd
}
