package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"oaistream/internal/app"
)

func newModelsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models [model-id]",
		Short: "List models, or show one model",
		Args:  cobra.MaximumNArgs(1),
		RunE: opts.withApp(false, func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				model, err := a.Client().RetrieveModel(ctx, args[0])
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(out, model, true)
				}
				fmt.Fprintf(out, "%s\towned by %s\n", model.ID, model.OwnedBy)
				return nil
			}

			models, err := a.Client().ListModels(ctx)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(out, models, true)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOWNED BY")
			for _, m := range models.Data {
				fmt.Fprintf(tw, "%s\t%s\n", m.ID, m.OwnedBy)
			}
			return tw.Flush()
		}),
	}
}

func newModerateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "moderate <text>...",
		Short: "Classify text with the moderation endpoint",
		Args:  cobra.MinimumNArgs(1),
		RunE: opts.withApp(false, func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			out := cmd.OutOrStdout()

			resp, err := a.Client().ModerateText(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(out, resp, true)
			}

			for _, result := range resp.Results {
				var flagged []string
				for category, hit := range result.Categories {
					if hit {
						flagged = append(flagged, category)
					}
				}
				if !result.Flagged {
					fmt.Fprintln(out, "not flagged")
					continue
				}
				slices.Sort(flagged)
				fmt.Fprintf(out, "flagged: %s\n", strings.Join(flagged, ", "))
			}
			return nil
		}),
	}
}
