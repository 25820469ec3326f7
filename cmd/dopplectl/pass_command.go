package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dopple/internal/scheduler"
)

func newPassCommand(cc *commandContext) *cobra.Command {
	var (
		mode string
		ids  []string
	)

	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Run one orchestrator pass",
		Long: `Run one time-boxed pass over the stored personas and print its summary.

Use --mode sweep from cron for the long budget. --id visits the given
personas before the newest-first order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := cc.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			sum, err := a.Scheduler.Run(ctx, scheduler.Request{
				Mode:  scheduler.ParseMode(mode),
				Focus: ids,
			})
			if err != nil {
				return err
			}
			if cc.jsonOut {
				return writeJSON(cmd, sum)
			}
			fmt.Fprintln(cmd.OutOrStdout(), summaryHeadline(sum))
			if len(sum.Results) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Persona", "Status", "Actions", "Error"},
					summaryRows(sum, shouldColorize(cmd.OutOrStdout())),
				))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "short", "Pass mode: short or sweep")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Persona ids to visit first")
	return cmd
}

func summaryHeadline(sum *scheduler.Summary) string {
	line := fmt.Sprintf("run %s (%s): %d processed, %d skipped in %dms; clips %d done, %d pending, %d failed",
		sum.RunID, sum.Mode, sum.Processed, sum.Skipped, sum.Elapsed,
		sum.Summary.VideosCompleted, sum.Summary.VideosPending, sum.Summary.VideosFailed)
	if sum.BudgetExhausted {
		line += " [budget exhausted]"
	}
	return line
}

func summaryRows(sum *scheduler.Summary, colorize bool) [][]string {
	rows := make([][]string, 0, len(sum.Results))
	for _, r := range sum.Results {
		name := r.ID
		if name == "" {
			name = r.Key
		}
		rows = append(rows, []string{
			name,
			colorStatus(string(r.Status), colorize),
			strings.Join(r.Actions, ", "),
			r.Error,
		})
	}
	return rows
}
