package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

func newRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent apply runs",
		Long: `List recent apply runs, newest first.

Run history is kept by the SQLite state backend only.`,
		Example: `  # List the last 20 runs
  stackpilot runs --state sqlite://stackpilot.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			recorder, ok := store.(engine.RunRecorder)
			if !ok {
				return fmt.Errorf("state backend %q does not keep run history (use sqlite://)", stateURI)
			}

			runs, err := recorder.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "RUN\tSTATUS\tSTARTED\tDURATION\tAPPLIED\tFAILED\n")
			for _, run := range runs {
				duration := "-"
				if run.CompletedAt != nil {
					duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
					run.ID, run.Status, run.StartedAt.Format(time.RFC3339),
					duration, run.Summary.Applied, run.Summary.Failed)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max runs to list")

	return cmd
}
