package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

func newDestroyCommand() *cobra.Command {
	var (
		yes    bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete every recorded resource",
		Long: `Delete every resource in the state store, dependents before
dependencies.

The manifest is not consulted: destruction works entirely from recorded
state, so it also removes resources a newer manifest no longer mentions.`,
		Example: `  # Destroy with confirmation prompt
  stackpilot destroy

  # Destroy without prompting
  stackpilot destroy --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log, err := newCLILogger()
			if err != nil {
				return err
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			observed, err := store.All(ctx)
			if err != nil {
				return err
			}

			plan, err := engine.NewPlanner().Destroy(observed)
			if err != nil {
				return err
			}
			if plan.IsNoop() {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to destroy.")
				return nil
			}

			renderPlan(cmd.OutOrStdout(), plan)

			if !yes && !dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "\nDestroy %d resources? Only 'yes' is accepted: ", plan.Summary.ToDelete)
				reader := bufio.NewReader(cmd.InOrStdin())
				answer, _ := reader.ReadString('\n')
				if strings.TrimSpace(answer) != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Destroy cancelled.")
					return nil
				}
			}

			executor := engine.NewExecutor(newProviderRegistry(), store, log, nil, engine.ExecutorConfig{
				Retry:  engine.DefaultRetryPolicy(),
				DryRun: dryRun,
			})

			report, applyErr := executor.Apply(ctx, plan)
			renderReport(cmd.OutOrStdout(), report)
			return applyErr
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be destroyed without doing it")

	return cmd
}
