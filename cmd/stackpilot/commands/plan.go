package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/manifest"
)

func newPlanCommand() *cobra.Command {
	var (
		outFile string
		dotFile string
		prune   bool
	)

	cmd := &cobra.Command{
		Use:   "plan <manifest>",
		Short: "Compute the ordered change plan",
		Long: `Compute the plan that would bring recorded state to the manifest's
desired state.

The plan:
  - Diffs every desired resource against the recorded state
  - Orders actions so dependencies are applied before dependents
  - Reports recorded resources the manifest no longer mentions
  - Makes no provider calls and changes nothing`,
		Example: `  # Show the plan
  stackpilot plan manifest.yaml

  # Save the plan for a later apply
  stackpilot plan manifest.yaml --out plan.json

  # Include delete actions for resources missing from the manifest
  stackpilot plan manifest.yaml --prune

  # Write a Graphviz view of the plan
  stackpilot plan manifest.yaml --dot plan.dot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log, err := newCLILogger()
			if err != nil {
				return err
			}

			desired, err := manifest.Load(args[0])
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

			planner := engine.NewPlanner()
			plan, err := planner.Plan(desired, observed, engine.PlanOptions{Prune: prune})
			if err != nil {
				return err
			}

			log.Debugf("computed plan %s", plan.ID)
			renderPlan(cmd.OutOrStdout(), plan)

			if outFile != "" {
				data, err := json.MarshalIndent(plan, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode plan: %w", err)
				}
				if err := os.WriteFile(outFile, data, 0644); err != nil {
					return fmt.Errorf("failed to write plan file: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nPlan saved to %s\n", outFile)
			}

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(plan.ToDOT(desired)), 0644); err != nil {
					return fmt.Errorf("failed to write dot file: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Graph saved to %s\n", dotFile)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "save the plan as JSON for a later apply")
	cmd.Flags().StringVar(&dotFile, "dot", "", "write a Graphviz DOT view of the plan")
	cmd.Flags().BoolVar(&prune, "prune", false, "plan deletes for recorded resources missing from the manifest")

	return cmd
}
