package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/manifest"
	"github.com/stackpilot/stackpilot/pkg/provider"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Validate a manifest without planning or applying",
		Long: `Check a manifest for schema errors, duplicate ids, unknown
dependencies, dependency cycles, unresolved environment variables, and
per-kind attribute violations.`,
		Example: `  # Validate a manifest
  stackpilot validate manifest.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desired, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			// Graph checks: duplicates, unknown deps, cycles.
			if _, err := engine.NewPlanner().Plan(desired, engine.ObservedState{}, engine.PlanOptions{}); err != nil {
				return err
			}

			// Per-kind attribute schemas, with secrets merged in.
			for _, spec := range desired.Resources {
				merged := spec.Attributes.Merged(spec.SecretAttributes)
				if err := provider.ValidateAttrs(spec.Kind, merged); err != nil {
					if classified, ok := err.(*engine.Error); ok {
						return classified.WithResource(spec.ID)
					}
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Manifest is valid: %d resources.\n", len(desired.Resources))
			return nil
		},
	}

	return cmd
}
