package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/manifest"
	"github.com/stackpilot/stackpilot/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		planFile      string
		parallelism   int
		dryRun        bool
		prune         bool
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "apply <manifest>",
		Short: "Apply the plan against the providers",
		Long: `Compute (or load) a plan and execute it.

Each action runs in dependency order. Transient provider failures are
retried with exponential backoff; permanent failures stop the run. The
state store is updated after every confirmed provider call, so an
interrupted apply resumes from where it stopped on the next run.

When --plan is given the saved plan is executed instead of a freshly
computed one. The manifest is still required: secret values are
re-resolved from the environment, never stored in the plan file.`,
		Example: `  # Plan and apply in one step
  stackpilot apply manifest.yaml

  # Execute a previously saved plan
  stackpilot apply manifest.yaml --plan plan.json

  # Apply independent resources concurrently
  stackpilot apply manifest.yaml --parallelism 4

  # Walk the plan without touching providers or state
  stackpilot apply manifest.yaml --dry-run`,
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

			var plan *engine.Plan
			if planFile != "" {
				plan, err = loadPlanFile(planFile, desired)
			} else {
				var observed engine.ObservedState
				observed, err = store.All(ctx)
				if err != nil {
					return err
				}
				plan, err = engine.NewPlanner().Plan(desired, observed, engine.PlanOptions{Prune: prune})
			}
			if err != nil {
				return err
			}

			if plan.IsNoop() {
				renderPlan(cmd.OutOrStdout(), plan)
				return nil
			}

			metrics, err := newMetrics(metricsListen)
			if err != nil {
				return err
			}

			executor := engine.NewExecutor(newProviderRegistry(), store, log, metrics, engine.ExecutorConfig{
				Retry:       engine.DefaultRetryPolicy(),
				Parallelism: parallelism,
				DryRun:      dryRun,
			})

			report, applyErr := executor.Apply(ctx, plan)
			renderReport(cmd.OutOrStdout(), report)

			if applyErr != nil {
				if failed := report.Failed(); failed != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "\nFailed resource: %s\n", failed.ResourceID)
				}
				return applyErr
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&planFile, "plan", "", "execute a previously saved plan file")
	cmd.Flags().IntVar(&parallelism, "parallelism", 1, "max concurrent actions for independent resources")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "walk the plan without provider calls or state writes")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete recorded resources missing from the manifest")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "expose Prometheus metrics on this address (e.g. :9090)")

	return cmd
}

// loadPlanFile reads a saved plan and re-attaches secret attributes from the
// freshly loaded manifest. Plan files never contain secrets.
func loadPlanFile(path string, desired *engine.DesiredState) (*engine.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewSpecError(
			fmt.Sprintf("failed to read plan file %s", path), err).
			WithCode(engine.ErrCodeValidation)
	}

	var plan engine.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, engine.NewSpecError(
			fmt.Sprintf("plan file %s is not a valid plan", path), err).
			WithCode(engine.ErrCodeValidation)
	}

	for i := range plan.Actions {
		action := &plan.Actions[i]
		if spec := desired.ByID(action.ResourceID); spec != nil {
			action.Spec.SecretAttributes = spec.SecretAttributes
		}
	}
	return &plan, nil
}

// newMetrics builds the metrics collector, starting the HTTP endpoint when a
// listen address is given.
func newMetrics(listen string) (*telemetry.Metrics, error) {
	cfg := telemetry.DefaultMetricsConfig()
	if listen != "" {
		cfg.Enabled = true
		cfg.ListenAddress = listen
	}
	metrics, err := telemetry.NewMetrics(cfg)
	if err != nil {
		return nil, err
	}
	if err := metrics.StartServer(); err != nil {
		return nil, err
	}
	return metrics, nil
}
