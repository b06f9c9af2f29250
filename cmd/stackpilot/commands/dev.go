package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/manifest"
	"github.com/stackpilot/stackpilot/pkg/telemetry"
)

func newDevCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Development mode commands",
	}

	cmd.AddCommand(newDevWatchCommand())

	return cmd
}

func newDevWatchCommand() *cobra.Command {
	var (
		autoApply bool
		debounce  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <manifest>",
		Short: "Re-plan whenever the manifest changes",
		Long: `Watch a manifest file and recompute the plan on every change.

With --apply each recomputed plan is applied immediately. Editor save
bursts are coalesced with a short debounce.`,
		Example: `  # Show the plan on every save
  stackpilot dev watch manifest.yaml

  # Apply on every save
  stackpilot dev watch manifest.yaml --apply`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log, err := newCLILogger()
			if err != nil {
				return err
			}

			manifestPath := args[0]
			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			// Watch the directory: editors replace files on save, which
			// drops a watch on the file itself.
			dir := filepath.Dir(manifestPath)
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}

			log.Infof("watching %s", manifestPath)
			replanOnce(cmd, log, manifestPath, autoApply)

			var timer *time.Timer
			timerC := make(chan struct{}, 1)

			for {
				select {
				case <-ctx.Done():
					log.Info("stopping watch")
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if filepath.Clean(event.Name) != filepath.Clean(manifestPath) {
						continue
					}
					if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
						continue
					}
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(debounce, func() {
						select {
						case timerC <- struct{}{}:
						default:
						}
					})

				case <-timerC:
					replanOnce(cmd, log, manifestPath, autoApply)

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.WithError(err).Warn("watch error")
				}
			}
		},
	}

	cmd.Flags().BoolVar(&autoApply, "apply", false, "apply each recomputed plan")
	cmd.Flags().DurationVar(&debounce, "debounce", 250*time.Millisecond, "coalesce change events within this window")

	return cmd
}

// replanOnce loads the manifest and prints (or applies) a fresh plan. Errors
// are logged, not returned: the watch loop keeps running through bad saves.
func replanOnce(cmd *cobra.Command, log *telemetry.Logger, manifestPath string, autoApply bool) {
	ctx := cmd.Context()

	desired, err := manifest.Load(manifestPath)
	if err != nil {
		log.WithError(err).Error("manifest rejected")
		return
	}

	store, err := openStore(ctx)
	if err != nil {
		log.WithError(err).Error("failed to open state store")
		return
	}
	defer store.Close()

	observed, err := store.All(ctx)
	if err != nil {
		log.WithError(err).Error("failed to read state")
		return
	}

	plan, err := engine.NewPlanner().Plan(desired, observed, engine.PlanOptions{})
	if err != nil {
		log.WithError(err).Error("planning failed")
		return
	}

	fmt.Fprintf(cmd.OutOrStdout(), "--- %s ---\n", time.Now().Format(time.TimeOnly))
	renderPlan(cmd.OutOrStdout(), plan)

	if !autoApply || plan.IsNoop() {
		return
	}

	executor := engine.NewExecutor(newProviderRegistry(), store, log, nil, engine.ExecutorConfig{
		Retry: engine.DefaultRetryPolicy(),
	})
	report, applyErr := executor.Apply(ctx, plan)
	renderReport(cmd.OutOrStdout(), report)
	if applyErr != nil {
		log.WithError(applyErr).Error("apply failed")
	}
}
