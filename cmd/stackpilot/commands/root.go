// Package commands implements the stackpilot CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/provider"
	"github.com/stackpilot/stackpilot/pkg/state"
	"github.com/stackpilot/stackpilot/pkg/telemetry"
)

var (
	// Global flags
	stateURI  string
	logLevel  string
	logFormat string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stackpilot",
		Short: "StackPilot - declarative infrastructure provisioning",
		Long: `StackPilot provisions and deploys application infrastructure from a
declarative manifest.

A manifest describes the desired resources (databases, buckets, images,
services) and their dependencies. StackPilot computes the minimal ordered
plan against the recorded state and applies it through resource providers,
retrying transient failures and resuming interrupted runs.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&stateURI, "state", "s", "file://stackpilot.state.json", "state store URI (file:// or sqlite://)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}

// newCLILogger builds the logger from the persistent flags.
func newCLILogger() (*telemetry.Logger, error) {
	return telemetry.NewLogger(telemetry.LoggingConfig{
		Level:      logLevel,
		Format:     logFormat,
		Output:     "stderr",
		TimeFormat: "rfc3339",
	})
}

// openStore opens the state backend named by the --state flag.
func openStore(ctx context.Context) (engine.StateStore, error) {
	return state.OpenStore(ctx, stateURI)
}

// newProviderRegistry returns the provider set for this build. Only the
// in-memory providers ship today.
func newProviderRegistry() *provider.Registry {
	registry, _ := provider.NewMemoryRegistry()
	return registry
}
