package commands

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// operationGlyph maps operations to the one-character prefix used in plan
// output.
func operationGlyph(op engine.Operation) string {
	switch op {
	case engine.OperationCreate:
		return "+"
	case engine.OperationUpdate:
		return "~"
	case engine.OperationDelete:
		return "-"
	default:
		return "="
	}
}

// renderPlan prints a human-readable plan.
func renderPlan(w io.Writer, plan *engine.Plan) {
	if plan.IsNoop() {
		fmt.Fprintln(w, "No changes. Recorded state matches the manifest.")
		if len(plan.Orphans) > 0 {
			renderOrphans(w, plan.Orphans)
		}
		return
	}

	fmt.Fprintf(w, "Plan %s:\n\n", plan.ID)
	for _, action := range plan.Actions {
		if action.Operation == engine.OperationSkip {
			continue
		}
		fmt.Fprintf(w, "  %s %s", operationGlyph(action.Operation), action.ResourceID)
		if action.Spec.Kind != "" {
			fmt.Fprintf(w, " (%s)", action.Spec.Kind)
		}
		fmt.Fprintln(w)
		for _, change := range action.Changes {
			fmt.Fprintf(w, "      %s: %v -> %v\n", change.Path, change.Before, change.After)
		}
	}

	fmt.Fprintf(w, "\nSummary: %d to create, %d to update, %d to delete, %d unchanged.\n",
		plan.Summary.ToCreate, plan.Summary.ToUpdate, plan.Summary.ToDelete, plan.Summary.ToSkip)

	if len(plan.Orphans) > 0 {
		renderOrphans(w, plan.Orphans)
	}
}

// renderOrphans prints recorded resources the manifest no longer mentions.
func renderOrphans(w io.Writer, orphans []string) {
	sorted := append([]string(nil), orphans...)
	sort.Strings(sorted)
	fmt.Fprintf(w, "\nOrphaned resources (recorded but not in the manifest, use --prune to delete):\n")
	for _, id := range sorted {
		fmt.Fprintf(w, "  %s\n", id)
	}
}

// renderReport prints the outcome of an apply run.
func renderReport(w io.Writer, report *engine.ApplyReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "RESOURCE\tOPERATION\tSTATUS\tATTEMPTS\tDURATION\n")
	for _, res := range report.Results {
		attempts := fmt.Sprintf("%d", res.Attempts)
		if res.Attempts == 0 {
			attempts = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			res.ResourceID, res.Operation, res.Status, attempts, res.Duration.Round(time.Millisecond))
	}
	tw.Flush()

	fmt.Fprintf(w, "\nRun %s: %d applied, %d skipped, %d failed, %d not applied.\n",
		report.RunID, report.Summary.Applied, report.Summary.Skipped,
		report.Summary.Failed, report.Summary.NotApplied)
}
