package engine

import (
	"errors"
	"sort"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

// Planner produces plans by diffing a desired state against the observed
// state. Planning is pure computation: no provider or store side effects.
type Planner struct{}

// NewPlanner creates a planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// PlanOptions control plan production.
type PlanOptions struct {
	// Prune adds delete actions for orphaned resources (present in observed
	// state, absent from desired state). Orphans are otherwise only reported.
	Prune bool
}

// Plan computes the ordered action sequence that brings observed state to the
// desired state. Actions for create/update/skip follow the deterministic
// topological order of the dependency graph; prune deletes are appended in
// reverse-dependency order.
func (p *Planner) Plan(desired *DesiredState, observed ObservedState, opts PlanOptions) (*Plan, error) {
	g, err := buildGraph(desired)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Levels:    g.levels(),
	}

	for _, id := range g.topoOrder() {
		spec := desired.ByID(id)
		action, err := diffResource(spec, observed)
		if err != nil {
			return nil, err
		}
		plan.Actions = append(plan.Actions, *action)
	}

	plan.Orphans = orphanIDs(desired, observed)
	if opts.Prune {
		for _, id := range reverseTopoObserved(plan.Orphans, observed) {
			plan.Actions = append(plan.Actions, Action{
				ResourceID: id,
				Operation:  OperationDelete,
			})
		}
	}

	plan.Summary = summarize(plan.Actions)
	return plan, nil
}

// Destroy computes a plan deleting every existing resource in observed state,
// in reverse-dependency order.
func (p *Planner) Destroy(observed ObservedState) (*Plan, error) {
	var ids []string
	for id, rec := range observed {
		if rec.Exists {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	plan := &Plan{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}
	for _, id := range reverseTopoObserved(ids, observed) {
		plan.Actions = append(plan.Actions, Action{
			ResourceID: id,
			Operation:  OperationDelete,
		})
	}
	plan.Summary = summarize(plan.Actions)
	return plan, nil
}

// diffResource decides the operation for one resource. The attribute hash is
// computed here for every resource, so unhashable attributes fail the plan
// before any provider or store side effect.
func diffResource(spec *ResourceSpec, observed ObservedState) (*Action, error) {
	hash, err := SpecHash(spec.Attributes)
	if err != nil {
		var classified *Error
		if errors.As(err, &classified) {
			return nil, classified.WithResource(spec.ID)
		}
		return nil, err
	}

	action := &Action{
		ResourceID: spec.ID,
		Spec:       *spec,
		SpecHash:   hash,
	}

	rec, ok := observed[spec.ID]
	if !ok || !rec.Exists {
		action.Operation = OperationCreate
		return action, nil
	}

	if hash == rec.SpecHash {
		action.Operation = OperationSkip
		return action, nil
	}

	action.Operation = OperationUpdate
	action.Changes = attributeChanges(rec.Attributes, spec.Attributes)
	return action, nil
}

// attributeChanges lists per-key differences between the recorded and the
// desired attributes, sorted by key.
func attributeChanges(before, after Attributes) []AttributeChange {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []AttributeChange
	for _, k := range sorted {
		b, hasBefore := before[k]
		a, hasAfter := after[k]
		if hasBefore && hasAfter && cmp.Equal(b, a) {
			continue
		}
		changes = append(changes, AttributeChange{Path: k, Before: b, After: a})
	}
	return changes
}

// orphanIDs returns ids present and existing in observed state but absent
// from the desired state, in ascending order.
func orphanIDs(desired *DesiredState, observed ObservedState) []string {
	var orphans []string
	for id, rec := range observed {
		if !rec.Exists {
			continue
		}
		if desired.ByID(id) == nil {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	return orphans
}

func summarize(actions []Action) PlanSummary {
	s := PlanSummary{Total: len(actions)}
	for _, a := range actions {
		switch a.Operation {
		case OperationCreate:
			s.ToCreate++
		case OperationUpdate:
			s.ToUpdate++
		case OperationDelete:
			s.ToDelete++
		case OperationSkip:
			s.ToSkip++
		}
	}
	return s
}
