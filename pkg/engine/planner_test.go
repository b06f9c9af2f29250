package engine

import (
	"errors"
	"testing"
	"time"
)

// observedFor builds an observed record matching the given spec, as if it had
// been applied successfully.
func observedFor(t *testing.T, s ResourceSpec) ObservedRecord {
	t.Helper()
	hash, err := SpecHash(s.Attributes)
	if err != nil {
		t.Fatalf("failed to hash attributes: %v", err)
	}
	return ObservedRecord{
		Kind:           s.Kind,
		Exists:         true,
		ProviderHandle: "handle-" + s.ID,
		SpecHash:       hash,
		Attributes:     s.Attributes.Clone(),
		DependsOn:      s.DependsOn,
		LastAppliedAt:  time.Now().UTC(),
	}
}

func TestPlanner_Plan_CreatesEverythingFromEmptyState(t *testing.T) {
	desired := &DesiredState{Resources: []ResourceSpec{
		{ID: "db", Kind: KindDatabaseInstance, Attributes: Attributes{"engine": "postgres"}},
		{ID: "app", Kind: KindDeployedService, DependsOn: []string{"db"}},
	}}

	plan, err := NewPlanner().Plan(desired, ObservedState{}, PlanOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Summary.ToCreate != 2 {
		t.Errorf("expected 2 creates, got %d", plan.Summary.ToCreate)
	}
	if plan.Actions[0].ResourceID != "db" || plan.Actions[1].ResourceID != "app" {
		t.Errorf("expected [db app] order, got [%s %s]",
			plan.Actions[0].ResourceID, plan.Actions[1].ResourceID)
	}
	for _, a := range plan.Actions {
		if a.Operation != OperationCreate {
			t.Errorf("resource %s: expected create, got %s", a.ResourceID, a.Operation)
		}
	}
}

func TestPlanner_Plan_IdempotentWhenStateMatches(t *testing.T) {
	s1 := ResourceSpec{ID: "db", Kind: KindDatabaseInstance, Attributes: Attributes{"engine": "postgres"}}
	s2 := ResourceSpec{ID: "app", Kind: KindDeployedService, DependsOn: []string{"db"}}
	desired := &DesiredState{Resources: []ResourceSpec{s1, s2}}

	observed := ObservedState{
		"db":  observedFor(t, s1),
		"app": observedFor(t, s2),
	}

	plan, err := NewPlanner().Plan(desired, observed, PlanOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !plan.IsNoop() {
		t.Errorf("expected noop plan, got summary %+v", plan.Summary)
	}
	if plan.Summary.ToSkip != 2 {
		t.Errorf("expected 2 skips, got %d", plan.Summary.ToSkip)
	}
}

func TestPlanner_Plan_UpdateOnAttributeChange(t *testing.T) {
	old := ResourceSpec{ID: "db", Kind: KindDatabaseInstance,
		Attributes: Attributes{"engine": "postgres", "size_gb": 10}}
	observed := ObservedState{"db": observedFor(t, old)}

	desired := &DesiredState{Resources: []ResourceSpec{
		{ID: "db", Kind: KindDatabaseInstance,
			Attributes: Attributes{"engine": "postgres", "size_gb": 20}},
	}}

	plan, err := NewPlanner().Plan(desired, observed, PlanOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Summary.ToUpdate != 1 {
		t.Fatalf("expected 1 update, got %d", plan.Summary.ToUpdate)
	}
	action := plan.Actions[0]
	if len(action.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d: %+v", len(action.Changes), action.Changes)
	}
	change := action.Changes[0]
	if change.Path != "size_gb" {
		t.Errorf("expected change on size_gb, got %s", change.Path)
	}
	if change.Before != 10 || change.After != 20 {
		t.Errorf("expected 10 -> 20, got %v -> %v", change.Before, change.After)
	}
}

func TestPlanner_Plan_RecreatesDeletedResource(t *testing.T) {
	s := ResourceSpec{ID: "db", Kind: KindDatabaseInstance, Attributes: Attributes{"engine": "postgres"}}
	rec := observedFor(t, s)
	rec.Exists = false
	rec.ProviderHandle = ""

	desired := &DesiredState{Resources: []ResourceSpec{s}}
	plan, err := NewPlanner().Plan(desired, ObservedState{"db": rec}, PlanOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Actions[0].Operation != OperationCreate {
		t.Errorf("expected create for deleted resource, got %s", plan.Actions[0].Operation)
	}
}

func TestPlanner_Plan_SecretsNeverAffectTheHash(t *testing.T) {
	s := ResourceSpec{
		ID: "user", Kind: KindDatabaseUser,
		Attributes:       Attributes{"username": "svc"},
		SecretAttributes: Attributes{"password": "hunter2"},
	}
	observed := ObservedState{"user": observedFor(t, s)}

	// Same spec with a different secret must still be a skip.
	changed := s
	changed.SecretAttributes = Attributes{"password": "rotated"}
	desired := &DesiredState{Resources: []ResourceSpec{changed}}

	plan, err := NewPlanner().Plan(desired, observed, PlanOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Actions[0].Operation != OperationSkip {
		t.Errorf("expected skip when only secrets differ, got %s", plan.Actions[0].Operation)
	}
}

// Unhashable attributes must fail planning, even for a create where no
// observed record exists to diff against. Nothing may reach a provider.
func TestPlanner_Plan_UnhashableAttributesFailPlanning(t *testing.T) {
	desired := &DesiredState{Resources: []ResourceSpec{{
		ID:         "db",
		Kind:       KindDatabaseInstance,
		Attributes: Attributes{"bad": func() {}},
	}}}

	plan, err := NewPlanner().Plan(desired, ObservedState{}, PlanOptions{})
	if err == nil {
		t.Fatal("expected error for unhashable attributes")
	}
	if plan != nil {
		t.Error("expected no plan on unhashable attributes")
	}
	if !IsSpec(err) {
		t.Errorf("expected spec error, got: %v", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.Resource != "db" {
		t.Errorf("expected error naming resource db, got: %v", err)
	}
	if ExitCode(err) != 2 {
		t.Errorf("expected exit code 2, got %d", ExitCode(err))
	}
}

// The hash is computed once at plan time and carried on the action.
func TestPlanner_Plan_ActionsCarrySpecHash(t *testing.T) {
	attrs := Attributes{"engine": "postgres"}
	desired := &DesiredState{Resources: []ResourceSpec{
		{ID: "db", Kind: KindDatabaseInstance, Attributes: attrs},
	}}

	plan, err := NewPlanner().Plan(desired, ObservedState{}, PlanOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want, err := SpecHash(attrs)
	if err != nil {
		t.Fatalf("failed to hash attributes: %v", err)
	}
	if plan.Actions[0].SpecHash != want {
		t.Errorf("expected action hash %s, got %s", want, plan.Actions[0].SpecHash)
	}
}

func TestPlanner_Plan_ReportsOrphansWithoutDeleting(t *testing.T) {
	s := ResourceSpec{ID: "db", Kind: KindDatabaseInstance}
	gone := ResourceSpec{ID: "old-bucket", Kind: KindStorageBucket}
	observed := ObservedState{
		"db":         observedFor(t, s),
		"old-bucket": observedFor(t, gone),
	}

	desired := &DesiredState{Resources: []ResourceSpec{s}}
	plan, err := NewPlanner().Plan(desired, observed, PlanOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan.Orphans) != 1 || plan.Orphans[0] != "old-bucket" {
		t.Errorf("expected orphans [old-bucket], got %v", plan.Orphans)
	}
	if plan.Summary.ToDelete != 0 {
		t.Errorf("expected no deletes without prune, got %d", plan.Summary.ToDelete)
	}
}

func TestPlanner_Plan_PruneDeletesOrphansInReverseOrder(t *testing.T) {
	keep := ResourceSpec{ID: "keep", Kind: KindStorageBucket}
	base := ResourceSpec{ID: "old-db", Kind: KindDatabaseInstance}
	dependent := ResourceSpec{ID: "old-app", Kind: KindDeployedService, DependsOn: []string{"old-db"}}

	observed := ObservedState{
		"keep":    observedFor(t, keep),
		"old-db":  observedFor(t, base),
		"old-app": observedFor(t, dependent),
	}

	desired := &DesiredState{Resources: []ResourceSpec{keep}}
	plan, err := NewPlanner().Plan(desired, observed, PlanOptions{Prune: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Summary.ToDelete != 2 {
		t.Fatalf("expected 2 deletes, got %d", plan.Summary.ToDelete)
	}

	var deletes []string
	for _, a := range plan.Actions {
		if a.Operation == OperationDelete {
			deletes = append(deletes, a.ResourceID)
		}
	}
	if deletes[0] != "old-app" || deletes[1] != "old-db" {
		t.Errorf("expected deletes [old-app old-db], got %v", deletes)
	}
}

func TestPlanner_Plan_CycleProducesNoPlan(t *testing.T) {
	desired := &DesiredState{Resources: []ResourceSpec{
		{ID: "a", Kind: KindStorageBucket, DependsOn: []string{"b"}},
		{ID: "b", Kind: KindStorageBucket, DependsOn: []string{"a"}},
	}}

	plan, err := NewPlanner().Plan(desired, ObservedState{}, PlanOptions{})
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if plan != nil {
		t.Error("expected nil plan on spec error")
	}
	if ExitCode(err) != 2 {
		t.Errorf("expected exit code 2, got %d", ExitCode(err))
	}
}

func TestPlanner_Destroy_DeletesInReverseDependencyOrder(t *testing.T) {
	db := ResourceSpec{ID: "db", Kind: KindDatabaseInstance}
	app := ResourceSpec{ID: "app", Kind: KindDeployedService, DependsOn: []string{"db"}}
	goneAlready := ResourceSpec{ID: "gone", Kind: KindStorageBucket}

	observed := ObservedState{
		"db":  observedFor(t, db),
		"app": observedFor(t, app),
	}
	goneRec := observedFor(t, goneAlready)
	goneRec.Exists = false
	observed["gone"] = goneRec

	plan, err := NewPlanner().Destroy(observed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Summary.ToDelete != 2 {
		t.Fatalf("expected 2 deletes (gone already absent), got %d", plan.Summary.ToDelete)
	}
	if plan.Actions[0].ResourceID != "app" || plan.Actions[1].ResourceID != "db" {
		t.Errorf("expected [app db], got [%s %s]",
			plan.Actions[0].ResourceID, plan.Actions[1].ResourceID)
	}
}

func TestPlanner_Plan_FullScenario(t *testing.T) {
	// One of each: unchanged, changed, new, orphaned.
	unchanged := ResourceSpec{ID: "bucket", Kind: KindStorageBucket, Attributes: Attributes{"name": "artifacts"}}
	changed := ResourceSpec{ID: "db", Kind: KindDatabaseInstance, Attributes: Attributes{"size_gb": 10}}
	orphan := ResourceSpec{ID: "legacy", Kind: KindStorageBucket}

	observed := ObservedState{
		"bucket": observedFor(t, unchanged),
		"db":     observedFor(t, changed),
		"legacy": observedFor(t, orphan),
	}

	desired := &DesiredState{Resources: []ResourceSpec{
		unchanged,
		{ID: "db", Kind: KindDatabaseInstance, Attributes: Attributes{"size_gb": 20}},
		{ID: "app", Kind: KindDeployedService, DependsOn: []string{"db", "bucket"}},
	}}

	plan, err := NewPlanner().Plan(desired, observed, PlanOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Summary.ToCreate != 1 || plan.Summary.ToUpdate != 1 || plan.Summary.ToSkip != 1 {
		t.Errorf("expected 1 create, 1 update, 1 skip; got %+v", plan.Summary)
	}
	if len(plan.Orphans) != 1 || plan.Orphans[0] != "legacy" {
		t.Errorf("expected orphans [legacy], got %v", plan.Orphans)
	}

	app := plan.ActionFor("app")
	if app == nil || app.Operation != OperationCreate {
		t.Fatalf("expected create action for app, got %+v", app)
	}
	// app depends on db and bucket, so it must come last.
	if plan.Actions[len(plan.Actions)-1].ResourceID != "app" {
		t.Errorf("expected app last, got %s", plan.Actions[len(plan.Actions)-1].ResourceID)
	}
}
