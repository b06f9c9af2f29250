package engine

import (
	"fmt"
	"time"
)

// ResourceKind identifies the type of an infrastructure resource.
type ResourceKind string

const (
	// KindDatabaseInstance is a managed database server instance.
	KindDatabaseInstance ResourceKind = "database-instance"

	// KindDatabase is a logical database inside an instance.
	KindDatabase ResourceKind = "database"

	// KindDatabaseUser is a database account inside an instance.
	KindDatabaseUser ResourceKind = "database-user"

	// KindStorageBucket is an object-storage bucket.
	KindStorageBucket ResourceKind = "storage-bucket"

	// KindContainerImage is a container image reference in a registry.
	KindContainerImage ResourceKind = "container-image"

	// KindDeployedService is a containerized service running on a managed
	// container-hosting platform.
	KindDeployedService ResourceKind = "deployed-service"
)

// Kinds lists all resource kinds in a stable order.
func Kinds() []ResourceKind {
	return []ResourceKind{
		KindDatabaseInstance,
		KindDatabase,
		KindDatabaseUser,
		KindStorageBucket,
		KindContainerImage,
		KindDeployedService,
	}
}

// Validate checks if the resource kind is known.
func (k ResourceKind) Validate() error {
	switch k {
	case KindDatabaseInstance, KindDatabase, KindDatabaseUser,
		KindStorageBucket, KindContainerImage, KindDeployedService:
		return nil
	default:
		return NewSpecError(fmt.Sprintf("unknown resource kind: %s", k), nil).
			WithCode(ErrCodeValidation)
	}
}

// Attributes is the provider-interpreted configuration of a resource. The
// planner treats it as opaque data; only the provider for a kind gives the
// keys meaning.
type Attributes map[string]any

// Clone returns a shallow copy of the attribute map.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Merged returns a copy of a with the entries of other layered on top.
func (a Attributes) Merged(other Attributes) Attributes {
	out := a.Clone()
	if out == nil {
		out = make(Attributes, len(other))
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// ResourceSpec declares one resource of the desired topology.
type ResourceSpec struct {
	// ID is the stable logical name, unique within a DesiredState.
	ID string `json:"id"`

	// Kind is the resource kind.
	Kind ResourceKind `json:"kind"`

	// Attributes is the desired configuration, opaque to the planner.
	Attributes Attributes `json:"attributes,omitempty"`

	// SecretAttributes holds attribute values resolved from the environment.
	// They are merged into provider calls but never hashed, persisted, or
	// serialized.
	SecretAttributes Attributes `json:"-"`

	// DependsOn lists resource ids that must exist and be ready before this
	// one is created.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Validate checks the structural invariants of a single spec.
func (s *ResourceSpec) Validate() error {
	if s.ID == "" {
		return NewSpecError("resource spec has empty id", nil).
			WithCode(ErrCodeValidation)
	}
	if err := s.Kind.Validate(); err != nil {
		return NewSpecError(fmt.Sprintf("resource %s has invalid kind", s.ID), err).
			WithCode(ErrCodeValidation).WithResource(s.ID)
	}
	for _, dep := range s.DependsOn {
		if dep == s.ID {
			return NewSpecError(fmt.Sprintf("resource %s depends on itself", s.ID), nil).
				WithCode(ErrCodeCycle).WithResource(s.ID)
		}
	}
	return nil
}

// DesiredState is the complete target resource topology for one invocation.
// Order is irrelevant; the planner derives ordering from dependency edges.
type DesiredState struct {
	Resources []ResourceSpec `json:"resources"`
}

// ByID returns the spec with the given id, or nil.
func (d *DesiredState) ByID(id string) *ResourceSpec {
	for i := range d.Resources {
		if d.Resources[i].ID == id {
			return &d.Resources[i]
		}
	}
	return nil
}

// ObservedRecord is the state store's record of one resource as last applied.
type ObservedRecord struct {
	// Kind is the resource kind at last apply.
	Kind ResourceKind `json:"kind"`

	// Exists reports whether the resource exists on the provider side.
	Exists bool `json:"exists"`

	// ProviderHandle is the provider's opaque identifier for the resource.
	ProviderHandle string `json:"provider_handle,omitempty"`

	// SpecHash is the hash of the non-secret attributes at last successful
	// apply. Reruns diff against it to decide create/update/skip.
	SpecHash string `json:"spec_hash,omitempty"`

	// Attributes are the non-secret attributes at last successful apply.
	// Kept so plans can report per-attribute changes.
	Attributes Attributes `json:"attributes,omitempty"`

	// DependsOn are the dependency edges at last apply, kept so deletions of
	// resources no longer present in the desired state can still be ordered.
	DependsOn []string `json:"depends_on,omitempty"`

	// LastAppliedAt is when the resource was last successfully applied.
	LastAppliedAt time.Time `json:"last_applied_at"`

	// LastRunID is the run that last touched this record.
	LastRunID string `json:"last_run_id,omitempty"`
}

// ObservedState maps resource id to its observed record.
type ObservedState map[string]ObservedRecord

// Operation is the action the executor takes for one resource.
type Operation string

const (
	// OperationCreate creates a resource that does not exist yet.
	OperationCreate Operation = "create"

	// OperationUpdate reconciles an existing resource whose attributes
	// changed since the last apply.
	OperationUpdate Operation = "update"

	// OperationDelete removes an existing resource.
	OperationDelete Operation = "delete"

	// OperationSkip records that the resource already matches the desired
	// state.
	OperationSkip Operation = "skip"
)

// IsMutating returns true if the operation invokes the provider.
func (o Operation) IsMutating() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

// Validate checks if the operation is known.
func (o Operation) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationSkip:
		return nil
	default:
		return NewSpecError(fmt.Sprintf("invalid operation: %s", o), nil).
			WithCode(ErrCodeValidation)
	}
}

// AttributeChange describes one attribute difference behind an Update action.
type AttributeChange struct {
	// Path is the attribute key that changed.
	Path string `json:"path"`

	// Before is the value recorded at last apply.
	Before any `json:"before,omitempty"`

	// After is the desired value.
	After any `json:"after,omitempty"`
}

// Action is one step of a plan.
type Action struct {
	// ResourceID is the resource this action operates on.
	ResourceID string `json:"resource_id"`

	// Operation is the operation to perform.
	Operation Operation `json:"operation"`

	// Spec is the desired spec for create/update/skip actions. Empty for
	// delete actions, whose inputs come from the observed record.
	Spec ResourceSpec `json:"spec,omitempty"`

	// SpecHash is the hash of the spec's non-secret attributes, computed
	// once at plan time. The executor records it verbatim after a confirmed
	// create or update.
	SpecHash string `json:"spec_hash,omitempty"`

	// Changes lists attribute differences for update actions.
	Changes []AttributeChange `json:"changes,omitempty"`
}

// Plan is the ordered, immutable bridge between desired and observed state.
// Actions appear in dependency order; delete actions (prune or destroy) are
// already in reverse-dependency order.
type Plan struct {
	// ID is the unique identifier of this plan.
	ID string `json:"id"`

	// CreatedAt is when the plan was produced.
	CreatedAt time.Time `json:"created_at"`

	// Actions is the ordered action sequence. Consumed once by the executor,
	// which never reorders it.
	Actions []Action `json:"actions"`

	// Levels groups mutually-independent create/update/skip resource ids by
	// topological depth. Used only by the bounded-parallelism apply mode.
	Levels [][]string `json:"levels,omitempty"`

	// Orphans lists resource ids present in observed state but absent from
	// the desired state. Reported, never auto-deleted.
	Orphans []string `json:"orphans,omitempty"`

	// Summary provides per-operation statistics.
	Summary PlanSummary `json:"summary"`
}

// PlanSummary provides statistics about a plan.
type PlanSummary struct {
	Total    int `json:"total"`
	ToCreate int `json:"to_create"`
	ToUpdate int `json:"to_update"`
	ToDelete int `json:"to_delete"`
	ToSkip   int `json:"to_skip"`
}

// IsNoop returns true if the plan contains no mutating actions.
func (p *Plan) IsNoop() bool {
	return p.Summary.ToCreate == 0 && p.Summary.ToUpdate == 0 && p.Summary.ToDelete == 0
}

// Action lookup by resource id. Returns nil if absent.
func (p *Plan) ActionFor(resourceID string) *Action {
	for i := range p.Actions {
		if p.Actions[i].ResourceID == resourceID {
			return &p.Actions[i]
		}
	}
	return nil
}

// ActionStatus is the outcome of one action in an apply report.
type ActionStatus string

const (
	// StatusApplied means the provider call succeeded and the state store
	// records the result.
	StatusApplied ActionStatus = "applied"

	// StatusSkipped means the resource already matched and no provider call
	// was made.
	StatusSkipped ActionStatus = "skipped"

	// StatusFailed means the action failed after exhausting retries or on a
	// permanent error.
	StatusFailed ActionStatus = "failed"

	// StatusNotApplied means the action was never attempted because an
	// earlier action failed or the run was cancelled.
	StatusNotApplied ActionStatus = "not_applied"
)

// ActionResult is the outcome of executing one action.
type ActionResult struct {
	// ResourceID is the resource the action operated on.
	ResourceID string `json:"resource_id"`

	// Operation is the action's operation.
	Operation Operation `json:"operation"`

	// Status is the outcome.
	Status ActionStatus `json:"status"`

	// Attempts is the number of provider invocations made.
	Attempts int `json:"attempts"`

	// Duration is the total execution time including backoff.
	Duration time.Duration `json:"duration"`

	// Error is the classified failure, if any.
	Error *Error `json:"error,omitempty"`
}

// ApplyReport is the outcome of applying one plan.
type ApplyReport struct {
	// RunID identifies this apply invocation.
	RunID string `json:"run_id"`

	// PlanID is the plan that was applied.
	PlanID string `json:"plan_id"`

	// StartedAt is when the apply started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the apply finished or stopped.
	CompletedAt time.Time `json:"completed_at"`

	// Results holds one entry per plan action, in plan order.
	Results []ActionResult `json:"results"`

	// Summary provides per-status statistics.
	Summary ApplySummary `json:"summary"`
}

// ApplySummary provides statistics about an apply run.
type ApplySummary struct {
	Total      int `json:"total"`
	Applied    int `json:"applied"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	NotApplied int `json:"not_applied"`
}

// ResultFor returns the result for a resource id, or nil.
func (r *ApplyReport) ResultFor(resourceID string) *ActionResult {
	for i := range r.Results {
		if r.Results[i].ResourceID == resourceID {
			return &r.Results[i]
		}
	}
	return nil
}

// Failed returns the first failed result, or nil.
func (r *ApplyReport) Failed() *ActionResult {
	for i := range r.Results {
		if r.Results[i].Status == StatusFailed {
			return &r.Results[i]
		}
	}
	return nil
}

// Run records one apply invocation for the state backend's history.
type Run struct {
	// ID is the run identifier.
	ID string `json:"id"`

	// PlanID is the plan that was applied.
	PlanID string `json:"plan_id"`

	// Status is the final run status.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Summary provides per-status statistics.
	Summary ApplySummary `json:"summary"`
}

// RunStatus is the overall status of an apply run.
type RunStatus string

const (
	// RunStatusSucceeded means every action applied or skipped.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed means an action failed and the run stopped.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled means the run stopped on an external cancellation
	// signal between actions.
	RunStatusCancelled RunStatus = "cancelled"
)
