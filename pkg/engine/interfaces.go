package engine

import (
	"context"
)

// Provider is the capability set a resource kind's control-plane adapter must
// implement. Implementations are swappable per cloud; the engine never
// depends on a concrete provider.
type Provider interface {
	// Kind returns the resource kind this provider manages.
	Kind() ResourceKind

	// ValidateAttributes checks a full (secret-merged) attribute set against
	// the kind's schema. Called before any create or update.
	ValidateAttributes(attrs Attributes) error

	// Exists reports whether the resource with the given logical id exists.
	Exists(ctx context.Context, id string) (bool, error)

	// Create provisions the resource and returns the provider handle.
	Create(ctx context.Context, id string, attrs Attributes) (string, error)

	// Update reconciles the resource behind handle to the given attributes
	// and returns the (possibly new) handle.
	Update(ctx context.Context, handle string, attrs Attributes) (string, error)

	// Delete removes the resource behind handle.
	Delete(ctx context.Context, handle string) error

	// Describe returns the provider's view of the resource's attributes.
	Describe(ctx context.Context, handle string) (Attributes, error)
}

// ProviderRegistry resolves the provider for a resource kind.
type ProviderRegistry interface {
	// Get returns the provider for a kind, or a permanent error if no
	// provider is registered for it.
	Get(kind ResourceKind) (Provider, error)
}

// StateStore persists the last-known-applied state. Implementations must
// support concurrent readers; Put replaces the full record atomically so a
// crash never leaves a partial record.
type StateStore interface {
	// Get returns the record for a resource id. Absence is reported with a
	// not-found coded state error, checkable via IsNotFound.
	Get(ctx context.Context, id string) (*ObservedRecord, error)

	// Put atomically replaces the record for a resource id.
	Put(ctx context.Context, id string, rec ObservedRecord) error

	// Delete removes the record for a resource id. Deleting an absent record
	// is not an error.
	Delete(ctx context.Context, id string) error

	// All returns every record keyed by resource id.
	All(ctx context.Context) (ObservedState, error)

	// Close releases the backend.
	Close() error
}

// RunRecorder is implemented by state backends that keep apply history.
// The executor records runs on a best-effort basis when available.
type RunRecorder interface {
	// SaveRun persists or updates a run record.
	SaveRun(ctx context.Context, run *Run) error

	// ListRuns returns recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
}
