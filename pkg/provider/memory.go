package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Call records one provider invocation against the memory backend.
type Call struct {
	Kind      engine.ResourceKind
	Operation string
	ID        string
	Handle    string
}

// MemoryBackend is the shared object store behind the memory providers. It
// supports scripted failures so retry and abort behavior can be exercised
// without a real cloud.
type MemoryBackend struct {
	mu       sync.Mutex
	objects  map[string]memObject // keyed by handle
	calls    []Call
	failures map[string][]error // keyed by kind/operation
}

type memObject struct {
	id    string
	kind  engine.ResourceKind
	attrs engine.Attributes
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects:  make(map[string]memObject),
		failures: make(map[string][]error),
	}
}

// FailNext queues errors to be returned by the next calls of the given kind
// and operation, in order. Once the queue drains, calls succeed again.
func (b *MemoryBackend) FailNext(kind engine.ResourceKind, operation string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := failureKey(kind, operation)
	b.failures[key] = append(b.failures[key], errs...)
}

// Calls returns a copy of the recorded call log.
func (b *MemoryBackend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallCount returns the number of recorded calls for the given kind and
// operation.
func (b *MemoryBackend) CallCount(kind engine.ResourceKind, operation string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.Kind == kind && c.Operation == operation {
			n++
		}
	}
	return n
}

// Object returns the stored attributes for a handle.
func (b *MemoryBackend) Object(handle string) (engine.Attributes, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[handle]
	if !ok {
		return nil, false
	}
	return obj.attrs.Clone(), true
}

// Len returns the number of live objects.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

func (b *MemoryBackend) record(kind engine.ResourceKind, operation, id, handle string) {
	b.calls = append(b.calls, Call{Kind: kind, Operation: operation, ID: id, Handle: handle})
}

// nextFailure pops the scripted failure for kind/operation, if any.
func (b *MemoryBackend) nextFailure(kind engine.ResourceKind, operation string) error {
	key := failureKey(kind, operation)
	queue := b.failures[key]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	b.failures[key] = queue[1:]
	return err
}

func failureKey(kind engine.ResourceKind, operation string) string {
	return string(kind) + "/" + operation
}

// MemoryProvider implements engine.Provider for one kind against a shared
// MemoryBackend.
type MemoryProvider struct {
	kind    engine.ResourceKind
	backend *MemoryBackend
}

// NewMemoryProvider creates a provider for the given kind.
func NewMemoryProvider(kind engine.ResourceKind, backend *MemoryBackend) *MemoryProvider {
	return &MemoryProvider{kind: kind, backend: backend}
}

// Kind returns the resource kind this provider manages.
func (p *MemoryProvider) Kind() engine.ResourceKind {
	return p.kind
}

// ValidateAttributes checks attributes against the kind's schema.
func (p *MemoryProvider) ValidateAttributes(attrs engine.Attributes) error {
	return ValidateAttrs(p.kind, attrs)
}

// Exists reports whether a resource with the given id is live in the backend.
func (p *MemoryProvider) Exists(ctx context.Context, id string) (bool, error) {
	p.backend.mu.Lock()
	defer p.backend.mu.Unlock()

	if err := p.backend.nextFailure(p.kind, "exists"); err != nil {
		return false, err
	}
	p.backend.record(p.kind, "exists", id, "")
	for _, obj := range p.backend.objects {
		if obj.id == id && obj.kind == p.kind {
			return true, nil
		}
	}
	return false, nil
}

// Create provisions a new object and returns its handle.
func (p *MemoryProvider) Create(ctx context.Context, id string, attrs engine.Attributes) (string, error) {
	p.backend.mu.Lock()
	defer p.backend.mu.Unlock()

	if err := p.backend.nextFailure(p.kind, "create"); err != nil {
		p.backend.record(p.kind, "create", id, "")
		return "", err
	}

	handle := "mem-" + uuid.New().String()
	p.backend.objects[handle] = memObject{id: id, kind: p.kind, attrs: attrs.Clone()}
	p.backend.record(p.kind, "create", id, handle)
	return handle, nil
}

// Update replaces the attributes of an existing object.
func (p *MemoryProvider) Update(ctx context.Context, handle string, attrs engine.Attributes) (string, error) {
	p.backend.mu.Lock()
	defer p.backend.mu.Unlock()

	if err := p.backend.nextFailure(p.kind, "update"); err != nil {
		p.backend.record(p.kind, "update", "", handle)
		return "", err
	}

	obj, ok := p.backend.objects[handle]
	if !ok {
		return "", engine.NewPermanentError(
			fmt.Sprintf("no object with handle %q", handle), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	obj.attrs = attrs.Clone()
	p.backend.objects[handle] = obj
	p.backend.record(p.kind, "update", obj.id, handle)
	return handle, nil
}

// Delete removes an object. Deleting an unknown handle is a no-op.
func (p *MemoryProvider) Delete(ctx context.Context, handle string) error {
	p.backend.mu.Lock()
	defer p.backend.mu.Unlock()

	if err := p.backend.nextFailure(p.kind, "delete"); err != nil {
		p.backend.record(p.kind, "delete", "", handle)
		return err
	}

	obj := p.backend.objects[handle]
	delete(p.backend.objects, handle)
	p.backend.record(p.kind, "delete", obj.id, handle)
	return nil
}

// Describe returns the stored attributes for a handle.
func (p *MemoryProvider) Describe(ctx context.Context, handle string) (engine.Attributes, error) {
	p.backend.mu.Lock()
	defer p.backend.mu.Unlock()

	if err := p.backend.nextFailure(p.kind, "describe"); err != nil {
		return nil, err
	}

	obj, ok := p.backend.objects[handle]
	if !ok {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("no object with handle %q", handle), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	p.backend.record(p.kind, "describe", obj.id, handle)
	return obj.attrs.Clone(), nil
}

// NewMemoryRegistry returns a registry with a memory provider for every
// resource kind, plus the shared backend for inspection.
func NewMemoryRegistry() (*Registry, *MemoryBackend) {
	backend := NewMemoryBackend()
	registry := NewRegistry()
	for _, kind := range engine.Kinds() {
		// Register never fails here: kinds are unique.
		_ = registry.Register(NewMemoryProvider(kind, backend))
	}
	return registry, backend
}
