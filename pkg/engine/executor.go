package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackpilot/stackpilot/pkg/telemetry"
)

// RetryPolicy controls the exponential backoff applied to transient provider
// failures.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
	}
}

// backoff returns the delay before retry number attempt (zero-based).
func (rp RetryPolicy) backoff(attempt int) time.Duration {
	delay := rp.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= rp.MaxDelay {
			return rp.MaxDelay
		}
	}
	if delay > rp.MaxDelay {
		delay = rp.MaxDelay
	}
	return delay
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Retry is the backoff policy for transient provider errors.
	Retry RetryPolicy

	// Parallelism bounds concurrent execution of mutually-independent
	// actions. Values below 2 mean strictly sequential, plan-order apply.
	Parallelism int

	// DryRun walks the plan without provider calls or state writes.
	DryRun bool
}

// Executor applies a plan's actions against the resource provider, one
// resource at a time in dependency order, updating the state store after
// every successful step so a rerun resumes where the last one stopped.
type Executor struct {
	providers ProviderRegistry
	store     StateStore
	log       *telemetry.Logger
	metrics   *telemetry.Metrics
	cfg       ExecutorConfig

	// writeMu serializes state-store writes across parallel branches.
	writeMu sync.Mutex
}

// NewExecutor creates an executor. Logger and metrics may be nil.
func NewExecutor(providers ProviderRegistry, store StateStore, log *telemetry.Logger, metrics *telemetry.Metrics, cfg ExecutorConfig) *Executor {
	if log == nil {
		log = telemetry.NopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Executor{
		providers: providers,
		store:     store,
		log:       log,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Apply executes the plan's actions in order. It never reorders them: the
// plan already encodes dependency order. The returned report holds one result
// per action; on failure or cancellation the failing action is marked failed
// and every not-yet-attempted action is marked not_applied, with already
// applied resources left in place.
func (e *Executor) Apply(ctx context.Context, plan *Plan) (*ApplyReport, error) {
	report := &ApplyReport{
		RunID:     uuid.New().String(),
		PlanID:    plan.ID,
		StartedAt: time.Now().UTC(),
		Results:   make([]ActionResult, len(plan.Actions)),
	}
	for i, action := range plan.Actions {
		report.Results[i] = ActionResult{
			ResourceID: action.ResourceID,
			Operation:  action.Operation,
			Status:     StatusNotApplied,
		}
	}

	log := e.log.WithRunID(report.RunID)
	log.Infof("applying plan %s: %d actions", plan.ID, len(plan.Actions))

	var err error
	if e.cfg.Parallelism > 1 && len(plan.Levels) > 0 {
		err = e.applyParallel(ctx, report, plan)
	} else {
		err = e.applySequential(ctx, report, plan)
	}

	report.CompletedAt = time.Now().UTC()
	report.Summary = summarizeResults(report.Results)
	e.recordRun(ctx, report, err)
	e.metrics.RecordRunCompleted(string(runStatus(report, err)), report.CompletedAt.Sub(report.StartedAt))

	if err != nil {
		log.WithError(err).Error("apply stopped")
	} else {
		log.Infof("apply complete: %d applied, %d skipped", report.Summary.Applied, report.Summary.Skipped)
	}
	return report, err
}

// applySequential walks the actions in plan order, stopping on the first
// failure. Cancellation is checked between actions, never mid-provider-call.
func (e *Executor) applySequential(ctx context.Context, report *ApplyReport, plan *Plan) error {
	for i := range plan.Actions {
		if err := ctx.Err(); err != nil {
			return NewTransientError("apply cancelled", err).WithCode(ErrCodeCancelled)
		}

		res := e.applyAction(ctx, report.RunID, &plan.Actions[i])
		report.Results[i] = res
		e.metrics.RecordAction(string(res.Operation), string(res.Status), res.Duration)

		if res.Status == StatusFailed {
			e.metrics.RecordError(string(res.Error.Class))
			return res.Error
		}
	}
	return nil
}

// applyParallel executes mutually-independent create/update/skip actions of
// one topological level concurrently, then any delete actions sequentially.
// No action ever runs concurrently with an ancestor or descendant.
func (e *Executor) applyParallel(ctx context.Context, report *ApplyReport, plan *Plan) error {
	index := make(map[string]int, len(plan.Actions))
	for i := range plan.Actions {
		index[plan.Actions[i].ResourceID] = i
	}

	var failed *ActionResult
	for _, level := range plan.Levels {
		if err := ctx.Err(); err != nil {
			return NewTransientError("apply cancelled", err).WithCode(ErrCodeCancelled)
		}
		if failed != nil {
			break
		}

		sem := make(chan struct{}, e.cfg.Parallelism)
		var wg sync.WaitGroup
		var mu sync.Mutex

		for _, id := range level {
			i, ok := index[id]
			if !ok || plan.Actions[i].Operation == OperationDelete {
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()

				res := e.applyAction(ctx, report.RunID, &plan.Actions[i])
				mu.Lock()
				report.Results[i] = res
				if res.Status == StatusFailed && failed == nil {
					failed = &report.Results[i]
				}
				mu.Unlock()
				e.metrics.RecordAction(string(res.Operation), string(res.Status), res.Duration)
			}(i)
		}
		wg.Wait()
	}

	if failed != nil {
		e.metrics.RecordError(string(failed.Error.Class))
		return failed.Error
	}

	// Prune deletes run after all create/update levels, strictly in the
	// plan's reverse-dependency order.
	for i := range plan.Actions {
		if plan.Actions[i].Operation != OperationDelete {
			continue
		}
		if err := ctx.Err(); err != nil {
			return NewTransientError("apply cancelled", err).WithCode(ErrCodeCancelled)
		}
		res := e.applyAction(ctx, report.RunID, &plan.Actions[i])
		report.Results[i] = res
		e.metrics.RecordAction(string(res.Operation), string(res.Status), res.Duration)
		if res.Status == StatusFailed {
			e.metrics.RecordError(string(res.Error.Class))
			return res.Error
		}
	}
	return nil
}

// applyAction executes a single action and returns its result. Failures are
// reported in the result, never panicked or half-recorded: the state store is
// written only after the provider confirms the operation.
func (e *Executor) applyAction(ctx context.Context, runID string, action *Action) ActionResult {
	start := time.Now()
	res := ActionResult{
		ResourceID: action.ResourceID,
		Operation:  action.Operation,
	}
	log := e.log.WithRunID(runID).WithResourceID(action.ResourceID)

	fail := func(err error) ActionResult {
		res.Status = StatusFailed
		res.Duration = time.Since(start)
		res.Error = asClassified(err, action)
		log.WithError(res.Error).Errorf("%s failed", action.Operation)
		return res
	}

	switch action.Operation {
	case OperationSkip:
		res.Status = StatusSkipped
		res.Duration = time.Since(start)
		log.Debug("resource already matches desired state")
		return res

	case OperationCreate, OperationUpdate:
		prov, err := e.providers.Get(action.Spec.Kind)
		if err != nil {
			return fail(err)
		}

		merged := action.Spec.Attributes.Merged(action.Spec.SecretAttributes)
		if err := prov.ValidateAttributes(merged); err != nil {
			return fail(err)
		}

		if e.cfg.DryRun {
			res.Status = StatusApplied
			res.Duration = time.Since(start)
			log.Infof("dry-run: would %s %s", action.Operation, action.Spec.Kind)
			return res
		}

		var handle string
		if action.Operation == OperationUpdate {
			rec, err := e.store.Get(ctx, action.ResourceID)
			if err != nil {
				return fail(err)
			}
			handle = rec.ProviderHandle
		}

		attempts, err := e.callWithRetry(ctx, log, action.Spec.Kind, string(action.Operation), func(ctx context.Context) error {
			var callErr error
			if action.Operation == OperationCreate {
				handle, callErr = prov.Create(ctx, action.ResourceID, merged)
			} else {
				handle, callErr = prov.Update(ctx, handle, merged)
			}
			return callErr
		})
		res.Attempts = attempts
		if err != nil {
			return fail(err)
		}

		rec := ObservedRecord{
			Kind:           action.Spec.Kind,
			Exists:         true,
			ProviderHandle: handle,
			SpecHash:       action.SpecHash,
			Attributes:     action.Spec.Attributes.Clone(),
			DependsOn:      action.Spec.DependsOn,
			LastAppliedAt:  time.Now().UTC(),
			LastRunID:      runID,
		}
		if err := e.putRecord(ctx, action.ResourceID, rec); err != nil {
			return fail(err)
		}

		res.Status = StatusApplied
		res.Duration = time.Since(start)
		log.Infof("%sd %s", action.Operation, action.Spec.Kind)
		return res

	case OperationDelete:
		rec, err := e.store.Get(ctx, action.ResourceID)
		if IsNotFound(err) {
			res.Status = StatusApplied
			res.Duration = time.Since(start)
			return res
		}
		if err != nil {
			return fail(err)
		}
		if !rec.Exists {
			res.Status = StatusApplied
			res.Duration = time.Since(start)
			return res
		}

		prov, err := e.providers.Get(rec.Kind)
		if err != nil {
			return fail(err)
		}

		if e.cfg.DryRun {
			res.Status = StatusApplied
			res.Duration = time.Since(start)
			log.Infof("dry-run: would delete %s", rec.Kind)
			return res
		}

		handle := rec.ProviderHandle
		attempts, err := e.callWithRetry(ctx, log, rec.Kind, string(OperationDelete), func(ctx context.Context) error {
			return prov.Delete(ctx, handle)
		})
		res.Attempts = attempts
		if err != nil {
			return fail(err)
		}

		// Only after the provider confirms deletion.
		updated := *rec
		updated.Exists = false
		updated.ProviderHandle = ""
		updated.LastAppliedAt = time.Now().UTC()
		updated.LastRunID = runID
		if err := e.putRecord(ctx, action.ResourceID, updated); err != nil {
			return fail(err)
		}

		res.Status = StatusApplied
		res.Duration = time.Since(start)
		log.Infof("deleted %s", rec.Kind)
		return res

	default:
		return fail(NewPermanentError(fmt.Sprintf("unknown operation %q", action.Operation), nil).
			WithCode(ErrCodeInternal))
	}
}

// callWithRetry invokes fn with exponential backoff for transient errors.
// Permanent errors return immediately; unclassified errors are treated as
// permanent provider failures.
func (e *Executor) callWithRetry(ctx context.Context, log *telemetry.Logger, kind ResourceKind, op string, fn func(context.Context) error) (int, error) {
	attempts := 0
	for attempt := 0; ; attempt++ {
		callStart := time.Now()
		err := fn(ctx)
		e.metrics.RecordProviderCall(string(kind), op, time.Since(callStart))
		attempts++
		if err == nil {
			return attempts, nil
		}

		if !IsRetryable(err) {
			if classOf(err) == "" {
				err = NewPermanentError("provider call failed", err).WithCode(ErrCodeProviderFailed)
			}
			return attempts, err
		}

		if attempt >= e.cfg.Retry.MaxRetries {
			return attempts, NewTransientError(
				fmt.Sprintf("%s failed after %d attempts", op, attempts), err).
				WithCode(ErrCodeRetryExhausted)
		}

		delay := e.cfg.Retry.backoff(attempt)
		e.metrics.RecordRetry(string(kind))
		log.Warnf("%s failed (attempt %d/%d), retrying in %s", op, attempts, e.cfg.Retry.MaxRetries+1, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attempts, NewTransientError("apply cancelled", ctx.Err()).WithCode(ErrCodeCancelled)
		}
	}
}

// putRecord writes one record, serializing writers across parallel branches.
// State-store failures are fatal for the invocation: the executor must not
// guess at state.
func (e *Executor) putRecord(ctx context.Context, id string, rec ObservedRecord) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.store.Put(ctx, id, rec); err != nil {
		if IsStateStore(err) {
			return err
		}
		return NewStateError("failed to record applied state", err).
			WithCode(ErrCodeStateIO).WithResource(id)
	}
	return nil
}

// recordRun appends the run to the state backend's history when supported.
func (e *Executor) recordRun(ctx context.Context, report *ApplyReport, applyErr error) {
	rr, ok := e.store.(RunRecorder)
	if !ok || e.cfg.DryRun {
		return
	}
	// History must survive cancellation of the apply context.
	ctx = context.WithoutCancel(ctx)
	completed := report.CompletedAt
	run := &Run{
		ID:          report.RunID,
		PlanID:      report.PlanID,
		Status:      runStatus(report, applyErr),
		StartedAt:   report.StartedAt,
		CompletedAt: &completed,
		Summary:     report.Summary,
	}
	if err := rr.SaveRun(ctx, run); err != nil {
		e.log.WithError(err).Warn("failed to record run history")
	}
}

func runStatus(report *ApplyReport, err error) RunStatus {
	switch {
	case err == nil:
		return RunStatusSucceeded
	case hasCode(err, ErrCodeCancelled):
		return RunStatusCancelled
	default:
		return RunStatusFailed
	}
}

func hasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// asClassified ensures the executor only ever reports classified errors with
// resource context attached.
func asClassified(err error, action *Action) *Error {
	var e *Error
	if !errors.As(err, &e) {
		e = NewPermanentError("action failed", err).WithCode(ErrCodeProviderFailed)
	}
	if e.Resource == "" {
		e = e.WithResource(action.ResourceID)
	}
	if e.Operation == "" {
		e = e.WithOperation(string(action.Operation))
	}
	return e
}

func summarizeResults(results []ActionResult) ApplySummary {
	s := ApplySummary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusApplied:
			s.Applied++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		case StatusNotApplied:
			s.NotApplied++
		}
	}
	return s
}
