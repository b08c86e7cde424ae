// Shoal is a Redfish aggregator service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"metalforge/internal/metrics"
	"metalforge/internal/werrors"
)

// PersistenceHook lets the engine durably record workflow transitions
// without importing internal/persistence directly. Implementations MUST NOT
// block execution on failure: the engine logs and continues per spec.md
// §4.8's "failures to persist are logged but MUST NOT abort execution".
type PersistenceHook interface {
	RecordWorkflowStart(ctx context.Context, instance *WorkflowInstance) error
	RecordWorkflowProgress(ctx context.Context, instance *WorkflowInstance) error
}

// Engine creates and drives WorkflowInstances. One Engine serves many
// concurrently executing workflows, each on its own goroutine; steps
// within a single workflow run sequentially, per spec.md §5.
type Engine struct {
	mu        sync.Mutex
	instances map[string]*WorkflowInstance
	defs      map[string][]StepDefinition

	hook       PersistenceHook
	logger     *slog.Logger
	historyCap int

	sinkMu sync.Mutex
	sinks  []ProgressSink

	newID func() string
	sleep func(time.Duration)
}

// NewEngine constructs an Engine. hook may be nil (no persistence).
func NewEngine(hook PersistenceHook, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		instances:  map[string]*WorkflowInstance{},
		defs:       map[string][]StepDefinition{},
		hook:       hook,
		logger:     logger,
		historyCap: 1000,
		newID:      func() string { return uuid.New().String() },
		sleep:      time.Sleep,
	}
}

// SubscribeProgress registers a sink invoked synchronously for every
// ProgressEvent emitted by any workflow this Engine drives.
func (e *Engine) SubscribeProgress(sink ProgressSink) {
	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// CreateWorkflow builds a pending WorkflowInstance from an ordered list
// of step definitions and an initial context, and registers it for
// lookup by ID. It does not start execution. template is an opaque label
// (e.g. a factory.TemplateName) carried on the instance only to key
// metrics/logging; an empty value is valid and simply labels as such.
func (e *Engine) CreateWorkflow(steps []StepDefinition, wctx *WorkflowContext, template string) *WorkflowInstance {
	id := e.newID()
	normalized := make([]StepDefinition, len(steps))
	stepExecs := make([]StepExecution, len(steps))
	for i, d := range steps {
		normalized[i] = d.normalized()
		stepExecs[i] = StepExecution{Name: d.Name, Status: StepPending}
	}

	instance := &WorkflowInstance{
		ID:         id,
		Template:   template,
		Status:     StatusPending,
		Steps:      stepExecs,
		Context:    wctx,
		historyCap: e.historyCap,
		done:       make(chan struct{}),
	}

	e.mu.Lock()
	e.instances[id] = instance
	e.defs[id] = normalized
	e.mu.Unlock()

	return instance
}

// GetWorkflow returns a defensive snapshot of the instance, if known.
func (e *Engine) GetWorkflow(id string) (WorkflowInstance, bool) {
	e.mu.Lock()
	instance, ok := e.instances[id]
	e.mu.Unlock()
	if !ok {
		return WorkflowInstance{}, false
	}
	return instance.Snapshot(), true
}

// ListActiveWorkflows returns snapshots of every instance still pending
// or running.
func (e *Engine) ListActiveWorkflows() []WorkflowInstance {
	e.mu.Lock()
	instances := make([]*WorkflowInstance, 0, len(e.instances))
	for _, inst := range e.instances {
		instances = append(instances, inst)
	}
	e.mu.Unlock()

	out := make([]WorkflowInstance, 0, len(instances))
	for _, inst := range instances {
		snap := inst.Snapshot()
		if snap.Status == StatusPending || snap.Status == StatusRunning {
			out = append(out, snap)
		}
	}
	return out
}

// CancelWorkflow requests cancellation of a running or pending workflow.
// It returns false without effect if the workflow is unknown or already
// terminal, per spec.md's boundary behavior.
func (e *Engine) CancelWorkflow(id string) bool {
	e.mu.Lock()
	instance, ok := e.instances[id]
	e.mu.Unlock()
	if !ok {
		return false
	}

	snap := instance.Snapshot()
	if snap.Status != StatusPending && snap.Status != StatusRunning {
		return false
	}
	instance.requestCancel()
	return true
}

// StartWorkflow transitions a pending instance to running and executes
// its steps on a new goroutine. It returns immediately; callers observe
// completion via GetWorkflow polling or instance.Done().
func (e *Engine) StartWorkflow(ctx context.Context, id string) error {
	e.mu.Lock()
	instance, ok := e.instances[id]
	defs := e.defs[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("workflow: unknown workflow %s", id)
	}

	go e.run(ctx, instance, defs)
	return nil
}

func (e *Engine) run(ctx context.Context, instance *WorkflowInstance, defs []StepDefinition) {
	defer close(instance.done)

	// CancelWorkflow only sets instance.cancelled; it never cancels ctx.
	// A running step always runs to its own completion or its own
	// TimeoutSeconds, per spec.md §8 Scenario D ("cancellation takes
	// effect on next step-boundary check, or at step completion,
	// whichever first") — the engine checks isCancelled() between steps
	// and again immediately after each step returns, but does not force-
	// kill a step in flight.

	now := time.Now().UTC()
	instance.mutate(func(w *WorkflowInstance) {
		w.Status = StatusRunning
		w.StartTime = &now
	})
	e.persistStart(ctx, instance)
	e.emit(instance, ProgressEvent{
		EventType:  EventOperationStarted,
		WorkflowID: instance.ID,
		Timestamp:  now,
		Message:    "workflow started",
	})

	total := len(defs)
	completed := 0
	failed := false
	cancelledMidrun := false

	for i, def := range defs {
		if instance.isCancelled() {
			cancelledMidrun = true
			e.markRemainingSkipped(instance, defs, i)
			break
		}

		idx := i
		instance.mutate(func(w *WorkflowInstance) {
			w.CurrentStepIndex = &idx
		})

		ok, stepCancelled := e.runStep(ctx, instance, def, i, total, &completed)
		if !ok {
			if stepCancelled {
				cancelledMidrun = true
			} else {
				failed = true
			}
			e.markRemainingSkipped(instance, defs, i+1)
			break
		}
	}

	end := time.Now().UTC()
	instance.mutate(func(w *WorkflowInstance) {
		w.EndTime = &end
		switch {
		case cancelledMidrun:
			w.Status = StatusCancelled
		case failed:
			w.Status = StatusFailed
			if w.Error == "" {
				w.Error = "one or more steps failed"
			}
		default:
			w.Status = StatusCompleted
		}
	})
	e.persistProgress(ctx, instance)

	snap := instance.Snapshot()
	e.emit(instance, ProgressEvent{
		EventType:  EventOperationComplete,
		WorkflowID: instance.ID,
		Timestamp:  end,
		Message:    fmt.Sprintf("workflow %s", snap.Status),
		Percentage: percentage(completed, total),
	})
}

// runStep executes one step's retry loop. It returns ok=false if the
// step ultimately failed or was abandoned due to a cancellation request
// observed once the step (and any in-progress attempt) finished; the
// second return distinguishes the two so the caller reports the
// workflow as cancelled rather than failed.
func (e *Engine) runStep(ctx context.Context, instance *WorkflowInstance, def StepDefinition, index, total int, completed *int) (ok bool, cancelled bool) {
	start := time.Now().UTC()
	instance.mutate(func(w *WorkflowInstance) {
		w.Steps[index].Status = StepRunning
		w.Steps[index].Attempt = 1
		w.Steps[index].StartTime = &start
	})
	e.emit(instance, ProgressEvent{
		EventType:   EventSubtaskStarted,
		WorkflowID:  instance.ID,
		Timestamp:   start,
		Message:     fmt.Sprintf("starting %s", def.Name),
		SubtaskName: def.Name,
		Percentage:  percentage(*completed, total),
	})

	attempt := 1
	for {
		result, err := e.invoke(ctx, instance.Context, def)
		if err == nil {
			end := time.Now().UTC()
			instance.mutate(func(w *WorkflowInstance) {
				w.Steps[index].Status = StepCompleted
				w.Steps[index].EndTime = &end
				w.Steps[index].Result = result
			})
			*completed++
			metrics.ObserveStepOutcome(instance.Template, def.Name, metrics.OutcomeCompleted, end.Sub(start))
			e.persistProgress(ctx, instance)
			e.emit(instance, ProgressEvent{
				EventType:   EventSubtaskCompleted,
				WorkflowID:  instance.ID,
				Timestamp:   end,
				Message:     fmt.Sprintf("%s completed", def.Name),
				SubtaskName: def.Name,
				Percentage:  percentage(*completed, total),
			})
			return true, false
		}

		// A cancellation request that arrived while this attempt was in
		// flight is honored now, at the step's natural completion,
		// rather than by tearing down the attempt itself: no further
		// retries are scheduled and the step ends as skipped, not
		// failed. A KindCancellation error from the attempt itself is
		// handled the same way.
		if instance.isCancelled() || werrors.Is(err, werrors.KindCancellation) {
			end := time.Now().UTC()
			instance.mutate(func(w *WorkflowInstance) {
				w.Steps[index].Status = StepSkipped
				w.Steps[index].Error = "workflow cancelled"
				w.Steps[index].EndTime = &end
			})
			metrics.ObserveStepOutcome(instance.Template, def.Name, metrics.OutcomeSkipped, end.Sub(start))
			e.persistProgress(ctx, instance)
			e.emit(instance, ProgressEvent{
				EventType:   EventSubtaskCompleted,
				WorkflowID:  instance.ID,
				Timestamp:   end,
				Message:     fmt.Sprintf("%s cancelled", def.Name),
				SubtaskName: def.Name,
				Percentage:  percentage(*completed, total),
			})
			return false, true
		}

		if attempt < def.MaxAttempts && isRetryable(err) {
			metrics.IncStepRetry(instance.Template, def.Name)
			e.sleep(time.Duration(1<<(attempt-1)) * time.Second)
			attempt++
			instance.mutate(func(w *WorkflowInstance) {
				w.Steps[index].Attempt = attempt
			})
			continue
		}

		end := time.Now().UTC()
		msg := err.Error()
		kind, _ := werrors.KindOf(err)
		instance.mutate(func(w *WorkflowInstance) {
			w.Steps[index].Status = StepFailed
			w.Steps[index].Error = msg
			w.Steps[index].EndTime = &end
			w.Error = msg
			if kind != "" {
				w.FailureKind = string(kind)
			}
		})
		metrics.ObserveStepOutcome(instance.Template, def.Name, metrics.OutcomeFailed, end.Sub(start))
		e.persistProgress(ctx, instance)
		e.emit(instance, ProgressEvent{
			EventType:   EventSubtaskCompleted,
			WorkflowID:  instance.ID,
			Timestamp:   end,
			Message:     fmt.Sprintf("%s failed: %s", def.Name, msg),
			SubtaskName: def.Name,
			Percentage:  percentage(*completed, total),
		})
		return false, false
	}
}

// invoke calls the step handler, enforcing TimeoutSeconds. A
// TimeoutSeconds of 0 fails immediately without invoking the handler, per
// spec.md's boundary behavior for a zero-timeout step.
func (e *Engine) invoke(ctx context.Context, wctx *WorkflowContext, def StepDefinition) (any, error) {
	if def.TimeoutSeconds <= 0 {
		return nil, werrors.New(werrors.KindTimeout, def.Name, fmt.Errorf("timeout_seconds=0"))
	}

	stepCtx, cancel := context.WithTimeout(ctx, time.Duration(def.TimeoutSeconds)*time.Second)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := def.Handler(stepCtx, wctx)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-stepCtx.Done():
		if stepCtx.Err() == context.Canceled {
			return nil, werrors.New(werrors.KindCancellation, def.Name, stepCtx.Err())
		}
		return nil, werrors.New(werrors.KindTimeout, def.Name, stepCtx.Err())
	}
}

func (e *Engine) markRemainingSkipped(instance *WorkflowInstance, defs []StepDefinition, from int) {
	instance.mutate(func(w *WorkflowInstance) {
		for i := from; i < len(defs); i++ {
			w.Steps[i].Status = StepSkipped
		}
	})
	for i := from; i < len(defs); i++ {
		metrics.ObserveStepOutcome(instance.Template, defs[i].Name, metrics.OutcomeSkipped, 0)
	}
}

func (e *Engine) emit(instance *WorkflowInstance, event ProgressEvent) {
	instance.recordEvent(event)
	e.sinkMu.Lock()
	sinks := make([]ProgressSink, len(e.sinks))
	copy(sinks, e.sinks)
	e.sinkMu.Unlock()
	for _, sink := range sinks {
		sink(event)
	}
}

func (e *Engine) persistStart(ctx context.Context, instance *WorkflowInstance) {
	if e.hook == nil {
		return
	}
	if err := e.hook.RecordWorkflowStart(ctx, instance); err != nil {
		e.logger.Warn("workflow: failed to persist start", "workflow_id", instance.ID, "error", err)
	}
}

func (e *Engine) persistProgress(ctx context.Context, instance *WorkflowInstance) {
	if e.hook == nil {
		return
	}
	if err := e.hook.RecordWorkflowProgress(ctx, instance); err != nil {
		e.logger.Warn("workflow: failed to persist progress", "workflow_id", instance.ID, "error", err)
	}
}

// isRetryable implements spec.md §7's per-kind propagation policy: a
// tagged error retries only if its kind is marked retryable and never if
// it's fatal; an untyped error falls back to the engine's generic
// attempt-count-driven retry from §4.8.
func isRetryable(err error) bool {
	kind, ok := werrors.KindOf(err)
	if !ok {
		return true
	}
	if kind.Fatal() {
		return false
	}
	return kind.Retryable()
}

// percentage implements spec.md's explicit progress_percentage choice:
// (completed_substeps/total_substeps)*100.
func percentage(completed, total int) float64 {
	if total == 0 {
		return 100.0
	}
	return (float64(completed) / float64(total)) * 100.0
}
