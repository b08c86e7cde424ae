package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"metalforge/internal/werrors"
)

func waitDone(t *testing.T, instance *WorkflowInstance) {
	t.Helper()
	select {
	case <-instance.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("workflow did not finish in time")
	}
}

func TestZeroStepWorkflowCompletesAtomically(t *testing.T) {
	e := NewEngine(nil, nil)
	var events []EventType
	e.SubscribeProgress(func(ev ProgressEvent) { events = append(events, ev.EventType) })

	instance := e.CreateWorkflow(nil, &WorkflowContext{}, "test_template")
	if err := e.StartWorkflow(context.Background(), instance.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, instance)

	snap, _ := e.GetWorkflow(instance.ID)
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if len(events) != 2 || events[0] != EventOperationStarted || events[1] != EventOperationComplete {
		t.Fatalf("expected exactly [operation_started, operation_completed], got %v", events)
	}
}

func TestWorkflowCompletesWhenAllStepsSucceed(t *testing.T) {
	e := NewEngine(nil, nil)
	steps := []StepDefinition{
		{Name: "a", Handler: func(context.Context, *WorkflowContext) (any, error) { return "ok", nil }},
		{Name: "b", Handler: func(context.Context, *WorkflowContext) (any, error) { return "ok", nil }},
	}
	instance := e.CreateWorkflow(steps, &WorkflowContext{}, "test_template")
	_ = e.StartWorkflow(context.Background(), instance.ID)
	waitDone(t, instance)

	snap, _ := e.GetWorkflow(instance.ID)
	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s: %s", snap.Status, snap.Error)
	}
	for _, s := range snap.Steps {
		if s.Status != StepCompleted {
			t.Fatalf("expected all steps completed, got %+v", s)
		}
	}
}

func TestWorkflowRetriesBeforeFailing(t *testing.T) {
	e := NewEngine(nil, nil)
	e.sleep = func(time.Duration) {} // skip real backoff in tests

	attempts := 0
	steps := []StepDefinition{
		{Name: "flaky", MaxAttempts: 3, Handler: func(context.Context, *WorkflowContext) (any, error) {
			attempts++
			return nil, fmt.Errorf("boom")
		}},
	}
	instance := e.CreateWorkflow(steps, &WorkflowContext{}, "test_template")
	_ = e.StartWorkflow(context.Background(), instance.ID)
	waitDone(t, instance)

	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	snap, _ := e.GetWorkflow(instance.ID)
	if snap.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", snap.Status)
	}
	if snap.Steps[0].Status != StepFailed {
		t.Fatalf("expected step failed, got %+v", snap.Steps[0])
	}
}

func TestWorkflowStopsAfterFirstStepFailureSkipsRemaining(t *testing.T) {
	e := NewEngine(nil, nil)
	e.sleep = func(time.Duration) {}

	secondRan := false
	steps := []StepDefinition{
		{Name: "a", MaxAttempts: 1, Handler: func(context.Context, *WorkflowContext) (any, error) { return nil, fmt.Errorf("nope") }},
		{Name: "b", Handler: func(context.Context, *WorkflowContext) (any, error) { secondRan = true; return nil, nil }},
	}
	instance := e.CreateWorkflow(steps, &WorkflowContext{}, "test_template")
	_ = e.StartWorkflow(context.Background(), instance.ID)
	waitDone(t, instance)

	if secondRan {
		t.Fatalf("expected second step never to run")
	}
	snap, _ := e.GetWorkflow(instance.ID)
	if snap.Steps[1].Status != StepSkipped {
		t.Fatalf("expected second step skipped, got %+v", snap.Steps[1])
	}
}

// TestWorkflowZeroTimeoutFailsImmediately covers the boundary behavior
// "a step with timeout = 0 fails immediately with TimeoutError on first
// attempt". TimeoutSeconds normalizes only the zero value to the 300s
// default, so a negative value reaches invoke's own <= 0 guard intact.
func TestWorkflowZeroTimeoutFailsImmediately(t *testing.T) {
	e := NewEngine(nil, nil)
	called := false
	steps := []StepDefinition{
		{Name: "a", TimeoutSeconds: -1, MaxAttempts: 1, Handler: func(context.Context, *WorkflowContext) (any, error) {
			called = true
			return nil, nil
		}},
	}
	instance := e.CreateWorkflow(steps, &WorkflowContext{}, "test_template")
	_ = e.StartWorkflow(context.Background(), instance.ID)
	waitDone(t, instance)

	if called {
		t.Fatalf("expected handler never to be invoked")
	}
	snap, _ := e.GetWorkflow(instance.ID)
	if snap.Steps[0].Status != StepFailed {
		t.Fatalf("expected step failed immediately, got %+v", snap.Steps[0])
	}
}

func TestCancelMarksRemainingStepsSkipped(t *testing.T) {
	e := NewEngine(nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	steps := []StepDefinition{
		{Name: "discover_hardware", Handler: func(ctx context.Context, _ *WorkflowContext) (any, error) {
			close(started)
			<-release
			return nil, nil
		}},
		{Name: "classify_device", Handler: func(context.Context, *WorkflowContext) (any, error) { return nil, nil }},
	}
	instance := e.CreateWorkflow(steps, &WorkflowContext{}, "test_template")
	_ = e.StartWorkflow(context.Background(), instance.ID)

	<-started
	if !e.CancelWorkflow(instance.ID) {
		t.Fatalf("expected cancel to succeed while running")
	}
	close(release)
	waitDone(t, instance)

	snap, _ := e.GetWorkflow(instance.ID)
	if snap.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", snap.Status)
	}
	if snap.Steps[0].Status != StepCompleted {
		t.Fatalf("expected first step to finish before the cancel boundary check, got %+v", snap.Steps[0])
	}
	if snap.Steps[1].Status != StepSkipped {
		t.Fatalf("expected second step skipped, got %+v", snap.Steps[1])
	}
}

// TestCancelDoesNotForceKillACtxHonoringHandler covers spec.md §8
// Scenario D's "at step completion" branch: a handler that itself
// respects ctx.Done() must still be allowed to run to its own
// completion rather than being torn down by CancelWorkflow, and the
// workflow must end as cancelled rather than failed.
func TestCancelDoesNotForceKillACtxHonoringHandler(t *testing.T) {
	e := NewEngine(nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	steps := []StepDefinition{
		{Name: "discover_hardware", Handler: func(ctx context.Context, _ *WorkflowContext) (any, error) {
			close(started)
			select {
			case <-release:
				return "finished normally", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}},
		{Name: "classify_device", Handler: func(context.Context, *WorkflowContext) (any, error) { return nil, nil }},
	}
	instance := e.CreateWorkflow(steps, &WorkflowContext{}, "test_template")
	_ = e.StartWorkflow(context.Background(), instance.ID)

	<-started
	if !e.CancelWorkflow(instance.ID) {
		t.Fatalf("expected cancel to succeed while running")
	}
	// Give the background engine a moment to prove it does NOT force the
	// handler to observe ctx.Done() on its own.
	time.Sleep(100 * time.Millisecond)
	close(release)
	waitDone(t, instance)

	snap, _ := e.GetWorkflow(instance.ID)
	if snap.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", snap.Status)
	}
	if snap.Steps[0].Status != StepCompleted {
		t.Fatalf("expected the in-flight step to finish normally instead of being force-cancelled, got %+v", snap.Steps[0])
	}
	if snap.Steps[1].Status != StepSkipped {
		t.Fatalf("expected second step skipped at the cancellation boundary, got %+v", snap.Steps[1])
	}
}

// TestCancelSkipsRetryOfARetryableError ensures a cancellation observed
// right after a retryable failure ends the step (and the workflow) as
// cancelled without spending its remaining retry budget, rather than
// sleeping through backoff against a workflow nobody is waiting on.
func TestCancelSkipsRetryOfARetryableError(t *testing.T) {
	e := NewEngine(nil, nil)
	e.sleep = func(time.Duration) {}
	attempts := 0
	started := make(chan struct{})
	proceed := make(chan struct{})
	steps := []StepDefinition{
		{Name: "flaky", MaxAttempts: 3, Handler: func(context.Context, *WorkflowContext) (any, error) {
			attempts++
			close(started)
			<-proceed
			return nil, werrors.New(werrors.KindTransport, "flaky", fmt.Errorf("boom"))
		}},
	}
	instance := e.CreateWorkflow(steps, &WorkflowContext{}, "test_template")
	_ = e.StartWorkflow(context.Background(), instance.ID)

	<-started
	if !e.CancelWorkflow(instance.ID) {
		t.Fatalf("expected cancel to succeed while running")
	}
	close(proceed)
	waitDone(t, instance)

	snap, _ := e.GetWorkflow(instance.ID)
	if snap.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s (attempts=%d)", snap.Status, attempts)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt before the cancellation was honored, got %d", attempts)
	}
	if snap.Steps[0].Status != StepSkipped {
		t.Fatalf("expected the step to end skipped rather than failed, got %+v", snap.Steps[0])
	}
}

func TestCancelOnTerminalWorkflowReturnsFalse(t *testing.T) {
	e := NewEngine(nil, nil)
	instance := e.CreateWorkflow(nil, &WorkflowContext{}, "test_template")
	_ = e.StartWorkflow(context.Background(), instance.ID)
	waitDone(t, instance)

	if e.CancelWorkflow(instance.ID) {
		t.Fatalf("expected cancel on terminal workflow to return false")
	}
}

func TestFatalErrorSkipsRetries(t *testing.T) {
	e := NewEngine(nil, nil)
	e.sleep = func(time.Duration) {}
	attempts := 0
	steps := []StepDefinition{
		{Name: "a", MaxAttempts: 5, Handler: func(context.Context, *WorkflowContext) (any, error) {
			attempts++
			return nil, werrors.New(werrors.KindFirmwareCritical, "a", fmt.Errorf("critical firmware failure"))
		}},
	}
	instance := e.CreateWorkflow(steps, &WorkflowContext{}, "test_template")
	_ = e.StartWorkflow(context.Background(), instance.ID)
	waitDone(t, instance)

	if attempts != 1 {
		t.Fatalf("expected fatal error to skip retries, got %d attempts", attempts)
	}
}

func TestListActiveWorkflowsExcludesTerminal(t *testing.T) {
	e := NewEngine(nil, nil)
	done := e.CreateWorkflow(nil, &WorkflowContext{}, "test_template")
	_ = e.StartWorkflow(context.Background(), done.ID)
	waitDone(t, done)

	release := make(chan struct{})
	running := e.CreateWorkflow([]StepDefinition{
		{Name: "a", Handler: func(context.Context, *WorkflowContext) (any, error) { <-release; return nil, nil }},
	}, &WorkflowContext{}, "test_template")
	_ = e.StartWorkflow(context.Background(), running.ID)

	active := e.ListActiveWorkflows()
	if len(active) != 1 || active[0].ID != running.ID {
		t.Fatalf("expected only the running workflow active, got %+v", active)
	}
	close(release)
	waitDone(t, running)
}
