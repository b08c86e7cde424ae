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

// Package workflow implements the in-process workflow engine from
// spec.md §4.8: a pending/running/terminal state machine driving an
// ordered sequence of retryable steps over a shared mutable context, with
// cooperative cancellation and synchronous progress fan-out.
package workflow

import (
	"context"
	"sync"
	"time"

	"metalforge/internal/firmware"
	"metalforge/pkg/models"
)

// Status is a WorkflowInstance's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepStatus is a StepExecution's lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// EventType enumerates the ProgressEvent kinds emitted by the engine.
type EventType string

const (
	EventOperationStarted  EventType = "operation_started"
	EventSubtaskStarted    EventType = "subtask_started"
	EventSubtaskCompleted  EventType = "subtask_completed"
	EventProgressUpdate    EventType = "progress_update"
	EventOperationComplete EventType = "operation_completed"
	EventError             EventType = "error"
	EventWarning           EventType = "warning"
)

const (
	defaultTimeoutSeconds = 300
	defaultMaxAttempts    = 3
)

// HandlerFunc is a step's executable action. It must return promptly once
// ctx is cancelled or time out, and release any held resources before
// returning.
type HandlerFunc func(ctx context.Context, wctx *WorkflowContext) (any, error)

// StepDefinition is the static definition of one named step in a
// workflow template.
type StepDefinition struct {
	Name            string
	Description     string
	Handler         HandlerFunc
	TimeoutSeconds  int
	MaxAttempts     int
}

// normalized returns a copy with zero-value fields replaced by spec.md
// §3.1 defaults (timeout_seconds=300, max_attempts=3).
func (d StepDefinition) normalized() StepDefinition {
	if d.TimeoutSeconds == 0 {
		d.TimeoutSeconds = defaultTimeoutSeconds
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = defaultMaxAttempts
	}
	return d
}

// StepExecution is the runtime record of one step's attempts.
type StepExecution struct {
	Name      string
	Status    StepStatus
	Attempt   int
	StartTime *time.Time
	EndTime   *time.Time
	Error     string
	Result    any
}

// WorkflowContext is the shared mutable bag threaded through every step.
type WorkflowContext struct {
	ServerID     string
	DeviceType   string
	TargetIPMIIP string
	Gateway      string
	SubnetMask   string
	Credentials  models.Credentials
	Policy       models.Policy

	HardwareReport      *models.HardwareReport
	DeviceProfile       *models.DeviceProfile
	BIOSPlan            map[string]any
	FirmwarePlan        []models.FirmwarePlanEntry
	AppliedBIOSSettings map[string]any
	FirmwareResults     []firmware.Result

	Metadata map[string]any
}

// ProgressEvent is one entry in a workflow's progress history.
type ProgressEvent struct {
	EventType   EventType
	WorkflowID  string
	Timestamp   time.Time
	Message     string
	Percentage  float64
	SubtaskName string
}

// ProgressSink receives every ProgressEvent emitted for workflows it is
// subscribed to. Sinks are invoked synchronously and must not block;
// spec.md §4.8 makes a slow sink's cost fall only on itself, which this
// engine cannot enforce for a sink that ignores the contract.
type ProgressSink func(ProgressEvent)

// WorkflowInstance is the runtime record of one workflow execution.
type WorkflowInstance struct {
	ID     string
	// Template names the factory template this instance was built from
	// (e.g. "basic_provisioning"), used only to label metrics; the engine
	// itself is template-agnostic.
	Template          string
	Status            Status
	Steps             []StepExecution
	CurrentStepIndex  *int
	StartTime         *time.Time
	EndTime           *time.Time
	Error             string
	// FailureKind mirrors the failing step's werrors.Kind tag, if any,
	// for metadata_json.failure_kind per spec.md §7.
	FailureKind string
	Context     *WorkflowContext

	mu        sync.Mutex
	cancelled bool
	historyCap int
	history   []ProgressEvent
	done      chan struct{}
}

// Done returns a channel closed once the instance reaches a terminal
// status.
func (w *WorkflowInstance) Done() <-chan struct{} {
	return w.done
}

// History returns a snapshot of this instance's retained progress events,
// oldest first.
func (w *WorkflowInstance) History() []ProgressEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ProgressEvent, len(w.history))
	copy(out, w.history)
	return out
}

func (w *WorkflowInstance) requestCancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled = true
}

func (w *WorkflowInstance) isCancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

// mutate runs fn with the instance mutex held, serializing it against
// concurrent Snapshot/History/cancel calls from other goroutines.
func (w *WorkflowInstance) mutate(fn func(*WorkflowInstance)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(w)
}

func (w *WorkflowInstance) recordEvent(e ProgressEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append(w.history, e)
	cap := w.historyCap
	if cap <= 0 {
		cap = 1000
	}
	if len(w.history) > cap {
		w.history = w.history[len(w.history)-cap:]
	}
}

// Snapshot returns a defensive copy of the instance's externally visible
// fields, safe to read while the engine's execution goroutine is
// concurrently mutating the original.
func (w *WorkflowInstance) Snapshot() WorkflowInstance {
	w.mu.Lock()
	defer w.mu.Unlock()
	steps := make([]StepExecution, len(w.Steps))
	copy(steps, w.Steps)
	return WorkflowInstance{
		ID:               w.ID,
		Template:         w.Template,
		Status:           w.Status,
		Steps:            steps,
		CurrentStepIndex: w.CurrentStepIndex,
		StartTime:        w.StartTime,
		EndTime:          w.EndTime,
		Error:            w.Error,
		FailureKind:      w.FailureKind,
		Context:          w.Context,
	}
}
