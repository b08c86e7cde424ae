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

// Package workflowapi exposes spec.md §6.2's Workflow API
// (create_workflow/start_workflow/get_workflow/cancel_workflow/
// list_active_workflows/subscribe_progress) as a single Go-native
// Service, closing the engine and factory registry over one set of
// back-ends. It replaces shoal's HTTP handler layer
// (internal/api/handlers.go) with a direct method-call surface, since
// wire formats and a web UI are explicitly out of scope.
package workflowapi

import (
	"context"
	"fmt"
	"time"

	"metalforge/internal/workflow"
	"metalforge/internal/workflow/factory"
	"metalforge/pkg/models"
)

// CreateParams is the input to CreateWorkflow, mirroring spec.md §3.1's
// start_workflow inputs.
type CreateParams struct {
	ServerID     string
	DeviceType   string
	TargetIPMIIP string
	Gateway      string
	SubnetMask   string
	Credentials  models.Credentials
	Policy       models.Policy
}

// StatusSnapshot is spec.md §6.2's exact status-snapshot shape.
type StatusSnapshot struct {
	ID               string
	Status           string
	StartTime        *string
	EndTime          *string
	Error            string
	CurrentStepIndex *int
	CurrentStepName  string
	Steps            []StepSnapshot
}

// StepSnapshot is one entry of StatusSnapshot.Steps.
type StepSnapshot struct {
	Name        string
	Description string
	Status      string
	StartTime   *string
	EndTime     *string
	Error       string
}

// Service is the engine+factory facade every external collaborator
// (CLI, a future HTTP layer, tests) drives the system through.
type Service struct {
	engine *workflow.Engine
	deps   factory.Deps
}

// NewService constructs a Service over an already-wired Engine and Deps.
func NewService(engine *workflow.Engine, deps factory.Deps) *Service {
	return &Service{engine: engine, deps: deps}
}

// CreateWorkflow builds a pending workflow instance from a named
// template and returns its id, per spec.md §6.2's create_workflow.
func (s *Service) CreateWorkflow(template factory.TemplateName, params CreateParams) (string, error) {
	steps, err := factory.BuildTemplate(template, s.deps)
	if err != nil {
		return "", fmt.Errorf("workflowapi: build template %q: %w", template, err)
	}

	wctx := &workflow.WorkflowContext{
		ServerID:     params.ServerID,
		DeviceType:   params.DeviceType,
		TargetIPMIIP: params.TargetIPMIIP,
		Gateway:      params.Gateway,
		SubnetMask:   params.SubnetMask,
		Credentials:  params.Credentials,
		Policy:       params.Policy,
		Metadata:     map[string]any{},
	}

	instance := s.engine.CreateWorkflow(steps, wctx, string(template))
	return instance.ID, nil
}

// StartWorkflow begins execution of a previously created workflow. It
// returns immediately; the workflow runs on its own goroutine.
func (s *Service) StartWorkflow(ctx context.Context, workflowID string) error {
	return s.engine.StartWorkflow(ctx, workflowID)
}

// GetWorkflow returns a status snapshot for workflowID.
func (s *Service) GetWorkflow(workflowID string) (StatusSnapshot, bool) {
	instance, ok := s.engine.GetWorkflow(workflowID)
	if !ok {
		return StatusSnapshot{}, false
	}
	return toSnapshot(instance), true
}

// CancelWorkflow requests cancellation, returning false if the workflow
// is unknown or already terminal.
func (s *Service) CancelWorkflow(workflowID string) bool {
	return s.engine.CancelWorkflow(workflowID)
}

// ListActiveWorkflows returns a snapshot for every pending or running
// workflow.
func (s *Service) ListActiveWorkflows() []StatusSnapshot {
	instances := s.engine.ListActiveWorkflows()
	out := make([]StatusSnapshot, 0, len(instances))
	for _, inst := range instances {
		out = append(out, toSnapshot(inst))
	}
	return out
}

// SubscribeProgress registers sink for every ProgressEvent emitted by
// any workflow this Service's engine drives.
func (s *Service) SubscribeProgress(sink workflow.ProgressSink) {
	s.engine.SubscribeProgress(sink)
}

func toSnapshot(instance workflow.WorkflowInstance) StatusSnapshot {
	snap := StatusSnapshot{
		ID:               instance.ID,
		Status:           string(instance.Status),
		StartTime:        formatTime(instance.StartTime),
		EndTime:          formatTime(instance.EndTime),
		Error:            instance.Error,
		CurrentStepIndex: instance.CurrentStepIndex,
	}
	if instance.CurrentStepIndex != nil && *instance.CurrentStepIndex < len(instance.Steps) {
		snap.CurrentStepName = instance.Steps[*instance.CurrentStepIndex].Name
	}
	for _, step := range instance.Steps {
		snap.Steps = append(snap.Steps, StepSnapshot{
			Name:        step.Name,
			Status:      string(step.Status),
			StartTime:   formatTime(step.StartTime),
			EndTime:     formatTime(step.EndTime),
			Error:       step.Error,
		})
	}
	return snap
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
