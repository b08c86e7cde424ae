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

package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"metalforge/internal/werrors"
	"metalforge/internal/workflow"
)

func waitDone(t *testing.T, instance *workflow.WorkflowInstance) {
	t.Helper()
	select {
	case <-instance.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("workflow did not finish in time")
	}
}

func TestWorkflowHookRecordsStartAndCompletion(t *testing.T) {
	store := newTestStore(t)
	hook := NewWorkflowHook(store)
	engine := workflow.NewEngine(hook, nil)

	steps := []workflow.StepDefinition{
		{Name: "step-one", Handler: func(context.Context, *workflow.WorkflowContext) (any, error) { return nil, nil }},
	}
	instance := engine.CreateWorkflow(steps, &workflow.WorkflowContext{ServerID: "server-1", DeviceType: "a1.c5.large"}, "basic_provisioning")
	if err := engine.StartWorkflow(context.Background(), instance.ID); err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	waitDone(t, instance)

	row, err := store.GetWorkflowHistory(context.Background(), instance.ID)
	if err != nil {
		t.Fatalf("GetWorkflowHistory: %v", err)
	}
	if row.ServerID != "server-1" || row.DeviceType != "a1.c5.large" {
		t.Fatalf("unexpected row identity: %+v", row)
	}
	if row.Status != "completed" || row.StepsCompleted != 1 || row.TotalSteps != 1 {
		t.Fatalf("unexpected completion row: %+v", row)
	}
}

func TestWorkflowHookRecordsFailureKind(t *testing.T) {
	store := newTestStore(t)
	hook := NewWorkflowHook(store)
	engine := workflow.NewEngine(hook, nil)

	steps := []workflow.StepDefinition{
		{
			Name:        "always-fails",
			MaxAttempts: 1,
			Handler: func(context.Context, *workflow.WorkflowContext) (any, error) {
				return nil, werrors.New(werrors.KindValidation, "always-fails", fmt.Errorf("bad input"))
			},
		},
	}
	instance := engine.CreateWorkflow(steps, &workflow.WorkflowContext{ServerID: "server-2"}, "basic_provisioning")
	if err := engine.StartWorkflow(context.Background(), instance.ID); err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	waitDone(t, instance)

	row, err := store.GetWorkflowHistory(context.Background(), instance.ID)
	if err != nil {
		t.Fatalf("GetWorkflowHistory: %v", err)
	}
	if row.Status != "failed" {
		t.Fatalf("expected failed status, got %s", row.Status)
	}
	if row.MetadataJSON == "" {
		t.Fatalf("expected metadata_json to carry failure_kind")
	}
}
