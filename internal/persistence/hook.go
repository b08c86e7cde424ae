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
	"encoding/json"

	"metalforge/internal/workflow"
)

// WorkflowHook adapts a Store to workflow.PersistenceHook: INSERT on
// pending -> running, UPDATE for every later transition, per spec.md
// §4.8. It never returns an error the engine would treat as fatal; both
// methods log-and-continue is the caller's (engine's) responsibility,
// matching spec.md's "failures to persist are logged but MUST NOT abort
// execution".
type WorkflowHook struct {
	store *Store
}

// NewWorkflowHook constructs a WorkflowHook backed by store.
func NewWorkflowHook(store *Store) *WorkflowHook {
	return &WorkflowHook{store: store}
}

var _ workflow.PersistenceHook = (*WorkflowHook)(nil)

// RecordWorkflowStart inserts the initial workflow_history row.
func (h *WorkflowHook) RecordWorkflowStart(ctx context.Context, instance *workflow.WorkflowInstance) error {
	row := toRow(instance)
	return h.store.InsertWorkflowHistory(ctx, row)
}

// RecordWorkflowProgress updates the current instance's row in place.
func (h *WorkflowHook) RecordWorkflowProgress(ctx context.Context, instance *workflow.WorkflowInstance) error {
	row := toRow(instance)
	return h.store.UpdateWorkflowHistory(ctx, row)
}

func toRow(instance *workflow.WorkflowInstance) WorkflowHistoryRow {
	var serverID, deviceType string
	if instance.Context != nil {
		serverID = instance.Context.ServerID
		deviceType = instance.Context.DeviceType
	}

	completed := 0
	for _, step := range instance.Steps {
		if step.Status == workflow.StepCompleted {
			completed++
		}
	}

	metadata := map[string]any{}
	if instance.Context != nil {
		for k, v := range instance.Context.Metadata {
			metadata[k] = v
		}
	}
	if instance.FailureKind != "" {
		metadata["failure_kind"] = instance.FailureKind
	}
	var metadataJSON string
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			metadataJSON = string(b)
		}
	}

	return WorkflowHistoryRow{
		WorkflowID:     instance.ID,
		ServerID:       serverID,
		DeviceType:     deviceType,
		Status:         string(instance.Status),
		StartedAt:      instance.StartTime,
		CompletedAt:    instance.EndTime,
		StepsCompleted: completed,
		TotalSteps:     len(instance.Steps),
		ErrorMessage:   instance.Error,
		MetadataJSON:   metadataJSON,
	}
}
