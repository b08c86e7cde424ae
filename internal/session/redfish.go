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

package session

import (
	"context"
	"encoding/json"
)

// PowerAction is one of the Redfish ComputerSystem.Reset action values.
type PowerAction string

const (
	PowerOn               PowerAction = "On"
	PowerForceOff         PowerAction = "ForceOff"
	PowerGracefulShutdown PowerAction = "GracefulShutdown"
	PowerForceRestart     PowerAction = "ForceRestart"
	PowerPowerCycle       PowerAction = "PowerCycle"
	PowerNmi              PowerAction = "Nmi"
)

// TaskState mirrors the Redfish TaskService state enum for the subset of
// states the firmware/BIOS coordinators care about.
type TaskState string

const (
	TaskStateRunning   TaskState = "Running"
	TaskStateCompleted TaskState = "Completed"
	TaskStateException TaskState = "Exception"
	TaskStatePending   TaskState = "Pending"
)

// Task is a polled Redfish task resource.
type Task struct {
	ID            string    `json:"Id"`
	TaskState     TaskState `json:"TaskState"`
	PercentDone   int       `json:"PercentComplete"`
	Messages      []string  `json:"Messages,omitempty"`
}

// FirmwareInventoryEntry is one entry of a Redfish UpdateService firmware
// inventory collection.
type FirmwareInventoryEntry struct {
	Name    string `json:"Name"`
	Version string `json:"Version"`
	ID      string `json:"Id"`
}

// RedfishError is returned by RedfishSession operations when the BMC
// responds with an HTTP status >= 400. StatusCode and Message let callers
// (in particular the BIOS coordinator) match on "setting not supported".
type RedfishError struct {
	StatusCode int
	Message    string
}

func (e *RedfishError) Error() string { return e.Message }

// RedfishSession is the typed operation set the engine consumes for all
// Redfish interactions. Every method returns (payload, error); an HTTP
// status >= 400 on the underlying transport is surfaced as *RedfishError.
type RedfishSession interface {
	GetServiceRoot(ctx context.Context) (json.RawMessage, error)
	GetSystem(ctx context.Context, id string) (json.RawMessage, error)
	GetBIOSAttributes(ctx context.Context) (map[string]any, error)
	PatchBIOSAttributes(ctx context.Context, settings map[string]any) (taskID string, err error)
	PowerAction(ctx context.Context, action PowerAction) error
	GetFirmwareInventory(ctx context.Context) ([]FirmwareInventoryEntry, error)
	InitiateFirmwareUpdate(ctx context.Context, imageURI string, targets []string) (taskID string, err error)
	GetTask(ctx context.Context, taskID string) (Task, error)

	// SupportsBIOSConfig reports whether this BMC advertises Redfish BIOS
	// attribute registry support for the named setting (§4.6 method
	// selection rule 1).
	SupportsBIOSConfig(ctx context.Context, setting string) bool

	Close() error
}
