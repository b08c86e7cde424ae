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

// Package firmware implements the ordered firmware update coordinator
// from spec.md §4.7: component/priority ordering, policy filtering, task
// polling with a per-entry timeout, reboot gating, and critical-failure
// batch abort. Grounded on shoal's task-polling loop for long-running
// Redfish operations (internal/bmc reconcile/task handling) generalized
// from a single power-state poll to an arbitrary-length firmware plan.
package firmware

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"metalforge/internal/session"
	"metalforge/internal/werrors"
	"metalforge/pkg/models"
)

// Pinger probes whether a rebooted target has come back online. The
// default implementation (TCPPinger) substitutes for spec.md's
// unavailable-from-Go ICMP ping with an unprivileged TCP-connect probe
// against the BMC's HTTPS port, documented as a deliberate substitution
// rather than a silent deviation.
type Pinger interface {
	Ping(ctx context.Context, host string) bool
}

// TCPPinger probes liveness by attempting a TCP connection to host:port.
type TCPPinger struct {
	Port    int
	Timeout time.Duration
}

// NewTCPPinger constructs a TCPPinger against the standard Redfish HTTPS
// port with a 3s per-attempt timeout.
func NewTCPPinger() TCPPinger {
	return TCPPinger{Port: 443, Timeout: 3 * time.Second}
}

func (p TCPPinger) Ping(ctx context.Context, host string) bool {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, p.Port))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

var _ Pinger = TCPPinger{}

// Status is the outcome of applying one firmware_plan entry.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result is one entry of context.firmware_results.
type Result struct {
	Component       models.FirmwareComponent
	OldVersion      string
	NewVersion      string
	Status          Status
	DurationSeconds float64
	Warnings        []string
}

// VersionSource reports the currently installed version of a firmware
// component, via Redfish firmware inventory or a vendor tool.
type VersionSource interface {
	CurrentVersion(ctx context.Context, component models.FirmwareComponent) (string, error)
}

var componentRank = map[models.FirmwareComponent]int{
	models.FirmwareBMC:  0,
	models.FirmwareBIOS: 1,
	models.FirmwareCPLD: 2,
	models.FirmwareNIC:  3,
	models.FirmwareUEFI: 4,
}

var priorityRank = map[models.FirmwarePriority]int{
	models.PriorityCritical: 0,
	models.PriorityHigh:     1,
	models.PriorityNormal:   2,
	models.PriorityLow:      3,
}

// SortPlan orders entries by (component_rank, priority_rank) per the
// precedence stated in spec.md §3.2: component precedence is primary
// (BMC < BIOS < CPLD < NIC < UEFI), priority breaks ties within a
// component.
func SortPlan(plan []models.FirmwarePlanEntry) []models.FirmwarePlanEntry {
	sorted := make([]models.FirmwarePlanEntry, len(plan))
	copy(sorted, plan)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := componentRank[sorted[i].Component], componentRank[sorted[j].Component]
		if ci != cj {
			return ci < cj
		}
		return priorityRank[sorted[i].Priority] < priorityRank[sorted[j].Priority]
	})
	return sorted
}

// includedByPolicy reports whether entry.Priority runs under policy, per
// spec.md §4.7 step 2c.
func includedByPolicy(policy models.Policy, priority models.FirmwarePriority) bool {
	switch policy {
	case models.PolicyCriticalOnly:
		return priority == models.PriorityCritical
	case models.PolicyRecommended:
		return priority == models.PriorityCritical || priority == models.PriorityHigh
	case models.PolicyLatest:
		return true
	default:
		return priority == models.PriorityCritical || priority == models.PriorityHigh
	}
}

// Coordinator drives an ordered firmware_plan to completion.
type Coordinator struct {
	pinger Pinger
	sleep  func(time.Duration)
}

// NewCoordinator constructs a Coordinator with the default TCP-connect
// Pinger.
func NewCoordinator() *Coordinator {
	return &Coordinator{pinger: NewTCPPinger(), sleep: time.Sleep}
}

// WithPinger overrides the liveness probe, primarily for tests.
func (c *Coordinator) WithPinger(p Pinger) *Coordinator {
	c.pinger = p
	return c
}

// SessionDialer opens a fresh Redfish session against the firmware
// target. Apply calls it once up front and again after any entry that
// forces a reboot: per spec.md §9, session reuse across a BMC reset is
// not supported, so the coordinator always closes its active session
// before the reboot wait and dials a new one afterward.
type SessionDialer func(ctx context.Context) (session.RedfishSession, error)

// Apply dials rf via dial (for version queries, update initiation, and
// task polling) and probes host (the address checked after a
// requires_reboot entry). It returns the accumulated results in
// execution order; a failed critical entry halts the batch and marks all
// remaining entries skipped, per spec.md §4.7 step 3. The session dial
// is redone after every reboot regardless of outcome; a redial failure
// aborts the remainder of the batch since the coordinator has no way to
// reach the target to attempt further entries.
func (c *Coordinator) Apply(ctx context.Context, dial SessionDialer, host string, policy models.Policy, plan []models.FirmwarePlanEntry) ([]Result, error) {
	ordered := SortPlan(plan)
	results := make([]Result, 0, len(ordered))
	aborted := false

	rf, err := dial(ctx)
	if err != nil {
		return nil, werrors.New(werrors.KindTransport, "firmware.apply", err)
	}
	defer func() {
		if rf != nil {
			rf.Close()
		}
	}()

	for _, entry := range ordered {
		if aborted {
			results = append(results, Result{Component: entry.Component, Status: StatusSkipped})
			continue
		}
		if !includedByPolicy(policy, entry.Priority) {
			results = append(results, Result{Component: entry.Component, Status: StatusSkipped})
			continue
		}

		result, next := c.applyEntry(ctx, rf, dial, host, entry)
		rf = next
		results = append(results, result)

		if result.Status == StatusFailed && (entry.Priority == models.PriorityCritical || rf == nil) {
			aborted = true
		}
	}

	if aborted {
		return results, werrors.New(werrors.KindFirmwareCritical, "firmware.apply", fmt.Errorf("critical firmware update failed"))
	}
	return results, nil
}

// applyEntry runs one plan entry against rf and returns the session to
// use for the next entry: the same rf unchanged, or a freshly dialed
// replacement if entry.RequiresReboot closed the old one. A nil return
// means the post-reboot redial failed and the caller has no live
// session to continue with.
func (c *Coordinator) applyEntry(ctx context.Context, rf session.RedfishSession, dial SessionDialer, host string, entry models.FirmwarePlanEntry) (Result, session.RedfishSession) {
	start := time.Now()
	result := Result{Component: entry.Component}

	current, err := c.currentVersion(ctx, rf, entry.Component)
	if err != nil {
		result.Status = StatusFailed
		result.Warnings = append(result.Warnings, err.Error())
		result.DurationSeconds = time.Since(start).Seconds()
		return result, rf
	}
	result.OldVersion = current

	if current == entry.RequiredVersion {
		result.Status = StatusSkipped
		result.NewVersion = current
		result.DurationSeconds = time.Since(start).Seconds()
		return result, rf
	}

	taskID, err := rf.InitiateFirmwareUpdate(ctx, entry.RequiredVersion, []string{string(entry.Component)})
	if err != nil {
		result.Status = StatusFailed
		result.Warnings = append(result.Warnings, err.Error())
		result.DurationSeconds = time.Since(start).Seconds()
		return result, rf
	}

	timeout := time.Duration(entry.EstimatedSeconds) * 3 * time.Second
	if err := c.pollTask(ctx, rf, taskID, timeout); err != nil {
		result.Status = StatusFailed
		result.Warnings = append(result.Warnings, err.Error())
		result.DurationSeconds = time.Since(start).Seconds()
		return result, rf
	}

	if entry.RequiresReboot {
		if err := rf.PowerAction(ctx, session.PowerForceRestart); err != nil {
			result.Status = StatusFailed
			result.Warnings = append(result.Warnings, fmt.Sprintf("force restart: %v", err))
			result.DurationSeconds = time.Since(start).Seconds()
			return result, rf
		}
		rf.Close()
		rf = nil

		if !c.waitForReturn(ctx, host, 15*time.Minute) {
			result.Status = StatusFailed
			result.Warnings = append(result.Warnings, "system did not return within 15 minutes of reboot")
			result.DurationSeconds = time.Since(start).Seconds()
			return result, nil
		}

		fresh, err := dial(ctx)
		if err != nil {
			result.Status = StatusFailed
			result.Warnings = append(result.Warnings, fmt.Sprintf("post-reboot session dial failed: %v", err))
			result.DurationSeconds = time.Since(start).Seconds()
			return result, nil
		}
		rf = fresh
	}

	newVersion, err := c.currentVersion(ctx, rf, entry.Component)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("post-update version query failed: %v", err))
		newVersion = entry.RequiredVersion
	}
	result.NewVersion = newVersion
	result.DurationSeconds = time.Since(start).Seconds()
	if newVersion != entry.RequiredVersion {
		result.Status = StatusFailed
		result.Warnings = append(result.Warnings, "version did not converge after update")
		return result, rf
	}
	result.Status = StatusSuccess
	return result, rf
}

func (c *Coordinator) currentVersion(ctx context.Context, rf session.RedfishSession, component models.FirmwareComponent) (string, error) {
	inventory, err := rf.GetFirmwareInventory(ctx)
	if err != nil {
		return "", werrors.New(werrors.KindTransport, "firmware.current_version", err)
	}
	for _, entry := range inventory {
		if entry.Name == string(component) || entry.ID == string(component) {
			return entry.Version, nil
		}
	}
	return "", nil
}

func (c *Coordinator) pollTask(ctx context.Context, rf session.RedfishSession, taskID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		task, err := rf.GetTask(ctx, taskID)
		if err != nil {
			return werrors.New(werrors.KindTransport, "firmware.poll_task", err)
		}
		switch task.TaskState {
		case session.TaskStateCompleted:
			return nil
		case session.TaskStateException:
			return werrors.New(werrors.KindRemoteCommand, "firmware.poll_task", fmt.Errorf("task %s failed: %v", taskID, task.Messages))
		}
		if time.Now().After(deadline) {
			return werrors.New(werrors.KindTimeout, "firmware.poll_task", fmt.Errorf("task %s timed out after %s", taskID, timeout))
		}
		select {
		case <-ctx.Done():
			return werrors.New(werrors.KindCancellation, "firmware.poll_task", ctx.Err())
		default:
			c.sleep(2 * time.Second)
		}
	}
}

func (c *Coordinator) waitForReturn(ctx context.Context, host string, max time.Duration) bool {
	deadline := time.Now().Add(max)
	for time.Now().Before(deadline) {
		if c.pinger.Ping(ctx, host) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		default:
			c.sleep(5 * time.Second)
		}
	}
	return false
}
