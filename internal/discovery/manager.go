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

// Package discovery drives the parsers, session abstractions, and vendor
// adapters to produce a full HardwareReport from a single exec session.
// Every sub-operation is best-effort: failures are appended to
// DiscoveryErrors rather than aborting the run, mirroring the
// accumulate-and-continue style of shoal's internal/bmc/reconcile.go.
package discovery

import (
	"context"
	"fmt"
	"time"

	"metalforge/internal/discovery/parse"
	"metalforge/internal/session"
	"metalforge/internal/vendor"
	"metalforge/pkg/models"
)

// Manager orchestrates discovery against a single target's ExecSession.
type Manager struct {
	adapters *vendor.Registry
	now      func() time.Time
}

// NewManager constructs a Manager with the given vendor adapter registry.
// A nil registry uses vendor.DefaultRegistry().
func NewManager(adapters *vendor.Registry) *Manager {
	if adapters == nil {
		adapters = vendor.DefaultRegistry()
	}
	return &Manager{adapters: adapters, now: func() time.Time { return time.Now().UTC() }}
}

// Discover produces a HardwareReport for hostname by running the fixed
// sequence of dmidecode/ipmitool/ip-addr commands from spec.md §4.4. It
// always returns a report, even if every intermediate step fails.
func (m *Manager) Discover(ctx context.Context, hostname string, exec session.ExecSession) models.HardwareReport {
	report := models.HardwareReport{
		Hostname:         hostname,
		DiscoveredAt:     m.now(),
		VendorExtensions: map[string]any{},
	}

	m.discoverSystem(ctx, exec, &report)
	m.discoverIPMI(ctx, exec, &report)
	m.discoverNetwork(ctx, exec, &report)
	m.discoverVendor(ctx, exec, &report)

	return report
}

func (m *Manager) recordErr(report *models.HardwareReport, op string, err error) {
	report.DiscoveryErrors = append(report.DiscoveryErrors, fmt.Sprintf("%s: %v", op, err))
}

func (m *Manager) discoverSystem(ctx context.Context, exec session.ExecSession, report *models.HardwareReport) {
	sysOut, _, code, err := exec.Exec(ctx, "dmidecode -t system", true)
	if err != nil {
		m.recordErr(report, "dmidecode -t system", err)
	} else if code != 0 {
		m.recordErr(report, "dmidecode -t system", fmt.Errorf("exit code %d", code))
	} else {
		sysInfo, warnings := parse.DMIDecodeSystem(sysOut)
		report.System = parse.MergeSystemInfo(report.System, sysInfo)
		m.recordWarnings(report, "dmidecode -t system", warnings)
	}

	biosOut, _, code, err := exec.Exec(ctx, "dmidecode -t bios", true)
	if err != nil {
		m.recordErr(report, "dmidecode -t bios", err)
	} else if code != 0 {
		m.recordErr(report, "dmidecode -t bios", fmt.Errorf("exit code %d", code))
	} else {
		biosInfo, warnings := parse.DMIDecodeBIOS(biosOut)
		report.System = parse.MergeSystemInfo(report.System, biosInfo)
		m.recordWarnings(report, "dmidecode -t bios", warnings)
	}

	cpuOut, _, code, err := exec.Exec(ctx, "lscpu", false)
	if err != nil {
		m.recordErr(report, "lscpu", err)
	} else if code != 0 {
		m.recordErr(report, "lscpu", fmt.Errorf("exit code %d", code))
	} else {
		cpuInfo, warnings := parse.LSCPU(cpuOut)
		report.System = parse.MergeSystemInfo(report.System, cpuInfo)
		m.recordWarnings(report, "lscpu", warnings)
	}

	memOut, _, code, err := exec.Exec(ctx, "free -h", false)
	if err != nil {
		m.recordErr(report, "free -h", err)
	} else if code != 0 {
		m.recordErr(report, "free -h", fmt.Errorf("exit code %d", code))
	} else {
		memInfo, warnings := parse.Free(memOut)
		report.System = parse.MergeSystemInfo(report.System, memInfo)
		m.recordWarnings(report, "free -h", warnings)
	}
}

func (m *Manager) discoverIPMI(ctx context.Context, exec session.ExecSession, report *models.HardwareReport) {
	_, _, code, err := exec.Exec(ctx, "which ipmitool", false)
	if err != nil || code != 0 {
		_, _, _, installErr := exec.Exec(ctx, "apt-get install -y ipmitool || yum install -y ipmitool", true)
		if installErr != nil {
			m.recordErr(report, "ipmitool install", installErr)
			return
		}
	}

	out, _, code, err := exec.Exec(ctx, "ipmitool lan print 1", false)
	channel := 1
	if err != nil || code != 0 {
		out, _, code, err = exec.Exec(ctx, "ipmitool lan print 8", false)
		channel = 8
	}
	if err != nil {
		m.recordErr(report, "ipmitool lan print", err)
		return
	}
	if code != 0 {
		m.recordErr(report, "ipmitool lan print", fmt.Errorf("exit code %d", code))
		return
	}
	info, warnings := parse.IPMILan(out, channel)
	report.IPMI = info
	m.recordWarnings(report, "ipmitool lan print", warnings)
}

func (m *Manager) discoverNetwork(ctx context.Context, exec session.ExecSession, report *models.HardwareReport) {
	out, _, code, err := exec.Exec(ctx, "ip addr show", false)
	if err != nil {
		m.recordErr(report, "ip addr show", err)
		return
	}
	if code != 0 {
		m.recordErr(report, "ip addr show", fmt.Errorf("exit code %d", code))
		return
	}
	ifaces, warnings := parse.NetworkInterfaces(out)
	report.NetworkInterfaces = ifaces
	m.recordWarnings(report, "ip addr show", warnings)
}

func (m *Manager) discoverVendor(ctx context.Context, exec session.ExecSession, report *models.HardwareReport) {
	adapter := m.adapters.Select(*report)
	if adapter == nil {
		return
	}
	if err := adapter.InstallTools(ctx, exec); err != nil {
		m.recordErr(report, "vendor install_tools:"+adapter.Name(), err)
	}
	ext, err := adapter.DiscoverExtensions(ctx, exec)
	if err != nil {
		m.recordErr(report, "vendor discover_extensions:"+adapter.Name(), err)
		return
	}
	for k, v := range ext {
		report.VendorExtensions[k] = v
	}
	report.System = vendor.OverlayIntoSystem(report.System, ext)
}

func (m *Manager) recordWarnings(report *models.HardwareReport, op string, warnings []parse.Warning) {
	for _, w := range warnings {
		report.DiscoveryErrors = append(report.DiscoveryErrors, fmt.Sprintf("%s: %s", op, w))
	}
}
