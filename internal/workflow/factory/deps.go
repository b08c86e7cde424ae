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

// Package factory assembles the named standard workflow templates from
// spec.md §4.9 out of a step registry, closing each handler over the
// shared back-ends (MaaS client, discovery manager, config resolver,
// BIOS/firmware coordinators, session dialers) a running engine needs.
package factory

import (
	"context"

	"metalforge/internal/bios"
	"metalforge/internal/config"
	"metalforge/internal/discovery"
	"metalforge/internal/external"
	"metalforge/internal/firmware"
	"metalforge/internal/session"
	"metalforge/internal/vendor"
	"metalforge/internal/workflow"
)

// ExecDialer opens an ExecSession for the given workflow context's
// target. Production wiring dials SSH (session.DialSSH); tests substitute
// a session.LocalExecSession factory.
type ExecDialer func(ctx context.Context, wctx *workflow.WorkflowContext) (session.ExecSession, error)

// RedfishDialer opens a RedfishSession for the given workflow context's
// target.
type RedfishDialer func(ctx context.Context, wctx *workflow.WorkflowContext) (session.RedfishSession, error)

// PowerSink records a power-state transition observed while driving a
// step (e.g. the ForceRestart issued by reboot/reboot_and_wait), for
// persistence into spec.md §4.10's power_state_history table. Optional:
// a nil sink simply means transitions aren't durably recorded.
type PowerSink func(ctx context.Context, serverID, state string)

// Deps bundles every back-end a step handler may need. All fields are
// required except Adapters (defaults to vendor.DefaultRegistry()),
// Pinger (defaults to firmware.NewTCPPinger()), and PowerSink (optional).
type Deps struct {
	MaaS        external.MaaSClient
	Discovery   *discovery.Manager
	Resolver    *config.Resolver
	BIOS        *bios.Coordinator
	Firmware    *firmware.Coordinator
	Adapters    *vendor.Registry
	DialExec    ExecDialer
	DialRedfish RedfishDialer
	Pinger      firmware.Pinger
	PowerSink   PowerSink
}

func (d Deps) adapterRegistry() *vendor.Registry {
	if d.Adapters != nil {
		return d.Adapters
	}
	return vendor.DefaultRegistry()
}

func (d Deps) pingerOrDefault() firmware.Pinger {
	if d.Pinger != nil {
		return d.Pinger
	}
	return firmware.NewTCPPinger()
}

func (d Deps) recordPower(ctx context.Context, serverID, state string) {
	if d.PowerSink != nil {
		d.PowerSink(ctx, serverID, state)
	}
}
