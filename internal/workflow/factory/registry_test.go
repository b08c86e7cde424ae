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

package factory

import (
	"context"
	"encoding/json"
	"testing"

	"metalforge/internal/session"
	"metalforge/internal/werrors"
	"metalforge/internal/workflow"
)

func execDialerFor(responses map[string]session.LocalResponse) ExecDialer {
	return func(context.Context, *workflow.WorkflowContext) (session.ExecSession, error) {
		return session.NewLocalExecSession(responses), nil
	}
}

func TestRegistryContainsEveryTemplateStep(t *testing.T) {
	reg := Registry(Deps{})
	for _, tmpl := range Names() {
		if _, err := Build(tmpl, reg); err != nil {
			t.Fatalf("template %q references an unregistered step: %v", tmpl, err)
		}
	}
}

func TestConfigureIPMINetworkAppliesOnChannelOne(t *testing.T) {
	deps := Deps{
		DialExec: execDialerFor(map[string]session.LocalResponse{
			"ipmitool lan set 1 ipsrc static":          {ExitCode: 0},
			"ipmitool lan set 1 ipaddr 10.0.0.51":      {ExitCode: 0},
			"ipmitool lan set 1 defgw ipaddr 10.0.0.1": {ExitCode: 0},
			"ipmitool lan set 1 netmask 255.255.255.0": {ExitCode: 0},
		}),
	}
	wctx := &workflow.WorkflowContext{TargetIPMIIP: "10.0.0.51", Gateway: "10.0.0.1", SubnetMask: "255.255.255.0"}

	_, err := configureIPMINetwork(deps)(context.Background(), wctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfigureIPMINetworkFallsBackToChannelEight(t *testing.T) {
	deps := Deps{
		DialExec: execDialerFor(map[string]session.LocalResponse{
			"ipmitool lan set 1 ipsrc static":     {ExitCode: 1},
			"ipmitool lan set 8 ipsrc static":     {ExitCode: 0},
			"ipmitool lan set 8 ipaddr 10.0.0.51": {ExitCode: 0},
		}),
	}
	wctx := &workflow.WorkflowContext{TargetIPMIIP: "10.0.0.51"}

	_, err := configureIPMINetwork(deps)(context.Background(), wctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfigureIPMINetworkRequiresTargetIP(t *testing.T) {
	deps := Deps{}
	_, err := configureIPMINetwork(deps)(context.Background(), &workflow.WorkflowContext{})
	if !werrors.Is(err, werrors.KindValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRebootAndWaitRecordsPowerTransitions(t *testing.T) {
	var states []string
	deps := Deps{
		DialRedfish: func(context.Context, *workflow.WorkflowContext) (session.RedfishSession, error) {
			return &fakeRedfishSession{}, nil
		},
		Pinger:    fakePinger{alive: true},
		PowerSink: func(_ context.Context, _ string, state string) { states = append(states, state) },
	}
	wctx := &workflow.WorkflowContext{ServerID: "server-1", TargetIPMIIP: "10.0.0.51"}

	_, err := rebootAndWait(deps)(context.Background(), wctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(states) != 2 || states[0] != "ForceRestart" || states[1] != "On" {
		t.Fatalf("expected [ForceRestart, On], got %v", states)
	}
}

type fakePinger struct{ alive bool }

func (f fakePinger) Ping(context.Context, string) bool { return f.alive }

// fakeRedfishSession implements session.RedfishSession with no-op
// behavior, sufficient to drive reboot/firmware handler tests without a
// real BMC.
type fakeRedfishSession struct{}

func (fakeRedfishSession) GetServiceRoot(context.Context) (json.RawMessage, error)    { return nil, nil }
func (fakeRedfishSession) GetSystem(context.Context, string) (json.RawMessage, error) { return nil, nil }
func (fakeRedfishSession) GetBIOSAttributes(context.Context) (map[string]any, error) {
	return nil, nil
}
func (fakeRedfishSession) PatchBIOSAttributes(context.Context, map[string]any) (string, error) {
	return "", nil
}
func (fakeRedfishSession) PowerAction(context.Context, session.PowerAction) error { return nil }
func (fakeRedfishSession) GetFirmwareInventory(context.Context) ([]session.FirmwareInventoryEntry, error) {
	return nil, nil
}
func (fakeRedfishSession) InitiateFirmwareUpdate(context.Context, string, []string) (string, error) {
	return "", nil
}
func (fakeRedfishSession) GetTask(context.Context, string) (session.Task, error) {
	return session.Task{}, nil
}
func (fakeRedfishSession) SupportsBIOSConfig(context.Context, string) bool { return false }
func (fakeRedfishSession) Close() error                                   { return nil }

var _ session.RedfishSession = fakeRedfishSession{}
