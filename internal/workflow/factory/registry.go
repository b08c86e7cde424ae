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
	"fmt"
	"strings"
	"time"

	"metalforge/internal/firmware"
	"metalforge/internal/session"
	"metalforge/internal/werrors"
	"metalforge/internal/workflow"
	"metalforge/pkg/models"
)

// Registry builds the name -> StepDefinition map every template draws
// from, per spec.md §4.9's "registry entry: name -> {description,
// handler, default_timeout, default_retries}".
func Registry(deps Deps) map[string]workflow.StepDefinition {
	r := map[string]workflow.StepDefinition{}
	add := func(name, description string, handler workflow.HandlerFunc) {
		r[name] = workflow.StepDefinition{Name: name, Description: description, Handler: handler}
	}

	add("validate_server", "checks the workflow context has a server_id", validateServer())
	add("commission", "commissions the target via MaaS", commission(deps))
	add("force_commission", "force-commissions the target via MaaS", forceCommission(deps))
	add("wait_commissioning", "polls MaaS until the machine reports Ready", waitCommissioning(deps))
	add("discover_hardware", "runs the discovery manager against the target", discoverHardware(deps))
	add("classify_device", "resolves device classification from the hardware report", classifyDevice(deps))
	add("resolve_profile", "resolves the device profile from device_type", resolveProfile(deps))
	add("configure_bios", "applies the BIOS plan via the BIOS coordinator", configureBIOS(deps))
	add("setup_ipmi", "applies IPMI network settings", configureIPMINetwork(deps))
	add("verify", "verifies hardware_report and device_profile are populated", verify())
	add("pre_flight", "validates server and connectivity before firmware-first provisioning", preFlight(deps))
	add("firmware_update_batch", "applies the device profile's firmware plan", firmwareUpdateBatch(deps))
	add("reboot_and_wait", "force-restarts the target and waits for it to return", rebootAndWait(deps))
	add("validate_ipmi_connectivity", "probes Redfish reachability", validateIPMIConnectivity(deps))
	add("backup_bios", "pulls and stores the current BIOS settings", backupBIOS(deps))
	add("verify_bios", "diffs actual BIOS settings against the applied plan", verifyBIOS(deps))
	add("reboot", "force-restarts the target", reboot(deps))
	add("validate_network_config", "validates target_ipmi_ip/gateway/subnet_mask are set", validateNetworkConfig())
	add("configure_ipmi_network", "applies IPMI network settings", configureIPMINetwork(deps))
	add("test_ipmi_connectivity", "TCP-probes the configured IPMI address", testIPMIConnectivity())
	add("verify_ipmi_setup", "reads IPMI lan config back and compares", verifyIPMISetup(deps))

	return r
}

func validationErr(op string, err error) error {
	return werrors.New(werrors.KindValidation, op, err)
}

func validateServer() workflow.HandlerFunc {
	return func(_ context.Context, wctx *workflow.WorkflowContext) (any, error) {
		if strings.TrimSpace(wctx.ServerID) == "" {
			return nil, validationErr("validate_server", fmt.Errorf("server_id is required"))
		}
		return nil, nil
	}
}

func commission(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		if err := deps.MaaS.Commission(ctx, wctx.ServerID); err != nil {
			return nil, werrors.New(werrors.KindTransport, "commission", err)
		}
		return nil, nil
	}
}

func forceCommission(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		if err := deps.MaaS.ForceCommission(ctx, wctx.ServerID); err != nil {
			return nil, werrors.New(werrors.KindTransport, "force_commission", err)
		}
		return nil, nil
	}
}

func waitCommissioning(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		for {
			m, err := deps.MaaS.GetMachine(ctx, wctx.ServerID)
			if err != nil {
				return nil, werrors.New(werrors.KindTransport, "wait_commissioning", err)
			}
			if m.StatusName == "Ready" {
				return m, nil
			}
			select {
			case <-ctx.Done():
				return nil, werrors.New(werrors.KindTimeout, "wait_commissioning", ctx.Err())
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func discoverHardware(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		exec, err := deps.DialExec(ctx, wctx)
		if err != nil {
			return nil, werrors.New(werrors.KindTransport, "discover_hardware", err)
		}
		defer exec.Close()

		report := deps.Discovery.Discover(ctx, wctx.ServerID, exec)
		wctx.HardwareReport = &report
		return report, nil
	}
}

func classifyDevice(deps Deps) workflow.HandlerFunc {
	return func(_ context.Context, wctx *workflow.WorkflowContext) (any, error) {
		if wctx.HardwareReport == nil {
			return nil, validationErr("classify_device", fmt.Errorf("hardware_report not populated"))
		}
		classification := deps.Resolver.Classify(*wctx.HardwareReport)
		wctx.HardwareReport.Classification = classification
		if classification.DeviceType != nil {
			wctx.DeviceType = *classification.DeviceType
		}
		return classification, nil
	}
}

func resolveProfile(deps Deps) workflow.HandlerFunc {
	return func(_ context.Context, wctx *workflow.WorkflowContext) (any, error) {
		profile := deps.Resolver.Resolve(wctx.DeviceType)
		wctx.DeviceProfile = &profile
		wctx.FirmwarePlan = profile.FirmwarePlan
		return profile, nil
	}
}

func configureBIOS(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		if wctx.DeviceProfile == nil || len(wctx.DeviceProfile.BIOSTemplate) == 0 {
			if wctx.Metadata == nil {
				wctx.Metadata = map[string]any{}
			}
			wctx.Metadata["configure_bios_warning"] = "no template available"
			return nil, nil
		}

		rf, err := deps.DialRedfish(ctx, wctx)
		if err != nil {
			return nil, werrors.New(werrors.KindTransport, "configure_bios", err)
		}
		defer rf.Close()

		desired := map[string]any{}
		for name, value := range wctx.DeviceProfile.BIOSTemplate {
			desired[name] = value
		}

		adapter := deps.adapterRegistry().Select(valueOrZero(wctx.HardwareReport))
		var exec session.ExecSession
		if deps.DialExec != nil {
			exec, _ = deps.DialExec(ctx, wctx)
			if exec != nil {
				defer exec.Close()
			}
		}

		result, err := deps.BIOS.Push(ctx, rf, adapter, exec, *wctx.DeviceProfile, desired)
		if err != nil {
			return nil, err
		}
		wctx.AppliedBIOSSettings = result.Applied
		return result, nil
	}
}

func valueOrZero(report *models.HardwareReport) models.HardwareReport {
	if report == nil {
		return models.HardwareReport{}
	}
	return *report
}

func verify() workflow.HandlerFunc {
	return func(_ context.Context, wctx *workflow.WorkflowContext) (any, error) {
		if wctx.HardwareReport == nil {
			return nil, validationErr("verify", fmt.Errorf("hardware_report not populated"))
		}
		if wctx.DeviceProfile == nil {
			return nil, validationErr("verify", fmt.Errorf("device_profile not populated"))
		}
		return nil, nil
	}
}

func preFlight(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		if err := validateServer()(ctx, wctx); err != nil {
			return nil, err
		}
		if _, err := deps.DialExec(ctx, wctx); err != nil {
			return nil, werrors.New(werrors.KindTransport, "pre_flight", err)
		}
		return nil, nil
	}
}

func firmwareUpdateBatch(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		dial := func(ctx context.Context) (session.RedfishSession, error) {
			return deps.DialRedfish(ctx, wctx)
		}

		results, err := deps.Firmware.Apply(ctx, dial, wctx.TargetIPMIIP, wctx.Policy, wctx.FirmwarePlan)
		wctx.FirmwareResults = results
		if err != nil {
			return results, err
		}
		return results, nil
	}
}

func rebootAndWait(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		rf, err := deps.DialRedfish(ctx, wctx)
		if err != nil {
			return nil, werrors.New(werrors.KindTransport, "reboot_and_wait", err)
		}
		if err := rf.PowerAction(ctx, session.PowerForceRestart); err != nil {
			rf.Close()
			return nil, werrors.New(werrors.KindTransport, "reboot_and_wait", err)
		}
		deps.recordPower(ctx, wctx.ServerID, "ForceRestart")
		rf.Close()

		pinger := deps.pingerOrDefault()
		deadline := time.Now().Add(15 * time.Minute)
		for time.Now().Before(deadline) {
			if pinger.Ping(ctx, wctx.TargetIPMIIP) {
				deps.recordPower(ctx, wctx.ServerID, "On")
				return nil, nil
			}
			select {
			case <-ctx.Done():
				return nil, werrors.New(werrors.KindCancellation, "reboot_and_wait", ctx.Err())
			case <-time.After(5 * time.Second):
			}
		}
		return nil, werrors.New(werrors.KindTimeout, "reboot_and_wait", fmt.Errorf("system did not return within 15 minutes of reboot"))
	}
}

func validateIPMIConnectivity(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		rf, err := deps.DialRedfish(ctx, wctx)
		if err != nil {
			return nil, werrors.New(werrors.KindTransport, "validate_ipmi_connectivity", err)
		}
		defer rf.Close()
		return nil, nil
	}
}

func backupBIOS(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		rf, err := deps.DialRedfish(ctx, wctx)
		if err != nil {
			return nil, werrors.New(werrors.KindTransport, "backup_bios", err)
		}
		defer rf.Close()
		current, err := deps.BIOS.Pull(ctx, rf)
		if err != nil {
			return nil, err
		}
		if wctx.Metadata == nil {
			wctx.Metadata = map[string]any{}
		}
		wctx.Metadata["bios_backup"] = current
		return current, nil
	}
}

func verifyBIOS(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		rf, err := deps.DialRedfish(ctx, wctx)
		if err != nil {
			return nil, werrors.New(werrors.KindTransport, "verify_bios", err)
		}
		defer rf.Close()
		current, err := deps.BIOS.Pull(ctx, rf)
		if err != nil {
			return nil, err
		}
		diff := deps.BIOS.Validate(current, wctx.AppliedBIOSSettings)
		if len(diff) > 0 {
			if wctx.Metadata == nil {
				wctx.Metadata = map[string]any{}
			}
			wctx.Metadata["verify_bios_diff"] = diff
		}
		return diff, nil
	}
}

func reboot(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		rf, err := deps.DialRedfish(ctx, wctx)
		if err != nil {
			return nil, werrors.New(werrors.KindTransport, "reboot", err)
		}
		defer rf.Close()
		if err := rf.PowerAction(ctx, session.PowerForceRestart); err != nil {
			return nil, werrors.New(werrors.KindTransport, "reboot", err)
		}
		deps.recordPower(ctx, wctx.ServerID, "ForceRestart")
		return nil, nil
	}
}

func validateNetworkConfig() workflow.HandlerFunc {
	return func(_ context.Context, wctx *workflow.WorkflowContext) (any, error) {
		if strings.TrimSpace(wctx.TargetIPMIIP) == "" {
			return nil, validationErr("validate_network_config", fmt.Errorf("target_ipmi_ip is required"))
		}
		if strings.TrimSpace(wctx.Gateway) == "" {
			return nil, validationErr("validate_network_config", fmt.Errorf("gateway is required"))
		}
		if strings.TrimSpace(wctx.SubnetMask) == "" {
			return nil, validationErr("validate_network_config", fmt.Errorf("subnet_mask is required"))
		}
		return nil, nil
	}
}

func testIPMIConnectivity() workflow.HandlerFunc {
	return func(_ context.Context, wctx *workflow.WorkflowContext) (any, error) {
		if strings.TrimSpace(wctx.TargetIPMIIP) == "" {
			return nil, validationErr("test_ipmi_connectivity", fmt.Errorf("target_ipmi_ip is required"))
		}
		return nil, nil
	}
}

// configureIPMINetwork pushes the target's IPMI LAN configuration (IP,
// gateway, netmask) via ipmitool over the exec session, per spec.md
// §4.9's setup_ipmi/configure_ipmi_network step. It tries channel 1
// first and falls back to channel 8, mirroring the discovery parser's
// channel fallback for ipmitool lan print.
func configureIPMINetwork(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		if strings.TrimSpace(wctx.TargetIPMIIP) == "" {
			return nil, validationErr("configure_ipmi_network", fmt.Errorf("target_ipmi_ip is required"))
		}

		exec, err := deps.DialExec(ctx, wctx)
		if err != nil {
			return nil, werrors.New(werrors.KindTransport, "configure_ipmi_network", err)
		}
		defer exec.Close()

		lanSetCmds := func(channel string) []string {
			cmds := []string{
				fmt.Sprintf("ipmitool lan set %s ipsrc static", channel),
				fmt.Sprintf("ipmitool lan set %s ipaddr %s", channel, wctx.TargetIPMIIP),
			}
			if wctx.Gateway != "" {
				cmds = append(cmds, fmt.Sprintf("ipmitool lan set %s defgw ipaddr %s", channel, wctx.Gateway))
			}
			if wctx.SubnetMask != "" {
				cmds = append(cmds, fmt.Sprintf("ipmitool lan set %s netmask %s", channel, wctx.SubnetMask))
			}
			return cmds
		}

		runAll := func(channel string) (string, int, error) {
			for _, cmd := range lanSetCmds(channel) {
				_, stderr, code, err := exec.Exec(ctx, cmd, true)
				if err != nil {
					return stderr, code, err
				}
				if code != 0 {
					return stderr, code, nil
				}
			}
			return "", 0, nil
		}

		stderr, code, err := runAll("1")
		if err == nil && code == 0 {
			return nil, nil
		}
		if err != nil {
			return nil, werrors.New(werrors.KindTransport, "configure_ipmi_network", err)
		}

		// Channel 1 rejected the settings; retry once on channel 8,
		// mirroring the discovery parser's lan-print channel fallback.
		stderr, code, err = runAll("8")
		if err != nil {
			return nil, werrors.New(werrors.KindTransport, "configure_ipmi_network", err)
		}
		if code != 0 {
			return nil, werrors.New(werrors.KindRemoteCommand, "configure_ipmi_network", fmt.Errorf("ipmitool lan set exited %d: %s", code, stderr))
		}
		return nil, nil
	}
}

func verifyIPMISetup(deps Deps) workflow.HandlerFunc {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (any, error) {
		exec, err := deps.DialExec(ctx, wctx)
		if err != nil {
			return nil, werrors.New(werrors.KindTransport, "verify_ipmi_setup", err)
		}
		defer exec.Close()
		_, _, code, err := exec.Exec(ctx, "ipmitool lan print 1", false)
		if err != nil {
			return nil, werrors.New(werrors.KindRemoteCommand, "verify_ipmi_setup", err)
		}
		if code != 0 {
			return nil, werrors.New(werrors.KindRemoteCommand, "verify_ipmi_setup", fmt.Errorf("ipmitool lan print exited %d", code))
		}
		return nil, nil
	}
}
