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

// Package bios implements the method-selecting BIOS configuration
// coordinator from spec.md §4.6: Redfish-batch and vendor-tool-batch
// application, preserve-set handling, and post-apply diffing.
// Generalized from shoal's single-path Redfish-only BIOS attribute PATCH
// (internal/bmc, settings applied via one patch_bios_attributes call) to
// the spec's three-path (redfish/vendor_tool/hybrid) model; vendor-tool
// retry reuses the bounded-attempt shape of shoal's doWithRetry in
// internal/bmc/retry.go.
package bios

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"metalforge/internal/session"
	"metalforge/internal/vendor"
	"metalforge/internal/werrors"
	"metalforge/pkg/models"
)

const vendorToolMaxAttempts = 3

// PushResult is the outcome of applying a desired BIOS configuration.
type PushResult struct {
	Applied  map[string]any
	Warnings []string
	Diff     Diff
}

// Diff is the set of settings whose actual value differs from desired
// after a push, keyed by setting name.
type Diff map[string]DiffEntry

// DiffEntry records the before/after values for one differing setting.
type DiffEntry struct {
	Desired string
	Actual  string
}

// Coordinator applies and verifies BIOS configuration plans.
type Coordinator struct{}

// NewCoordinator constructs a Coordinator. It holds no state: all
// dependencies are passed explicitly to Pull/Push/Validate so the same
// Coordinator can service many targets concurrently.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Pull reads the current BIOS attribute set via Redfish, the coordinator's
// universal source of current state per spec.md §4.6.
func (c *Coordinator) Pull(ctx context.Context, rf session.RedfishSession) (map[string]any, error) {
	current, err := rf.GetBIOSAttributes(ctx)
	if err != nil {
		return nil, werrors.New(werrors.KindTransport, "bios.pull", err)
	}
	return current, nil
}

// Validate computes the settings where actual differs from desired.
func (c *Coordinator) Validate(actual, desired map[string]any) Diff {
	diff := Diff{}
	for name, desiredVal := range desired {
		actualVal, ok := actual[name]
		desiredStr := toComparableString(desiredVal)
		actualStr := toComparableString(actualVal)
		if !ok || actualStr != desiredStr {
			diff[name] = DiffEntry{Desired: desiredStr, Actual: actualStr}
		}
	}
	return diff
}

// Push applies desired against the target, per spec.md §4.6's six-step
// application protocol. profile supplies preserve and method_hints;
// adapter is the vendor back-end used for settings routed to vendor_batch
// (nil is valid when no vendor-tool setting is ever selected). exec is
// the session used to invoke vendor CLI commands.
func (c *Coordinator) Push(ctx context.Context, rf session.RedfishSession, adapter vendor.Adapter, exec session.ExecSession, profile models.DeviceProfile, desired map[string]any) (*PushResult, error) {
	current, err := c.Pull(ctx, rf)
	if err != nil {
		return nil, err
	}

	desired = applyPreserve(current, desired, profile)

	redfishBatch, vendorBatch := partition(ctx, rf, profile.BIOSMethodHints, desired)

	result := &PushResult{Applied: map[string]any{}}

	if len(redfishBatch) > 0 {
		moved, warnings, err := c.applyRedfishBatch(ctx, rf, redfishBatch)
		result.Warnings = append(result.Warnings, warnings...)
		if err != nil {
			return result, err
		}
		for name, val := range redfishBatch {
			if !moved[name] {
				result.Applied[name] = val
			}
		}
		for name, val := range moved {
			if val {
				vendorBatch[name] = redfishBatch[name]
			}
		}
	}

	if len(vendorBatch) > 0 {
		normalizeVendorBooleans(vendorBatch)
		for name, val := range vendorBatch {
			desired[name] = val
		}

		warnings, err := c.applyVendorBatch(ctx, adapter, exec, vendorBatch)
		result.Warnings = append(result.Warnings, warnings...)
		if err != nil {
			return result, err
		}
		for name, val := range vendorBatch {
			result.Applied[name] = val
		}
	}

	actual, err := c.Pull(ctx, rf)
	if err != nil {
		return result, err
	}
	result.Diff = c.Validate(actual, desired)

	for name := range result.Diff {
		if profile.Preserve(name) {
			return result, werrors.New(werrors.KindValidation, "bios.push", fmt.Errorf("preserved setting %q failed to stick", name))
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf("setting %q did not converge to desired value", name))
	}

	return result, nil
}

// PushResetToDefaults issues a Redfish-only "reset BIOS to defaults"
// request, bypassing redfish/vendor partitioning entirely per spec.md
// §4.6's explicit bypass rule.
func (c *Coordinator) PushResetToDefaults(ctx context.Context, rf session.RedfishSession) error {
	_, err := rf.PatchBIOSAttributes(ctx, map[string]any{"ResetBiosToDefaults": true})
	if err != nil {
		return werrors.New(werrors.KindTransport, "bios.reset_to_defaults", err)
	}
	return nil
}

func applyPreserve(current, desired map[string]any, profile models.DeviceProfile) map[string]any {
	out := map[string]any{}
	for k, v := range desired {
		out[k] = v
	}
	for name := range profile.BIOSPreserve {
		if val, ok := current[name]; ok {
			out[name] = val
		}
	}
	return out
}

// normalizeVendorBooleans rewrites boolean settings destined for a
// vendor CLI tool to the Enabled/Disabled string convention those
// tools' config syntaxes expect, per spec.md §4.6's "normalized to the
// device's convention ... from method_hints metadata": a setting only
// reaches vendorBatch because method_hints routed it to vendor_tool (or
// a redfish 4xx rejection fell back to it), and racadm/hponcfg/sum all
// take a string argument rather than a JSON boolean.
func normalizeVendorBooleans(vendorBatch map[string]any) {
	for name, val := range vendorBatch {
		if b, ok := val.(bool); ok {
			vendorBatch[name] = boolToEnabledDisabled(b)
		}
	}
}

func boolToEnabledDisabled(b bool) string {
	if b {
		return "Enabled"
	}
	return "Disabled"
}

// partition splits desired settings into redfish_batch and vendor_batch
// per spec.md §4.6's method-selection rules 1-3.
func partition(ctx context.Context, rf session.RedfishSession, hints map[string]models.BIOSMethod, desired map[string]any) (map[string]any, map[string]any) {
	redfishBatch := map[string]any{}
	vendorBatch := map[string]any{}

	for name, val := range desired {
		method := hints[name]
		supportsRedfish := rf.SupportsBIOSConfig(ctx, name)

		switch {
		case method == models.BIOSMethodRedfish && supportsRedfish:
			redfishBatch[name] = val
		case method == models.BIOSMethodVendorTool:
			vendorBatch[name] = val
		case !supportsRedfish:
			vendorBatch[name] = val
		default:
			// hybrid or unspecified: try redfish first, vendor is the
			// fallback path exercised only on HTTP 4xx during apply.
			redfishBatch[name] = val
		}
	}
	return redfishBatch, vendorBatch
}

// applyRedfishBatch patches settings in one call and polls the returned
// task to terminal state. Settings rejected with an HTTP 4xx "setting not
// supported" response are reported via the returned map (true = move to
// vendor_batch) so the caller can retry once as a vendor-tool apply.
func (c *Coordinator) applyRedfishBatch(ctx context.Context, rf session.RedfishSession, batch map[string]any) (map[string]bool, []string, error) {
	moved := map[string]bool{}
	var warnings []string

	taskID, err := rf.PatchBIOSAttributes(ctx, batch)
	if err != nil {
		if rfErr, ok := err.(*session.RedfishError); ok && rfErr.StatusCode >= 400 && rfErr.StatusCode < 500 && isSettingNotSupported(rfErr.Message) {
			setting := extractSettingName(rfErr.Message, batch)
			moved[setting] = true
			warnings = append(warnings, fmt.Sprintf("setting %q not supported via redfish, retrying via vendor tool", setting))
			return moved, warnings, nil
		}
		return moved, warnings, werrors.New(werrors.KindTransport, "bios.push.redfish_batch", err)
	}
	if taskID == "" {
		return moved, warnings, nil
	}

	task, err := rf.GetTask(ctx, taskID)
	if err != nil {
		return moved, warnings, werrors.New(werrors.KindTransport, "bios.push.poll_task", err)
	}
	if task.TaskState == session.TaskStateException {
		return moved, warnings, werrors.New(werrors.KindRemoteCommand, "bios.push.redfish_task", fmt.Errorf("bios apply task %s failed: %v", taskID, task.Messages))
	}
	return moved, warnings, nil
}

func isSettingNotSupported(message string) bool {
	return strings.Contains(strings.ToLower(message), "not supported") || strings.Contains(strings.ToLower(message), "unknown property")
}

// extractSettingName best-effort matches the failing setting name to one
// of the attempted batch keys by substring match against the error
// message; if no name matches, the first batch key is assumed.
func extractSettingName(message string, batch map[string]any) string {
	for name := range batch {
		if strings.Contains(message, name) {
			return name
		}
	}
	for name := range batch {
		return name
	}
	return ""
}

// applyVendorBatch applies settings sequentially via the vendor adapter's
// BIOSTool capability, making up to vendorToolMaxAttempts attempts per
// setting (the first call plus two retries) while the tool reports failure.
func (c *Coordinator) applyVendorBatch(ctx context.Context, adapter vendor.Adapter, exec session.ExecSession, batch map[string]any) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	tool, ok := adapter.(vendor.BIOSTool)
	if !ok {
		return nil, werrors.New(werrors.KindConfig, "bios.push.vendor_batch", vendor.ErrBIOSToolUnsupported)
	}

	var warnings []string
	names := make([]string, 0, len(batch))
	for name := range batch {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		valStr := toComparableString(batch[name])
		var lastErr error
		for attempt := 1; attempt <= vendorToolMaxAttempts; attempt++ {
			lastErr = tool.ApplySetting(ctx, exec, name, valStr)
			if lastErr == nil {
				break
			}
		}
		if lastErr != nil {
			return warnings, werrors.New(werrors.KindRemoteCommand, "bios.push.vendor_batch", fmt.Errorf("setting %q: %w", name, lastErr))
		}
	}
	return warnings, nil
}

func toComparableString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
