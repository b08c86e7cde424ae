package bios

import (
	"context"
	"encoding/json"
	"testing"

	"metalforge/internal/session"
	"metalforge/internal/vendor"
	"metalforge/pkg/models"
)

type fakeRedfish struct {
	attrs           map[string]any
	redfishSupports map[string]bool
	patchCalls      []map[string]any
	patchErr        error
	task            session.Task
}

func (f *fakeRedfish) GetServiceRoot(context.Context) (json.RawMessage, error) { return nil, nil }
func (f *fakeRedfish) GetSystem(context.Context, string) (json.RawMessage, error) { return nil, nil }

func (f *fakeRedfish) GetBIOSAttributes(context.Context) (map[string]any, error) {
	out := map[string]any{}
	for k, v := range f.attrs {
		out[k] = v
	}
	return out, nil
}

func (f *fakeRedfish) PatchBIOSAttributes(ctx context.Context, settings map[string]any) (string, error) {
	f.patchCalls = append(f.patchCalls, settings)
	if f.patchErr != nil {
		return "", f.patchErr
	}
	for k, v := range settings {
		f.attrs[k] = v
	}
	return "task-1", nil
}

func (f *fakeRedfish) PowerAction(context.Context, session.PowerAction) error { return nil }

func (f *fakeRedfish) GetFirmwareInventory(context.Context) ([]session.FirmwareInventoryEntry, error) {
	return nil, nil
}

func (f *fakeRedfish) InitiateFirmwareUpdate(context.Context, string, []string) (string, error) {
	return "", nil
}

func (f *fakeRedfish) GetTask(context.Context, string) (session.Task, error) {
	if f.task.TaskState == "" {
		return session.Task{TaskState: session.TaskStateCompleted}, nil
	}
	return f.task, nil
}

func (f *fakeRedfish) SupportsBIOSConfig(_ context.Context, setting string) bool {
	return f.redfishSupports[setting]
}

func (f *fakeRedfish) Close() error { return nil }

var _ session.RedfishSession = (*fakeRedfish)(nil)

func TestPullReturnsCurrentAttributes(t *testing.T) {
	rf := &fakeRedfish{attrs: map[string]any{"BootMode": "Legacy"}}
	c := NewCoordinator()

	current, err := c.Pull(context.Background(), rf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current["BootMode"] != "Legacy" {
		t.Fatalf("expected BootMode=Legacy, got %+v", current)
	}
}

func TestValidateReportsOnlyDifferences(t *testing.T) {
	c := NewCoordinator()
	actual := map[string]any{"BootMode": "Legacy", "PowerProfile": "Balanced"}
	desired := map[string]any{"BootMode": "Uefi", "PowerProfile": "Balanced"}

	diff := c.Validate(actual, desired)

	if len(diff) != 1 {
		t.Fatalf("expected 1 diff entry, got %+v", diff)
	}
	if diff["BootMode"].Desired != "Uefi" || diff["BootMode"].Actual != "Legacy" {
		t.Fatalf("unexpected diff entry: %+v", diff["BootMode"])
	}
}

// TestPushHappyPathRedfishOnly covers spec.md scenario A: a template
// setting routed entirely through redfish converges with no vendor calls.
func TestPushHappyPathRedfishOnly(t *testing.T) {
	rf := &fakeRedfish{
		attrs:           map[string]any{"BootMode": "Legacy", "SerialNumber": "SN123"},
		redfishSupports: map[string]bool{"BootMode": true, "SerialNumber": true},
	}
	profile := models.DeviceProfile{
		BIOSPreserve: map[string]struct{}{"SerialNumber": {}},
		BIOSMethodHints: map[string]models.BIOSMethod{
			"BootMode": models.BIOSMethodRedfish,
		},
	}
	desired := map[string]any{"BootMode": "Uefi"}

	c := NewCoordinator()
	result, err := c.Push(context.Background(), rf, vendor.Generic{}, nil, profile, desired)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Diff) != 0 {
		t.Fatalf("expected empty diff, got %+v", result.Diff)
	}
	if rf.attrs["SerialNumber"] != "SN123" {
		t.Fatalf("expected preserved SerialNumber untouched, got %v", rf.attrs["SerialNumber"])
	}
}

func TestPushRoutesUnsupportedSettingToVendorTool(t *testing.T) {
	rf := &fakeRedfish{
		attrs:           map[string]any{"CustomFan": "Auto"},
		redfishSupports: map[string]bool{},
	}
	exec := session.NewLocalExecSession(map[string]session.LocalResponse{
		`sum -i 10.0.0.1 -c ChangeBiosCfg --config_item "CustomFan" --value "Performance"`: {ExitCode: 0},
	})
	profile := models.DeviceProfile{}
	desired := map[string]any{"CustomFan": "Performance"}

	c := NewCoordinator()
	result, err := c.Push(context.Background(), rf, vendor.Supermicro{}, exec, profile, desired)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied["CustomFan"] != "Performance" {
		t.Fatalf("expected vendor batch applied, got %+v", result.Applied)
	}
}

func TestPushPreservedSettingConvergesTrivially(t *testing.T) {
	rf := &fakeRedfish{
		attrs:           map[string]any{"AssetTag": "OLD"},
		redfishSupports: map[string]bool{"AssetTag": true},
		patchErr:        nil,
	}
	// The fake applies every PATCH to its attributes, so the preserved
	// AssetTag is re-sent with its current value and reads back unchanged.
	rf.attrs["AssetTag"] = "OLD"
	profile := models.DeviceProfile{
		BIOSPreserve:    map[string]struct{}{"AssetTag": {}},
		BIOSMethodHints: map[string]models.BIOSMethod{"AssetTag": models.BIOSMethodRedfish},
	}
	desired := map[string]any{}

	c := NewCoordinator()
	// AssetTag is preserved (copied from current into desired), so the
	// resulting desired map always matches current and this is actually a
	// no-op convergence; assert accordingly.
	result, err := c.Push(context.Background(), rf, vendor.Generic{}, nil, profile, desired)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Diff) != 0 {
		t.Fatalf("expected preserved setting to converge trivially, got %+v", result.Diff)
	}
}

// TestPushNormalizesBooleanToVendorConvention covers spec.md §4.6's
// requirement that boolean settings are normalized to the device's
// convention before a vendor-tool apply: a Go bool true desired value
// must reach the vendor CLI as the string "Enabled", not "true".
func TestPushNormalizesBooleanToVendorConvention(t *testing.T) {
	rf := &fakeRedfish{
		attrs:           map[string]any{"Virtualization": false},
		redfishSupports: map[string]bool{},
	}
	exec := session.NewLocalExecSession(map[string]session.LocalResponse{
		`sum -i 10.0.0.1 -c ChangeBiosCfg --config_item "Virtualization" --value "Enabled"`: {ExitCode: 0},
	})
	profile := models.DeviceProfile{
		BIOSMethodHints: map[string]models.BIOSMethod{"Virtualization": models.BIOSMethodVendorTool},
	}
	desired := map[string]any{"Virtualization": true}

	c := NewCoordinator()
	result, err := c.Push(context.Background(), rf, vendor.Supermicro{}, exec, profile, desired)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied["Virtualization"] != "Enabled" {
		t.Fatalf("expected Virtualization applied as \"Enabled\", got %+v", result.Applied)
	}
}

func TestPushResetToDefaultsBypassesPartitioning(t *testing.T) {
	rf := &fakeRedfish{attrs: map[string]any{}}
	c := NewCoordinator()

	if err := c.PushResetToDefaults(context.Background(), rf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rf.patchCalls) != 1 {
		t.Fatalf("expected exactly one patch call, got %d", len(rf.patchCalls))
	}
	if _, ok := rf.patchCalls[0]["ResetBiosToDefaults"]; !ok {
		t.Fatalf("expected ResetBiosToDefaults key in patch call, got %+v", rf.patchCalls[0])
	}
}
