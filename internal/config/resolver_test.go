package config

import (
	"testing"

	"metalforge/pkg/models"
)

func testDevices() DeviceMapping {
	return DeviceMapping{
		"supermicro-1u-compute": {
			Vendor:      "Supermicro",
			Motherboard: "X11DPH-T",
		},
		"dell-generic": {
			Vendor: "Dell Inc.",
		},
	}
}

func TestClassifyExactMatch(t *testing.T) {
	r := NewResolver(testDevices(), nil, nil)
	report := models.HardwareReport{
		System: models.SystemInfo{Manufacturer: "Supermicro", ProductName: "X11DPH-T"},
	}

	c := r.Classify(report)

	if c.DeviceType == nil || *c.DeviceType != "supermicro-1u-compute" {
		t.Fatalf("expected exact device type match, got %+v", c.DeviceType)
	}
	if c.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0, got %v", c.Confidence)
	}
}

func TestClassifyManufacturerOnlyMatch(t *testing.T) {
	r := NewResolver(testDevices(), nil, nil)
	report := models.HardwareReport{
		System: models.SystemInfo{Manufacturer: "Dell Inc.", ProductName: "PowerEdge R750"},
	}

	c := r.Classify(report)

	if c.DeviceType == nil || *c.DeviceType != "dell-generic" {
		t.Fatalf("expected manufacturer-only match, got %+v", c.DeviceType)
	}
	if c.Confidence != 0.7 {
		t.Fatalf("expected confidence 0.7, got %v", c.Confidence)
	}
}

// TestClassifyUnmatchedDevice covers spec.md scenario F: an unknown
// manufacturer yields confidence 0.0 and no device type.
func TestClassifyUnmatchedDevice(t *testing.T) {
	r := NewResolver(testDevices(), nil, nil)
	report := models.HardwareReport{
		System: models.SystemInfo{Manufacturer: "ACME Corp", ProductName: "Z9"},
	}

	c := r.Classify(report)

	if c.DeviceType != nil {
		t.Fatalf("expected nil device type, got %q", *c.DeviceType)
	}
	if c.Confidence != 0.0 {
		t.Fatalf("expected confidence 0.0, got %v", c.Confidence)
	}
	if len(c.MatchingCriteria) != 0 {
		t.Fatalf("expected no matching criteria, got %v", c.MatchingCriteria)
	}
}

func TestResolveUnknownDeviceTypeIsEmptyNotError(t *testing.T) {
	r := NewResolver(testDevices(), nil, nil)

	profile := r.Resolve("does-not-exist")

	if profile.Vendor != "" || profile.Motherboard != "" {
		t.Fatalf("expected empty profile, got %+v", profile)
	}
	if len(profile.FirmwarePlan) != 0 {
		t.Fatalf("expected empty firmware plan, got %+v", profile.FirmwarePlan)
	}
}

func TestResolveCombinesAllThreeDocuments(t *testing.T) {
	bios := BIOSTemplate{
		"supermicro-1u-compute": {
			Settings: map[string]string{"PowerProfile": "Performance"},
			Preserve: []string{"AssetTag"},
			MethodHints: map[string]models.BIOSMethod{
				"PowerProfile": models.BIOSMethodRedfish,
			},
		},
	}
	firmware := FirmwareTemplate{
		"supermicro-1u-compute": {
			{Component: models.FirmwareBIOS, RequiredVersion: "3.2", Priority: models.PriorityHigh},
		},
	}
	r := NewResolver(testDevices(), bios, firmware)

	profile := r.Resolve("supermicro-1u-compute")

	if profile.Vendor != "Supermicro" {
		t.Fatalf("expected vendor from device mapping, got %q", profile.Vendor)
	}
	if profile.BIOSTemplate["PowerProfile"] != "Performance" {
		t.Fatalf("expected bios setting from bios template, got %+v", profile.BIOSTemplate)
	}
	if !profile.Preserve("AssetTag") {
		t.Fatalf("expected AssetTag to be preserved")
	}
	if len(profile.FirmwarePlan) != 1 || profile.FirmwarePlan[0].Component != models.FirmwareBIOS {
		t.Fatalf("expected firmware plan from firmware template, got %+v", profile.FirmwarePlan)
	}
}
