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

package config

import (
	"sort"
	"strings"

	"metalforge/pkg/models"
)

// Resolver combines the three loaded documents and exposes classification
// and per-device-type plan resolution.
type Resolver struct {
	devices  DeviceMapping
	bios     BIOSTemplate
	firmware FirmwareTemplate
}

// NewResolver constructs a Resolver from already-loaded documents. A nil
// map for any document resolves to "no entries", never a nil-pointer
// panic, matching spec.md §4.5's "missing entry -> empty profile" rule.
func NewResolver(devices DeviceMapping, bios BIOSTemplate, firmware FirmwareTemplate) *Resolver {
	if devices == nil {
		devices = DeviceMapping{}
	}
	if bios == nil {
		bios = BIOSTemplate{}
	}
	if firmware == nil {
		firmware = FirmwareTemplate{}
	}
	return &Resolver{devices: devices, bios: bios, firmware: firmware}
}

// ListDeviceTypes returns all known device_type identifiers, sorted.
func (r *Resolver) ListDeviceTypes() []string {
	out := make([]string, 0, len(r.devices))
	for k := range r.devices {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GetDevice returns the mapping entry for device_type, if present.
func (r *Resolver) GetDevice(deviceType string) (DeviceMappingEntry, bool) {
	e, ok := r.devices[deviceType]
	return e, ok
}

// Classify matches a discovered HardwareReport against the device
// mapping on (manufacturer, motherboard), per spec.md §4.5:
// confidence 1.0 on exact match, 0.7 on manufacturer-only match, 0.0
// otherwise.
func (r *Resolver) Classify(report models.HardwareReport) models.Classification {
	manufacturer := strings.ToLower(strings.TrimSpace(report.System.Manufacturer))
	motherboard := strings.ToLower(strings.TrimSpace(report.System.ProductName))

	var manufacturerOnlyMatch string
	for _, deviceType := range r.ListDeviceTypes() {
		entry := r.devices[deviceType]
		entryVendor := strings.ToLower(strings.TrimSpace(entry.Vendor))
		entryBoard := strings.ToLower(strings.TrimSpace(entry.Motherboard))
		if entryVendor == "" || manufacturer == "" {
			continue
		}
		if entryVendor != manufacturer {
			continue
		}
		if entryBoard != "" && motherboard != "" && entryBoard == motherboard {
			dt := deviceType
			return models.Classification{
				DeviceType:       &dt,
				Confidence:       1.0,
				MatchingCriteria: []string{"manufacturer", "motherboard"},
			}
		}
		if manufacturerOnlyMatch == "" {
			manufacturerOnlyMatch = deviceType
		}
	}

	if manufacturerOnlyMatch != "" {
		dt := manufacturerOnlyMatch
		return models.Classification{
			DeviceType:       &dt,
			Confidence:       0.7,
			MatchingCriteria: []string{"manufacturer"},
		}
	}

	return models.Classification{Confidence: 0.0}
}

// Resolve combines the device mapping, BIOS template, and firmware
// template into a DeviceProfile. A device_type with no entry in any
// document resolves to an empty-plan profile, never an error, per
// spec.md §4.5.
func (r *Resolver) Resolve(deviceType string) models.DeviceProfile {
	profile := models.DeviceProfile{
		DeviceType:   deviceType,
		BIOSPreserve: map[string]struct{}{},
	}

	if entry, ok := r.devices[deviceType]; ok {
		profile.Vendor = entry.Vendor
		profile.Motherboard = entry.Motherboard
		profile.HardwareSpecs = entry.HardwareSpecs
	}

	if entry, ok := r.bios[deviceType]; ok {
		profile.BIOSTemplate = entry.Settings
		profile.BIOSMethodHints = entry.MethodHints
		for _, name := range entry.Preserve {
			profile.BIOSPreserve[name] = struct{}{}
		}
	}

	if plan, ok := r.firmware[deviceType]; ok {
		profile.FirmwarePlan = plan
	}

	return profile
}
