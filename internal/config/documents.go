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

// Package config loads the device-mapping, BIOS-template, and
// firmware-template YAML documents (gopkg.in/yaml.v3, as used elsewhere
// in the retrieval pack by OpenCHAMI and kubernaut) and resolves them
// into per-device configuration plans.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"metalforge/pkg/models"
)

// DeviceMappingEntry is one device_type's entry in device_mappings.yaml.
type DeviceMappingEntry struct {
	Vendor        string            `yaml:"vendor"`
	Motherboard   string            `yaml:"motherboard"`
	HardwareSpecs map[string]string `yaml:"hardware_specs"`
	Description   string            `yaml:"description"`
}

// DeviceMapping is the parsed device_mappings.yaml document.
type DeviceMapping map[string]DeviceMappingEntry

// BIOSTemplateEntry is one device_type's entry in bios/templates/*.yaml.
type BIOSTemplateEntry struct {
	Settings     map[string]string             `yaml:"settings"`
	Preserve     []string                      `yaml:"preserve"`
	MethodHints  map[string]models.BIOSMethod  `yaml:"method_hints"`
}

// BIOSTemplate is the parsed bios-template document, keyed by device_type.
type BIOSTemplate map[string]BIOSTemplateEntry

// FirmwareTemplate is the parsed firmware_repository.yaml document, keyed
// by device_type.
type FirmwareTemplate map[string][]models.FirmwarePlanEntry

// LoadDeviceMapping reads and parses a device_mappings.yaml file.
func LoadDeviceMapping(path string) (DeviceMapping, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read device mapping %s: %w", path, err)
	}
	var m DeviceMapping
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("config: parse device mapping %s: %w", path, err)
	}
	if m == nil {
		m = DeviceMapping{}
	}
	return m, nil
}

// LoadBIOSTemplate reads and parses a BIOS template YAML file.
func LoadBIOSTemplate(path string) (BIOSTemplate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read bios template %s: %w", path, err)
	}
	var t BIOSTemplate
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("config: parse bios template %s: %w", path, err)
	}
	if t == nil {
		t = BIOSTemplate{}
	}
	return t, nil
}

// LoadFirmwareTemplate reads and parses a firmware_repository.yaml file.
func LoadFirmwareTemplate(path string) (FirmwareTemplate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read firmware template %s: %w", path, err)
	}
	var t FirmwareTemplate
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("config: parse firmware template %s: %w", path, err)
	}
	if t == nil {
		t = FirmwareTemplate{}
	}
	return t, nil
}
