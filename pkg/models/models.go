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

// Package models holds the shared data structures produced and consumed
// by the discovery, configuration-resolution, BIOS, firmware, and
// workflow-engine packages.
package models

import "time"

// NetworkInterfaceState is the observed link state of a NIC.
type NetworkInterfaceState string

const (
	NetIfUp      NetworkInterfaceState = "up"
	NetIfDown    NetworkInterfaceState = "down"
	NetIfUnknown NetworkInterfaceState = "unknown"
)

// SystemInfo is the subset of dmidecode system/BIOS table fields the
// discovery pipeline cares about. All fields are optional: absence means
// the corresponding dmidecode line was not present or not parseable.
type SystemInfo struct {
	Manufacturer string `json:"manufacturer,omitempty"`
	ProductName  string `json:"product_name,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	UUID         string `json:"uuid,omitempty"`
	BIOSVersion  string `json:"bios_version,omitempty"`
	BIOSDate     string `json:"bios_date,omitempty"`
	CPUModel     string `json:"cpu_model,omitempty"`
	CPUCores     int    `json:"cpu_cores,omitempty"`
	MemoryTotal  string `json:"memory_total,omitempty"`
	ChassisType  string `json:"chassis_type,omitempty"`
}

// IPMIInfo is the parsed `ipmitool lan print` state for a BMC LAN channel.
type IPMIInfo struct {
	IPAddress  *string `json:"ip_address,omitempty"`
	MACAddress *string `json:"mac_address,omitempty"`
	Gateway    *string `json:"gateway,omitempty"`
	Netmask    *string `json:"netmask,omitempty"`
	VLANID     *int    `json:"vlan_id,omitempty"`
	Channel    int     `json:"channel"`
	Enabled    bool    `json:"enabled"`
}

// NetworkInterface describes a single host-side NIC as parsed from
// `ip addr show` or `ifconfig`.
type NetworkInterface struct {
	Name       string                `json:"name"`
	MACAddress string                `json:"mac_address"`
	IPAddress  *string               `json:"ip_address,omitempty"`
	Netmask    *string               `json:"netmask,omitempty"`
	State      NetworkInterfaceState `json:"state"`
}

// Classification is the result of matching a discovered system against
// the device-mapping document.
type Classification struct {
	DeviceType       *string  `json:"device_type,omitempty"`
	Confidence       float64  `json:"confidence"`
	MatchingCriteria []string `json:"matching_criteria,omitempty"`
}

// HardwareReport is the full discovery output for a single target,
// produced once per workflow by the discovery manager and read-only
// thereafter.
type HardwareReport struct {
	Hostname          string             `json:"hostname"`
	DiscoveredAt      time.Time          `json:"discovered_at"`
	System            SystemInfo         `json:"system"`
	IPMI              IPMIInfo           `json:"ipmi"`
	NetworkInterfaces []NetworkInterface `json:"network_interfaces,omitempty"`
	VendorExtensions  map[string]any     `json:"vendor_extensions,omitempty"`
	Classification    Classification     `json:"classification"`
	DiscoveryErrors   []string           `json:"discovery_errors,omitempty"`
}

// BIOSMethod is the coordinator's choice of application path for a
// single BIOS setting.
type BIOSMethod string

const (
	BIOSMethodRedfish    BIOSMethod = "redfish"
	BIOSMethodVendorTool BIOSMethod = "vendor_tool"
	BIOSMethodHybrid     BIOSMethod = "hybrid"
)

// FirmwareComponent identifies a firmware-updatable subsystem. Ordering
// of the const block doubles as the default component precedence used
// by the firmware coordinator (see componentRank in internal/firmware).
type FirmwareComponent string

const (
	FirmwareBMC  FirmwareComponent = "BMC"
	FirmwareBIOS FirmwareComponent = "BIOS"
	FirmwareCPLD FirmwareComponent = "CPLD"
	FirmwareNIC  FirmwareComponent = "NIC"
	FirmwareUEFI FirmwareComponent = "UEFI"
)

// FirmwarePriority governs both scheduling order within a component and
// policy filtering.
type FirmwarePriority string

const (
	PriorityCritical FirmwarePriority = "critical"
	PriorityHigh     FirmwarePriority = "high"
	PriorityNormal   FirmwarePriority = "normal"
	PriorityLow      FirmwarePriority = "low"
)

// FirmwarePlanEntry is one ordered step of a device's firmware plan.
type FirmwarePlanEntry struct {
	Component        FirmwareComponent `json:"component"`
	RequiredVersion  string            `json:"required_version"`
	Priority         FirmwarePriority  `json:"priority"`
	RequiresReboot   bool              `json:"requires_reboot"`
	EstimatedSeconds int               `json:"estimated_seconds"`
}

// DeviceProfile is the resolved configuration plan for a device_type.
type DeviceProfile struct {
	DeviceType      string                `json:"device_type"`
	Vendor          string                `json:"vendor"`
	Motherboard     string                `json:"motherboard"`
	HardwareSpecs   map[string]string     `json:"hardware_specs,omitempty"`
	BIOSTemplate    map[string]string     `json:"bios_template,omitempty"`
	BIOSPreserve    map[string]struct{}   `json:"-"`
	BIOSMethodHints map[string]BIOSMethod `json:"bios_method_hints,omitempty"`
	FirmwarePlan    []FirmwarePlanEntry   `json:"firmware_plan,omitempty"`
}

// Preserve reports whether setting is in the device's preserve set.
func (p DeviceProfile) Preserve(setting string) bool {
	_, ok := p.BIOSPreserve[setting]
	return ok
}

// Credentials are opaque, per-target authentication material supplied by
// the external credentials provider. Values are never logged.
type Credentials struct {
	Username string `json:"-"`
	Password string `json:"-"`
	SSHKey   []byte `json:"-"`
}

// Policy selects which firmware priorities the firmware coordinator is
// allowed to execute in a given run.
type Policy string

const (
	PolicyCriticalOnly Policy = "critical_only"
	PolicyRecommended  Policy = "recommended"
	PolicyLatest       Policy = "latest"
)
