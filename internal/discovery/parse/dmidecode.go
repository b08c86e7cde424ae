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

// Package parse turns raw vendor CLI output (dmidecode, ipmitool, ip addr,
// ifconfig) into structured records. Every function here is a pure
// (text) -> (struct, warnings) transformer: malformed or unrecognized
// input is never an error, only a warning plus a zero-value field.
package parse

import (
	"bufio"
	"strings"

	"metalforge/pkg/models"
)

// Warning records a single non-fatal parse anomaly.
type Warning string

// splitColon splits a dmidecode/ipmitool "Key : Value" style line on the
// first colon and trims both sides. ok is false if there was no colon.
func splitColon(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// DMIDecodeSystem parses the output of `dmidecode -t system` into the
// manufacturer/product/serial/uuid fields of SystemInfo. Fields not
// present in the input are left at their zero value.
func DMIDecodeSystem(raw string) (models.SystemInfo, []Warning) {
	var info models.SystemInfo
	var warnings []Warning
	if strings.TrimSpace(raw) == "" {
		return info, warnings
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "Handle ") || trimmed == "System Information" {
			continue
		}
		key, value, ok := splitColon(trimmed)
		if !ok {
			warnings = append(warnings, Warning("dmidecode system: unparseable line: "+trimmed))
			continue
		}
		switch key {
		case "Manufacturer":
			info.Manufacturer = value
		case "Product Name":
			info.ProductName = value
		case "Serial Number":
			info.SerialNumber = value
		case "UUID":
			info.UUID = value
		}
	}
	return info, warnings
}

// DMIDecodeBIOS parses the output of `dmidecode -t bios`, populating the
// BIOS version/date fields of SystemInfo. Unknown tables and lines are
// skipped with a warning, never an error.
func DMIDecodeBIOS(raw string) (models.SystemInfo, []Warning) {
	var info models.SystemInfo
	var warnings []Warning
	if strings.TrimSpace(raw) == "" {
		return info, warnings
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" || strings.HasPrefix(trimmed, "Handle ") {
			continue
		}
		key, value, ok := splitColon(trimmed)
		if !ok {
			warnings = append(warnings, Warning("dmidecode bios: unparseable line: "+trimmed))
			continue
		}
		switch key {
		case "Version":
			info.BIOSVersion = value
		case "Release Date":
			info.BIOSDate = value
		}
	}
	return info, warnings
}

// MergeSystemInfo overlays non-empty fields of src onto dst, returning the
// merged record. Used by the discovery manager to combine the system and
// BIOS dmidecode passes (and later, vendor-extension overlays).
func MergeSystemInfo(dst, src models.SystemInfo) models.SystemInfo {
	if src.Manufacturer != "" {
		dst.Manufacturer = src.Manufacturer
	}
	if src.ProductName != "" {
		dst.ProductName = src.ProductName
	}
	if src.SerialNumber != "" {
		dst.SerialNumber = src.SerialNumber
	}
	if src.UUID != "" {
		dst.UUID = src.UUID
	}
	if src.BIOSVersion != "" {
		dst.BIOSVersion = src.BIOSVersion
	}
	if src.BIOSDate != "" {
		dst.BIOSDate = src.BIOSDate
	}
	if src.CPUModel != "" {
		dst.CPUModel = src.CPUModel
	}
	if src.CPUCores != 0 {
		dst.CPUCores = src.CPUCores
	}
	if src.MemoryTotal != "" {
		dst.MemoryTotal = src.MemoryTotal
	}
	if src.ChassisType != "" {
		dst.ChassisType = src.ChassisType
	}
	return dst
}
