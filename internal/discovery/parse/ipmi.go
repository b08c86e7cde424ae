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

package parse

import (
	"bufio"
	"strconv"
	"strings"

	"metalforge/pkg/models"
)

// strPtr returns nil for the empty string, else a pointer to s.
func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IPMILan parses `ipmitool lan print <channel>` output into IPMIInfo.
// Values equal to "0.0.0.0" are treated as unset (nil), not the literal
// zero address. enabled is derived: true iff a non-nil IP was parsed.
func IPMILan(raw string, channel int) (models.IPMIInfo, []Warning) {
	info := models.IPMIInfo{Channel: channel}
	var warnings []Warning
	if strings.TrimSpace(raw) == "" {
		return info, warnings
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" {
			continue
		}
		key, value, ok := splitColon(trimmed)
		if !ok {
			warnings = append(warnings, Warning("ipmitool lan print: unparseable line: "+trimmed))
			continue
		}
		switch key {
		case "IP Address":
			info.IPAddress = nonZeroAddr(value)
		case "MAC Address":
			info.MACAddress = strPtr(value)
		case "Default Gateway IP":
			info.Gateway = nonZeroAddr(value)
		case "Subnet Mask":
			info.Netmask = nonZeroAddr(value)
		case "802.1q VLAN ID":
			if v := strings.TrimSpace(value); v != "" && !strings.EqualFold(v, "Disabled") {
				if n, err := strconv.Atoi(v); err == nil {
					info.VLANID = &n
				}
			}
		}
	}
	info.Enabled = info.IPAddress != nil
	return info, warnings
}

// nonZeroAddr returns nil for "0.0.0.0" or the empty string, else a
// pointer to the trimmed value.
func nonZeroAddr(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" || v == "0.0.0.0" {
		return nil
	}
	return &v
}
