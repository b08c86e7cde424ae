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

// LSCPU parses `lscpu` output, populating CPUModel and CPUCores.
func LSCPU(raw string) (models.SystemInfo, []Warning) {
	var info models.SystemInfo
	var warnings []Warning
	if strings.TrimSpace(raw) == "" {
		return info, warnings
	}

	var sockets, coresPerSocket int
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" {
			continue
		}
		key, value, ok := splitColon(trimmed)
		if !ok {
			warnings = append(warnings, Warning("lscpu: unparseable line: "+trimmed))
			continue
		}
		switch key {
		case "Model name":
			info.CPUModel = value
		case "CPU(s)":
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				info.CPUCores = n
			}
		case "Socket(s)":
			sockets, _ = strconv.Atoi(strings.TrimSpace(value))
		case "Core(s) per socket":
			coresPerSocket, _ = strconv.Atoi(strings.TrimSpace(value))
		}
	}
	if info.CPUCores == 0 && sockets > 0 && coresPerSocket > 0 {
		info.CPUCores = sockets * coresPerSocket
	}
	return info, warnings
}

// Free parses `free -h` output, populating MemoryTotal with the "total"
// column of the "Mem:" row (e.g. "128G"). Malformed or missing rows leave
// MemoryTotal empty and add a warning.
func Free(raw string) (models.SystemInfo, []Warning) {
	var info models.SystemInfo
	var warnings []Warning
	if strings.TrimSpace(raw) == "" {
		return info, warnings
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(trimmed, "Mem:") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			warnings = append(warnings, Warning("free: unparseable Mem line: "+trimmed))
			return info, warnings
		}
		info.MemoryTotal = fields[1]
		return info, warnings
	}
	warnings = append(warnings, Warning("free: no Mem: row found"))
	return info, warnings
}
