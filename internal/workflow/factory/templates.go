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
	"fmt"

	"metalforge/internal/workflow"
)

// TemplateName is one of the four standard workflow shapes this engine
// ships with.
type TemplateName string

const (
	TemplateBasicProvisioning TemplateName = "basic_provisioning"
	TemplateFirmwareFirst     TemplateName = "firmware_first"
	TemplateBIOSOnly          TemplateName = "bios_only"
	TemplateIPMIOnly          TemplateName = "ipmi_only"
)

var templateSteps = map[TemplateName][]string{
	TemplateBasicProvisioning: {
		"validate_server", "commission", "wait_commissioning", "discover_hardware",
		"classify_device", "resolve_profile", "configure_bios", "setup_ipmi", "verify",
	},
	TemplateFirmwareFirst: {
		"pre_flight", "discover_hardware", "classify_device", "resolve_profile",
		"firmware_update_batch", "reboot_and_wait", "configure_bios", "verify",
	},
	TemplateBIOSOnly: {
		"validate_ipmi_connectivity", "backup_bios", "configure_bios", "verify_bios", "reboot",
	},
	TemplateIPMIOnly: {
		"validate_network_config", "configure_ipmi_network", "test_ipmi_connectivity", "verify_ipmi_setup",
	},
}

// Build assembles the named template's step sequence against the given
// registry. Returns an error if the template name is unknown or a step
// it references was not registered.
func Build(name TemplateName, registry map[string]workflow.StepDefinition) ([]workflow.StepDefinition, error) {
	names, ok := templateSteps[name]
	if !ok {
		return nil, fmt.Errorf("factory: unknown template %q", name)
	}
	steps := make([]workflow.StepDefinition, 0, len(names))
	for _, n := range names {
		def, ok := registry[n]
		if !ok {
			return nil, fmt.Errorf("factory: template %q references unregistered step %q", name, n)
		}
		steps = append(steps, def)
	}
	return steps, nil
}

// BuildTemplate is a convenience wrapper combining Registry(deps) and
// Build(name, ...) for the common case of materializing one template
// from a fully-populated Deps.
func BuildTemplate(name TemplateName, deps Deps) ([]workflow.StepDefinition, error) {
	return Build(name, Registry(deps))
}

// Names lists every template this factory knows how to build, in a
// stable order.
func Names() []TemplateName {
	return []TemplateName{TemplateBasicProvisioning, TemplateFirmwareFirst, TemplateBIOSOnly, TemplateIPMIOnly}
}
