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
	"fmt"
	"os"
	"strconv"
	"time"
)

// RuntimeConfig holds the recognized runtime options from spec.md §6.3.
// Values start from DefaultRuntimeConfig and are overridden by
// environment variables in LoadRuntimeConfigFromEnv, mirroring shoal's
// cmd/provisioner-controller/main.go Config/defaultConfig precedence
// (env overrides defaults). No runtime-config file is read; the YAML
// documents this package loads are only the device, BIOS and firmware
// documents named by the *Path fields.
type RuntimeConfig struct {
	DatabasePath        string        // database.path
	DatabaseAutoMigrate bool          // database.auto_migrate
	SSHUsername         string        // ssh.username
	SSHTimeout          time.Duration // ssh.timeout_seconds
	// SSHHostKeyInsecure accepts any SSH host key. Freshly racked and
	// reimaged targets have no prior known-hosts entry, so this defaults
	// to true; there is no fingerprint-pinning story yet (see DESIGN.md).
	SSHHostKeyInsecure           bool   // ssh.host_key_insecure
	WorkflowMaxConcurrent        int    // workflow.max_concurrent
	WorkflowHistoryEventsPerInst int    // workflow.history_events_per_instance
	MaaSHost                     string // maas.host
	MaaSConsumerKey              string // maas.consumer_key
	MaaSTokenKey                 string // maas.token_key
	MaaSTokenSecret              string // maas.token_secret

	// Document paths (spec.md §6.3's "loaded once at startup from
	// structured text documents"), not individually named runtime
	// options but needed to locate them on disk.
	DeviceMappingsPath    string
	BIOSTemplatesPath     string
	FirmwareRepositoryPath string
}

// DefaultRuntimeConfig returns the baseline configuration used when no
// environment override is present.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		DatabasePath:                 "./metalforge.db",
		DatabaseAutoMigrate:          true,
		SSHUsername:                  "root",
		SSHTimeout:                   30 * time.Second,
		SSHHostKeyInsecure:           true,
		WorkflowMaxConcurrent:        10,
		WorkflowHistoryEventsPerInst: 1000,
		DeviceMappingsPath:           "./device_mappings.yaml",
		BIOSTemplatesPath:            "./bios_templates.yaml",
		FirmwareRepositoryPath:       "./firmware/firmware_repository.yaml",
	}
}

// LoadRuntimeConfigFromEnv overlays environment variables onto cfg,
// matching shoal's "flags/env take precedence over defaults" style.
func LoadRuntimeConfigFromEnv(cfg RuntimeConfig) (RuntimeConfig, error) {
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("DATABASE_AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: DATABASE_AUTO_MIGRATE: %w", err)
		}
		cfg.DatabaseAutoMigrate = b
	}
	if v := os.Getenv("SSH_USERNAME"); v != "" {
		cfg.SSHUsername = v
	}
	if v := os.Getenv("SSH_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: SSH_TIMEOUT_SECONDS: %w", err)
		}
		cfg.SSHTimeout = time.Duration(n) * time.Second
	}
	if v := os.Getenv("SSH_HOST_KEY_INSECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: SSH_HOST_KEY_INSECURE: %w", err)
		}
		cfg.SSHHostKeyInsecure = b
	}
	if v := os.Getenv("WORKFLOW_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: WORKFLOW_MAX_CONCURRENT: %w", err)
		}
		cfg.WorkflowMaxConcurrent = n
	}
	if v := os.Getenv("WORKFLOW_HISTORY_EVENTS_PER_INSTANCE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: WORKFLOW_HISTORY_EVENTS_PER_INSTANCE: %w", err)
		}
		cfg.WorkflowHistoryEventsPerInst = n
	}
	if v := os.Getenv("MAAS_HOST"); v != "" {
		cfg.MaaSHost = v
	}
	if v := os.Getenv("MAAS_CONSUMER_KEY"); v != "" {
		cfg.MaaSConsumerKey = v
	}
	if v := os.Getenv("MAAS_TOKEN_KEY"); v != "" {
		cfg.MaaSTokenKey = v
	}
	if v := os.Getenv("MAAS_TOKEN_SECRET"); v != "" {
		cfg.MaaSTokenSecret = v
	}
	if v := os.Getenv("DEVICE_MAPPINGS_PATH"); v != "" {
		cfg.DeviceMappingsPath = v
	}
	if v := os.Getenv("BIOS_TEMPLATES_PATH"); v != "" {
		cfg.BIOSTemplatesPath = v
	}
	if v := os.Getenv("FIRMWARE_REPOSITORY_PATH"); v != "" {
		cfg.FirmwareRepositoryPath = v
	}
	return cfg, nil
}
