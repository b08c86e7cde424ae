package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultRuntimeConfig(t *testing.T) {
	cfg := DefaultRuntimeConfig()

	if cfg.DatabasePath != "./metalforge.db" {
		t.Fatalf("unexpected default database path: %q", cfg.DatabasePath)
	}
	if !cfg.DatabaseAutoMigrate {
		t.Fatalf("expected database auto-migrate to default true")
	}
	if cfg.SSHTimeout != 30*time.Second {
		t.Fatalf("unexpected default ssh timeout: %v", cfg.SSHTimeout)
	}
	if cfg.DeviceMappingsPath == "" || cfg.BIOSTemplatesPath == "" || cfg.FirmwareRepositoryPath == "" {
		t.Fatalf("expected document paths to have non-empty defaults, got %+v", cfg)
	}
}

func TestLoadRuntimeConfigFromEnvOverridesDocumentPaths(t *testing.T) {
	t.Setenv("DEVICE_MAPPINGS_PATH", "/etc/metalforge/devices.yaml")
	t.Setenv("BIOS_TEMPLATES_PATH", "/etc/metalforge/bios.yaml")
	t.Setenv("FIRMWARE_REPOSITORY_PATH", "/etc/metalforge/firmware.yaml")

	cfg, err := LoadRuntimeConfigFromEnv(DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DeviceMappingsPath != "/etc/metalforge/devices.yaml" {
		t.Fatalf("unexpected device mappings path: %q", cfg.DeviceMappingsPath)
	}
	if cfg.BIOSTemplatesPath != "/etc/metalforge/bios.yaml" {
		t.Fatalf("unexpected bios templates path: %q", cfg.BIOSTemplatesPath)
	}
	if cfg.FirmwareRepositoryPath != "/etc/metalforge/firmware.yaml" {
		t.Fatalf("unexpected firmware repository path: %q", cfg.FirmwareRepositoryPath)
	}
}

func TestLoadRuntimeConfigFromEnvLeavesDefaultsWhenUnset(t *testing.T) {
	for _, key := range []string{
		"DATABASE_PATH", "DATABASE_AUTO_MIGRATE", "SSH_USERNAME", "SSH_TIMEOUT_SECONDS",
		"SSH_HOST_KEY_INSECURE", "WORKFLOW_MAX_CONCURRENT", "WORKFLOW_HISTORY_EVENTS_PER_INSTANCE",
		"MAAS_HOST", "MAAS_CONSUMER_KEY", "MAAS_TOKEN_KEY", "MAAS_TOKEN_SECRET",
		"DEVICE_MAPPINGS_PATH", "BIOS_TEMPLATES_PATH", "FIRMWARE_REPOSITORY_PATH",
	} {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unsetenv %s: %v", key, err)
		}
	}

	want := DefaultRuntimeConfig()
	got, err := LoadRuntimeConfigFromEnv(want)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("expected config unchanged with no env set, got %+v want %+v", got, want)
	}
}

func TestLoadRuntimeConfigFromEnvRejectsInvalidBool(t *testing.T) {
	t.Setenv("DATABASE_AUTO_MIGRATE", "not-a-bool")

	if _, err := LoadRuntimeConfigFromEnv(DefaultRuntimeConfig()); err == nil {
		t.Fatalf("expected error for invalid DATABASE_AUTO_MIGRATE value")
	}
}

func TestLoadRuntimeConfigFromEnvOverridesSSHHostKeyInsecure(t *testing.T) {
	t.Setenv("SSH_HOST_KEY_INSECURE", "false")

	cfg, err := LoadRuntimeConfigFromEnv(DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SSHHostKeyInsecure {
		t.Fatalf("expected SSH_HOST_KEY_INSECURE=false to disable the default")
	}
}
