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

// Command metalforge-provisioner wires the workflow engine to its
// back-ends and drives one command-line provisioning run end to end.
// The HTTP/WebSocket surface shoal's cmd/provisioner-controller exposed
// over this same engine shape is out of scope here; this binary is the
// process wiring, not a server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"metalforge/internal/bios"
	"metalforge/internal/config"
	"metalforge/internal/discovery"
	"metalforge/internal/external"
	"metalforge/internal/firmware"
	"metalforge/internal/persistence"
	"metalforge/internal/session"
	"metalforge/internal/vendor"
	"metalforge/internal/workflow"
	"metalforge/internal/workflow/factory"
	"metalforge/internal/workflowapi"
	"metalforge/pkg/models"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		template   = flag.String("template", "basic_provisioning", "workflow template: basic_provisioning, firmware_first, bios_only, ipmi_only")
		serverID   = flag.String("server-id", "", "MaaS system_id of the target")
		deviceType = flag.String("device-type", "", "device_type override; usually resolved by classify_device")
		targetIP   = flag.String("target-ipmi-ip", "", "IPMI address to configure/validate")
		gateway    = flag.String("gateway", "", "IPMI gateway, for ipmi_only/basic_provisioning")
		netmask    = flag.String("subnet-mask", "", "IPMI subnet mask")
		policy     = flag.String("policy", string(models.PolicyRecommended), "firmware policy: critical_only, recommended, latest")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.LoadRuntimeConfigFromEnv(config.DefaultRuntimeConfig())
	if err != nil {
		logger.Error("load runtime config", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persistence.Open(ctx, cfg.DatabasePath, cfg.DatabaseAutoMigrate)
	if err != nil {
		logger.Error("open persistence store", "error", err)
		return 1
	}
	defer store.Close()

	resolver, err := loadResolver(cfg)
	if err != nil {
		logger.Error("load device/bios/firmware documents", "error", err)
		return 1
	}

	deps := factory.Deps{
		MaaS:      external.NewFakeMaaSClient(external.Machine{SystemID: *serverID, StatusName: "Ready"}),
		Discovery: discovery.NewManager(vendor.DefaultRegistry()),
		Resolver:  resolver,
		BIOS:      bios.NewCoordinator(),
		Firmware:  firmware.NewCoordinator(),
		Adapters:  vendor.DefaultRegistry(),
		DialExec:  execDialer(cfg, external.FakeCredentialsProvider{}),
		DialRedfish: redfishDialer(external.FakeCredentialsProvider{}),
		PowerSink: func(ctx context.Context, serverID, state string) {
			if err := store.RecordPowerState(ctx, serverID, state); err != nil {
				logger.Warn("record power state", "server_id", serverID, "state", state, "error", err)
			}
		},
	}

	hook := persistence.NewWorkflowHook(store)
	engine := workflow.NewEngine(hook, logger)
	engine.SubscribeProgress(func(e workflow.ProgressEvent) {
		logger.Info("progress",
			"workflow_id", e.WorkflowID,
			"event", string(e.EventType),
			"subtask", e.SubtaskName,
			"percentage", e.Percentage,
			"message", e.Message,
		)
	})

	service := workflowapi.NewService(engine, deps)

	id, err := service.CreateWorkflow(factory.TemplateName(*template), workflowapi.CreateParams{
		ServerID:     *serverID,
		DeviceType:   *deviceType,
		TargetIPMIIP: *targetIP,
		Gateway:      *gateway,
		SubnetMask:   *netmask,
		Policy:       models.Policy(*policy),
	})
	if err != nil {
		logger.Error("create workflow", "error", err)
		return 1
	}
	if err := service.StartWorkflow(ctx, id); err != nil {
		logger.Error("start workflow", "error", err)
		return 1
	}

	return waitForCompletion(ctx, service, id, logger)
}

func waitForCompletion(ctx context.Context, service *workflowapi.Service, id string, logger *slog.Logger) int {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			service.CancelWorkflow(id)
			logger.Warn("interrupted, cancellation requested", "workflow_id", id)
			return 1
		case <-ticker.C:
			snap, ok := service.GetWorkflow(id)
			if !ok {
				return 1
			}
			switch snap.Status {
			case "completed":
				logger.Info("workflow completed", "workflow_id", id)
				return 0
			case "failed":
				logger.Error("workflow failed", "workflow_id", id, "error", snap.Error)
				return 1
			case "cancelled":
				logger.Warn("workflow cancelled", "workflow_id", id)
				return 1
			}
		}
	}
}

func loadResolver(cfg config.RuntimeConfig) (*config.Resolver, error) {
	devices, err := config.LoadDeviceMapping(cfg.DeviceMappingsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	biosTemplates, err := config.LoadBIOSTemplate(cfg.BIOSTemplatesPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	firmwareTemplates, err := config.LoadFirmwareTemplate(cfg.FirmwareRepositoryPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return config.NewResolver(devices, biosTemplates, firmwareTemplates), nil
}

// execDialer opens an SSH-backed ExecSession against the workflow
// context's target_ipmi_ip, resolving the server_id's credentials from
// creds and falling back to cfg.SSHUsername when no per-target username
// is supplied.
func execDialer(cfg config.RuntimeConfig, creds external.CredentialsProvider) factory.ExecDialer {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (session.ExecSession, error) {
		cr, err := creds.CredentialsFor(ctx, wctx.ServerID)
		if err != nil {
			return nil, fmt.Errorf("exec dialer: resolve credentials: %w", err)
		}
		username := cr.Username
		if username == "" {
			username = cfg.SSHUsername
		}
		return session.DialSSH(ctx, session.SSHConfig{
			Host:            wctx.TargetIPMIIP,
			Username:        username,
			Password:        cr.Password,
			PrivateKey:      cr.SSHKey,
			Timeout:         cfg.SSHTimeout,
			HostKeyInsecure: cfg.SSHHostKeyInsecure,
		})
	}
}

// redfishDialer opens a Redfish session against the workflow context's
// target IPMI address.
func redfishDialer(creds external.CredentialsProvider) factory.RedfishDialer {
	return func(ctx context.Context, wctx *workflow.WorkflowContext) (session.RedfishSession, error) {
		cr, err := creds.CredentialsFor(ctx, wctx.ServerID)
		if err != nil {
			return nil, fmt.Errorf("redfish dialer: resolve credentials: %w", err)
		}
		return session.DialRedfish(session.RedfishConfig{
			Endpoint: fmt.Sprintf("https://%s", wctx.TargetIPMIIP),
			Username: cr.Username,
			Password: cr.Password,
		})
	}
}
