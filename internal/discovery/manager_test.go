package discovery

import (
	"context"
	"reflect"
	"testing"

	"metalforge/internal/session"
)

func TestDiscoverBestEffortOnAllFailures(t *testing.T) {
	exec := session.NewLocalExecSession(nil) // every command returns exit code 1
	mgr := NewManager(nil)

	report := mgr.Discover(context.Background(), "node-01", exec)

	if report.Hostname != "node-01" {
		t.Fatalf("expected hostname to be set, got %q", report.Hostname)
	}
	if report.System.Manufacturer != "" {
		t.Fatalf("expected empty manufacturer on total failure, got %q", report.System.Manufacturer)
	}
	if len(report.DiscoveryErrors) == 0 {
		t.Fatalf("expected discovery_errors to be populated")
	}
}

func TestDiscoverHappyPath(t *testing.T) {
	responses := map[string]session.LocalResponse{
		"dmidecode -t system": {Stdout: "Manufacturer: Supermicro\nProduct Name: SYS-1029P\nSerial Number: S1\nUUID: u1\n"},
		"dmidecode -t bios":   {Stdout: "Version: 2.1\nRelease Date: 01/01/2026\n"},
		"lscpu":               {Stdout: "Model name: Xeon Gold\nCPU(s): 32\n"},
		"free -h":             {Stdout: "              total        used\nMem:           128G         4G\n"},
		"which ipmitool":      {ExitCode: 0},
		"ipmitool lan print 1": {Stdout: "IP Address          : 10.0.0.50\nMAC Address         : aa:bb:cc:dd:ee:ff\n"},
		"ip addr show": {Stdout: "1: eth0: <UP> mtu 1500 state UP\n    link/ether aa:bb:cc:dd:ee:ff\n    inet 10.0.0.50/24\n"},
	}
	exec := session.NewLocalExecSession(responses)
	mgr := NewManager(nil)

	report := mgr.Discover(context.Background(), "node-02", exec)

	if report.System.Manufacturer != "Supermicro" {
		t.Fatalf("unexpected manufacturer: %q", report.System.Manufacturer)
	}
	if report.System.BIOSVersion != "2.1" {
		t.Fatalf("unexpected bios version: %q", report.System.BIOSVersion)
	}
	if !report.IPMI.Enabled {
		t.Fatalf("expected ipmi enabled")
	}
	if len(report.NetworkInterfaces) != 1 {
		t.Fatalf("expected 1 network interface, got %d", len(report.NetworkInterfaces))
	}
}

func TestDiscoverIsIdempotentOnUnchangedTarget(t *testing.T) {
	responses := map[string]session.LocalResponse{
		"dmidecode -t system": {Stdout: "Manufacturer: Dell Inc.\nSerial Number: S2\n"},
		"which ipmitool":      {ExitCode: 0},
	}
	exec := session.NewLocalExecSession(responses)
	mgr := NewManager(nil)

	first := mgr.Discover(context.Background(), "node-03", exec)
	second := mgr.Discover(context.Background(), "node-03", exec)

	if first.System != second.System {
		t.Fatalf("expected equal system records across runs: %+v vs %+v", first.System, second.System)
	}
	if !reflect.DeepEqual(first.IPMI, second.IPMI) {
		t.Fatalf("expected equal ipmi records across runs")
	}
}
