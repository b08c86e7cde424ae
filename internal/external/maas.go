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

// Package external defines the boundary interfaces for systems this
// engine consumes but does not implement in production: the MaaS
// controller, the credential store, and the firmware image repository.
// Only fakes are provided here, matching spec.md §2's explicit
// out-of-scope note for a production MaaS/credential backend.
package external

import (
	"context"
	"fmt"

	"metalforge/pkg/models"
)

// Machine is a MaaS machine record, trimmed to the fields spec.md §6.2
// names as consumed by the engine.
type Machine struct {
	SystemID     string
	Hostname     string
	StatusName   string
	PowerState   string
	Architecture string
	CPUCount     int
	Memory       int
}

// MaaSClient is the operation set the engine consumes from an external
// metal-as-a-service controller.
type MaaSClient interface {
	ListMachines(ctx context.Context) ([]Machine, error)
	GetMachine(ctx context.Context, id string) (Machine, error)
	Commission(ctx context.Context, id string) error
	// ForceCommission is retained as a distinct action from Commission
	// per spec.md §9's undecided force_commission/commission split.
	ForceCommission(ctx context.Context, id string) error
	Deploy(ctx context.Context, id, osImage string) error
	Release(ctx context.Context, id string) error
	Abort(ctx context.Context, id string) error
}

// CredentialsProvider resolves the BMC/SSH credentials for a server_id.
// Production implementations would consult a secrets manager; out of
// scope here.
type CredentialsProvider interface {
	CredentialsFor(ctx context.Context, serverID string) (models.Credentials, error)
}

// FirmwareRepository resolves a component+version to a fetchable image
// URI. spec.md §4.7 treats firmware acquisition as an opaque URI and
// explicitly places the repository's internal layout out of scope.
type FirmwareRepository interface {
	ResolveImageURI(ctx context.Context, component models.FirmwareComponent, version string) (string, error)
}

// FakeMaaSClient is an in-memory MaaSClient for tests and local
// development, mirroring shoal's NoopClient canned-response style.
type FakeMaaSClient struct {
	Machines map[string]*Machine
}

// NewFakeMaaSClient constructs a FakeMaaSClient seeded with machines.
func NewFakeMaaSClient(machines ...Machine) *FakeMaaSClient {
	m := make(map[string]*Machine, len(machines))
	for i := range machines {
		mc := machines[i]
		m[mc.SystemID] = &mc
	}
	return &FakeMaaSClient{Machines: m}
}

func (f *FakeMaaSClient) ListMachines(context.Context) ([]Machine, error) {
	out := make([]Machine, 0, len(f.Machines))
	for _, m := range f.Machines {
		out = append(out, *m)
	}
	return out, nil
}

func (f *FakeMaaSClient) GetMachine(_ context.Context, id string) (Machine, error) {
	m, ok := f.Machines[id]
	if !ok {
		return Machine{}, fmt.Errorf("external: unknown machine %s", id)
	}
	return *m, nil
}

func (f *FakeMaaSClient) Commission(_ context.Context, id string) error {
	m, ok := f.Machines[id]
	if !ok {
		return fmt.Errorf("external: unknown machine %s", id)
	}
	m.StatusName = "Ready"
	return nil
}

func (f *FakeMaaSClient) ForceCommission(ctx context.Context, id string) error {
	return f.Commission(ctx, id)
}

func (f *FakeMaaSClient) Deploy(_ context.Context, id, osImage string) error {
	m, ok := f.Machines[id]
	if !ok {
		return fmt.Errorf("external: unknown machine %s", id)
	}
	m.StatusName = "Deployed"
	return nil
}

func (f *FakeMaaSClient) Release(_ context.Context, id string) error {
	m, ok := f.Machines[id]
	if !ok {
		return fmt.Errorf("external: unknown machine %s", id)
	}
	m.StatusName = "Ready"
	return nil
}

func (f *FakeMaaSClient) Abort(_ context.Context, id string) error {
	m, ok := f.Machines[id]
	if !ok {
		return fmt.Errorf("external: unknown machine %s", id)
	}
	m.StatusName = "Failed"
	return nil
}

var _ MaaSClient = (*FakeMaaSClient)(nil)

// FakeCredentialsProvider returns a fixed credential set regardless of
// server_id, for tests.
type FakeCredentialsProvider struct {
	Credentials models.Credentials
}

func (f FakeCredentialsProvider) CredentialsFor(context.Context, string) (models.Credentials, error) {
	return f.Credentials, nil
}

var _ CredentialsProvider = FakeCredentialsProvider{}

// FakeFirmwareRepository maps component+version to a deterministic
// placeholder URI, for tests.
type FakeFirmwareRepository struct{}

func (FakeFirmwareRepository) ResolveImageURI(_ context.Context, component models.FirmwareComponent, version string) (string, error) {
	return fmt.Sprintf("https://firmware.example.internal/%s/%s.bin", component, version), nil
}

var _ FirmwareRepository = FakeFirmwareRepository{}
