package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// SimulatorWithUDID returns the handle for udid.
func (p *Pool) SimulatorWithUDID(ctx context.Context, udid string) (*Simulator, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if sim, ok := p.byUDID[udid]; ok {
		return sim, nil
	}
	return nil, fmt.Errorf("simulator %s: %w", udid, ErrDeviceNotFound)
}

// DeviceUDIDWithName returns the UDID of the first device named name whose
// runtime is sdk. It searches every device in the set, not only
// pool-managed ones. An empty sdk matches any runtime.
func (p *Pool) DeviceUDIDWithName(ctx context.Context, name, sdk string) (string, error) {
	if err := p.checkReady(); err != nil {
		return "", err
	}
	devices, err := p.deviceSet.Devices(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: enumerate devices: %w", ErrBackendOperationFailed, err)
	}
	for _, d := range devices {
		if d.Name() == name && (sdk == "" || d.Runtime() == sdk) {
			return d.UDID(), nil
		}
	}
	return "", fmt.Errorf("device %q with sdk %q: %w", name, sdk, ErrDeviceNotFound)
}

// AllocatedSimulatorWithDeviceType returns the least recently allocated
// simulator of deviceType.
func (p *Pool) AllocatedSimulatorWithDeviceType(ctx context.Context, deviceType string) (*Simulator, error) {
	sims, err := p.AllocatedSimulators(ctx)
	if err != nil {
		return nil, err
	}
	for _, sim := range sims {
		if sim.DeviceType() == deviceType {
			return sim, nil
		}
	}
	return nil, fmt.Errorf("allocated simulator of type %q: %w", deviceType, ErrDeviceNotFound)
}

// AllSimulators returns every device in the set, in backend order.
func (p *Pool) AllSimulators(ctx context.Context) ([]*Simulator, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	return p.snapshot(), nil
}

// AllocatedSimulators returns the simulators allocated by this pool, most
// recently allocated last.
func (p *Pool) AllocatedSimulators(ctx context.Context) ([]*Simulator, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.allocated), nil
}

// UnallocatedSimulators returns every device not allocated by this pool,
// in backend order.
func (p *Pool) UnallocatedSimulators(ctx context.Context) ([]*Simulator, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Simulator
	for _, sim := range p.sims {
		if !sim.allocated.Load() {
			out = append(out, sim)
		}
	}
	return out, nil
}

// LaunchedSimulators returns every device that is Booting or Booted, in
// backend order.
func (p *Pool) LaunchedSimulators(ctx context.Context) ([]*Simulator, error) {
	sims, err := p.AllSimulators(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Simulator
	for _, sim := range sims {
		if sim.State(ctx).IsRunning() {
			out = append(out, sim)
		}
	}
	return out, nil
}

// DebugDescription summarizes the pool for diagnostics.
func (p *Pool) DebugDescription(ctx context.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pool %s (prefix %q, strategy %s)\n", p.owner, p.cfg.NamePrefix, p.cfg.FreeStrategy)

	sims, err := p.AllSimulators(ctx)
	if err != nil {
		fmt.Fprintf(&b, "  unavailable: %v\n", err)
		return b.String()
	}

	p.mu.RLock()
	allocated := len(p.allocated)
	managed := len(p.managed)
	p.mu.RUnlock()

	launched := 0
	lines := make([]string, len(sims))
	for i, sim := range sims {
		st := sim.State(ctx)
		if st.IsRunning() {
			launched++
		}
		lines[i] = sim.String() + " | " + st.String()
	}

	fmt.Fprintf(&b, "  all: %d, allocated: %d, unallocated: %d, launched: %d, managed: %d\n",
		len(sims), allocated, len(sims)-allocated, launched, managed)
	for _, line := range lines {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	return b.String()
}
