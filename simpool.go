package simpool

import (
	"context"
	"log/slog"

	"github.com/giantswarm/simpool/internal/core"
)

// Compile-time interface satisfaction checks.
var (
	_ Pool      = (*poolWrapper)(nil)
	_ Simulator = (*core.Simulator)(nil)
)

// poolWrapper adapts *core.Pool to the public Pool interface, converting
// core simulator handles to the Simulator interface.
type poolWrapper struct {
	pool *core.Pool
}

// NewPool creates a Pool over deviceSet. It performs no I/O; call
// Initialize before any other operation.
//
// Pools are independent: each tracks its own allocations. Give pools that
// share a device set the same WithLedgerPath so they never hand out the
// same simulator.
//
// Panics if deviceSet is nil or the resulting configuration is invalid.
//
//nolint:ireturn // Returns Pool interface by design for testability and encapsulation.
func NewPool(deviceSet DeviceSet, opts ...PoolOption) Pool {
	cfg := defaultPoolConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &poolWrapper{pool: core.NewPool(cfg.toCoreConfig(), deviceSet)}
}

func (w *poolWrapper) Initialize(ctx context.Context) error {
	return w.pool.Initialize(ctx)
}

func (w *poolWrapper) Close(ctx context.Context) error {
	return w.pool.Close(ctx)
}

//nolint:ireturn // Interface return is the public API contract.
func (w *poolWrapper) Allocate(ctx context.Context, cfg Configuration) (Simulator, error) {
	sim, err := w.pool.Allocate(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sim, nil
}

// Free accepts only simulators handed out by a Pool; anything else was
// never allocated.
func (w *poolWrapper) Free(ctx context.Context, sim Simulator) error {
	cs, ok := sim.(*core.Simulator)
	if !ok || cs == nil {
		return ErrNotAllocated
	}
	return w.pool.Free(ctx, cs)
}

func (w *poolWrapper) KillAll(ctx context.Context) ([]Simulator, error) {
	sims, err := w.pool.KillAll(ctx)
	return toSimulators(sims), err
}

func (w *poolWrapper) KillSpurious(ctx context.Context) error {
	return w.pool.KillSpurious(ctx)
}

func (w *poolWrapper) EraseAll(ctx context.Context) ([]Simulator, error) {
	sims, err := w.pool.EraseAll(ctx)
	return toSimulators(sims), err
}

func (w *poolWrapper) DeleteAll(ctx context.Context) ([]string, error) {
	return w.pool.DeleteAll(ctx)
}

//nolint:ireturn // Interface return is the public API contract.
func (w *poolWrapper) SimulatorWithUDID(ctx context.Context, udid string) (Simulator, error) {
	sim, err := w.pool.SimulatorWithUDID(ctx, udid)
	if err != nil {
		return nil, err
	}
	return sim, nil
}

func (w *poolWrapper) DeviceUDIDWithName(ctx context.Context, name, sdk string) (string, error) {
	return w.pool.DeviceUDIDWithName(ctx, name, sdk)
}

//nolint:ireturn // Interface return is the public API contract.
func (w *poolWrapper) AllocatedSimulatorWithDeviceType(ctx context.Context, deviceType string) (Simulator, error) {
	sim, err := w.pool.AllocatedSimulatorWithDeviceType(ctx, deviceType)
	if err != nil {
		return nil, err
	}
	return sim, nil
}

func (w *poolWrapper) AllSimulators(ctx context.Context) ([]Simulator, error) {
	return convertView(w.pool.AllSimulators(ctx))
}

func (w *poolWrapper) AllocatedSimulators(ctx context.Context) ([]Simulator, error) {
	return convertView(w.pool.AllocatedSimulators(ctx))
}

func (w *poolWrapper) UnallocatedSimulators(ctx context.Context) ([]Simulator, error) {
	return convertView(w.pool.UnallocatedSimulators(ctx))
}

func (w *poolWrapper) LaunchedSimulators(ctx context.Context) ([]Simulator, error) {
	return convertView(w.pool.LaunchedSimulators(ctx))
}

func (w *poolWrapper) StartLoggingInteractions(l *slog.Logger) {
	w.pool.StartLoggingInteractions(l)
}

func (w *poolWrapper) DebugDescription(ctx context.Context) string {
	return w.pool.DebugDescription(ctx)
}

func convertView(sims []*core.Simulator, err error) ([]Simulator, error) {
	if err != nil {
		return nil, err
	}
	return toSimulators(sims), nil
}

func toSimulators(sims []*core.Simulator) []Simulator {
	out := make([]Simulator, len(sims))
	for i, s := range sims {
		out[i] = s
	}
	return out
}
