package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// forEach runs fn for every simulator, at most BulkConcurrency at a time,
// and returns the per-index errors. One failure never stops the others.
func (p *Pool) forEach(ctx context.Context, sims []*Simulator, fn func(context.Context, *Simulator) error) []error {
	errs := make([]error, len(sims))
	var g errgroup.Group
	g.SetLimit(p.cfg.BulkConcurrency)
	for i, sim := range sims {
		g.Go(func() error {
			errs[i] = fn(ctx, sim)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// partition splits sims into those whose error is nil and the joined
// errors of the rest. Order is preserved.
func partition(sims []*Simulator, errs []error) ([]*Simulator, error) {
	ok := make([]*Simulator, 0, len(sims))
	var failed []error
	for i, sim := range sims {
		if errs[i] != nil {
			failed = append(failed, errs[i])
			continue
		}
		ok = append(ok, sim)
	}
	return ok, errors.Join(failed...)
}

// kill shuts sim down and waits for it to reach Shutdown. Devices already
// in Shutdown or still Creating are left alone.
func (p *Pool) kill(ctx context.Context, sim *Simulator) error {
	switch sim.State(ctx) {
	case StateShutdown, StateCreating:
		return nil
	case StateShuttingDown:
		// Already on its way; only wait.
	case StateBooting, StateBooted, StateUnknown:
		if err := sim.device.Shutdown(ctx); err != nil {
			return sim.deviceFailure(ctx, "shut down "+sim.Name(), err)
		}
	}
	if !sim.WaitOnStateTimeout(ctx, StateShutdown, p.cfg.StateTimeout) {
		return fmt.Errorf("shut down %s within %s: %w", sim.Name(), p.cfg.StateTimeout, ErrTimeout)
	}
	return nil
}

func (p *Pool) erase(ctx context.Context, sim *Simulator) error {
	if err := sim.device.Erase(ctx); err != nil {
		return sim.deviceFailure(ctx, "erase "+sim.Name(), err)
	}
	return nil
}

// remove deletes sim from the backend and forgets it.
func (p *Pool) remove(ctx context.Context, sim *Simulator) error {
	udid := sim.UDID()
	if err := p.deviceSet.DeleteDevice(ctx, udid); err != nil {
		return sim.deviceFailure(ctx, "delete "+sim.Name(), err)
	}
	p.mu.Lock()
	p.forgetLocked(sim)
	p.mu.Unlock()
	if err := p.removeLedger(ctx, udid); err != nil {
		Logger().Warn("failed to remove deleted simulator from ledger", "udid", udid, "error", err)
	}
	return nil
}

// KillAll shuts down every device in the set, allocated or not. It returns
// the simulators that are in Shutdown afterwards together with the joined
// per-device failures; one failure does not stop the others.
func (p *Pool) KillAll(ctx context.Context) ([]*Simulator, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	return p.killAll(ctx)
}

func (p *Pool) killAll(ctx context.Context) ([]*Simulator, error) {
	if err := p.refresh(ctx); err != nil {
		return nil, fmt.Errorf("kill all: %w", err)
	}
	sims := p.snapshot()
	killed, err := partition(sims, p.forEach(ctx, sims, p.kill))
	for _, sim := range killed {
		p.narrate("killed simulator", sim)
	}
	Logger().Debug("killed simulators", "killed", len(killed), "total", len(sims))
	if err != nil {
		return killed, fmt.Errorf("kill all: %w", err)
	}
	return killed, nil
}

// EraseAll kills every device, then erases the ones this pool is
// responsible for that reached Shutdown: pool-managed devices not allocated
// by another pool. Devices the pool never managed are left untouched.
// Erasures are not rolled back when another one fails.
func (p *Pool) EraseAll(ctx context.Context) ([]*Simulator, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	killed, killErr := p.killAll(ctx)

	unlock, err := p.lockLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("erase all: %w", errors.Join(killErr, err))
	}
	defer unlock()
	targets, release, err := p.claimResponsible(ctx, killed)
	if err != nil {
		return nil, fmt.Errorf("erase all: %w", errors.Join(killErr, err))
	}
	defer release()

	erased, eraseErr := partition(targets, p.forEach(ctx, targets, p.erase))
	for _, sim := range erased {
		p.narrate("erased simulator", sim)
	}
	if err := errors.Join(killErr, eraseErr); err != nil {
		return erased, fmt.Errorf("erase all: %w", err)
	}
	return erased, nil
}

// DeleteAll kills every device, then deletes the ones this pool is
// responsible for that reached Shutdown and drops them from the pool. It
// returns the names of the deleted devices; their handles report
// ErrDeviceGone from then on. Devices the pool never managed, and devices
// allocated by another pool, survive.
func (p *Pool) DeleteAll(ctx context.Context) ([]string, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	killed, killErr := p.killAll(ctx)

	unlock, err := p.lockLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete all: %w", errors.Join(killErr, err))
	}
	defer unlock()
	targets, release, err := p.claimResponsible(ctx, killed)
	if err != nil {
		return nil, fmt.Errorf("delete all: %w", errors.Join(killErr, err))
	}
	defer release()

	deleted, deleteErr := p.removeAll(ctx, targets)
	if err := errors.Join(killErr, deleteErr); err != nil {
		return deleted, fmt.Errorf("delete all: %w", err)
	}
	return deleted, nil
}

func (p *Pool) removeAll(ctx context.Context, sims []*Simulator) ([]string, error) {
	removed, err := partition(sims, p.forEach(ctx, sims, p.remove))
	names := make([]string, len(removed))
	for i, sim := range removed {
		names[i] = sim.Name()
		p.narrate("deleted simulator", sim)
	}
	return names, err
}

// lockLedger takes the cross-process ledger lock, or does nothing without
// a ledger.
func (p *Pool) lockLedger(ctx context.Context) (func(), error) {
	if p.ledger == nil {
		return func() {}, nil
	}
	return p.ledger.Lock(ctx)
}

// claimResponsible marks busy the simulators among sims that this pool
// manages and no other pool has allocated, and returns them with a func
// clearing the marks. Gone and already busy handles are skipped. The
// caller holds the ledger lock.
func (p *Pool) claimResponsible(ctx context.Context, sims []*Simulator) ([]*Simulator, func(), error) {
	foreign, err := p.foreignAllocations(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read ledger: %w", err)
	}

	p.mu.Lock()
	var claimed []*Simulator
	for _, sim := range sims {
		udid := sim.UDID()
		if sim.gone.Load() || p.byUDID[udid] != sim {
			continue
		}
		if _, ok := p.managed[udid]; !ok {
			continue
		}
		if _, ok := foreign[udid]; ok {
			continue
		}
		if _, ok := p.busy[udid]; ok {
			continue
		}
		p.busy[udid] = struct{}{}
		claimed = append(claimed, sim)
	}
	p.mu.Unlock()

	release := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, sim := range claimed {
			if p.byUDID[sim.UDID()] == sim {
				delete(p.busy, sim.UDID())
			}
		}
	}
	return claimed, release, nil
}

// deleteManaged kills and deletes the pool-managed devices that no other
// pool has allocated.
func (p *Pool) deleteManaged(ctx context.Context) ([]string, error) {
	unlock, err := p.lockLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete managed: %w", err)
	}
	defer unlock()
	sims, release, err := p.claimResponsible(ctx, p.snapshot())
	if err != nil {
		return nil, fmt.Errorf("delete managed: %w", err)
	}
	defer release()

	killed, killErr := partition(sims, p.forEach(ctx, sims, p.kill))
	deleted, deleteErr := p.removeAll(ctx, killed)
	if len(deleted) > 0 {
		Logger().Info("deleted leftover simulators", "names", strings.Join(deleted, ", "))
	}
	if err := errors.Join(killErr, deleteErr); err != nil {
		return deleted, fmt.Errorf("delete managed: %w", err)
	}
	return deleted, nil
}
