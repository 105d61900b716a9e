package core

import (
	"context"
	"errors"
	"fmt"
)

// KillSpurious kills running devices that this pool is not responsible
// for: devices neither created, allocated nor adopted by it, and not
// recorded in the ledger by another pool. Each candidate is re-checked
// right before it is killed, so a device claimed concurrently survives.
func (p *Pool) KillSpurious(ctx context.Context) error {
	if err := p.checkReady(); err != nil {
		return err
	}
	return p.killSpurious(ctx)
}

func (p *Pool) killSpurious(ctx context.Context) error {
	candidates, err := p.spuriousCandidates(ctx)
	if err != nil {
		return fmt.Errorf("kill spurious simulators: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}
	if _, err := p.reapSpurious(ctx, candidates); err != nil {
		return fmt.Errorf("kill spurious simulators: %w", err)
	}
	return nil
}

// spuriousCandidates returns the running devices that look unmanaged at
// the time of the call.
func (p *Pool) spuriousCandidates(ctx context.Context) ([]*Simulator, error) {
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	recorded, err := p.ledgerUDIDs(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	var unmanaged []*Simulator
	for _, sim := range p.sims {
		if !p.isSpuriousLocked(sim, recorded) {
			continue
		}
		unmanaged = append(unmanaged, sim)
	}
	p.mu.RUnlock()

	var candidates []*Simulator
	for _, sim := range unmanaged {
		if sim.State(ctx).IsRunning() {
			candidates = append(candidates, sim)
		}
	}
	return candidates, nil
}

func (p *Pool) isSpuriousLocked(sim *Simulator, recorded map[string]struct{}) bool {
	udid := sim.UDID()
	if sim.gone.Load() || sim.allocated.Load() {
		return false
	}
	if _, ok := p.managed[udid]; ok {
		return false
	}
	if _, ok := p.busy[udid]; ok {
		return false
	}
	_, ok := recorded[udid]
	return !ok
}

// reapSpurious kills the candidates that are still spurious. With a ledger,
// its file lock is held throughout so no other process can allocate a
// candidate between the re-check and the kill.
func (p *Pool) reapSpurious(ctx context.Context, candidates []*Simulator) ([]*Simulator, error) {
	if p.ledger != nil {
		unlock, err := p.ledger.Lock(ctx)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}
	recorded, err := p.ledgerUDIDs(ctx)
	if err != nil {
		return nil, err
	}

	var (
		reaped []*Simulator
		errs   []error
	)
	for _, sim := range candidates {
		if !p.markReaping(sim, recorded) {
			Logger().Debug("spurious candidate was claimed, not killing", "udid", sim.UDID())
			continue
		}
		err := p.kill(ctx, sim)

		p.mu.Lock()
		delete(p.busy, sim.UDID())
		p.mu.Unlock()

		if err != nil {
			errs = append(errs, err)
			continue
		}
		reaped = append(reaped, sim)
		Logger().Info("killed spurious simulator", "udid", sim.UDID(), "name", sim.Name())
		p.narrate("killed spurious simulator", sim)
	}
	return reaped, errors.Join(errs...)
}

// markReaping re-checks sim under the registry lock and, when it is still
// spurious, marks it busy so Allocate cannot claim it while it is killed.
func (p *Pool) markReaping(sim *Simulator, recorded map[string]struct{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isSpuriousLocked(sim, recorded) {
		return false
	}
	p.busy[sim.UDID()] = struct{}{}
	return true
}
