package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/giantswarm/simpool/internal/backend"
	"github.com/giantswarm/simpool/internal/ledger"
)

// poolState represents the lifecycle state of a Pool.
type poolState uint32

const (
	poolCreated      poolState = iota // Zero value; NewPool returns in this state
	poolInitializing                  // Initialize in progress
	poolReady                         // Operations allowed
	poolClosed                        // Close called
)

// ledgerStore is the part of *ledger.Ledger the pool uses.
type ledgerStore interface {
	Lock(ctx context.Context) (unlock func(), err error)
	Entries(ctx context.Context) ([]ledger.Entry, error)
	Put(ctx context.Context, e ledger.Entry) error
	Remove(ctx context.Context, udid string) error
	Prune(ctx context.Context) (int, error)
	ReleaseOwner(ctx context.Context, owner string) error
	Close() error
}

var _ ledgerStore = (*ledger.Ledger)(nil)

// Pool arbitrates access to the devices of one device set. It tracks which
// simulators exist, which are allocated, and which it is responsible for,
// and reconciles that bookkeeping with the backend on every operation.
//
// It is safe for concurrent use by multiple goroutines.
//
// Synchronization strategy:
//   - state is an atomic poolState (created → initializing → ready → closed).
//   - initMu serializes Initialize and Close.
//   - allocMu serializes Allocate, including device creation, so a device is
//     never handed to two callers. With a ledger, the ledger's file lock is
//     taken inside allocMu and extends the guarantee across processes.
//   - mu guards the registry and every write of Simulator.allocated. Reads
//     of the derived views take it shared and copy, so callers never see a
//     torn allocated/unallocated split.
type Pool struct {
	cfg       PoolConfig
	deviceSet backend.DeviceSet

	// owner identifies this pool in the ledger.
	owner string

	state  atomic.Uint32 // poolState
	initMu sync.Mutex

	allocMu sync.Mutex

	mu sync.RWMutex
	// sims holds every known handle in backend enumeration order.
	sims   []*Simulator
	byUDID map[string]*Simulator
	// allocated is ordered by allocation recency, most recent last.
	allocated []*Simulator
	// managed holds the UDIDs this pool created, allocated, or adopted.
	managed map[string]struct{}
	// busy holds UDIDs being freed or reaped. Busy devices are never
	// allocation candidates.
	busy map[string]struct{}
	// gen counts handle registrations and removals made outside refresh.
	gen uint64
	// removed maps the UDIDs of forgotten handles to the generation at
	// which they were forgotten.
	removed map[string]uint64
	// refreshing counts in-flight refreshes by the generation they started
	// at. A tombstone is kept while any of them may still apply a listing
	// taken before it.
	refreshing map[uint64]int

	interactions atomic.Pointer[slog.Logger]

	// ledger is set by Initialize before the state becomes ready and is
	// only read by operations that have observed the ready state. nil
	// without PoolConfig.LedgerPath.
	ledger ledgerStore

	// openLedger opens the ledger at path. Replaced in tests.
	openLedger func(ctx context.Context, path string) (ledgerStore, error)
}

// NewPool creates a Pool over deviceSet. It performs no I/O; call
// Initialize before any other operation.
//
// Panics if deviceSet is nil or cfg.Validate() reports any errors.
func NewPool(cfg PoolConfig, deviceSet backend.DeviceSet) *Pool {
	if deviceSet == nil {
		panic("simpool: NewPool device set must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("simpool: invalid pool config: %v", err))
	}
	return &Pool{
		cfg:        cfg,
		deviceSet:  deviceSet,
		owner:      uuid.NewString(),
		byUDID:     make(map[string]*Simulator),
		managed:    make(map[string]struct{}),
		busy:       make(map[string]struct{}),
		removed:    make(map[string]uint64),
		refreshing: make(map[uint64]int),
		openLedger: openSQLiteLedger,
	}
}

func openSQLiteLedger(ctx context.Context, path string) (ledgerStore, error) {
	return ledger.Open(ctx, ledger.Config{Path: path, Logger: Logger()})
}

func (p *Pool) loadState() poolState {
	return poolState(p.state.Load())
}

func (p *Pool) storeState(s poolState) {
	p.state.Store(uint32(s))
}

// checkReady returns nil when the pool accepts operations.
func (p *Pool) checkReady() error {
	switch p.loadState() {
	case poolReady:
		return nil
	case poolClosed:
		return ErrPoolClosed
	default:
		return ErrNotInitialized
	}
}

// Config returns the pool's configuration.
func (p *Pool) Config() PoolConfig {
	return p.cfg
}

// Initialize opens the ledger, adopts existing prefix-named devices as
// pool-managed, and applies the on-initialize cleanup options.
//
// Safe to call multiple times: after a successful initialization, later
// calls return nil. A failed initialization leaves the pool in the created
// state so the call can be retried.
func (p *Pool) Initialize(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	switch p.loadState() {
	case poolReady:
		return nil
	case poolClosed:
		return ErrPoolClosed
	case poolCreated, poolInitializing:
	}

	p.storeState(poolInitializing)

	if err := p.cfg.Validate(); err != nil {
		p.storeState(poolCreated)
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := p.doInitialize(ctx); err != nil {
		if p.ledger != nil {
			if closeErr := p.ledger.Close(); closeErr != nil {
				Logger().Warn("failed to close ledger during rollback", "error", closeErr)
			}
			p.ledger = nil
		}
		p.storeState(poolCreated)
		return err
	}

	p.storeState(poolReady)
	Logger().Debug("pool initialized", "owner", p.owner, "simulators", len(p.snapshot()))
	return nil
}

func (p *Pool) doInitialize(ctx context.Context) error {
	if p.cfg.LedgerPath != "" {
		l, err := p.openLedger(ctx, p.cfg.LedgerPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		p.ledger = l
		n, err := l.Prune(ctx)
		if err != nil {
			return fmt.Errorf("prune ledger: %w", err)
		}
		if n > 0 {
			Logger().Info("released stale ledger allocations", "count", n)
		}
	}

	if err := p.refresh(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	p.adoptManaged()

	if p.cfg.DeleteManagedOnInitialize {
		if _, err := p.deleteManaged(ctx); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
	}
	if p.cfg.KillSpuriousOnInitialize {
		if err := p.killSpurious(ctx); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
	}
	return nil
}

// adoptManaged marks every prefix-named device as pool-managed.
func (p *Pool) adoptManaged() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sim := range p.sims {
		if strings.HasPrefix(sim.Name(), p.cfg.NamePrefix) {
			p.managed[sim.UDID()] = struct{}{}
		}
	}
}

// Close releases this pool's ledger allocations and closes the ledger. It
// waits for in-flight allocations but does not touch any device. Safe to
// call multiple times, including before Initialize.
func (p *Pool) Close(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.loadState() == poolClosed {
		return nil
	}
	p.storeState(poolClosed)

	p.allocMu.Lock()
	defer p.allocMu.Unlock()

	if p.ledger == nil {
		return nil
	}
	var errs []error
	if err := p.ledger.ReleaseOwner(ctx, p.owner); err != nil {
		errs = append(errs, err)
	}
	if err := p.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close ledger: %w", err))
	}
	return errors.Join(errs...)
}

// StartLoggingInteractions attaches l as the sink for narration of pool
// operations. A nil l detaches it.
func (p *Pool) StartLoggingInteractions(l *slog.Logger) {
	p.interactions.Store(l)
}

func (p *Pool) interactionLog() *slog.Logger {
	if l := p.interactions.Load(); l != nil {
		return l
	}
	return discardLogger
}

// narrate sends one interaction message about sim to the attached logger.
func (p *Pool) narrate(msg string, sim *Simulator, args ...any) {
	attrs := append([]any{"udid", sim.UDID(), "name", sim.Name()}, args...)
	p.interactionLog().Info(msg, attrs...)
}

// Allocate claims a free simulator matching cfg, creating one through the
// backend when none exists. The first match in backend enumeration order
// wins, so allocation is reproducible across runs.
func (p *Pool) Allocate(ctx context.Context, cfg Configuration) (*Simulator, error) {
	if err := p.checkReady(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("allocate %s: %w", cfg, err)
	}

	p.allocMu.Lock()
	defer p.allocMu.Unlock()

	if p.ledger != nil {
		unlock, err := p.ledger.Lock(ctx)
		if err != nil {
			return nil, fmt.Errorf("allocate %s: %w", cfg, err)
		}
		defer unlock()
	}

	if err := p.refresh(ctx); err != nil {
		return nil, fmt.Errorf("allocate %s: %w", cfg, err)
	}
	foreign, err := p.foreignAllocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate %s: %w", cfg, err)
	}

	created := false
	sim := p.claimFree(cfg, foreign)
	if sim == nil {
		if sim, err = p.create(ctx, cfg); err != nil {
			return nil, fmt.Errorf("allocate %s: %w", cfg, err)
		}
		created = true
	}

	if err := p.recordLedger(ctx, sim, true); err != nil {
		p.mu.Lock()
		p.unmarkAllocatedLocked(sim)
		p.mu.Unlock()
		return nil, fmt.Errorf("allocate %s: %w", cfg, err)
	}

	Logger().Debug("allocated simulator", "udid", sim.UDID(), "created", created)
	p.narrate("allocated simulator", sim, "created", created)
	return sim, nil
}

// claimFree marks and returns the first allocation candidate for cfg, or
// nil when there is none.
func (p *Pool) claimFree(cfg Configuration, foreign map[string]struct{}) *Simulator {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sim := range p.sims {
		udid := sim.UDID()
		if sim.allocated.Load() || sim.gone.Load() {
			continue
		}
		if _, ok := p.busy[udid]; ok {
			continue
		}
		if _, ok := foreign[udid]; ok {
			continue
		}
		if !strings.HasPrefix(sim.Name(), p.cfg.NamePrefix) || !cfg.matches(sim.device) {
			continue
		}
		p.markAllocatedLocked(sim)
		return sim
	}
	return nil
}

// create makes a new device for cfg and registers it already allocated.
// Must be called with allocMu held.
func (p *Pool) create(ctx context.Context, cfg Configuration) (*Simulator, error) {
	d, err := p.deviceSet.CreateDevice(ctx, cfg.spec(p.cfg.NamePrefix))
	if err != nil {
		return nil, backendFailure("create device", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	sim, ok := p.byUDID[d.UDID()]
	if !ok {
		p.gen++
		sim = newSimulator(d, p)
		sim.addedGen = p.gen
		p.byUDID[d.UDID()] = sim
		p.sims = append(p.sims, sim)
	}
	p.markAllocatedLocked(sim)
	return sim, nil
}

func (p *Pool) markAllocatedLocked(sim *Simulator) {
	sim.allocated.Store(true)
	p.allocated = append(p.allocated, sim)
	p.managed[sim.UDID()] = struct{}{}
}

func (p *Pool) unmarkAllocatedLocked(sim *Simulator) {
	sim.allocated.Store(false)
	p.allocated = slices.DeleteFunc(p.allocated, func(s *Simulator) bool { return s == sim })
}

// Free returns an allocated simulator to the pool. A running device is shut
// down first; a shutdown failure is returned but does not prevent the free.
// The configured FreeStrategy is then applied.
//
// Freeing a simulator that this pool has not allocated, including a second
// free, returns ErrNotAllocated and changes nothing.
func (p *Pool) Free(ctx context.Context, sim *Simulator) error {
	if err := p.checkReady(); err != nil {
		return err
	}
	if sim == nil {
		return fmt.Errorf("free: %w", ErrNotAllocated)
	}
	if sim.gone.Load() {
		return fmt.Errorf("free %s: %w", sim.Name(), ErrDeviceGone)
	}

	udid := sim.UDID()
	p.mu.Lock()
	_, busy := p.busy[udid]
	if p.byUDID[udid] != sim || !sim.allocated.Load() || busy {
		p.mu.Unlock()
		return fmt.Errorf("free %s: %w", sim.Name(), ErrNotAllocated)
	}
	p.busy[udid] = struct{}{}
	p.mu.Unlock()

	var errs []error
	if st := sim.State(ctx); st != StateShutdown && st != StateCreating {
		if err := p.kill(ctx, sim); err != nil {
			errs = append(errs, err)
		}
	}

	deleted := false
	switch p.cfg.FreeStrategy {
	case FreeErase:
		if err := sim.device.Erase(ctx); err != nil {
			errs = append(errs, sim.deviceFailure(ctx, "erase "+sim.Name(), err))
		}
	case FreeDelete:
		if err := p.deviceSet.DeleteDevice(ctx, udid); err != nil {
			errs = append(errs, sim.deviceFailure(ctx, "delete "+sim.Name(), err))
		} else {
			deleted = true
		}
	case FreeKeep:
	}

	p.mu.Lock()
	p.unmarkAllocatedLocked(sim)
	delete(p.busy, udid)
	if deleted {
		p.forgetLocked(sim)
	}
	p.mu.Unlock()

	// A device that vanished meanwhile must not be recorded again.
	if deleted || sim.gone.Load() {
		errs = append(errs, p.removeLedger(ctx, udid))
	} else {
		errs = append(errs, p.recordLedger(ctx, sim, false))
	}

	Logger().Debug("freed simulator", "udid", udid, "strategy", p.cfg.FreeStrategy, "deleted", deleted)
	p.narrate("freed simulator", sim, "strategy", p.cfg.FreeStrategy.String(), "deleted", deleted)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("free %s: %w", sim.Name(), err)
	}
	return nil
}

// forgetLocked drops sim from every registry structure and marks it gone.
func (p *Pool) forgetLocked(sim *Simulator) {
	udid := sim.UDID()
	sim.gone.Store(true)
	p.unmarkAllocatedLocked(sim)
	p.sims = slices.DeleteFunc(p.sims, func(s *Simulator) bool { return s == sim })
	delete(p.byUDID, udid)
	delete(p.managed, udid)
	delete(p.busy, udid)
	p.gen++
	p.removed[udid] = p.gen
}

// vanished forgets sim after the backend reported its device missing and
// drops its ledger row.
func (p *Pool) vanished(ctx context.Context, sim *Simulator) {
	udid := sim.UDID()
	p.mu.Lock()
	if p.byUDID[udid] == sim {
		p.forgetLocked(sim)
	} else {
		sim.gone.Store(true)
	}
	p.mu.Unlock()
	Logger().Info("simulator no longer exists in device set", "udid", udid, "name", sim.Name())
	if p.loadState() != poolReady {
		return
	}
	if err := p.removeLedger(ctx, udid); err != nil {
		Logger().Warn("failed to remove vanished simulator from ledger", "udid", udid, "error", err)
	}
}

// refresh re-enumerates the backend and reconciles the registry with it.
// Handles are reused per UDID, so identity is stable across refreshes.
// Devices that disappeared from the backend are forgotten.
func (p *Pool) refresh(ctx context.Context) error {
	p.mu.Lock()
	startGen := p.gen
	p.refreshing[startGen]++
	p.mu.Unlock()

	devices, err := p.deviceSet.Devices(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.endRefreshLocked(startGen)
	if err != nil {
		return fmt.Errorf("%w: enumerate devices: %w", ErrBackendOperationFailed, err)
	}

	seen := make(map[string]struct{}, len(devices))
	next := make([]*Simulator, 0, len(devices))
	for _, d := range devices {
		udid := d.UDID()
		sim, ok := p.byUDID[udid]
		if !ok {
			// Forgotten while we were enumerating: the listing is stale.
			if g, removed := p.removed[udid]; removed && g > startGen {
				continue
			}
			sim = newSimulator(d, p)
			p.byUDID[udid] = sim
		}
		seen[udid] = struct{}{}
		next = append(next, sim)
	}

	for _, sim := range p.sims {
		if _, ok := seen[sim.UDID()]; ok {
			continue
		}
		// Registered while we were enumerating: the listing predates it.
		if sim.addedGen > startGen {
			next = append(next, sim)
			continue
		}
		Logger().Info("simulator disappeared from device set", "udid", sim.UDID(), "name", sim.Name())
		sim.gone.Store(true)
		p.unmarkAllocatedLocked(sim)
		delete(p.byUDID, sim.UDID())
		delete(p.managed, sim.UDID())
		delete(p.busy, sim.UDID())
	}
	p.sims = next
	return nil
}

// endRefreshLocked unregisters a refresh that started at startGen and drops
// the tombstones no in-flight refresh can still need.
func (p *Pool) endRefreshLocked(startGen uint64) {
	if p.refreshing[startGen]--; p.refreshing[startGen] == 0 {
		delete(p.refreshing, startGen)
	}
	oldest := p.gen
	for g := range p.refreshing {
		oldest = min(oldest, g)
	}
	for udid, g := range p.removed {
		if g <= oldest {
			delete(p.removed, udid)
		}
	}
}

// snapshot returns a copy of all handles in backend order.
func (p *Pool) snapshot() []*Simulator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.sims)
}

// foreignAllocations returns the UDIDs allocated by other pools according
// to the ledger.
func (p *Pool) foreignAllocations(ctx context.Context) (map[string]struct{}, error) {
	if p.ledger == nil {
		return nil, nil
	}
	entries, err := p.ledger.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for _, e := range entries {
		if e.Allocated && e.Owner != p.owner {
			out[e.UDID] = struct{}{}
		}
	}
	return out, nil
}

// ledgerUDIDs returns every UDID recorded in the ledger by any pool.
func (p *Pool) ledgerUDIDs(ctx context.Context) (map[string]struct{}, error) {
	if p.ledger == nil {
		return nil, nil
	}
	entries, err := p.ledger.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		out[e.UDID] = struct{}{}
	}
	return out, nil
}

func (p *Pool) recordLedger(ctx context.Context, sim *Simulator, allocated bool) error {
	if p.ledger == nil {
		return nil
	}
	return p.ledger.Put(ctx, ledger.Entry{
		UDID:      sim.UDID(),
		Owner:     p.owner,
		PID:       os.Getpid(),
		Allocated: allocated,
	})
}

func (p *Pool) removeLedger(ctx context.Context, udid string) error {
	if p.ledger == nil {
		return nil
	}
	return p.ledger.Remove(ctx, udid)
}
