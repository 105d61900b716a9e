package core

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/giantswarm/simpool/internal/backend"
	"github.com/giantswarm/simpool/internal/fakesim"
)

var errInjected = errors.New("injected backend failure")

func TestNewPoolPanics(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		set     backend.DeviceSet
		cfg     PoolConfig
		wantMsg string
	}{
		"nil device set": {
			set:     nil,
			cfg:     validPoolConfig(),
			wantMsg: "simpool: NewPool device set must not be nil",
		},
		"invalid config": {
			set:     fakesim.New(),
			cfg:     PoolConfig{},
			wantMsg: "simpool: invalid pool config",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			requirePanicContains(t, func() { NewPool(tc.cfg, tc.set) }, tc.wantMsg)
		})
	}
}

func TestPoolLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := NewPool(validPoolConfig(), fakesim.New())

	if _, err := p.Allocate(ctx, iPhone); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Allocate before Initialize = %v, want ErrNotInitialized", err)
	}
	if _, err := p.KillAll(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("KillAll before Initialize = %v, want ErrNotInitialized", err)
	}

	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}

	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := p.Allocate(ctx, iPhone); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Allocate after Close = %v, want ErrPoolClosed", err)
	}
	if err := p.Initialize(ctx); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Initialize after Close = %v, want ErrPoolClosed", err)
	}
}

func TestInitializeRetriesAfterFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	set.Fail(fakesim.OpList, "", errInjected)
	p := NewPool(validPoolConfig(), set)

	err := p.Initialize(ctx)
	if !errors.Is(err, ErrBackendOperationFailed) || !errors.Is(err, errInjected) {
		t.Fatalf("Initialize = %v, want backend failure", err)
	}
	if _, err := p.Allocate(ctx, iPhone); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Allocate after failed Initialize = %v, want ErrNotInitialized", err)
	}

	set.Fail(fakesim.OpList, "", nil)
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("retry Initialize: %v", err)
	}
}

func TestAllocateCreatesDevice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	p := newTestPool(t, set)

	sim, err := p.Allocate(ctx, iPhone)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if sim.Name() != "E2E_iPhone 15_iOS 17.2" {
		t.Errorf("Name() = %q", sim.Name())
	}
	if !sim.IsAllocated() {
		t.Error("allocated simulator must report IsAllocated")
	}
	if sim.State(ctx) != StateShutdown {
		t.Errorf("new device state = %v, want Shutdown", sim.State(ctx))
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 backend device, got %d", set.Len())
	}

	all, err := p.AllSimulators(ctx)
	if err != nil {
		t.Fatalf("AllSimulators: %v", err)
	}
	if len(all) != 1 || all[0] != sim {
		t.Fatalf("AllSimulators must return the same handle, got %v", all)
	}
}

func TestAllocateFirstMatchIsDeterministic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	first := seed(set, "E2E_a", backend.StateShutdown)
	seed(set, "E2E_b", backend.StateShutdown)
	p := newTestPool(t, set)

	for i := range 5 {
		sim, err := p.Allocate(ctx, iPhone)
		if err != nil {
			t.Fatalf("round %d Allocate: %v", i, err)
		}
		if sim.UDID() != first.UDID() {
			t.Fatalf("round %d: got %s, want first device %s", i, sim.Name(), first.Name())
		}
		if err := p.Free(ctx, sim); err != nil {
			t.Fatalf("round %d Free: %v", i, err)
		}
	}
	if set.Len() != 2 {
		t.Fatalf("no device should have been created, have %d", set.Len())
	}
}

func TestAllocateCandidateFiltering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	seed(set, "Manual iPhone", backend.StateShutdown)
	set.Add(backend.DeviceSpec{Name: "E2E_ipad", DeviceType: "iPad Air", Runtime: "iOS 17.2"}, backend.StateShutdown)
	set.Add(backend.DeviceSpec{Name: "E2E_old", DeviceType: "iPhone 15", Runtime: "iOS 16.4"}, backend.StateShutdown)
	p := newTestPool(t, set)

	sim, err := p.Allocate(ctx, iPhone)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if sim.Name() != "E2E_iPhone 15_iOS 17.2" {
		t.Fatalf("expected a created device, got %s", sim.Name())
	}

	anyRuntime, err := p.Allocate(ctx, Configuration{DeviceType: "iPhone 15"})
	if err != nil {
		t.Fatalf("Allocate any runtime: %v", err)
	}
	if anyRuntime.Name() != "E2E_old" {
		t.Fatalf("empty runtime should match E2E_old, got %s", anyRuntime.Name())
	}
}

func TestAllocateNoMatchingConfiguration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := newTestPool(t, fakesim.New(fakesim.WithDeviceTypes("iPhone 15")))

	tests := map[string]Configuration{
		"empty device type":       {},
		"unsupported device type": {DeviceType: "Apple TV"},
	}

	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			sim, err := p.Allocate(ctx, cfg)
			if sim != nil {
				t.Fatal("expected no handle")
			}
			if !errors.Is(err, ErrNoMatchingConfiguration) {
				t.Fatalf("expected ErrNoMatchingConfiguration, got %v", err)
			}
			if errors.Is(err, ErrBackendOperationFailed) {
				t.Fatalf("configuration errors must not be reported as backend failures: %v", err)
			}
		})
	}
}

func TestAllocateBackendFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	set.Fail(fakesim.OpCreate, "", errInjected)
	p := newTestPool(t, set)

	sim, err := p.Allocate(ctx, iPhone)
	if sim != nil {
		t.Fatal("expected no handle")
	}
	if !errors.Is(err, ErrBackendOperationFailed) || !errors.Is(err, errInjected) {
		t.Fatalf("expected wrapped backend failure, got %v", err)
	}
	allocated, _ := p.AllocatedSimulators(ctx)
	if len(allocated) != 0 {
		t.Fatalf("failed allocation must not be recorded, got %v", allocated)
	}
}

func TestAllocateExclusivity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	for _, name := range []string{"E2E_1", "E2E_2", "E2E_3", "E2E_4", "E2E_5"} {
		seed(set, name, backend.StateShutdown)
	}
	p := newTestPool(t, set, func(c *PoolConfig) { c.BulkConcurrency = 4 })

	const callers = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		got  = make(map[string]int)
		errs []error
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim, err := p.Allocate(ctx, iPhone)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			got[sim.UDID()]++
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("Allocate errors: %v", errors.Join(errs...))
	}
	if len(got) != callers {
		t.Fatalf("expected %d distinct devices, got %d", callers, len(got))
	}
	for udid, n := range got {
		if n != 1 {
			t.Errorf("device %s handed out %d times", udid, n)
		}
	}

	allocated, err := p.AllocatedSimulators(ctx)
	if err != nil {
		t.Fatalf("AllocatedSimulators: %v", err)
	}
	if len(allocated) != callers {
		t.Fatalf("AllocatedSimulators has %d entries, want %d", len(allocated), callers)
	}
}

func TestAllocatedSimulatorsRecencyOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	a := seed(set, "E2E_a", backend.StateShutdown)
	b := seed(set, "E2E_b", backend.StateShutdown)
	p := newTestPool(t, set)

	simA, _ := p.Allocate(ctx, iPhone)
	simB, _ := p.Allocate(ctx, iPhone)
	if err := p.Free(ctx, simA); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := p.Allocate(ctx, iPhone); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	allocated, _ := p.AllocatedSimulators(ctx)
	want := []string{b.UDID(), a.UDID()}
	if !slices.Equal(udids(allocated), want) {
		t.Fatalf("allocation order = %v, want %v (%s last)", udids(allocated), want, simB.Name())
	}
}

func TestFreeRejectsDoubleFree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	seed(set, "E2E_a", backend.StateShutdown)
	p := newTestPool(t, set)

	sim, err := p.Allocate(ctx, iPhone)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := p.Free(ctx, sim); err != nil {
		t.Fatalf("Free: %v", err)
	}

	before, _ := p.UnallocatedSimulators(ctx)
	if err := p.Free(ctx, sim); !errors.Is(err, ErrNotAllocated) {
		t.Fatalf("second Free = %v, want ErrNotAllocated", err)
	}
	after, _ := p.UnallocatedSimulators(ctx)
	allocated, _ := p.AllocatedSimulators(ctx)

	if !slices.Equal(udids(before), udids(after)) || len(allocated) != 0 {
		t.Fatalf("double free changed bookkeeping: before=%v after=%v allocated=%v",
			udids(before), udids(after), udids(allocated))
	}
	if sim.IsAllocated() {
		t.Fatal("freed simulator must not report IsAllocated")
	}
}

func TestFreeRejectsForeignHandles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	seed(set, "E2E_a", backend.StateShutdown)
	p := newTestPool(t, set)
	other := newTestPool(t, set)

	if err := p.Free(ctx, nil); !errors.Is(err, ErrNotAllocated) {
		t.Fatalf("Free(nil) = %v, want ErrNotAllocated", err)
	}

	sim, err := other.Allocate(ctx, iPhone)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := p.Free(ctx, sim); !errors.Is(err, ErrNotAllocated) {
		t.Fatalf("Free of another pool's handle = %v, want ErrNotAllocated", err)
	}
	if !sim.IsAllocated() {
		t.Fatal("rejected free must not clear the allocation")
	}
}

func TestFreeShutsDownRunningDevice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	dev := seed(set, "E2E_a", backend.StateShutdown)
	p := newTestPool(t, set)

	sim, _ := p.Allocate(ctx, iPhone)
	if err := sim.Boot(ctx); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := sim.FreeFromPool(ctx); err != nil {
		t.Fatalf("FreeFromPool: %v", err)
	}
	if st := stateOf(t, dev); st != backend.StateShutdown {
		t.Fatalf("state after free = %q, want Shutdown", st)
	}
}

func TestFreeShutdownFailureStillFrees(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	dev := seed(set, "E2E_a", backend.StateBooted)
	set.Fail(fakesim.OpShutdown, dev.UDID(), errInjected)
	p := newTestPool(t, set)

	sim, _ := p.Allocate(ctx, iPhone)
	err := p.Free(ctx, sim)
	if !errors.Is(err, ErrBackendOperationFailed) || !errors.Is(err, errInjected) {
		t.Fatalf("Free = %v, want surfaced shutdown failure", err)
	}
	if sim.IsAllocated() {
		t.Fatal("simulator must be freed despite the shutdown failure")
	}
	unallocated, _ := p.UnallocatedSimulators(ctx)
	if len(unallocated) != 1 || unallocated[0] != sim {
		t.Fatalf("freed simulator must be unallocated, got %v", unallocated)
	}
}

func TestFreeStrategies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("erase", func(t *testing.T) {
		t.Parallel()
		set := fakesim.New()
		dev := seed(set, "E2E_a", backend.StateShutdown)
		p := newTestPool(t, set, func(c *PoolConfig) { c.FreeStrategy = FreeErase })

		sim, _ := p.Allocate(ctx, iPhone)
		if err := p.Free(ctx, sim); err != nil {
			t.Fatalf("Free: %v", err)
		}
		if calls := set.Calls(fakesim.OpErase); len(calls) != 1 || calls[0].UDID != dev.UDID() {
			t.Fatalf("expected one erase of %s, got %v", dev.UDID(), calls)
		}
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		set := fakesim.New()
		seed(set, "E2E_a", backend.StateBooted)
		p := newTestPool(t, set, func(c *PoolConfig) { c.FreeStrategy = FreeDelete })

		sim, _ := p.Allocate(ctx, iPhone)
		if err := p.Free(ctx, sim); err != nil {
			t.Fatalf("Free: %v", err)
		}
		if set.Len() != 0 {
			t.Fatalf("device should be deleted, set has %d", set.Len())
		}
		if !sim.IsGone() {
			t.Fatal("deleted simulator must report IsGone")
		}
		if err := p.Free(ctx, sim); !errors.Is(err, ErrDeviceGone) {
			t.Fatalf("Free of deleted handle = %v, want ErrDeviceGone", err)
		}
		if err := sim.Boot(ctx); !errors.Is(err, ErrDeviceGone) {
			t.Fatalf("Boot of deleted handle = %v, want ErrDeviceGone", err)
		}
		if sim.State(ctx) != StateUnknown {
			t.Fatalf("deleted handle state = %v, want Unknown", sim.State(ctx))
		}
	})
}

func TestFreeFromPoolUnreachable(t *testing.T) {
	t.Parallel()

	set := fakesim.New()
	dev := seed(set, "E2E_a", backend.StateShutdown)
	sim := newSimulator(dev, nil)

	if err := sim.FreeFromPool(context.Background()); !errors.Is(err, ErrPoolUnreachable) {
		t.Fatalf("FreeFromPool without pool = %v, want ErrPoolUnreachable", err)
	}
}

func TestDeviceDisappearsFromBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	dev := seed(set, "E2E_a", backend.StateShutdown)
	p := newTestPool(t, set)

	sim, _ := p.Allocate(ctx, iPhone)
	if err := set.DeleteDevice(ctx, dev.UDID()); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}

	all, err := p.AllSimulators(ctx)
	if err != nil {
		t.Fatalf("AllSimulators: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("vanished device must be dropped, got %v", all)
	}
	allocated, _ := p.AllocatedSimulators(ctx)
	if len(allocated) != 0 {
		t.Fatalf("vanished device must leave the allocation list, got %v", allocated)
	}
	if !sim.IsGone() || sim.IsAllocated() {
		t.Fatalf("vanished handle: gone=%v allocated=%v", sim.IsGone(), sim.IsAllocated())
	}
	if err := p.Free(ctx, sim); !errors.Is(err, ErrDeviceGone) {
		t.Fatalf("Free = %v, want ErrDeviceGone", err)
	}
}

// heldListing holds the next Devices result until release is closed. The
// listing is taken before the hold, so it goes stale while held.
type heldListing struct {
	*fakesim.DeviceSet

	mu      sync.Mutex
	armed   bool
	listed  chan struct{}
	release chan struct{}
}

func (h *heldListing) arm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.armed = true
}

func (h *heldListing) Devices(ctx context.Context) ([]backend.Device, error) {
	devices, err := h.DeviceSet.Devices(ctx)
	h.mu.Lock()
	hold := h.armed
	h.armed = false
	h.mu.Unlock()
	if hold {
		close(h.listed)
		<-h.release
	}
	return devices, err
}

func TestStaleListingDoesNotResurrectDeletedDevice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := &heldListing{
		DeviceSet: fakesim.New(),
		listed:    make(chan struct{}),
		release:   make(chan struct{}),
	}
	cfg := validPoolConfig()
	cfg.FreeStrategy = FreeDelete
	p := NewPool(cfg, set)
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	first, err := p.Allocate(ctx, iPhone)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	deletedUDID := first.UDID()

	type result struct {
		sim *Simulator
		err error
	}
	done := make(chan result, 1)
	set.arm()
	go func() {
		sim, err := p.Allocate(ctx, iPhone)
		done <- result{sim, err}
	}()
	<-set.listed

	// The held listing still shows the device; delete it and let a newer
	// refresh complete before the held one is applied.
	if err := p.Free(ctx, first); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := p.AllSimulators(ctx); err != nil {
		t.Fatalf("AllSimulators: %v", err)
	}
	close(set.release)

	res := <-done
	if res.err != nil {
		t.Fatalf("second Allocate: %v", res.err)
	}
	if res.sim.UDID() == deletedUDID {
		t.Fatal("Allocate returned a handle for a deleted device")
	}
	if res.sim.IsGone() || set.Get(res.sim.UDID()) == nil {
		t.Fatalf("allocated %s must exist in the backend", res.sim.Name())
	}
	if set.Get(deletedUDID) != nil {
		t.Fatal("deleted device reappeared in the backend")
	}
	all, err := p.AllSimulators(ctx)
	if err != nil {
		t.Fatalf("AllSimulators: %v", err)
	}
	if slices.Contains(udids(all), deletedUDID) {
		t.Fatalf("AllSimulators = %v, must not contain the deleted device", udids(all))
	}
}

func TestStartLoggingInteractions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	set := fakesim.New()
	seed(set, "E2E_a", backend.StateShutdown)
	p := newTestPool(t, set)

	// Nothing attached yet: must not panic and must not be recorded.
	sim, _ := p.Allocate(ctx, iPhone)
	_ = p.Free(ctx, sim)

	var buf bytes.Buffer
	p.StartLoggingInteractions(slog.New(slog.NewTextHandler(&buf, nil)))

	sim, _ = p.Allocate(ctx, iPhone)
	_ = p.Free(ctx, sim)

	out := buf.String()
	for _, want := range []string{"allocated simulator", "freed simulator", "name=E2E_a"} {
		if !strings.Contains(out, want) {
			t.Errorf("interaction log missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "allocated simulator") != 1 {
		t.Errorf("only the allocation after attaching should be logged:\n%s", out)
	}
}

func TestInitializeOptions(t *testing.T) {
	t.Parallel()

	t.Run("delete managed", func(t *testing.T) {
		t.Parallel()
		set := fakesim.New()
		seed(set, "E2E_leftover", backend.StateBooted)
		manual := seed(set, "Manual", backend.StateBooted)
		newTestPool(t, set, func(c *PoolConfig) { c.DeleteManagedOnInitialize = true })

		if set.Len() != 1 || set.Get(manual.UDID()) == nil {
			t.Fatalf("only the unmanaged device should remain, have %d", set.Len())
		}
		if st := stateOf(t, manual); st != backend.StateBooted {
			t.Fatalf("unmanaged device state = %q, want Booted", st)
		}
	})

	t.Run("kill spurious", func(t *testing.T) {
		t.Parallel()
		set := fakesim.New()
		managed := seed(set, "E2E_keep", backend.StateBooted)
		manual := seed(set, "Manual", backend.StateBooted)
		newTestPool(t, set, func(c *PoolConfig) { c.KillSpuriousOnInitialize = true })

		if st := stateOf(t, manual); st != backend.StateShutdown {
			t.Fatalf("spurious device state = %q, want Shutdown", st)
		}
		if st := stateOf(t, managed); st != backend.StateBooted {
			t.Fatalf("managed device state = %q, want Booted", st)
		}
	})
}
