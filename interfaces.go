package simpool

import (
	"context"
	"log/slog"
	"time"
)

// Pool arbitrates access to the simulators of one device set.
//
// Callers must follow this lifecycle ordering:
//
//	NewPool → Initialize → Allocate/Free and bulk operations → Close
//
// Every operation other than Close returns ErrNotInitialized before
// Initialize and ErrPoolClosed after Close.
type Pool interface {
	// Initialize enumerates the device set and adopts prefix-named devices
	// as pool-managed. With a ledger configured, it also opens the ledger and
	// releases allocations of processes that no longer exist. The
	// on-initialize cleanup options run last.
	//
	// Safe to call multiple times: after a successful initialization,
	// subsequent calls return nil immediately. If initialization fails,
	// subsequent calls retry.
	Initialize(ctx context.Context) error

	// Close releases this pool's ledger allocations and closes the ledger.
	// It does not touch any device. Safe to call before Initialize and more
	// than once.
	Close(ctx context.Context) error

	// Allocate claims a free simulator matching cfg, creating a new device
	// when none exists. The first match in device set order wins, so
	// allocation is reproducible across runs. Concurrent callers never
	// receive the same simulator.
	//
	// Returns an error wrapping ErrNoMatchingConfiguration when the backend
	// cannot provide cfg, or ErrBackendOperationFailed when a device set
	// call fails.
	Allocate(ctx context.Context, cfg Configuration) (Simulator, error)

	// Free returns an allocated simulator to the pool, shutting it down if
	// it is running and applying the configured FreeStrategy. A shutdown
	// failure is returned but does not prevent the free.
	//
	// Returns ErrNotAllocated for a simulator this pool did not allocate,
	// including a second free.
	Free(ctx context.Context, sim Simulator) error

	// KillAll shuts down every device in the set and returns those that
	// reached Shutdown, together with the joined per-device failures.
	KillAll(ctx context.Context) ([]Simulator, error)

	// KillSpurious shuts down running devices that no pool is responsible
	// for.
	KillSpurious(ctx context.Context) error

	// EraseAll kills every device, then erases the pool-managed ones that
	// reached Shutdown and are not allocated by another pool. It returns the
	// erased simulators.
	EraseAll(ctx context.Context) ([]Simulator, error)

	// DeleteAll kills every device, then deletes the pool-managed ones that
	// reached Shutdown and are not allocated by another pool. It returns the
	// names of the deleted devices.
	DeleteAll(ctx context.Context) ([]string, error)

	// SimulatorWithUDID returns the simulator for udid, or an error
	// wrapping ErrDeviceNotFound.
	SimulatorWithUDID(ctx context.Context, udid string) (Simulator, error)

	// DeviceUDIDWithName returns the UDID of the first device named name
	// running sdk, searching the whole device set. An empty sdk matches any
	// runtime.
	DeviceUDIDWithName(ctx context.Context, name, sdk string) (string, error)

	// AllocatedSimulatorWithDeviceType returns the least recently allocated
	// simulator of deviceType, or an error wrapping ErrDeviceNotFound.
	AllocatedSimulatorWithDeviceType(ctx context.Context, deviceType string) (Simulator, error)

	// AllSimulators returns every device in the set.
	AllSimulators(ctx context.Context) ([]Simulator, error)

	// AllocatedSimulators returns this pool's allocations, most recent last.
	AllocatedSimulators(ctx context.Context) ([]Simulator, error)

	// UnallocatedSimulators returns every device this pool has not
	// allocated.
	UnallocatedSimulators(ctx context.Context) ([]Simulator, error)

	// LaunchedSimulators returns every device that is Booting or Booted.
	LaunchedSimulators(ctx context.Context) ([]Simulator, error)

	// StartLoggingInteractions narrates allocations, frees and bulk
	// operations to l. A nil l stops the narration.
	StartLoggingInteractions(l *slog.Logger)

	// DebugDescription returns a multi-line summary of the pool.
	DebugDescription(ctx context.Context) string
}

// Simulator is a handle to one device. Identity accessors never touch the
// backend; State and the process accessors read live state on every call.
type Simulator interface {
	UDID() string
	Name() string
	DeviceType() string
	Runtime() string
	Configuration() Configuration
	DataDirectory() string

	// IsAllocated reports whether the owning pool has this simulator
	// allocated.
	IsAllocated() bool

	// IsGone reports whether the device has been deleted or has
	// disappeared from the device set.
	IsGone() bool

	// State reads the device state. Read failures report StateUnknown.
	State(ctx context.Context) State

	// ProcessIdentifier returns the PID of the device's main process, or -1
	// unless the device is Booting or Booted.
	ProcessIdentifier(ctx context.Context) int

	// LaunchdBootstrapProcessIdentifier returns the PID of the device's
	// launchd_sim, or -1 unless the device is Booting or Booted.
	LaunchdBootstrapProcessIdentifier(ctx context.Context) int

	// LaunchdBootstrapPath returns the launchd bootstrap plist of a Booted
	// device, or "" when the device is not Booted or the file is missing.
	LaunchdBootstrapPath(ctx context.Context) string

	// Boot and Shutdown ask the backend for the transition without waiting
	// for it; use WaitOnState for that.
	Boot(ctx context.Context) error
	Shutdown(ctx context.Context) error

	// WaitOnState waits up to the pool's state timeout for the device to
	// reach state and reports whether it did.
	WaitOnState(ctx context.Context, state State) bool

	// WaitOnStateTimeout is WaitOnState with an explicit timeout.
	WaitOnStateTimeout(ctx context.Context, state State, timeout time.Duration) bool

	// FreeFromPool frees the simulator through its owning pool. Returns
	// ErrPoolUnreachable once that pool has been garbage collected.
	FreeFromPool(ctx context.Context) error

	String() string
}
