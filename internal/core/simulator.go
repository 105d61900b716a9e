package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"
	"weak"

	"github.com/giantswarm/simpool/internal/backend"
	"github.com/giantswarm/simpool/internal/fileutil"
	"github.com/giantswarm/simpool/internal/poll"
)

const (
	// DefaultStateTimeout bounds WaitOnState and the bulk shutdown wait.
	DefaultStateTimeout = 30 * time.Second

	// DefaultPollInterval is the delay between state reads while waiting.
	DefaultPollInterval = 50 * time.Millisecond
)

// Simulator is a handle to one device of a pool's device set. Identity
// accessors never touch the backend; State and the process accessors read
// live backend state on every call.
//
// A Simulator never keeps its pool alive: the back-reference is weak, and
// FreeFromPool reports ErrPoolUnreachable once the pool has been collected.
type Simulator struct {
	device backend.Device
	pool   weak.Pointer[Pool]

	stateTimeout time.Duration
	pollInterval time.Duration

	// allocated is written only while holding the owning pool's mu, so it
	// always agrees with the pool's allocation list.
	allocated atomic.Bool

	// gone is set once the device has been deleted or has disappeared
	// from the backend. It never resets.
	gone atomic.Bool

	// addedGen is the registry generation at which the pool registered
	// this handle outside a refresh.
	addedGen uint64
}

// newSimulator wraps d. p may be nil for detached handles in tests.
func newSimulator(d backend.Device, p *Pool) *Simulator {
	s := &Simulator{
		device:       d,
		stateTimeout: DefaultStateTimeout,
		pollInterval: DefaultPollInterval,
	}
	if p != nil {
		s.pool = weak.Make(p)
		s.stateTimeout = p.cfg.StateTimeout
		s.pollInterval = p.cfg.PollInterval
	}
	return s
}

// UDID returns the device's unique identifier.
func (s *Simulator) UDID() string { return s.device.UDID() }

// Name returns the device's display name.
func (s *Simulator) Name() string { return s.device.Name() }

// DeviceType returns the device type, e.g. "iPhone 15".
func (s *Simulator) DeviceType() string { return s.device.DeviceType() }

// Runtime returns the OS runtime, e.g. "iOS 17.2".
func (s *Simulator) Runtime() string { return s.device.Runtime() }

// Configuration returns the configuration this simulator satisfies.
func (s *Simulator) Configuration() Configuration {
	return Configuration{DeviceType: s.DeviceType(), Runtime: s.Runtime()}
}

// DataDirectory returns the device's data directory.
func (s *Simulator) DataDirectory() string { return s.device.DataPath() }

// IsAllocated reports whether the owning pool currently has this simulator
// allocated.
func (s *Simulator) IsAllocated() bool { return s.allocated.Load() }

// IsGone reports whether the device has been deleted.
func (s *Simulator) IsGone() bool { return s.gone.Load() }

// State reads the current state from the backend. Read failures and
// deleted devices report StateUnknown.
func (s *Simulator) State(ctx context.Context) State {
	if s.gone.Load() {
		return StateUnknown
	}
	str, err := s.device.StateString(ctx)
	if err != nil {
		Logger().Debug("failed to read device state", "udid", s.UDID(), "error", err)
		return StateUnknown
	}
	return StateFromString(str)
}

// ProcessIdentifier returns the PID of the device's main process, or -1
// unless the device is Booting or Booted.
func (s *Simulator) ProcessIdentifier(ctx context.Context) int {
	return s.processIdentifiers(ctx).Main
}

// LaunchdBootstrapProcessIdentifier returns the PID of the device's
// launchd_sim process, or -1 unless the device is Booting or Booted.
func (s *Simulator) LaunchdBootstrapProcessIdentifier(ctx context.Context) int {
	return s.processIdentifiers(ctx).LaunchdBootstrap
}

func (s *Simulator) processIdentifiers(ctx context.Context) backend.ProcessIdentifiers {
	if !s.State(ctx).IsRunning() {
		return backend.NoProcesses
	}
	pids, err := s.device.ProcessIdentifiers(ctx)
	if err != nil {
		Logger().Debug("failed to read process identifiers", "udid", s.UDID(), "error", err)
		return backend.NoProcesses
	}
	return pids
}

// LaunchdBootstrapPath returns the launchd bootstrap plist of a Booted
// device, or "" in any other state or when the file does not exist.
func (s *Simulator) LaunchdBootstrapPath(ctx context.Context) string {
	if s.State(ctx) != StateBooted {
		return ""
	}
	path := filepath.Join(s.DataDirectory(), "var", "run", "launchd_bootstrap.plist")
	if !fileutil.Exists(path) {
		return ""
	}
	return path
}

// Boot asks the backend to boot the device. It does not wait; use
// WaitOnState(ctx, StateBooted) for that.
func (s *Simulator) Boot(ctx context.Context) error {
	if s.gone.Load() {
		return fmt.Errorf("boot %s: %w", s.Name(), ErrDeviceGone)
	}
	if err := s.device.Boot(ctx); err != nil {
		return s.deviceFailure(ctx, "boot "+s.Name(), err)
	}
	s.narrate("booted simulator")
	return nil
}

// Shutdown asks the backend to shut the device down. It does not wait.
func (s *Simulator) Shutdown(ctx context.Context) error {
	if s.gone.Load() {
		return fmt.Errorf("shut down %s: %w", s.Name(), ErrDeviceGone)
	}
	if err := s.device.Shutdown(ctx); err != nil {
		return s.deviceFailure(ctx, "shut down "+s.Name(), err)
	}
	s.narrate("shut down simulator")
	return nil
}

// WaitOnState waits up to the pool's state timeout for the device to reach
// target. It returns true only on an exact match within the window.
func (s *Simulator) WaitOnState(ctx context.Context, target State) bool {
	return s.WaitOnStateTimeout(ctx, target, s.stateTimeout)
}

// WaitOnStateTimeout waits up to timeout for the device to reach target.
// A non-positive timeout checks the current state once.
func (s *Simulator) WaitOnStateTimeout(ctx context.Context, target State, timeout time.Duration) bool {
	if timeout <= 0 {
		return s.State(ctx) == target
	}
	err := poll.Until(ctx, poll.Config{
		Interval: s.pollInterval,
		Timeout:  timeout,
		Name:     s.UDID() + " state " + target.String(),
		Logger:   Logger(),
	}, func(pollCtx context.Context, _ int) (bool, error) {
		return s.State(pollCtx) == target, nil
	})
	return err == nil
}

// FreeFromPool frees the simulator through its owning pool.
func (s *Simulator) FreeFromPool(ctx context.Context) error {
	p := s.pool.Value()
	if p == nil {
		return fmt.Errorf("free %s: %w", s.Name(), ErrPoolUnreachable)
	}
	return p.Free(ctx, s)
}

// String implements fmt.Stringer without querying the backend.
func (s *Simulator) String() string {
	status := "free"
	switch {
	case s.gone.Load():
		status = "gone"
	case s.allocated.Load():
		status = "allocated"
	}
	return fmt.Sprintf("%s | %s | %s | %s", s.Name(), s.UDID(), s.Configuration(), status)
}

func (s *Simulator) narrate(msg string, args ...any) {
	if p := s.pool.Value(); p != nil {
		p.narrate(msg, s, args...)
	}
}

// deviceFailure is backendFailure for an operation on s. When the backend
// no longer knows the device, s is forgotten by its pool and the error wraps
// ErrDeviceGone instead.
func (s *Simulator) deviceFailure(ctx context.Context, op string, err error) error {
	if !errors.Is(err, backend.ErrDeviceNotFound) {
		return backendFailure(op, err)
	}
	if p := s.pool.Value(); p != nil {
		p.vanished(ctx, s)
	} else {
		s.gone.Store(true)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDeviceGone, err)
}

// backendFailure wraps a backend error with ErrBackendOperationFailed. A
// configuration the backend cannot satisfy is reported as
// ErrNoMatchingConfiguration instead.
func backendFailure(op string, err error) error {
	if errors.Is(err, ErrNoMatchingConfiguration) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrBackendOperationFailed, err)
}
