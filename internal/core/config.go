package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/giantswarm/simpool/internal/backend"
)

// Configuration selects the kind of simulator to allocate.
type Configuration struct {
	// DeviceType is the backend device type name, e.g. "iPhone 15".
	DeviceType string
	// Runtime is the OS runtime, e.g. "iOS 17.2". Empty matches any
	// runtime and lets the backend choose one when creating.
	Runtime string
}

// Validate reports ErrNoMatchingConfiguration for a configuration that can
// never match a device.
func (c Configuration) Validate() error {
	if strings.TrimSpace(c.DeviceType) == "" {
		return fmt.Errorf("device type must not be empty: %w", ErrNoMatchingConfiguration)
	}
	return nil
}

// DeviceName returns the name given to devices the pool creates for c.
func (c Configuration) DeviceName(prefix string) string {
	if c.Runtime == "" {
		return prefix + c.DeviceType
	}
	return prefix + c.DeviceType + "_" + c.Runtime
}

// String implements fmt.Stringer.
func (c Configuration) String() string {
	if c.Runtime == "" {
		return c.DeviceType
	}
	return c.DeviceType + " (" + c.Runtime + ")"
}

// matches reports whether d has the device type and runtime of c.
func (c Configuration) matches(d backend.Device) bool {
	if d.DeviceType() != c.DeviceType {
		return false
	}
	return c.Runtime == "" || d.Runtime() == c.Runtime
}

func (c Configuration) spec(prefix string) backend.DeviceSpec {
	return backend.DeviceSpec{
		Name:       c.DeviceName(prefix),
		DeviceType: c.DeviceType,
		Runtime:    c.Runtime,
	}
}

// PoolConfig holds configuration for Pool instances. All fields are
// immutable after construction via NewPool.
type PoolConfig struct {
	// NamePrefix prefixes the names of devices the pool creates. Devices
	// carrying it are treated as pool-managed and are the only allocation
	// candidates.
	NamePrefix string

	// FreeStrategy controls what Free does with a device after shutting it
	// down. Default: FreeKeep.
	FreeStrategy FreeStrategy

	// StateTimeout bounds how long bulk operations wait for a device to
	// reach Shutdown, and is the WaitOnState default.
	StateTimeout time.Duration

	// PollInterval is the delay between backend state reads while waiting.
	PollInterval time.Duration

	// BulkConcurrency is the number of devices KillAll, EraseAll and
	// DeleteAll work on at once. 1 runs them sequentially.
	BulkConcurrency int

	// LedgerPath, when set, points at a SQLite allocation ledger shared by
	// every pool using the same device set, across processes.
	LedgerPath string

	// KillSpuriousOnInitialize kills unmanaged running devices during
	// Initialize.
	KillSpuriousOnInitialize bool

	// DeleteManagedOnInitialize deletes leftover pool-managed devices
	// during Initialize, so the pool starts from an empty set.
	DeleteManagedOnInitialize bool
}

// Validate checks all PoolConfig invariants and returns an error describing
// every violation found, joined with errors.Join.
//
// Validate is called by NewPool, which panics on error, and again by
// Initialize, which returns it.
func (c PoolConfig) Validate() error {
	var errs []error

	if c.NamePrefix == "" {
		errs = append(errs, errors.New("name prefix must not be empty"))
	}
	if !c.FreeStrategy.IsValid() {
		errs = append(errs, fmt.Errorf("invalid free strategy: %v", c.FreeStrategy))
	}
	if c.StateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("state timeout must be greater than 0, got %s", c.StateTimeout))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be greater than 0, got %s", c.PollInterval))
	}
	if c.BulkConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("bulk concurrency must be greater than 0, got %d", c.BulkConcurrency))
	}

	return errors.Join(errs...)
}
