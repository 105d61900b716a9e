package simpool

import (
	"fmt"
	"time"
)

// requirePositive panics if v <= 0 with a descriptive message.
func requirePositive[T int | time.Duration](name string, v T) {
	if v <= 0 {
		panic(fmt.Sprintf("simpool: %s must be greater than 0, got %v", name, v))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("simpool: %s must not be empty", name))
	}
}

// PoolOption configures a Pool during construction via NewPool. Each With*
// function returns a PoolOption that sets a specific field.
//
// Several With* functions panic on invalid input. Option values are
// typically constants, so an invalid value is a programmer error and fails
// at construction like [regexp.MustCompile].
type PoolOption func(*poolConfig)

// WithNamePrefix sets the prefix of device names the pool creates and
// adopts. Devices whose names carry the prefix are pool-managed.
//
// Default: "E2E_".
//
// Panics if prefix is empty.
func WithNamePrefix(prefix string) PoolOption {
	requireNonEmpty("name prefix", prefix)
	return func(c *poolConfig) {
		c.NamePrefix = prefix
	}
}

// WithFreeStrategy sets what Free does with a device after shutting it
// down.
//
// Default: FreeKeep.
//
// Panics if s is not a recognized strategy.
func WithFreeStrategy(s FreeStrategy) PoolOption {
	if !s.IsValid() {
		panic(fmt.Sprintf("simpool: invalid free strategy: %v", s))
	}
	return func(c *poolConfig) {
		c.FreeStrategy = s
	}
}

// WithStateTimeout sets how long WaitOnState and bulk kills wait for a
// device to reach a state.
//
// Default: 30 seconds.
//
// Panics if d <= 0.
func WithStateTimeout(d time.Duration) PoolOption {
	requirePositive("state timeout", d)
	return func(c *poolConfig) {
		c.StateTimeout = d
	}
}

// WithPollInterval sets the delay between backend state reads while
// waiting on a state.
//
// Default: 50 milliseconds.
//
// Panics if d <= 0.
func WithPollInterval(d time.Duration) PoolOption {
	requirePositive("poll interval", d)
	return func(c *poolConfig) {
		c.PollInterval = d
	}
}

// WithBulkConcurrency sets how many devices KillAll, EraseAll and DeleteAll
// work on at once.
//
// Default: 1 (sequential).
//
// Panics if n <= 0.
func WithBulkConcurrency(n int) PoolOption {
	requirePositive("bulk concurrency", n)
	return func(c *poolConfig) {
		c.BulkConcurrency = n
	}
}

// WithLedgerPath enables the SQLite allocation ledger at path. Pools of
// every process that share a ledger never allocate the same device, and
// KillSpurious spares devices other pools are responsible for. The parent
// directory is created if needed.
//
// Default: no ledger; allocations are only coordinated within this process.
//
// Panics if path is empty.
func WithLedgerPath(path string) PoolOption {
	requireNonEmpty("ledger path", path)
	return func(c *poolConfig) {
		c.LedgerPath = path
	}
}

// WithKillSpuriousOnInitialize makes Initialize kill running devices that no
// pool is responsible for.
//
// Default: false.
func WithKillSpuriousOnInitialize(enabled bool) PoolOption {
	return func(c *poolConfig) {
		c.KillSpuriousOnInitialize = enabled
	}
}

// WithDeleteManagedOnInitialize makes Initialize delete leftover
// pool-managed devices, so every allocation creates a fresh device.
//
// Default: false.
func WithDeleteManagedOnInitialize(enabled bool) PoolOption {
	return func(c *poolConfig) {
		c.DeleteManagedOnInitialize = enabled
	}
}
