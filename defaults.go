package simpool

import "github.com/giantswarm/simpool/internal/core"

// Default configuration values for NewPool.
const (
	// DefaultNamePrefix prefixes the names of devices the pool creates.
	// Prefix-named devices found on Initialize are treated as pool-managed.
	DefaultNamePrefix = "E2E_"

	// DefaultStateTimeout bounds WaitOnState and the wait for a device to
	// reach Shutdown during bulk kills.
	DefaultStateTimeout = core.DefaultStateTimeout

	// DefaultPollInterval is the delay between state reads while waiting.
	DefaultPollInterval = core.DefaultPollInterval

	// DefaultBulkConcurrency runs bulk operations one device at a time.
	DefaultBulkConcurrency = 1

	// DefaultFreeStrategy is the strategy applied by Free when none is
	// configured via WithFreeStrategy.
	DefaultFreeStrategy = FreeKeep
)
