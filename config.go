package simpool

import "github.com/giantswarm/simpool/internal/core"

// poolConfig holds configuration for a Pool. This unexported type wraps
// core.PoolConfig via embedding, keeping internal/core types out of the
// public API signature while avoiding field-by-field duplication.
type poolConfig struct {
	core.PoolConfig
}

// toCoreConfig returns the embedded core.PoolConfig.
func (c poolConfig) toCoreConfig() core.PoolConfig {
	return c.PoolConfig
}

// defaultPoolConfig returns a poolConfig populated with all default values.
func defaultPoolConfig() poolConfig {
	return poolConfig{core.PoolConfig{
		NamePrefix:      DefaultNamePrefix,
		FreeStrategy:    DefaultFreeStrategy,
		StateTimeout:    DefaultStateTimeout,
		PollInterval:    DefaultPollInterval,
		BulkConcurrency: DefaultBulkConcurrency,
	}}
}
