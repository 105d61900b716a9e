package simpool

import "time"

// ConfigSnapshot holds a copy of poolConfig fields for test assertions.
// Exported only via export_test.go so that the _test package can verify
// option closures actually mutate the config without accessing internals.
type ConfigSnapshot struct {
	NamePrefix                string
	FreeStrategy              FreeStrategy
	StateTimeout              time.Duration
	PollInterval              time.Duration
	BulkConcurrency           int
	LedgerPath                string
	KillSpuriousOnInitialize  bool
	DeleteManagedOnInitialize bool
}

// ApplyOptionsForTesting creates a default poolConfig, applies the given
// options, and returns a ConfigSnapshot of the result.
func ApplyOptionsForTesting(opts ...PoolOption) ConfigSnapshot {
	cfg := defaultPoolConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return ConfigSnapshot{
		NamePrefix:                cfg.NamePrefix,
		FreeStrategy:              cfg.FreeStrategy,
		StateTimeout:              cfg.StateTimeout,
		PollInterval:              cfg.PollInterval,
		BulkConcurrency:           cfg.BulkConcurrency,
		LedgerPath:                cfg.LedgerPath,
		KillSpuriousOnInitialize:  cfg.KillSpuriousOnInitialize,
		DeleteManagedOnInitialize: cfg.DeleteManagedOnInitialize,
	}
}
