package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/client-go/util/homedir"

	"github.com/giantswarm/simpool"
)

// fileConfig is the YAML configuration file. Zero fields keep the defaults.
type fileConfig struct {
	Set             string        `yaml:"set"`
	Ledger          string        `yaml:"ledger"`
	NamePrefix      string        `yaml:"namePrefix"`
	StateTimeout    time.Duration `yaml:"stateTimeout"`
	BulkConcurrency int           `yaml:"bulkConcurrency"`
}

func readConfigFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

// settings is the resolved configuration of one invocation.
type settings struct {
	SetPath         string
	LedgerPath      string // Empty disables the ledger
	NamePrefix      string
	StateTimeout    time.Duration
	BulkConcurrency int
}

// defaultLedgerPath returns ~/.simpool/ledger.db, or "" without a home
// directory.
func defaultLedgerPath() string {
	home := homedir.HomeDir()
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".simpool", "ledger.db")
}

func defaultSettings() settings {
	return settings{
		LedgerPath:      defaultLedgerPath(),
		NamePrefix:      simpool.DefaultNamePrefix,
		StateTimeout:    simpool.DefaultStateTimeout,
		BulkConcurrency: simpool.DefaultBulkConcurrency,
	}
}

// merge overlays the non-zero fields of fc.
func (s settings) merge(fc fileConfig) settings {
	if fc.Set != "" {
		s.SetPath = fc.Set
	}
	if fc.Ledger != "" {
		s.LedgerPath = fc.Ledger
	}
	if fc.NamePrefix != "" {
		s.NamePrefix = fc.NamePrefix
	}
	if fc.StateTimeout != 0 {
		s.StateTimeout = fc.StateTimeout
	}
	if fc.BulkConcurrency != 0 {
		s.BulkConcurrency = fc.BulkConcurrency
	}
	return s
}

// validate reports every invalid field. The pool options panic on these,
// so they are checked up front.
func (s settings) validate() error {
	var errs []error
	if s.NamePrefix == "" {
		errs = append(errs, errors.New("name prefix must not be empty"))
	}
	if s.StateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("state timeout must be greater than 0, got %s", s.StateTimeout))
	}
	if s.BulkConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("bulk concurrency must be greater than 0, got %d", s.BulkConcurrency))
	}
	return errors.Join(errs...)
}

func (s settings) poolOptions() []simpool.PoolOption {
	opts := []simpool.PoolOption{
		simpool.WithNamePrefix(s.NamePrefix),
		simpool.WithStateTimeout(s.StateTimeout),
		simpool.WithBulkConcurrency(s.BulkConcurrency),
	}
	if s.LedgerPath != "" {
		opts = append(opts, simpool.WithLedgerPath(s.LedgerPath))
	}
	return opts
}
