package core

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/simpool/internal/backend"
	"github.com/giantswarm/simpool/internal/fakesim"
)

// iPhone is the configuration most tests allocate.
var iPhone = Configuration{DeviceType: "iPhone 15", Runtime: "iOS 17.2"}

// requirePanicContains calls fn and verifies it panics with a message
// containing wantSubstr.
func requirePanicContains(t *testing.T, fn func(), wantSubstr string) {
	t.Helper()

	var recovered string
	func() {
		defer func() {
			if r := recover(); r != nil {
				recovered = fmt.Sprint(r)
			}
		}()
		fn()
	}()

	if recovered == "" {
		t.Fatal("expected panic, got none")
	}
	if !strings.Contains(recovered, wantSubstr) {
		t.Errorf("panic message %q does not contain %q", recovered, wantSubstr)
	}
}

// validPoolConfig returns a config with short timeouts suitable for tests.
func validPoolConfig() PoolConfig {
	return PoolConfig{
		NamePrefix:      "E2E_",
		FreeStrategy:    FreeKeep,
		StateTimeout:    200 * time.Millisecond,
		PollInterval:    time.Millisecond,
		BulkConcurrency: 1,
	}
}

// newTestPool returns an initialized pool over set, closed on cleanup.
func newTestPool(t *testing.T, set *fakesim.DeviceSet, modify ...func(*PoolConfig)) *Pool {
	t.Helper()
	cfg := validPoolConfig()
	for _, m := range modify {
		m(&cfg)
	}
	p := NewPool(cfg, set)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

// seed adds an iPhone device named name in state to set.
func seed(set *fakesim.DeviceSet, name, state string) *fakesim.Device {
	return set.Add(backend.DeviceSpec{Name: name, DeviceType: iPhone.DeviceType, Runtime: iPhone.Runtime}, state)
}

func udids(sims []*Simulator) []string {
	out := make([]string, len(sims))
	for i, s := range sims {
		out[i] = s.UDID()
	}
	return out
}

func stateOf(t *testing.T, d *fakesim.Device) string {
	t.Helper()
	st, err := d.StateString(context.Background())
	if err != nil {
		t.Fatalf("StateString(%s): %v", d.UDID(), err)
	}
	return st
}
