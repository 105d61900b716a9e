// Package simctl implements the device backend on top of `xcrun simctl`.
//
// Every call shells out; nothing is cached. State reads re-list the device
// set, so a Device always reports what simctl reports right now.
package simctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/giantswarm/simpool/internal/backend"
	"github.com/giantswarm/simpool/internal/process"
)

// DefaultCommandTimeout bounds one simctl invocation.
const DefaultCommandTimeout = 2 * time.Minute

// Runner executes one command. process.Run is the production runner;
// tests substitute a stub.
type Runner func(ctx context.Context, c process.Command) (process.Result, error)

// Config is the configuration for New.
type Config struct {
	// SetPath is the device set directory. Empty uses the default set.
	SetPath        string
	CommandTimeout time.Duration
	Logger         *slog.Logger
	Runner         Runner
}

func (c *Config) defaults() {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With("svc", "simctl")
	if c.Runner == nil {
		c.Runner = process.Run
	}
}

var _ backend.DeviceSet = (*DeviceSet)(nil)

// DeviceSet is a backend.DeviceSet backed by one simctl device set.
type DeviceSet struct {
	cfg Config
}

// New returns a DeviceSet. It performs no I/O.
func New(cfg Config) *DeviceSet {
	cfg.defaults()
	return &DeviceSet{cfg: cfg}
}

// SetPath returns the device set directory, or "" for the default set.
func (s *DeviceSet) SetPath() string {
	return s.cfg.SetPath
}

// simctl runs `xcrun simctl [--set path] args...`.
func (s *DeviceSet) simctl(ctx context.Context, args ...string) (process.Result, error) {
	full := []string{"simctl"}
	if s.cfg.SetPath != "" {
		full = append(full, "--set", s.cfg.SetPath)
	}
	full = append(full, args...)
	return s.run(ctx, "xcrun", full...)
}

func (s *DeviceSet) run(ctx context.Context, name string, args ...string) (process.Result, error) {
	c := process.Command{
		Name:    name,
		Args:    args,
		Timeout: s.cfg.CommandTimeout,
		Logger:  s.cfg.Logger,
	}
	s.cfg.Logger.Debug("running command", "cmd", c.String())
	return s.cfg.Runner(ctx, c)
}

func (s *DeviceSet) list(ctx context.Context) (*listing, error) {
	res, err := s.simctl(ctx, "list", "-j")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return parseListing(res.Stdout)
}

// Devices implements backend.DeviceSet. Unavailable devices are skipped.
func (s *DeviceSet) Devices(ctx context.Context) ([]backend.Device, error) {
	l, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]backend.Device, len(l.devices))
	for i, r := range l.devices {
		out[i] = s.device(r)
	}
	return out, nil
}

// CreateDevice implements backend.DeviceSet. Device type and runtime names
// are resolved against the listing; names simctl does not offer are
// reported as backend.ErrNoMatchingConfiguration.
func (s *DeviceSet) CreateDevice(ctx context.Context, spec backend.DeviceSpec) (backend.Device, error) {
	l, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	typeID, ok := l.deviceTypeIdentifier(spec.DeviceType)
	if !ok {
		return nil, fmt.Errorf("device type %q: %w", spec.DeviceType, backend.ErrNoMatchingConfiguration)
	}
	args := []string{"create", spec.Name, typeID}
	if spec.Runtime != "" {
		runtimeID, ok := l.runtimeIdentifier(spec.Runtime)
		if !ok {
			return nil, fmt.Errorf("runtime %q: %w", spec.Runtime, backend.ErrNoMatchingConfiguration)
		}
		args = append(args, runtimeID)
	}

	res, err := s.simctl(ctx, args...)
	if err != nil {
		if isInvalidConfiguration(res.Stderr) {
			return nil, fmt.Errorf("create %s: %w: %w", spec.Name, backend.ErrNoMatchingConfiguration, err)
		}
		return nil, fmt.Errorf("create %s: %w", spec.Name, err)
	}
	udid := strings.TrimSpace(string(res.Stdout))
	if udid == "" {
		return nil, fmt.Errorf("create %s: simctl printed no udid", spec.Name)
	}

	// Re-list for the resolved runtime and the data path.
	l, err = s.list(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := l.find(udid)
	if !ok {
		return nil, fmt.Errorf("created device %s: %w", udid, backend.ErrDeviceNotFound)
	}
	s.cfg.Logger.Debug("created device", "udid", udid, "name", spec.Name, "runtime", r.runtime)
	return s.device(r), nil
}

// DeleteDevice implements backend.DeviceSet.
func (s *DeviceSet) DeleteDevice(ctx context.Context, udid string) error {
	res, err := s.simctl(ctx, "delete", udid)
	if err != nil {
		return deviceError("delete", udid, res, err)
	}
	return nil
}

// deviceError wraps a failed simctl call on udid, adding
// backend.ErrDeviceNotFound when simctl rejected the UDID.
func deviceError(op, udid string, res process.Result, err error) error {
	if strings.Contains(string(res.Stderr), "Invalid device") {
		return fmt.Errorf("%s %s: %w: %w", op, udid, backend.ErrDeviceNotFound, err)
	}
	return fmt.Errorf("%s %s: %w", op, udid, err)
}

func (s *DeviceSet) device(r record) *Device {
	return &Device{
		set:        s,
		udid:       r.udid,
		name:       r.name,
		deviceType: r.deviceType,
		runtime:    r.runtime,
		dataPath:   r.dataPath,
	}
}

func isInvalidConfiguration(stderr []byte) bool {
	msg := string(stderr)
	return strings.Contains(msg, "Invalid device type") || strings.Contains(msg, "Invalid runtime")
}

// tolerateState reports whether a failed transition failed only because
// the device is already in state, e.g. "Unable to boot device in current
// state: Booted".
func tolerateState(res process.Result, err error, state string) bool {
	if err == nil || !errors.Is(err, process.ErrNonZeroExit) {
		return false
	}
	return strings.Contains(string(res.Stderr), "current state: "+state)
}
