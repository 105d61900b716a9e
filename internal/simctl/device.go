package simctl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/giantswarm/simpool/internal/backend"
	"github.com/giantswarm/simpool/internal/process"
)

var _ backend.Device = (*Device)(nil)

// Device is one simctl device. Identity is captured at listing time.
type Device struct {
	set *DeviceSet

	udid       string
	name       string
	deviceType string
	runtime    string
	dataPath   string
}

func (d *Device) UDID() string       { return d.udid }
func (d *Device) Name() string       { return d.name }
func (d *Device) DeviceType() string { return d.deviceType }
func (d *Device) Runtime() string    { return d.runtime }
func (d *Device) DataPath() string   { return d.dataPath }

// StateString implements backend.Device by re-listing the device set.
func (d *Device) StateString(ctx context.Context) (string, error) {
	l, err := d.set.list(ctx)
	if err != nil {
		return "", err
	}
	r, ok := l.find(d.udid)
	if !ok {
		return "", fmt.Errorf("state of %s: %w", d.udid, backend.ErrDeviceNotFound)
	}
	return r.state, nil
}

// Boot implements backend.Device. Booting a device that is already booted
// succeeds.
func (d *Device) Boot(ctx context.Context) error {
	res, err := d.set.simctl(ctx, "boot", d.udid)
	if err != nil && !tolerateState(res, err, backend.StateBooted) {
		return deviceError("boot", d.udid, res, err)
	}
	return nil
}

// Shutdown implements backend.Device. Shutting down a device that is
// already shut down succeeds.
func (d *Device) Shutdown(ctx context.Context) error {
	res, err := d.set.simctl(ctx, "shutdown", d.udid)
	if err != nil && !tolerateState(res, err, backend.StateShutdown) {
		return deviceError("shutdown", d.udid, res, err)
	}
	return nil
}

// Erase implements backend.Device. The device must be shut down.
func (d *Device) Erase(ctx context.Context) error {
	if res, err := d.set.simctl(ctx, "erase", d.udid); err != nil {
		return deviceError("erase", d.udid, res, err)
	}
	return nil
}

// ProcessIdentifiers implements backend.Device. The main process is the
// Simulator.app instance showing this device; the bootstrap process is the
// device's launchd_sim. Either is -1 when not found.
func (d *Device) ProcessIdentifiers(ctx context.Context) (backend.ProcessIdentifiers, error) {
	mainPID, err := d.set.pgrep(ctx, "Simulator.app/Contents/MacOS/Simulator.*-CurrentDeviceUDID "+d.udid)
	if err != nil {
		return backend.NoProcesses, err
	}
	bootstrapPID, err := d.set.pgrep(ctx, "launchd_sim .*"+d.udid)
	if err != nil {
		return backend.NoProcesses, err
	}
	return backend.ProcessIdentifiers{Main: mainPID, LaunchdBootstrap: bootstrapPID}, nil
}

// pgrep returns the lowest PID whose full command line matches pattern,
// or -1 when none does.
func (s *DeviceSet) pgrep(ctx context.Context, pattern string) (int, error) {
	res, err := s.run(ctx, "pgrep", "-f", pattern)
	if err != nil {
		// pgrep exits 1 when nothing matched.
		if errors.Is(err, process.ErrNonZeroExit) && res.ExitCode == 1 {
			return -1, nil
		}
		return -1, fmt.Errorf("find process %q: %w", pattern, err)
	}
	pid := -1
	for _, line := range strings.Fields(string(res.Stdout)) {
		n, convErr := strconv.Atoi(line)
		if convErr != nil {
			continue
		}
		if pid < 0 || n < pid {
			pid = n
		}
	}
	return pid, nil
}
