package simpool

import (
	"github.com/giantswarm/simpool/internal/backend"
	"github.com/giantswarm/simpool/internal/core"
	"github.com/giantswarm/simpool/internal/simctl"
)

// DeviceSet is the backend a Pool orchestrates. Implement it to run a pool
// over something other than simctl.
type DeviceSet = backend.DeviceSet

// Device is one device of a DeviceSet.
type Device = backend.Device

// DeviceSpec describes a device for DeviceSet.CreateDevice.
type DeviceSpec = backend.DeviceSpec

// ProcessIdentifiers holds the PIDs of a running device; -1 means absent.
type ProcessIdentifiers = backend.ProcessIdentifiers

// Configuration selects the kind of simulator to allocate. An empty Runtime
// matches any runtime and lets the backend choose one when creating.
type Configuration = core.Configuration

// State is the lifecycle state of a device.
type State = core.State

const (
	StateCreating     = core.StateCreating
	StateShutdown     = core.StateShutdown
	StateBooting      = core.StateBooting
	StateBooted       = core.StateBooted
	StateShuttingDown = core.StateShuttingDown
	StateUnknown      = core.StateUnknown
)

// StateFromString parses a backend state string. Unrecognized strings map
// to StateUnknown.
func StateFromString(s string) State {
	return core.StateFromString(s)
}

// NewSimctlDeviceSet returns a DeviceSet driven by `xcrun simctl`. An empty
// setPath uses the default device set.
//
//nolint:ireturn // Returns DeviceSet interface so callers stay backend-agnostic.
func NewSimctlDeviceSet(setPath string) DeviceSet {
	return simctl.New(simctl.Config{SetPath: setPath, Logger: core.Logger()})
}
