// Package backend defines the contract between the simulator pool and the
// subsystem that actually creates, boots, and destroys devices. The pool only
// orchestrates: every device mutation goes through a DeviceSet or a Device.
package backend

import (
	"context"

	"github.com/giantswarm/simpool/internal/sentinel"
)

// ErrNoMatchingConfiguration is wrapped by CreateDevice when the requested
// device type or runtime is not available on this backend.
const ErrNoMatchingConfiguration = sentinel.Error("no matching simulator configuration")

// ErrDeviceNotFound is wrapped by backend calls that reference a UDID the
// device set no longer knows about.
const ErrDeviceNotFound = sentinel.Error("device not found")

// State strings reported by Device.StateString. Backends may report other
// values; the pool maps anything it does not recognize to Unknown.
const (
	StateCreating     = "Creating"
	StateShutdown     = "Shutdown"
	StateBooting      = "Booting"
	StateBooted       = "Booted"
	StateShuttingDown = "Shutting Down"
)

// DeviceSpec describes a device to create.
type DeviceSpec struct {
	Name       string
	DeviceType string
	// Runtime selects the OS runtime. Empty lets the backend pick its default.
	Runtime string
}

// ProcessIdentifiers holds the PIDs of a running device. -1 means absent.
type ProcessIdentifiers struct {
	Main             int
	LaunchdBootstrap int
}

// NoProcesses is returned for devices that are not running.
var NoProcesses = ProcessIdentifiers{Main: -1, LaunchdBootstrap: -1}

// DeviceSet enumerates and manages the devices of one device set.
type DeviceSet interface {
	// Devices returns every device in the set, in a stable order.
	Devices(ctx context.Context) ([]Device, error)
	CreateDevice(ctx context.Context, spec DeviceSpec) (Device, error)
	DeleteDevice(ctx context.Context, udid string) error
}

// Device is a single device record. Identity accessors are immutable; the
// context-taking methods query or mutate live backend state.
type Device interface {
	UDID() string
	Name() string
	DeviceType() string
	Runtime() string
	DataPath() string

	StateString(ctx context.Context) (string, error)
	ProcessIdentifiers(ctx context.Context) (ProcessIdentifiers, error)

	Boot(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Erase(ctx context.Context) error
}
