package simpool

import "github.com/giantswarm/simpool/internal/core"

// Sentinel errors for error inspection with errors.Is.
const (
	// ErrNotAllocated is returned by Free for a simulator this pool has not
	// allocated, including a second free of the same simulator.
	ErrNotAllocated = core.ErrNotAllocated

	// ErrNoMatchingConfiguration is returned by Allocate when the backend
	// cannot provide the requested device type or runtime.
	ErrNoMatchingConfiguration = core.ErrNoMatchingConfiguration

	// ErrBackendOperationFailed wraps every failed device set call. The
	// backend's own error stays in the chain.
	ErrBackendOperationFailed = core.ErrBackendOperationFailed

	// ErrDeviceGone is returned for operations on a simulator whose device
	// has been deleted.
	ErrDeviceGone = core.ErrDeviceGone

	// ErrTimeout is joined into bulk operation errors for devices that did
	// not reach the expected state in time.
	ErrTimeout = core.ErrTimeout

	// ErrPoolUnreachable is returned by Simulator.FreeFromPool once the
	// owning pool has been garbage collected.
	ErrPoolUnreachable = core.ErrPoolUnreachable

	// ErrNotInitialized is returned by pool operations before Initialize.
	ErrNotInitialized = core.ErrNotInitialized

	// ErrPoolClosed is returned by pool operations after Close.
	ErrPoolClosed = core.ErrPoolClosed

	// ErrDeviceNotFound is returned by lookups that match no device.
	ErrDeviceNotFound = core.ErrDeviceNotFound
)
