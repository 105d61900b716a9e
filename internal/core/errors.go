package core

import (
	"github.com/giantswarm/simpool/internal/backend"
	"github.com/giantswarm/simpool/internal/sentinel"
)

const (
	// ErrNotAllocated is returned when freeing a simulator this pool has not
	// allocated, including a second free of the same allocation.
	ErrNotAllocated = sentinel.Error("simulator is not allocated")

	// ErrBackendOperationFailed wraps any failing device backend call. The
	// backend's own error stays in the chain.
	ErrBackendOperationFailed = sentinel.Error("device backend operation failed")

	// ErrDeviceGone is returned by operations on a simulator whose device
	// has been deleted.
	ErrDeviceGone = sentinel.Error("device is gone")

	// ErrTimeout marks a device in a bulk operation that did not reach the
	// expected state in time.
	ErrTimeout = sentinel.Error("timed out waiting for device state")

	// ErrPoolUnreachable is returned by Simulator.FreeFromPool when the
	// owning pool no longer exists.
	ErrPoolUnreachable = sentinel.Error("pool is unreachable")

	// ErrNotInitialized is returned by pool operations before Initialize.
	ErrNotInitialized = sentinel.Error("pool not initialized")

	// ErrPoolClosed is returned by pool operations after Close.
	ErrPoolClosed = sentinel.Error("pool is closed")

	// ErrDeviceNotFound is returned by lookups that match no device.
	ErrDeviceNotFound = backend.ErrDeviceNotFound

	// ErrNoMatchingConfiguration is returned by Allocate when the
	// configuration matches no existing device and the backend cannot
	// create one.
	ErrNoMatchingConfiguration = backend.ErrNoMatchingConfiguration
)
