// Package core provides the internal implementation of the simulator pool.
// It contains the Pool (registry of a device set's simulators with an
// exclusive allocation section, recency-ordered allocation list, bulk
// kill/erase/delete with per-device failure isolation, and spurious-device
// reaping) and the Simulator handle (identity, live state, bounded state
// waits, and a weak back-reference to its pool).
package core
