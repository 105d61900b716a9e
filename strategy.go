package simpool

import "github.com/giantswarm/simpool/internal/core"

// FreeStrategy controls what happens to a device when it is freed.
//
// FreeStrategy is a type alias (not a named type) so that the underlying
// [core.FreeStrategy] methods are part of the public API:
//
//   - IsValid reports whether the value is a recognized strategy.
//   - String returns the strategy name (implements [fmt.Stringer]).
type FreeStrategy = core.FreeStrategy

const (
	// FreeKeep shuts the device down and returns it to the free set as is.
	// This is the default strategy.
	FreeKeep = core.FreeKeep

	// FreeErase shuts the device down and erases its contents and settings
	// before returning it to the free set.
	FreeErase = core.FreeErase

	// FreeDelete shuts the device down and deletes it from the device set.
	FreeDelete = core.FreeDelete
)

// ParseFreeStrategy parses "keep", "erase" or "delete". An empty string
// yields FreeKeep.
func ParseFreeStrategy(s string) (FreeStrategy, error) {
	return core.ParseFreeStrategy(s)
}
