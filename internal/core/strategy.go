package core

import (
	"fmt"
	"strings"
)

// FreeStrategy controls what happens to a device when it is freed.
type FreeStrategy int

const (
	// FreeKeep shuts the device down and returns it to the free set with
	// its data intact. This is the default.
	FreeKeep FreeStrategy = iota

	// FreeErase shuts the device down and erases its contents before
	// returning it to the free set. The next allocation starts clean at
	// the cost of a slower first boot.
	FreeErase

	// FreeDelete shuts the device down and deletes it from the device set.
	// Every allocation then gets a freshly created device.
	FreeDelete
)

// IsValid reports whether s is a recognized FreeStrategy value.
func (s FreeStrategy) IsValid() bool {
	switch s {
	case FreeKeep, FreeErase, FreeDelete:
		return true
	default:
		return false
	}
}

// String returns the name of the strategy.
func (s FreeStrategy) String() string {
	switch s {
	case FreeKeep:
		return "FreeKeep"
	case FreeErase:
		return "FreeErase"
	case FreeDelete:
		return "FreeDelete"
	default:
		return fmt.Sprintf("FreeStrategy(%d)", int(s))
	}
}

// ParseFreeStrategy parses the short names used in configuration files and
// flags: "keep", "erase" and "delete".
func ParseFreeStrategy(s string) (FreeStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keep", "":
		return FreeKeep, nil
	case "erase":
		return FreeErase, nil
	case "delete":
		return FreeDelete, nil
	default:
		return FreeKeep, fmt.Errorf("unknown free strategy %q (want keep, erase or delete)", s)
	}
}
