package core

import (
	"fmt"
	"strings"

	"github.com/giantswarm/simpool/internal/backend"
)

// State is the lifecycle state of a simulator as reported by the backend.
type State int

const (
	StateCreating     State = 0
	StateShutdown     State = 1
	StateBooting      State = 2
	StateBooted       State = 3
	StateShuttingDown State = 4

	// StateUnknown covers any backend report that is not recognized.
	StateUnknown State = -1
)

// unknownStateString is what StateUnknown maps to.
const unknownStateString = "Unknown"

var stateStrings = map[State]string{
	StateCreating:     backend.StateCreating,
	StateShutdown:     backend.StateShutdown,
	StateBooting:      backend.StateBooting,
	StateBooted:       backend.StateBooted,
	StateShuttingDown: backend.StateShuttingDown,
}

// stateLookup is keyed by the normalized form of each backend string.
var stateLookup = func() map[string]State {
	m := make(map[string]State, len(stateStrings))
	for s, str := range stateStrings {
		m[normalizeState(str)] = s
	}
	return m
}()

// normalizeState lowercases and drops spaces so that "Shutting Down",
// "ShuttingDown" and "shutting down" compare equal.
func normalizeState(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

// StateFromString maps a backend state string to a State. It never fails:
// unrecognized strings map to StateUnknown.
func StateFromString(s string) State {
	if st, ok := stateLookup[normalizeState(s)]; ok {
		return st
	}
	return StateUnknown
}

// String returns the backend representation of s. StateUnknown and any
// undefined value map to "Unknown".
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return unknownStateString
}

// GoString makes %#v output readable in test failures.
func (s State) GoString() string {
	return fmt.Sprintf("State(%d:%s)", int(s), s.String())
}

// IsRunning reports whether a device in this state has live processes.
func (s State) IsRunning() bool {
	return s == StateBooting || s == StateBooted
}

// AllStates returns every defined state, StateUnknown last.
func AllStates() []State {
	return []State{StateCreating, StateShutdown, StateBooting, StateBooted, StateShuttingDown, StateUnknown}
}
