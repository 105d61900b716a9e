package simpool

import (
	"log/slog"

	"github.com/giantswarm/simpool/internal/core"
)

// SetLogger replaces the package-level logger used by simpool for its own
// diagnostics. Interaction narration of a single pool goes to the logger
// passed to Pool.StartLoggingInteractions instead.
//
// If l is nil, the logger resets to slog.Default() with a "component"
// attribute.
//
// SetLogger is safe to call concurrently with other simpool operations. For
// a strict happens-before guarantee, call it before starting goroutines
// that use the library (e.g., in TestMain before m.Run).
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}
