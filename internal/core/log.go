package core

import (
	"log/slog"
	"sync/atomic"
)

// logger is the package-level logger. A nil value means no custom logger
// has been set and Logger falls back to a cached default.
var logger atomic.Pointer[slog.Logger]

// defaultLogger caches slog.Default() with the simpool component attribute.
// SetLogger(nil) clears it so a later slog.SetDefault is picked up.
var defaultLogger atomic.Pointer[slog.Logger]

// discardLogger receives interaction narration when no interaction logger
// has been attached to a pool.
var discardLogger = slog.New(slog.DiscardHandler)

// Logger returns the current package-level logger. It is safe to call from
// multiple goroutines.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := newDefaultLogger()
	if defaultLogger.CompareAndSwap(nil, l) {
		return l
	}
	// A concurrent SetLogger may have cleared the cache between the CAS
	// and this load; never return nil.
	if l2 := defaultLogger.Load(); l2 != nil {
		return l2
	}
	return l
}

func newDefaultLogger() *slog.Logger {
	return slog.Default().With("component", "simpool")
}

// SetLogger replaces the package-level logger. If l is nil, the logger
// resets to slog.Default() with the component attribute, re-derived on the
// next Logger call.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
	defaultLogger.Store(nil)
}
