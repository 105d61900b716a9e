// Package poll provides a bounded polling loop used to wait for a device to
// reach a lifecycle state.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

var (
	// ErrIntervalNotPositive indicates a non-positive poll interval.
	ErrIntervalNotPositive = errors.New("interval must be positive")

	// ErrTimeoutNotPositive indicates a non-positive timeout.
	ErrTimeoutNotPositive = errors.New("timeout must be positive")
)

// Condition reports whether the awaited condition holds. The attempt
// parameter is 1-based. A non-nil error aborts polling.
type Condition func(ctx context.Context, attempt int) (done bool, err error)

// Config configures Until.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Name     string       // For logging (e.g. "state Booted")
	Logger   *slog.Logger // Defaults to slog.Default()
}

// Until calls cond immediately and then every Interval until it returns
// true, returns an error, or Timeout elapses. A timeout is reported as an
// error for which wait.Interrupted returns true.
func Until(ctx context.Context, cfg Config, cond Condition) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("poll %s: %w", cfg.Name, ErrIntervalNotPositive)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("poll %s: %w", cfg.Name, ErrTimeoutNotPositive)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	// PollUntilContextTimeout runs the condition sequentially, so attempt
	// needs no synchronization.
	attempt := 0
	if err := wait.PollUntilContextTimeout(ctx, cfg.Interval, cfg.Timeout, true,
		func(pollCtx context.Context) (bool, error) {
			attempt++
			done, err := cond(pollCtx, attempt)
			if err != nil {
				return false, err
			}
			if done {
				log.Debug("poll succeeded", "name", cfg.Name, "attempt", attempt)
			}
			return done, nil
		}); err != nil {
		return fmt.Errorf("poll %s after %d attempts: %w", cfg.Name, attempt, err)
	}
	return nil
}

// TimedOut reports whether err came from Until giving up on its timeout or
// context, as opposed to a condition error.
func TimedOut(err error) bool {
	return wait.Interrupted(err)
}
