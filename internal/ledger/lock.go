package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
)

// fileLockRetryInterval is the delay between attempts to take the ledger
// lock while another process holds it.
const fileLockRetryInterval = 50 * time.Millisecond

// acquireFileLock takes an exclusive lock on lockPath, retrying until it
// succeeds or ctx is done.
func acquireFileLock(ctx context.Context, lockPath string) (*flock.Flock, error) {
	fl := flock.New(lockPath)

	locked, err := fl.TryLockContext(ctx, fileLockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquiring ledger lock %s: %w", lockPath, err)
	}
	if !locked {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquiring ledger lock %s: %w", lockPath, ctx.Err())
		}
		return nil, fmt.Errorf("acquiring ledger lock %s: lock not acquired", lockPath)
	}

	return fl, nil
}

// releaseFileLock releases the lock and closes its descriptor. The lock
// file stays on disk: removing it could invalidate a lock another process
// has just taken on the same path.
func releaseFileLock(logger *slog.Logger, fl *flock.Flock) {
	if fl == nil {
		return
	}
	if err := fl.Close(); err != nil {
		logger.Debug("failed to release ledger lock", "path", fl.Path(), "error", err)
	}
}
