// Package ledger records which devices simulator pools manage and allocate,
// so that pools in different processes sharing one device set do not hand
// out the same device or kill each other's devices.
//
// The ledger is a SQLite database guarded by an exclusive file lock for
// multi-statement critical sections. Rows left behind by processes that
// died without closing their pool are reclaimed by Prune.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/giantswarm/simpool/internal/fileutil"
)

// Config is the configuration for Open.
type Config struct {
	Path   string
	Logger *slog.Logger
}

func (c *Config) defaults() error {
	if c.Path == "" {
		return errors.New("ledger path is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With("svc", "ledger")
	return nil
}

// Entry is one ledger row.
type Entry struct {
	UDID      string
	Owner     string
	PID       int
	Allocated bool
	UpdatedAt time.Time
}

// Ledger is a SQLite-backed allocation ledger. It is safe for concurrent use.
type Ledger struct {
	db       *sql.DB
	lockPath string
	logger   *slog.Logger

	// alive reports whether a process still exists.
	alive func(pid int) bool
}

// Open opens or creates the ledger at cfg.Path and applies pending schema
// migrations. Creation and migration run under the ledger lock, so several
// processes may open the same fresh path at once.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := fileutil.EnsureDirForFile(cfg.Path); err != nil {
		return nil, err
	}

	lockPath := cfg.Path + ".lock"
	fl, err := acquireFileLock(ctx, lockPath)
	if err != nil {
		return nil, err
	}
	defer releaseFileLock(cfg.Logger, fl)

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=synchronous(NORMAL)",
		cfg.Path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// One connection keeps writers in this process from contending for
	// the database lock with each other.
	db.SetMaxOpenConns(1)

	if err := migrateUp(ctx, db, cfg.Logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	cfg.Logger.Debug("ledger opened", "path", cfg.Path)

	return &Ledger{
		db:       db,
		lockPath: lockPath,
		logger:   cfg.Logger,
		alive:    processAlive,
	}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Lock takes the ledger's exclusive file lock, waiting until it is free or
// ctx is done. The returned function releases it.
func (l *Ledger) Lock(ctx context.Context) (unlock func(), err error) {
	fl, err := acquireFileLock(ctx, l.lockPath)
	if err != nil {
		return nil, err
	}
	return func() { releaseFileLock(l.logger, fl) }, nil
}

// Put inserts or replaces the row for e.UDID.
func (l *Ledger) Put(ctx context.Context, e Entry) error {
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	const query = `
		INSERT INTO allocations (udid, owner, pid, allocated, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(udid) DO UPDATE SET
			owner = excluded.owner,
			pid = excluded.pid,
			allocated = excluded.allocated,
			updated_at = excluded.updated_at
	`
	if _, err := l.db.ExecContext(ctx, query, e.UDID, e.Owner, e.PID, e.Allocated, updated.Unix()); err != nil {
		return fmt.Errorf("put ledger entry %s: %w", e.UDID, err)
	}
	return nil
}

// Remove deletes the row for udid. Removing a missing row is not an error.
func (l *Ledger) Remove(ctx context.Context, udid string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM allocations WHERE udid = ?`, udid); err != nil {
		return fmt.Errorf("remove ledger entry %s: %w", udid, err)
	}
	return nil
}

// Entries returns every row ordered by UDID.
func (l *Ledger) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT udid, owner, pid, allocated, updated_at FROM allocations ORDER BY udid`)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			updated int64
		)
		if err := rows.Scan(&e.UDID, &e.Owner, &e.PID, &e.Allocated, &updated); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.UpdatedAt = time.Unix(updated, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

// ReleaseOwner clears every allocation held by owner. The rows stay, so the
// devices remain known as pool-managed.
func (l *Ledger) ReleaseOwner(ctx context.Context, owner string) error {
	const query = `UPDATE allocations SET allocated = 0, updated_at = ? WHERE owner = ? AND allocated = 1`
	if _, err := l.db.ExecContext(ctx, query, time.Now().Unix(), owner); err != nil {
		return fmt.Errorf("release ledger entries of %s: %w", owner, err)
	}
	return nil
}

// Prune clears allocations whose owning process no longer exists and
// returns how many were cleared.
func (l *Ledger) Prune(ctx context.Context) (int, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, e := range entries {
		if !e.Allocated || l.alive(e.PID) {
			continue
		}
		const query = `UPDATE allocations SET allocated = 0, updated_at = ? WHERE udid = ? AND pid = ?`
		if _, err := l.db.ExecContext(ctx, query, time.Now().Unix(), e.UDID, e.PID); err != nil {
			return pruned, fmt.Errorf("prune ledger entry %s: %w", e.UDID, err)
		}
		l.logger.Info("released allocation of dead process", "udid", e.UDID, "owner", e.Owner, "pid", e.PID)
		pruned++
	}
	return pruned, nil
}
