// Package migrate evolves the shared schema exactly once across
// concurrently starting processes. The entire migration (advisory lock,
// bookkeeping, scripts, version update) runs in one transaction, so any
// failure leaves the database at its prior, consistent version.
package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/chatvault/ingest/internal/domain"
)

// Process-coordination constants. The lock key is arbitrary but must be
// identical in every binary that migrates this database.
const (
	DefaultLockKey      = 9373348629322944
	DefaultLockAttempts = 10
	DefaultLockSleep    = 10 * time.Second
)

// DB is the database surface the runner needs. *pgxpool.Pool satisfies it;
// tests use a scripted fake.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Executor is the slice of pgx.Tx the migration body runs on.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const initSQL = `
CREATE SCHEMA IF NOT EXISTS chat;

CREATE TABLE IF NOT EXISTS chat.version (
    version    text        NOT NULL,
    applied_at timestamptz NOT NULL DEFAULT clock_timestamp()
);

INSERT INTO chat.version (version)
SELECT '0.0.0'
WHERE NOT EXISTS (SELECT 1 FROM chat.version);

CREATE TABLE IF NOT EXISTS chat.migration (
    name       text PRIMARY KEY,
    applied_at timestamptz NOT NULL DEFAULT clock_timestamp()
);
`

// Runner applies incremental scripts exactly once (version-gated, recorded
// by name) and idempotent scripts on every migrating startup, then sets the
// stored version to Target.
type Runner struct {
	DB          DB
	Target      *semver.Version
	Incremental fs.FS
	Idempotent  fs.FS

	LockKey      int64
	LockAttempts int
	LockSleep    time.Duration

	// ForceIdempotent reapplies the idempotent scripts even when the
	// stored version already matches the target.
	ForceIdempotent bool

	Logger *zap.Logger
}

// Run executes the migration. Fatal error classes: domain.ErrDowngrade,
// domain.ErrLockTimeout, domain.ErrBadScriptName, domain.ErrScriptGap, and
// any script failure. All of them roll back everything.
func (r *Runner) Run(ctx context.Context) error {
	if r.LockKey == 0 {
		r.LockKey = DefaultLockKey
	}
	if r.LockAttempts <= 0 {
		r.LockAttempts = DefaultLockAttempts
	}
	if r.LockSleep <= 0 {
		r.LockSleep = DefaultLockSleep
	}

	// Validate both script trees up front so a malformed tree aborts
	// before any lock or mutation.
	incremental, err := listScripts(r.Incremental)
	if err != nil {
		return err
	}
	idempotent, err := listScripts(r.Idempotent)
	if err != nil {
		return err
	}

	// Cheap downgrade pre-flight: when the version table already exists, a
	// stale binary is rejected before any lock work. The authoritative
	// check repeats under the lock.
	if stored, ok := r.storedVersion(ctx); ok {
		if r.Target.LessThan(stored) {
			return downgradeErr(stored, r.Target)
		}
	}

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := r.migrate(ctx, tx, incremental, idempotent); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func (r *Runner) migrate(ctx context.Context, tx Executor, incremental, idempotent []string) error {
	if err := r.acquireLock(ctx, tx); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, initSQL); err != nil {
		return fmt.Errorf("init migration bookkeeping: %w", err)
	}

	var raw string
	if err := tx.QueryRow(ctx, `SELECT version FROM chat.version`).Scan(&raw); err != nil {
		return fmt.Errorf("read stored version: %w", err)
	}
	stored, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("parse stored version %q: %w", raw, err)
	}

	switch {
	case r.Target.LessThan(stored):
		return downgradeErr(stored, r.Target)
	case r.Target.Equal(stored):
		if !r.ForceIdempotent {
			r.Logger.Info("no migration required",
				zap.String("version", stored.String()))
			return nil
		}
		r.Logger.Info("version current, reapplying idempotent scripts",
			zap.String("version", stored.String()))
		return r.applyIdempotent(ctx, tx, idempotent)
	}

	r.Logger.Info("migrating database",
		zap.String("from", stored.String()),
		zap.String("to", r.Target.String()))

	if err := r.applyIncremental(ctx, tx, incremental); err != nil {
		return err
	}
	if err := r.applyIdempotent(ctx, tx, idempotent); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE chat.version SET version = $1, applied_at = clock_timestamp()`,
		r.Target.String()); err != nil {
		return fmt.Errorf("set version: %w", err)
	}

	r.Logger.Info("migration complete", zap.String("version", r.Target.String()))
	return nil
}

// acquireLock takes the transaction-scoped advisory lock, retrying a
// bounded number of times. Exhausting the retries is fatal: the process
// must not proceed without confirmed schema compatibility.
func (r *Runner) acquireLock(ctx context.Context, tx Executor) error {
	for attempt := 1; attempt <= r.LockAttempts; attempt++ {
		var locked bool
		if err := tx.QueryRow(ctx,
			`SELECT pg_try_advisory_xact_lock($1::bigint)`, r.LockKey).Scan(&locked); err != nil {
			return fmt.Errorf("try migration lock: %w", err)
		}
		if locked {
			return nil
		}
		if attempt == r.LockAttempts {
			break
		}
		r.Logger.Info("migration lock busy, sleeping before retry",
			zap.Int("attempt", attempt), zap.Duration("sleep", r.LockSleep))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.LockSleep):
		}
	}
	return fmt.Errorf("after %d attempts: %w", r.LockAttempts, domain.ErrLockTimeout)
}

// applyIncremental runs each unapplied one-shot script and records it by
// name, all within the enclosing transaction.
func (r *Runner) applyIncremental(ctx context.Context, tx Executor, names []string) error {
	for _, name := range names {
		var applied bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM chat.migration WHERE name = $1)`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check script %s: %w", name, err)
		}
		if applied {
			continue
		}

		body, err := fs.ReadFile(r.Incremental, name)
		if err != nil {
			return fmt.Errorf("read script %s: %w", name, err)
		}
		r.Logger.Info("applying incremental script", zap.String("script", name))
		if _, err := tx.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("incremental script %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat.migration (name) VALUES ($1)`, name); err != nil {
			return fmt.Errorf("record script %s: %w", name, err)
		}
	}
	return nil
}

// applyIdempotent runs every idempotent script unconditionally.
func (r *Runner) applyIdempotent(ctx context.Context, tx Executor, names []string) error {
	for _, name := range names {
		body, err := fs.ReadFile(r.Idempotent, name)
		if err != nil {
			return fmt.Errorf("read script %s: %w", name, err)
		}
		r.Logger.Info("applying idempotent script", zap.String("script", name))
		if _, err := tx.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("idempotent script %s: %w", name, err)
		}
	}
	return nil
}

// storedVersion reads the version row outside any transaction. ok is false
// when the table does not exist yet or the read fails; initialization
// happens later, under the lock.
func (r *Runner) storedVersion(ctx context.Context) (*semver.Version, bool) {
	var raw string
	if err := r.DB.QueryRow(ctx, `SELECT version FROM chat.version`).Scan(&raw); err != nil {
		return nil, false
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, false
	}
	return v, true
}

func downgradeErr(stored, target *semver.Version) error {
	return fmt.Errorf("stored version %s is newer than target %s: %w",
		stored, target, domain.ErrDowngrade)
}
