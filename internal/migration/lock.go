package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/example/pos-migrate/internal/database"
)

// errLockBusy is returned by a single lock attempt that lost to another run.
var errLockBusy = errors.New("lock busy")

// runLock is a database-wide mutual exclusion primitive.
type runLock interface {
	tryLock(ctx context.Context) error
	unlock(ctx context.Context) error
	name() string
}

// advisoryLock holds a PostgreSQL advisory lock or a MySQL named lock on a
// dedicated session. Both are released automatically if the session dies.
type advisoryLock struct {
	session *database.Session
	key     int64
	label   string
}

func (l *advisoryLock) name() string {
	if l.session.Dialect() == database.Postgres {
		return fmt.Sprintf("pg_advisory_lock(%d)", l.key)
	}
	return fmt.Sprintf("GET_LOCK(%q)", l.label)
}

func (l *advisoryLock) tryLock(ctx context.Context) error {
	if l.session.Dialect() == database.Postgres {
		var acquired bool
		if err := l.session.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&acquired); err != nil {
			return fmt.Errorf("pg_try_advisory_lock(%d): %w", l.key, err)
		}
		if !acquired {
			return errLockBusy
		}
		return nil
	}

	// GET_LOCK returns 1 on success, 0 on timeout and NULL on error.
	var acquired sql.NullInt64
	if err := l.session.QueryRowContext(ctx, `SELECT GET_LOCK(?, 0)`, l.label).Scan(&acquired); err != nil {
		return fmt.Errorf("GET_LOCK(%q): %w", l.label, err)
	}
	switch {
	case !acquired.Valid:
		return fmt.Errorf("GET_LOCK(%q) returned NULL", l.label)
	case acquired.Int64 != 1:
		return errLockBusy
	}
	return nil
}

func (l *advisoryLock) unlock(ctx context.Context) error {
	var err error
	if l.session.Dialect() == database.Postgres {
		_, err = l.session.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	} else {
		_, err = l.session.ExecContext(ctx, `SELECT RELEASE_LOCK(?)`, l.label)
	}
	return errors.Join(err, l.session.Close())
}

// rowLock emulates an advisory lock on SQLite with a single well-known row.
// The row survives a crashed process and must then be cleared by Unlock.
type rowLock struct {
	h     database.Handle
	table string
	owner string
	now   func() time.Time
}

func (l *rowLock) name() string { return l.table + "(id=1)" }

func (l *rowLock) ensure(ctx context.Context) error {
	_, err := l.h.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		owner TEXT NOT NULL,
		acquired_at TEXT NOT NULL
	)`, l.h.Dialect().QuoteIdent(l.table)))
	if err != nil {
		return fmt.Errorf("create %s: %w", l.table, err)
	}
	return nil
}

func (l *rowLock) tryLock(ctx context.Context) error {
	if err := l.ensure(ctx); err != nil {
		return err
	}
	res, err := l.h.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, owner, acquired_at) VALUES (1, ?, ?) ON CONFLICT (id) DO NOTHING`, l.h.Dialect().QuoteIdent(l.table)),
		l.owner, l.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert %s: %w", l.name(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert %s: %w", l.name(), err)
	}
	if n == 0 {
		return errLockBusy
	}
	return nil
}

func (l *rowLock) unlock(ctx context.Context) error {
	_, err := l.h.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = 1 AND owner = ?`, l.h.Dialect().QuoteIdent(l.table)), l.owner)
	if err != nil {
		return fmt.Errorf("delete %s: %w", l.name(), err)
	}
	return nil
}

// forceUnlock removes the lock row regardless of owner and reports whether
// there was one.
func (l *rowLock) forceUnlock(ctx context.Context) (bool, error) {
	exists, err := TableExists(ctx, l.h, l.table)
	if err != nil || !exists {
		return false, err
	}
	res, err := l.h.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = 1`, l.h.Dialect().QuoteIdent(l.table)))
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", l.name(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", l.name(), err)
	}
	return n > 0, nil
}

// newRunLock picks the lock primitive for the gateway's dialect. SQLite uses
// the pool rather than a pinned session so a single-connection pool can
// still run migrations while the lock is held.
func (r *Runner) newRunLock(ctx context.Context, owner string) (runLock, error) {
	key := r.table + ":migrate"
	switch r.gw.Dialect() {
	case database.Postgres, database.MySQL:
		session, err := r.gw.Session(ctx)
		if err != nil {
			return nil, err
		}
		return &advisoryLock{session: session, key: hashLockKey(key), label: key}, nil
	default:
		return &rowLock{h: r.gw.Handle(), table: r.table + "_lock", owner: owner, now: r.now}, nil
	}
}

// acquireLock takes the run lock, retrying contention with exponential
// backoff. The returned release func must be called exactly once.
func (r *Runner) acquireLock(ctx context.Context, logger *slog.Logger, owner string) (func(), error) {
	lock, err := r.newRunLock(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("prepare migration lock: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.lockRetryInterval
	policy.MaxElapsedTime = 0

	attempts := 0
	err = backoff.RetryNotify(
		func() error {
			attempts++
			err := lock.tryLock(ctx)
			if err != nil && !errors.Is(err, errLockBusy) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.lockRetries)), ctx),
		func(_ error, wait time.Duration) {
			logger.Warn("migration lock is held by another run, retrying",
				"lock", lock.name(), "attempt", attempts, "wait", wait)
		},
	)
	if err != nil {
		_ = lock.unlock(context.WithoutCancel(ctx))
		if errors.Is(err, errLockBusy) {
			return nil, &LockContentionError{Dialect: r.gw.Dialect(), Lock: lock.name(), Attempts: attempts}
		}
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}

	logger.Debug("migration lock acquired", "lock", lock.name(), "attempts", attempts)
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := lock.unlock(releaseCtx); err != nil {
			logger.Error("failed to release migration lock", "lock", lock.name(), "error", err)
			return
		}
		logger.Debug("migration lock released", "lock", lock.name())
	}, nil
}

// hashLockKey produces a stable positive int64 from key for
// pg_advisory_lock, using FNV-1a.
func hashLockKey(key string) int64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF)
}
