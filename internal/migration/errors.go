package migration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/pos-migrate/internal/database"
)

var (
	// ErrDiscovery indicates the migration set is malformed: a version that
	// does not parse, a duplicate version, or a file that cannot be paired.
	ErrDiscovery = errors.New("migration discovery failed")

	// ErrLockContention indicates another run holds the migration lock.
	ErrLockContention = errors.New("migration lock is held by another run")

	// ErrMigrationExecution indicates an up or down action failed.
	ErrMigrationExecution = errors.New("migration execution failed")

	// ErrMissingDownAction indicates a rollback targeted an irreversible migration.
	ErrMissingDownAction = errors.New("migration has no down action")

	// ErrUnknownApplied indicates the bookkeeping table records a version
	// that is not defined in the registry.
	ErrUnknownApplied = errors.New("applied migration is not defined")

	// ErrOutOfOrder indicates a pending migration is older than the newest
	// applied one.
	ErrOutOfOrder = errors.New("pending migration precedes applied history")
)

// DiscoveryError reports a problem with one migration definition.
type DiscoveryError struct {
	Source     string // file or registration that caused the error
	Identifier string
	Err        error
}

func (e *DiscoveryError) Error() string {
	if e.Identifier != "" {
		return fmt.Sprintf("migration %s (%s): %v", e.Identifier, e.Source, e.Err)
	}
	return fmt.Sprintf("migration (%s): %v", e.Source, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

func (e *DiscoveryError) Is(target error) bool { return target == ErrDiscovery }

func discoveryErrorf(source, identifier, format string, args ...any) *DiscoveryError {
	return &DiscoveryError{Source: source, Identifier: identifier, Err: fmt.Errorf(format, args...)}
}

// LockContentionError is returned once lock acquisition has exhausted its
// retries.
type LockContentionError struct {
	Dialect  database.Dialect
	Lock     string
	Attempts int
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("%s lock %s still held after %d attempts", e.Dialect, e.Lock, e.Attempts)
}

func (e *LockContentionError) Is(target error) bool { return target == ErrLockContention }

// ExecutionError wraps the failure of a single migration. The migration's
// transaction has been rolled back when this error is returned.
type ExecutionError struct {
	Identifier string
	Source     string
	Direction  Direction
	Err        error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("migration %s %s (%s): %v", e.Identifier, e.Direction, e.Source, e.Err)
	var pgErr *pgconn.PgError
	if errors.As(e.Err, &pgErr) {
		var details []string
		details = append(details, "SQLSTATE "+pgErr.Code)
		if pgErr.Detail != "" {
			details = append(details, "detail: "+pgErr.Detail)
		}
		if pgErr.Hint != "" {
			details = append(details, "hint: "+pgErr.Hint)
		}
		if pgErr.Position > 0 {
			details = append(details, fmt.Sprintf("position %d", pgErr.Position))
		}
		msg += " [" + strings.Join(details, "; ") + "]"
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool { return target == ErrMigrationExecution }

// MissingDownActionError is returned by Rollback before any transaction is
// opened when one of the targeted migrations is irreversible.
type MissingDownActionError struct {
	Identifier string
	Source     string
}

func (e *MissingDownActionError) Error() string {
	return fmt.Sprintf("migration %s (%s) has no down action", e.Identifier, e.Source)
}

func (e *MissingDownActionError) Is(target error) bool { return target == ErrMissingDownAction }

// HistoryError reports a bookkeeping table that disagrees with the registry,
// or a failure reading or writing it.
type HistoryError struct {
	Operation string
	Version   int64
	Err       error
}

func (e *HistoryError) Error() string {
	if e.Version != 0 {
		return fmt.Sprintf("migration history: %s: version %d: %v", e.Operation, e.Version, e.Err)
	}
	return fmt.Sprintf("migration history: %s: %v", e.Operation, e.Err)
}

func (e *HistoryError) Unwrap() error { return e.Err }

// ErrorKind maps migration errors to a stable logging label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDiscovery):
		return "discovery"
	case errors.Is(err, ErrLockContention):
		return "lock_contention"
	case errors.Is(err, ErrMissingDownAction):
		return "missing_down_action"
	case errors.Is(err, ErrUnknownApplied):
		return "unknown_applied"
	case errors.Is(err, ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, ErrMigrationExecution):
		return "execution"
	}
	var hErr *HistoryError
	if errors.As(err, &hErr) {
		return "history"
	}
	return "unexpected"
}
