package migration

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/example/pos-migrate/internal/database"
	"github.com/example/pos-migrate/internal/logging"
)

// DefaultTable is the bookkeeping table used when none is configured.
const DefaultTable = "schema_migrations"

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTableName reports whether name can be used as the bookkeeping table.
func ValidTableName(name string) bool {
	return identPattern.MatchString(name)
}

// Gateway is the part of the connection gateway the runner depends on.
type Gateway interface {
	Dialect() database.Dialect
	Handle() database.Handle
	WithTransaction(ctx context.Context, fn database.TxFunc) error
	Session(ctx context.Context) (*database.Session, error)
}

// Runner applies and reverts migrations against one database.
type Runner struct {
	gw                Gateway
	store             historyStore
	table             string
	lockRetries       int
	lockRetryInterval time.Duration
	logger            *slog.Logger
	observer          Observer
	now               func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithTable overrides the bookkeeping table name.
func WithTable(table string) Option {
	return func(r *Runner) { r.table = table }
}

// WithLockRetries sets how many times a contended lock is retried and the
// initial backoff interval between attempts.
func WithLockRetries(retries int, interval time.Duration) Option {
	return func(r *Runner) {
		r.lockRetries = retries
		r.lockRetryInterval = interval
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithObserver registers a callback for state transitions.
func WithObserver(observer Observer) Option {
	return func(r *Runner) { r.observer = observer }
}

// WithClock overrides the time source used for applied_at and durations.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner builds a runner for gw.
func NewRunner(gw Gateway, opts ...Option) (*Runner, error) {
	if gw == nil {
		return nil, fmt.Errorf("migration runner requires a gateway")
	}
	r := &Runner{
		gw:                gw,
		table:             DefaultTable,
		lockRetries:       5,
		lockRetryInterval: 500 * time.Millisecond,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if !ValidTableName(r.table) {
		return nil, fmt.Errorf("invalid migrations table name %q", r.table)
	}
	if r.lockRetries < 0 {
		return nil, fmt.Errorf("lock retries cannot be negative")
	}
	if r.lockRetryInterval <= 0 {
		return nil, fmt.Errorf("lock retry interval must be positive")
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.store = historyStore{table: r.table}
	return r, nil
}

// runLogger prefers a logger carried by ctx over the runner's own.
func (r *Runner) runLogger(ctx context.Context, runID string, direction Direction) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = r.logger
	}
	return logger.With("component", "migration", "run_id", runID, "direction", string(direction))
}

func (r *Runner) transition(logger *slog.Logger, t Transition) {
	if t.Migration != "" {
		logger.Debug("migration state changed", "state", t.State.String(), "migration", t.Migration)
	} else {
		logger.Debug("migration state changed", "state", t.State.String())
	}
	if r.observer != nil {
		r.observer(t)
	}
}

// ApplyPending applies every migration from src that is not yet recorded,
// in ascending version order, one transaction each. It stops at the first
// failure; migrations committed before it stay committed.
func (r *Runner) ApplyPending(ctx context.Context, src Source) (Report, error) {
	runID := uuid.NewString()
	report := Report{RunID: runID, Direction: Up}
	logger := r.runLogger(ctx, runID, Up)
	ctx = logging.ContextWithLogger(ctx, logger)
	step := func(state State, migration string) {
		r.transition(logger, Transition{RunID: runID, Direction: Up, State: state, Migration: migration})
	}
	fail := func(err error) (Report, error) {
		step(StateFailed, report.Failed)
		report.Err = err
		logger.Error("migration run failed", "error", err, "kind", ErrorKind(err))
		return report, err
	}

	migrations, err := src.List()
	if err != nil {
		return fail(err)
	}

	step(StateLocking, "")
	release, err := r.acquireLock(ctx, logger, runID)
	if err != nil {
		return fail(err)
	}
	defer release()

	step(StateDiffing, "")
	if err := r.store.ensure(ctx, r.gw.Handle()); err != nil {
		return fail(err)
	}
	applied, err := r.store.applied(ctx, r.gw.Handle())
	if err != nil {
		return fail(err)
	}
	pending, drift, err := plan(migrations, applied)
	report.Drift = drift
	for _, d := range drift {
		logger.Warn("applied migration changed since it ran",
			"migration", d.Identifier, "source", d.Source, "recorded_checksum", d.Recorded, "current_checksum", d.Current)
	}
	if err != nil {
		return fail(err)
	}

	if len(pending) == 0 {
		logger.Info("database schema is up to date", "applied", len(applied))
		step(StateIdle, "")
		return report, nil
	}
	logger.Info("applying pending migrations", "pending", len(pending), "applied", len(applied))

	for i, m := range pending {
		report.Attempted = append(report.Attempted, m.Identifier)
		step(StateApplying, m.Identifier)

		elapsed, err := r.apply(ctx, m)
		if err != nil {
			report.Failed = m.Identifier
			for _, rest := range pending[i+1:] {
				report.Skipped = append(report.Skipped, rest.Identifier)
			}
			return fail(err)
		}

		report.Succeeded = append(report.Succeeded, m.Identifier)
		step(StateCommitted, m.Identifier)
		logger.Info("migration applied",
			"migration", m.Identifier, "description", m.Description, "source", m.Source, "duration", elapsed)
	}

	step(StateIdle, "")
	logger.Info("all pending migrations applied", "count", len(report.Succeeded))
	return report, nil
}

func (r *Runner) apply(ctx context.Context, m Migration) (time.Duration, error) {
	var elapsed time.Duration
	err := r.gw.WithTransaction(ctx, func(ctx context.Context, tx database.Handle) error {
		start := r.now()
		if err := m.Up.Run(ctx, tx); err != nil {
			return err
		}
		elapsed = r.now().Sub(start)
		return r.store.insert(ctx, tx, Record{
			Version:       m.Version,
			AppliedAt:     r.now(),
			Checksum:      m.Checksum,
			ExecutionTime: elapsed,
		})
	})
	if err != nil {
		return 0, &ExecutionError{Identifier: m.Identifier, Source: m.Source, Direction: Up, Err: err}
	}
	return elapsed, nil
}

// plan returns the pending migrations in order. The applied set must stay a
// prefix of the ordered migration list: every recorded version must still be
// defined and no pending version may sit below the newest recorded one.
func plan(migrations []Migration, applied []Record) ([]Migration, []Drift, error) {
	byVersion := make(map[int64]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	var (
		drift      []Drift
		maxApplied int64 = -1
		done             = make(map[int64]bool, len(applied))
	)
	for _, rec := range applied {
		m, ok := byVersion[rec.Version]
		if !ok {
			return nil, drift, &HistoryError{Operation: "validate", Version: rec.Version, Err: ErrUnknownApplied}
		}
		if rec.Checksum != "" && m.Checksum != "" && rec.Checksum != m.Checksum {
			drift = append(drift, Drift{Identifier: m.Identifier, Source: m.Source, Recorded: rec.Checksum, Current: m.Checksum})
		}
		done[rec.Version] = true
		if rec.Version > maxApplied {
			maxApplied = rec.Version
		}
	}

	var pending []Migration
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		if m.Version < maxApplied {
			return nil, drift, &HistoryError{
				Operation: "validate",
				Version:   m.Version,
				Err:       fmt.Errorf("%w: %s is older than applied version %d", ErrOutOfOrder, m.Identifier, maxApplied),
			}
		}
		pending = append(pending, m)
	}
	return pending, drift, nil
}

// Rollback reverts the steps most recently applied migrations, newest
// first, each in its own transaction. Every target is checked for a down
// action before anything runs. steps larger than the history is clamped.
func (r *Runner) Rollback(ctx context.Context, src Source, steps int) (Report, error) {
	runID := uuid.NewString()
	report := Report{RunID: runID, Direction: Down}
	logger := r.runLogger(ctx, runID, Down)
	ctx = logging.ContextWithLogger(ctx, logger)
	step := func(state State, migration string) {
		r.transition(logger, Transition{RunID: runID, Direction: Down, State: state, Migration: migration})
	}
	fail := func(err error) (Report, error) {
		step(StateFailed, report.Failed)
		report.Err = err
		logger.Error("migration rollback failed", "error", err, "kind", ErrorKind(err))
		return report, err
	}

	if steps < 1 {
		return fail(fmt.Errorf("rollback steps must be at least 1, got %d", steps))
	}
	migrations, err := src.List()
	if err != nil {
		return fail(err)
	}

	step(StateLocking, "")
	release, err := r.acquireLock(ctx, logger, runID)
	if err != nil {
		return fail(err)
	}
	defer release()

	step(StateDiffing, "")
	if err := r.store.ensure(ctx, r.gw.Handle()); err != nil {
		return fail(err)
	}
	applied, err := r.store.applied(ctx, r.gw.Handle())
	if err != nil {
		return fail(err)
	}
	if len(applied) == 0 {
		logger.Info("no applied migrations to roll back")
		step(StateIdle, "")
		return report, nil
	}
	if steps > len(applied) {
		logger.Info("rollback steps clamped to applied history", "requested", steps, "applied", len(applied))
		steps = len(applied)
	}

	byVersion := make(map[int64]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}
	targets := make([]Migration, 0, steps)
	for i := len(applied) - 1; i >= len(applied)-steps; i-- {
		m, ok := byVersion[applied[i].Version]
		if !ok {
			return fail(&HistoryError{Operation: "rollback", Version: applied[i].Version, Err: ErrUnknownApplied})
		}
		if m.Down == nil {
			return fail(&MissingDownActionError{Identifier: m.Identifier, Source: m.Source})
		}
		targets = append(targets, m)
	}

	for i, m := range targets {
		report.Attempted = append(report.Attempted, m.Identifier)
		step(StateApplying, m.Identifier)

		err := r.gw.WithTransaction(ctx, func(ctx context.Context, tx database.Handle) error {
			if err := m.Down.Run(ctx, tx); err != nil {
				return err
			}
			return r.store.remove(ctx, tx, m.Version)
		})
		if err != nil {
			report.Failed = m.Identifier
			for _, rest := range targets[i+1:] {
				report.Skipped = append(report.Skipped, rest.Identifier)
			}
			return fail(&ExecutionError{Identifier: m.Identifier, Source: m.Source, Direction: Down, Err: err})
		}

		report.Succeeded = append(report.Succeeded, m.Identifier)
		step(StateCommitted, m.Identifier)
		logger.Info("migration rolled back", "migration", m.Identifier, "description", m.Description)
	}

	step(StateIdle, "")
	return report, nil
}

// Status reports applied and pending migrations without taking the lock or
// creating the bookkeeping table.
func (r *Runner) Status(ctx context.Context, src Source) (Status, error) {
	migrations, err := src.List()
	if err != nil {
		return Status{}, err
	}

	h := r.gw.Handle()
	exists, err := TableExists(ctx, h, r.table)
	if err != nil {
		return Status{}, &HistoryError{Operation: "inspect " + r.table, Err: err}
	}
	var applied []Record
	if exists {
		if applied, err = r.store.applied(ctx, h); err != nil {
			return Status{}, err
		}
	}

	status := Status{Applied: applied}
	byVersion := make(map[int64]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}
	done := make(map[int64]bool, len(applied))
	var maxApplied int64 = -1
	for _, rec := range applied {
		done[rec.Version] = true
		if rec.Version > maxApplied {
			maxApplied = rec.Version
		}
		m, ok := byVersion[rec.Version]
		if !ok {
			status.Unknown = append(status.Unknown, rec.Version)
			continue
		}
		if rec.Checksum != "" && m.Checksum != "" && rec.Checksum != m.Checksum {
			status.Drift = append(status.Drift, Drift{Identifier: m.Identifier, Source: m.Source, Recorded: rec.Checksum, Current: m.Checksum})
		}
	}
	if maxApplied >= 0 {
		if m, ok := byVersion[maxApplied]; ok {
			status.Current = m.Identifier
		} else {
			status.Current = fmt.Sprintf("%d", maxApplied)
		}
	}
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		status.Pending = append(status.Pending, m)
		if m.Version < maxApplied {
			status.OutOfOrder = append(status.OutOfOrder, m.Identifier)
		}
	}
	return status, nil
}

// Unlock clears a run lock left behind by a process that died while
// holding it. Only SQLite keeps such state; advisory locks on PostgreSQL
// and MySQL end with their session, so there is nothing to clear.
func (r *Runner) Unlock(ctx context.Context) (bool, error) {
	if r.gw.Dialect() != database.SQLite {
		r.logger.Info("advisory locks are released with their session; nothing to unlock", "dialect", r.gw.Dialect().String())
		return false, nil
	}
	lock := &rowLock{h: r.gw.Handle(), table: r.table + "_lock", now: r.now}
	removed, err := lock.forceUnlock(ctx)
	if err != nil {
		return false, err
	}
	if removed {
		r.logger.Warn("stale migration lock removed", "lock", lock.name())
	}
	return removed, nil
}
