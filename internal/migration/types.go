package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/example/pos-migrate/internal/database"
)

// Action is one direction of a migration. The runner never inspects what an
// action does; it only runs it inside a transaction.
type Action interface {
	Run(ctx context.Context, h database.Handle) error
}

// SQL is an action backed by literal SQL text, executed verbatim.
type SQL string

// Run executes the statement text in a single call.
func (s SQL) Run(ctx context.Context, h database.Handle) error {
	_, err := h.ExecContext(ctx, string(s))
	return err
}

// Func is an action backed by a Go callback.
type Func func(ctx context.Context, h database.Handle) error

// Run calls f.
func (f Func) Run(ctx context.Context, h database.Handle) error {
	return f(ctx, h)
}

// Migration is a single versioned schema change.
type Migration struct {
	Version     int64  // numeric ordering key parsed from Identifier
	Identifier  string // literal version text, e.g. "003"
	Description string
	Up          Action
	Down        Action // nil when the migration cannot be rolled back
	Source      string // file path, or "go:<name>" for registrations
	Checksum    string // sha256 of the up body for SQL migrations
}

// String renders the migration as "003 add updated_at to tenants".
func (m Migration) String() string {
	if m.Description == "" {
		return m.Identifier
	}
	return m.Identifier + " " + m.Description
}

// Reversible reports whether the migration has a down action.
func (m Migration) Reversible() bool {
	return m.Down != nil
}

// Record is one row of the bookkeeping table.
type Record struct {
	Version       int64
	AppliedAt     time.Time
	Checksum      string
	ExecutionTime time.Duration
}

// Direction tells whether a run applies or reverts migrations.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// State is a step of the runner's state machine.
type State int

const (
	StateIdle State = iota
	StateLocking
	StateDiffing
	StateApplying
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocking:
		return "locking"
	case StateDiffing:
		return "diffing"
	case StateApplying:
		return "applying"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transition is delivered to an Observer each time the runner changes state.
// Migration is empty for states that are not tied to a single migration.
type Transition struct {
	RunID     string
	Direction Direction
	State     State
	Migration string
}

// Observer receives state transitions. It is called synchronously from the
// run and must not block.
type Observer func(Transition)

// Drift flags an applied migration whose content changed after it ran.
type Drift struct {
	Identifier string
	Source     string
	Recorded   string
	Current    string
}

// Report summarizes a single ApplyPending or Rollback run.
type Report struct {
	RunID     string
	Direction Direction
	// Attempted lists every migration the run tried, in execution order.
	Attempted []string
	// Succeeded lists the migrations that committed.
	Succeeded []string
	// Skipped lists migrations that were planned but not attempted because
	// an earlier one failed.
	Skipped []string
	// Failed is the identifier of the first failing migration, if any.
	Failed string
	Err    error
	Drift  []Drift
}

// OK reports whether the run finished without a failure.
func (r Report) OK() bool {
	return r.Failed == "" && r.Err == nil
}

// Status describes the database's migration state without changing it.
type Status struct {
	// Current is the identifier of the highest applied migration, empty for
	// a database with no history.
	Current string
	Applied []Record
	Pending []Migration
	Drift   []Drift
	// Unknown lists applied versions that no longer exist in the registry.
	Unknown []int64
	// OutOfOrder lists pending migrations older than the newest applied one.
	OutOfOrder []string
}
