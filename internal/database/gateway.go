package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when a gateway is used after Close.
var ErrClosed = errors.New("database gateway is closed")

// Handle is the narrow view of a connection that migrations and catalog
// readers receive. It is satisfied by transactions, dedicated sessions and
// the pool itself, but callers never get at the pool directly.
type Handle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Dialect() Dialect
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type handle struct {
	querier
	dialect Dialect
}

func (h handle) Dialect() Dialect {
	return h.dialect
}

// TxFunc runs inside a transaction opened by WithTransaction.
type TxFunc func(ctx context.Context, tx Handle) error

// Gateway owns the connection pool for one target database. It is created
// once per process and handed to every component that needs the database.
type Gateway struct {
	db      *sql.DB
	dialect Dialect

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool
}

// New wraps an already opened pool. The gateway takes ownership of db.
func New(db *sql.DB, dialect Dialect) *Gateway {
	return &Gateway{db: db, dialect: dialect}
}

// Dialect reports the SQL flavour of the target database.
func (g *Gateway) Dialect() Dialect {
	return g.dialect
}

// Ping verifies the database is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	return g.db.PingContext(ctx)
}

// Handle returns a non-transactional handle backed by the pool. Each
// statement may run on a different connection.
func (g *Gateway) Handle() Handle {
	return handle{querier: g.db, dialect: g.dialect}
}

// WithTransaction executes fn within a database transaction. The transaction
// is committed when fn returns nil and rolled back when fn returns an error
// or panics; a panic is re-raised after the rollback. The underlying
// connection goes back to the pool on every path.
func (g *Gateway) WithTransaction(ctx context.Context, fn TxFunc) (err error) {
	if err := g.checkOpen(); err != nil {
		return err
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, handle{querier: tx, dialect: g.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback transaction: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Session is a dedicated connection pinned for the caller, used where state
// lives on the database session (advisory locks). It must be closed.
type Session struct {
	Handle
	conn *sql.Conn
	once sync.Once
}

// Close returns the connection to the pool. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// Session pins one connection from the pool.
func (g *Gateway) Session(ctx context.Context) (*Session, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	return &Session{Handle: handle{querier: conn, dialect: g.dialect}, conn: conn}, nil
}

// Close drains and closes the pool. Calling it again returns the result of
// the first call.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()
		g.closeErr = g.db.Close()
	})
	return g.closeErr
}

func (g *Gateway) checkOpen() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return ErrClosed
	}
	return nil
}
