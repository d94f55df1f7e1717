package testfixtures

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/example/pos-migrate/internal/database"
)

// NewSQLiteGateway opens a gateway on a temporary SQLite file. The gateway is
// closed when the test ends.
func NewSQLiteGateway(tb testing.TB) *database.Gateway {
	tb.Helper()

	cfg := database.DefaultConfig("sqlite://" + filepath.Join(tb.TempDir(), "pos.db"))
	cfg.BusyTimeout = 5 * time.Second
	gw, err := database.Open(context.Background(), cfg)
	if err != nil {
		tb.Fatalf("failed to open sqlite gateway: %v", err)
	}
	tb.Cleanup(func() { _ = gw.Close() })
	return gw
}

// NewMockGateway wraps a sqlmock connection so SQL paths of dialects that are
// not available locally can be asserted statement by statement.
func NewMockGateway(tb testing.TB, dialect database.Dialect) (*database.Gateway, sqlmock.Sqlmock) {
	tb.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		tb.Fatalf("failed to create sqlmock: %v", err)
	}
	gw := database.New(db, dialect)
	tb.Cleanup(func() { _ = gw.Close() })
	return gw, mock
}
