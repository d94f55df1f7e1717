package migration

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/pos-migrate/internal/database"
	"github.com/example/pos-migrate/internal/testfixtures"
)

func newTestRunner(t *testing.T, gw Gateway, opts ...Option) *Runner {
	t.Helper()
	var logs bytes.Buffer
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithLockRetries(2, time.Millisecond),
	}
	runner, err := NewRunner(gw, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("runner logs:\n%s", logs.String())
		}
	})
	return runner
}

func registryFrom(t *testing.T, files fstest.MapFS) *Registry {
	t.Helper()
	registry := NewRegistry()
	require.NoError(t, registry.LoadFS(files, "."))
	return registry
}

func recordedVersions(t *testing.T, gw *database.Gateway) []int64 {
	t.Helper()
	rows, err := gw.Handle().QueryContext(context.Background(), `SELECT version FROM schema_migrations ORDER BY version`)
	require.NoError(t, err)
	defer rows.Close()
	versions := []int64{}
	for rows.Next() {
		var v int64
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	require.NoError(t, rows.Err())
	return versions
}

func TestTableAndColumnExists(t *testing.T) {
	ctx := context.Background()
	gw := testfixtures.NewSQLiteGateway(t)
	h := gw.Handle()

	exists, err := TableExists(ctx, h, "tenants")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = h.ExecContext(ctx, `CREATE TABLE tenants (id INTEGER PRIMARY KEY, business_name TEXT)`)
	require.NoError(t, err)

	exists, err = TableExists(ctx, h, "tenants")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = ColumnExists(ctx, h, "tenants", "business_name")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = ColumnExists(ctx, h, "tenants", "updated_at")
	require.NoError(t, err)
	require.False(t, exists)
}
