package schema

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pos-migrate/internal/database"
	"github.com/example/pos-migrate/internal/testfixtures"
)

func strPtr(s string) *string { return &s }

func TestVerifierSnapshot_SQLite(t *testing.T) {
	ctx := context.Background()
	gw := testfixtures.NewSQLiteGateway(t)
	_, err := gw.Handle().ExecContext(ctx, `
		CREATE TABLE tenants (
			id INTEGER PRIMARY KEY,
			business_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			notes TEXT
		)`)
	require.NoError(t, err)

	snapshot, err := NewVerifier(gw, nil).Snapshot(ctx, []string{"tenants", "branches"})
	require.NoError(t, err)

	assert.Equal(t, []Column{
		{Name: "id", Type: "INTEGER", Nullability: NotNull},
		{Name: "business_name", Type: "TEXT", Nullability: NotNull},
		{Name: "status", Type: "TEXT", Nullability: NotNull, Default: strPtr("'active'")},
		{Name: "notes", Type: "TEXT", Nullability: Nullable},
	}, snapshot["tenants"])

	branches, ok := snapshot["branches"]
	require.True(t, ok, "missing tables still get an entry")
	assert.Empty(t, branches)
}

func TestVerifierSnapshot_PostgresCatalog(t *testing.T) {
	gw, mock := testfixtures.NewMockGateway(t, database.Postgres)
	cols := []string{"column_name", "data_type", "is_nullable", "column_default"}

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE table_schema = current_schema() AND table_name = $1`)).
		WithArgs("employees").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("id", "uuid", "NO", "gen_random_uuid()").
			AddRow("email", "character varying", "NO", nil).
			AddRow("phone", "character varying", "YES", nil))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE table_schema = current_schema() AND table_name = $1`)).
		WithArgs("devices").
		WillReturnRows(sqlmock.NewRows(cols))

	snapshot, err := NewVerifier(gw, nil).Snapshot(context.Background(), []string{"employees", "devices"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, Snapshot{
		"employees": {
			{Name: "id", Type: "uuid", Nullability: NotNull, Default: strPtr("gen_random_uuid()")},
			{Name: "email", Type: "character varying", Nullability: NotNull},
			{Name: "phone", Type: "character varying", Nullability: Nullable},
		},
		"devices": {},
	}, snapshot)
}

func TestVerifierSnapshot_MySQLCatalog(t *testing.T) {
	gw, mock := testfixtures.NewMockGateway(t, database.MySQL)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE table_schema = DATABASE() AND table_name = ?`)).
		WithArgs("shifts").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT"}).
			AddRow("id", "char", "NO", nil))

	snapshot, err := NewVerifier(gw, nil).Snapshot(context.Background(), []string{"shifts"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []Column{{Name: "id", Type: "char", Nullability: NotNull}}, snapshot["shifts"])
}

func TestVerifierSnapshot_CatalogError(t *testing.T) {
	gw, mock := testfixtures.NewMockGateway(t, database.Postgres)
	mock.ExpectQuery(`information_schema`).WillReturnError(assert.AnError)

	_, err := NewVerifier(gw, nil).Snapshot(context.Background(), []string{"tenants"})
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "read columns of tenants")
}
