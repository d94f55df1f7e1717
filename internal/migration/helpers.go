package migration

import (
	"context"
	"fmt"

	"github.com/example/pos-migrate/internal/database"
)

// TableExists reports whether table exists in the current schema. Go
// migrations use it to make their steps conditional.
func TableExists(ctx context.Context, h database.Handle, table string) (bool, error) {
	var query string
	switch h.Dialect() {
	case database.Postgres:
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`
	case database.MySQL:
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`
	default:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	}
	var count int
	if err := h.QueryRowContext(ctx, h.Dialect().Rebind(query), table).Scan(&count); err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return count > 0, nil
}

// ColumnExists reports whether table has a column with the given name.
func ColumnExists(ctx context.Context, h database.Handle, table, column string) (bool, error) {
	var query string
	switch h.Dialect() {
	case database.Postgres:
		query = `SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?`
	case database.MySQL:
		query = `SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? AND column_name = ?`
	default:
		query = `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
	}
	var count int
	if err := h.QueryRowContext(ctx, h.Dialect().Rebind(query), table, column).Scan(&count); err != nil {
		return false, fmt.Errorf("check column %s.%s: %w", table, column, err)
	}
	return count > 0, nil
}
