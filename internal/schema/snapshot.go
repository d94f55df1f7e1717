// Package schema reads the live database catalog and compares it with an
// expected shape.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/example/pos-migrate/internal/database"
)

// Nullability of a column. Unspecified is only meaningful in expectations,
// where it means "do not check".
type Nullability int

const (
	Unspecified Nullability = iota
	Nullable
	NotNull
)

func (n Nullability) String() string {
	switch n {
	case Nullable:
		return "NULL"
	case NotNull:
		return "NOT NULL"
	}
	return "unspecified"
}

// Column is one column as declared in the catalog.
type Column struct {
	Name        string
	Type        string
	Nullability Nullability
	Default     *string
}

// Snapshot maps table names to their columns in ordinal order. A table that
// does not exist maps to an empty list.
type Snapshot map[string][]Column

// Tables returns the table names in sorted order.
func (s Snapshot) Tables() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Gateway is the part of the connection gateway the verifier reads through.
type Gateway interface {
	Handle() database.Handle
}

// Verifier reads the live catalog and compares it with an expectation. It
// never writes.
type Verifier struct {
	gw     Gateway
	logger *slog.Logger
}

// NewVerifier returns a Verifier reading through gw. A nil logger falls back
// to slog.Default().
func NewVerifier(gw Gateway, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{gw: gw, logger: logger.With("component", "schema_verifier")}
}

// Snapshot reads column metadata for the given tables.
func (v *Verifier) Snapshot(ctx context.Context, tables []string) (Snapshot, error) {
	h := v.gw.Handle()
	snapshot := make(Snapshot, len(tables))
	for _, table := range tables {
		columns, err := readColumns(ctx, h, table)
		if err != nil {
			return nil, fmt.Errorf("read columns of %s: %w", table, err)
		}
		snapshot[table] = columns
	}
	return snapshot, nil
}

func readColumns(ctx context.Context, h database.Handle, table string) ([]Column, error) {
	if h.Dialect() == database.SQLite {
		return readSQLiteColumns(ctx, h, table)
	}

	query := `SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ?
		ORDER BY ordinal_position`
	if h.Dialect() == database.MySQL {
		query = strings.Replace(query, "current_schema()", "DATABASE()", 1)
	}
	rows, err := h.QueryContext(ctx, h.Dialect().Rebind(query), table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := []Column{}
	for rows.Next() {
		var (
			col        Column
			isNullable string
			def        sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.Type, &isNullable, &def); err != nil {
			return nil, err
		}
		col.Nullability = NotNull
		if strings.EqualFold(isNullable, "YES") {
			col.Nullability = Nullable
		}
		if def.Valid {
			col.Default = &def.String
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func readSQLiteColumns(ctx context.Context, h database.Handle, table string) ([]Column, error) {
	rows, err := h.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := []Column{}
	for rows.Next() {
		var (
			col     Column
			notNull int
			def     sql.NullString
			pk      int
		)
		if err := rows.Scan(&col.Name, &col.Type, &notNull, &def, &pk); err != nil {
			return nil, err
		}
		// INTEGER PRIMARY KEY aliases the rowid and can never hold NULL.
		col.Nullability = Nullable
		if notNull == 1 || (pk > 0 && strings.EqualFold(col.Type, "INTEGER")) {
			col.Nullability = NotNull
		}
		if def.Valid {
			col.Default = &def.String
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}
