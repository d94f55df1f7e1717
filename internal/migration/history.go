package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/pos-migrate/internal/database"
)

// historyStore reads and writes the bookkeeping table.
type historyStore struct {
	table string
}

func (s historyStore) createSQL(d database.Dialect) string {
	table := d.QuoteIdent(s.table)
	switch d {
	case database.Postgres:
		return `CREATE TABLE IF NOT EXISTS ` + table + ` (
			version BIGINT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL,
			checksum TEXT,
			execution_ms BIGINT NOT NULL DEFAULT 0
		)`
	case database.MySQL:
		return `CREATE TABLE IF NOT EXISTS ` + table + ` (
			version BIGINT NOT NULL PRIMARY KEY,
			applied_at DATETIME(6) NOT NULL,
			checksum VARCHAR(64) NULL,
			execution_ms BIGINT NOT NULL DEFAULT 0
		)`
	default:
		return `CREATE TABLE IF NOT EXISTS ` + table + ` (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT,
			execution_ms INTEGER NOT NULL DEFAULT 0
		)`
	}
}

// ensure creates the bookkeeping table if it does not exist yet.
func (s historyStore) ensure(ctx context.Context, h database.Handle) error {
	if _, err := h.ExecContext(ctx, s.createSQL(h.Dialect())); err != nil {
		return &HistoryError{Operation: "create " + s.table, Err: err}
	}
	return nil
}

// applied returns all records ordered by ascending version.
func (s historyStore) applied(ctx context.Context, h database.Handle) ([]Record, error) {
	query := fmt.Sprintf(`SELECT version, applied_at, COALESCE(checksum, ''), execution_ms FROM %s ORDER BY version ASC`,
		h.Dialect().QuoteIdent(s.table))
	rows, err := h.QueryContext(ctx, query)
	if err != nil {
		return nil, &HistoryError{Operation: "read " + s.table, Err: err}
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			appliedAt any
			ms        int64
		)
		if err := rows.Scan(&rec.Version, &appliedAt, &rec.Checksum, &ms); err != nil {
			return nil, &HistoryError{Operation: "scan " + s.table, Err: err}
		}
		rec.AppliedAt, err = parseAppliedAt(appliedAt)
		if err != nil {
			return nil, &HistoryError{Operation: "scan " + s.table, Version: rec.Version, Err: err}
		}
		rec.ExecutionTime = time.Duration(ms) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &HistoryError{Operation: "read " + s.table, Err: err}
	}
	return records, nil
}

func (s historyStore) insert(ctx context.Context, h database.Handle, rec Record) error {
	d := h.Dialect()
	query := d.Rebind(fmt.Sprintf(`INSERT INTO %s (version, applied_at, checksum, execution_ms) VALUES (?, ?, ?, ?)`,
		d.QuoteIdent(s.table)))

	var appliedAt any = rec.AppliedAt.UTC()
	if d == database.SQLite {
		appliedAt = rec.AppliedAt.UTC().Format(time.RFC3339Nano)
	}
	checksum := sql.NullString{String: rec.Checksum, Valid: rec.Checksum != ""}

	if _, err := h.ExecContext(ctx, query, rec.Version, appliedAt, checksum, rec.ExecutionTime.Milliseconds()); err != nil {
		return &HistoryError{Operation: "record", Version: rec.Version, Err: err}
	}
	return nil
}

func (s historyStore) remove(ctx context.Context, h database.Handle, version int64) error {
	d := h.Dialect()
	query := d.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE version = ?`, d.QuoteIdent(s.table)))
	res, err := h.ExecContext(ctx, query, version)
	if err != nil {
		return &HistoryError{Operation: "remove", Version: version, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return &HistoryError{Operation: "remove", Version: version, Err: fmt.Errorf("expected 1 record, removed %d", n)}
	}
	return nil
}

func parseAppliedAt(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTimestamp(t)
	case []byte:
		return parseTimestamp(string(t))
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unexpected applied_at type %T", v)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable applied_at %q", s)
}
