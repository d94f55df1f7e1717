// Package testfixtures holds shared helpers for tests: a controllable clock,
// database gateways and small migration sets.
package testfixtures

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

var referenceTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// TenantMigrations is a SQLite-compatible miniature of the POS baseline:
// three reversible migrations mixing paired files and marker sections.
func TenantMigrations() fstest.MapFS {
	return fstest.MapFS{
		"001_create_tenants.up.sql": {Data: []byte(`-- Description: tenants and their branches
CREATE TABLE tenants (
    id INTEGER PRIMARY KEY,
    business_name TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE branches (
    id INTEGER PRIMARY KEY,
    tenant_id INTEGER NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    name TEXT NOT NULL
);
`)},
		"001_create_tenants.down.sql": {Data: []byte("DROP TABLE branches;\nDROP TABLE tenants;\n")},
		"002_create_employees.sql": {Data: []byte(`-- +migrate Up
CREATE TABLE employees (
    id INTEGER PRIMARY KEY,
    tenant_id INTEGER NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    email TEXT NOT NULL,
    UNIQUE (tenant_id, email)
);
-- +migrate Down
DROP TABLE employees;
`)},
		"003_add_tenant_email.up.sql":   {Data: []byte("ALTER TABLE tenants ADD COLUMN email TEXT;\n")},
		"003_add_tenant_email.down.sql": {Data: []byte("ALTER TABLE tenants DROP COLUMN email;\n")},
		"README.md":                     {Data: []byte("ignored by discovery\n")},
	}
}

// WriteFS copies every file of fsys into dir, creating it when needed.
func WriteFS(tb testing.TB, dir string, fsys fstest.MapFS) {
	tb.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		tb.Fatalf("failed to create %s: %v", dir, err)
	}
	for name, file := range fsys {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			tb.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, file.Data, 0o644); err != nil {
			tb.Fatalf("failed to write %s: %v", path, err)
		}
	}
}
