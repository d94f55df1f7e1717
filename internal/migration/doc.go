// Package migration discovers versioned schema migrations and applies them to
// the POS database.
//
// Migrations come from SQL files (on disk or embedded) and from Go
// registrations. Each one is identified by a zero-padded numeric version
// such as "003" and carries an up action and an optional down action.
//
//   - Files are named {version}_{description}.up.sql with an optional
//     matching .down.sql, or {version}_{description}.sql with optional
//     "-- +migrate Up" / "-- +migrate Down" section markers.
//   - Applied migrations are recorded in a bookkeeping table (default
//     schema_migrations) inside the same transaction as their up action.
//   - A run holds an exclusive lock on the database for its whole duration.
//
// Example usage:
//
//	registry := migration.NewRegistry()
//	if err := registry.LoadFS(os.DirFS("migrations"), "."); err != nil {
//		return err
//	}
//	runner, err := migration.NewRunner(gateway, migration.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	report, err := runner.ApplyPending(ctx, registry)
package migration
