package gwsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"runtime/trace"
)

func migrate(ctx context.Context, db *sql.DB) error {
	defer trace.StartRegion(ctx, "migrate").End()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`CREATE TABLE IF NOT EXISTS migrations(
  id INTEGER PRIMARY KEY CHECK (id = 0),
  version INTEGER
);`,
	); err != nil {
		return fmt.Errorf("error getting initial migrations table: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO migrations(id, version) VALUES (0, 0)`,
	); err != nil {
		return fmt.Errorf("error setting initial migration version: %w", err)
	}

	var migrationVersion int
	if err := tx.QueryRowContext(
		ctx, `SELECT version FROM migrations WHERE id=0;`,
	).Scan(&migrationVersion); err != nil {
		return fmt.Errorf("failed to scan migration version: %w", err)
	}

	if err := migrateFrom(ctx, tx, migrationVersion); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

func migrateFrom(ctx context.Context, tx *sql.Tx, version int) error {
	switch version {
	case 0:
		if err := migrateInitial(ctx, tx); err != nil {
			return fmt.Errorf("initial migration: %w", err)
		}
		if err := setMigrationVersion(ctx, tx, 1); err != nil {
			return err
		}
	case 1:
		// Up to date.
		return nil
	default:
		return fmt.Errorf("unknown migration version %d", version)
	}

	// https://sqlite.org/pragma.html#pragma_optimize:
	// run PRAGMA optimize after a schema change.
	if _, err := tx.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to run PRAGMA optimize after migration: %w", err)
	}

	return nil
}

func migrateInitial(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(
		ctx,
		// One row per overdue episode.
		// The traces column holds the snappy-compressed traces file;
		// traces_size is the uncompressed length.
		`
CREATE TABLE diagnostics(
  episode_id TEXT PRIMARY KEY NOT NULL CHECK (length(episode_id) > 0),
  tag TEXT NOT NULL,
  process TEXT NOT NULL,
  subject TEXT NOT NULL,
  traces_path TEXT NOT NULL,
  traces_size INTEGER NOT NULL CHECK (traces_size >= 0),
  traces BLOB,
  created_at_ns INTEGER NOT NULL
);
CREATE INDEX diagnostics_created_at ON diagnostics(created_at_ns);`+

			// Single-row table, like the migrations table.
			// NULL until the reboot policy first saves an attempt.
			`
CREATE TABLE reboot(
  id INTEGER PRIMARY KEY CHECK (id = 0),
  next_attempt_ns INTEGER
);
INSERT INTO reboot VALUES(0, NULL);`,
	)
	return err
}

func setMigrationVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(
		ctx, `UPDATE migrations SET version = ? WHERE id = 0`, version,
	); err != nil {
		return fmt.Errorf("failed to set migration version to %d: %w", version, err)
	}
	return nil
}
