package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// legacyUpgradeVersion is the goose version of the Go migration that brings
// partitions created before per-instance users up to date.
const legacyUpgradeVersion = 2

// OpenPartition opens the sqlite partition at path and applies pending
// migrations. instanceID is the owner of the partition; it backfills rows
// written before users carried an instance id.
func OpenPartition(ctx context.Context, path, instanceID string) (*sql.DB, error) {
	db, err := ConnectPartition(path)
	if err != nil {
		return nil, err
	}

	if err := MigratePartition(ctx, db, instanceID); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ConnectPartition opens the sqlite partition at path without migrating it.
func ConnectPartition(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open partition: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// MigratePartition runs the partition migrations against db.
func MigratePartition(ctx context.Context, db *sql.DB, instanceID string) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys,
		goose.WithGoMigrations(
			goose.NewGoMigration(legacyUpgradeVersion, &goose.GoFunc{RunTx: upgradeLegacyPartition(instanceID)}, nil),
		),
	)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate partition: %w", err)
	}
	return nil
}

// upgradeLegacyPartition adds columns that older partitions lack. The user
// instance_id column is backfilled with instanceID; when sqlite refuses the
// in-place ALTER, the users table is rebuilt and swapped in.
func upgradeLegacyPartition(instanceID string) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		userCols, err := tableColumns(ctx, tx, "users")
		if err != nil {
			return err
		}
		if !userCols["instance_id"] {
			if err := addUserInstanceColumn(ctx, tx, instanceID); err != nil {
				return err
			}
		}

		noteCols, err := tableColumns(ctx, tx, "notes")
		if err != nil {
			return err
		}
		for _, col := range []string{"filename", "download_link"} {
			if noteCols[col] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `ALTER TABLE notes ADD COLUMN `+col+` TEXT`); err != nil {
				return fmt.Errorf("add notes.%s: %w", col, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`CREATE UNIQUE INDEX IF NOT EXISTS uix_users_username_instance ON users(username, instance_id)`,
		); err != nil {
			return fmt.Errorf("create username index: %w", err)
		}
		return nil
	}
}

func addUserInstanceColumn(ctx context.Context, tx *sql.Tx, instanceID string) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE users ADD COLUMN instance_id TEXT`); err != nil {
		return rebuildUsersTable(ctx, tx, instanceID)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET instance_id = ?`, instanceID); err != nil {
		return fmt.Errorf("backfill users.instance_id: %w", err)
	}
	return nil
}

func rebuildUsersTable(ctx context.Context, tx *sql.Tx, instanceID string) error {
	stmts := []struct {
		query string
		args  []any
	}{
		{`CREATE TABLE users_rebuild (
    id INTEGER PRIMARY KEY,
    username TEXT NOT NULL,
    password TEXT NOT NULL,
    instance_id TEXT NOT NULL
)`, nil},
		{`INSERT INTO users_rebuild (id, username, password, instance_id)
SELECT id, username, password, ? FROM users`, []any{instanceID}},
		{`DROP TABLE users`, nil},
		{`ALTER TABLE users_rebuild RENAME TO users`, nil},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("rebuild users table: %w", err)
		}
	}
	return nil
}

func tableColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table info %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
