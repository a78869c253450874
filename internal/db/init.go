package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var registrySchema = []string{
	`CREATE TABLE IF NOT EXISTS instances (
    id TEXT PRIMARY KEY,
    created_at BIGINT NOT NULL,
    last_access BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_instances_last_access ON instances(last_access)`,
}

// InitRegistry opens the instance registry for the given driver ("sqlite"
// or "postgres") and creates its schema. For sqlite, dsn is a file path
// whose parent directory is created if missing.
func InitRegistry(driver, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case "postgres":
		db, err = sql.Open("postgres", dsn)
	case "sqlite":
		if !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create registry dir: %w", err)
			}
		}
		db, err = sql.Open("sqlite", SQLiteDSN(dsn, "journal_mode(WAL)"))
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("unsupported registry driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping registry: %w", err)
	}

	for _, stmt := range registrySchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return db, nil
}

// SQLiteDSN turns a file path into a modernc.org/sqlite DSN with a busy
// timeout and any extra pragmas. DSNs already starting with "file:" are
// returned unchanged.
func SQLiteDSN(path string, pragmas ...string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(path)
	b.WriteString("?_pragma=busy_timeout(5000)")
	for _, p := range pragmas {
		b.WriteString("&_pragma=")
		b.WriteString(p)
	}
	return b.String()
}
