// Package repository provides persistence implementations for the instance
// registry and the per-instance data partitions.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/atinyakov/sandnotes/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// RegistryRepository stores instance identifiers and their access times.
// Timestamps are persisted as unix milliseconds.
type RegistryRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
	// Driver is "sqlite" or "postgres"; it selects placeholder style and
	// the two-argument max function.
	Driver string
}

// NewRegistryRepository creates a RegistryRepository for the given driver.
func NewRegistryRepository(db *sql.DB, driver string) *RegistryRepository {
	return &RegistryRepository{DB: db, Driver: driver}
}

func (r *RegistryRepository) q(query string) string {
	if r.Driver == "postgres" {
		return rebind(query)
	}
	return query
}

// rebind rewrites ? placeholders to $1, $2, ...
func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Touch records an access to the instance at the given time, creating the
// row if needed. The stored last_access never moves backwards.
//
//	ctx: context for cancellation and deadlines
//	id:  instance identifier
//	at:  access time
func (r *RegistryRepository) Touch(ctx context.Context, id string, at time.Time) error {
	greatest := "MAX"
	if r.Driver == "postgres" {
		greatest = "GREATEST"
	}
	ms := at.UnixMilli()
	query := fmt.Sprintf(`
		INSERT INTO instances (id, created_at, last_access) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET last_access = %s(instances.last_access, excluded.last_access)
	`, greatest)
	if _, err := r.DB.ExecContext(ctx, r.q(query), id, ms, ms); err != nil {
		return fmt.Errorf("touch instance: %w", err)
	}
	return nil
}

// Get returns the registry row for id or ErrNotFound.
func (r *RegistryRepository) Get(ctx context.Context, id string) (*models.Instance, error) {
	var created, last int64
	err := r.DB.QueryRowContext(ctx,
		r.q(`SELECT created_at, last_access FROM instances WHERE id = ?`), id,
	).Scan(&created, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return &models.Instance{
		ID:         id,
		CreatedAt:  time.UnixMilli(created),
		LastAccess: time.UnixMilli(last),
	}, nil
}

// List returns every registry row.
func (r *RegistryRepository) List(ctx context.Context) ([]models.Instance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, created_at, last_access FROM instances`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []models.Instance
	for rows.Next() {
		var (
			inst          models.Instance
			created, last int64
		)
		if err := rows.Scan(&inst.ID, &created, &last); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		inst.CreatedAt = time.UnixMilli(created)
		inst.LastAccess = time.UnixMilli(last)
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return out, nil
}

// DeleteInstances removes registry rows in a single transaction. Rows in
// idle are removed only if their last_access is still before cutoff, so an
// access recorded after the caller's decision wins. Rows in orphans are
// removed unconditionally. It returns the number of rows deleted.
func (r *RegistryRepository) DeleteInstances(ctx context.Context, idle []string, cutoff time.Time, orphans []string) (int64, error) {
	if len(idle) == 0 && len(orphans) == 0 {
		return 0, nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var deleted int64
	exec := func(query string, args ...any) error {
		res, err := tx.ExecContext(ctx, r.q(query), args...)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted += n
		return nil
	}

	for _, id := range idle {
		if err := exec(`DELETE FROM instances WHERE id = ? AND last_access < ?`, id, cutoff.UnixMilli()); err != nil {
			return 0, fmt.Errorf("delete idle instance: %w", err)
		}
	}
	for _, id := range orphans {
		if err := exec(`DELETE FROM instances WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("delete orphan instance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return deleted, nil
}
