package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/atinyakov/sandnotes/internal/models"
)

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("duplicate")

// Conn returns the partition database, opening it on first use.
type Conn func(ctx context.Context) (*sql.DB, error)

// PartitionRepository reads and writes users and notes of one instance.
type PartitionRepository struct {
	conn Conn
}

// NewPartitionRepository creates a PartitionRepository over conn. The
// partition is not opened until the first query.
func NewPartitionRepository(conn Conn) *PartitionRepository {
	return &PartitionRepository{conn: conn}
}

// CreateUser inserts u and returns its new row id. A (username, instance)
// collision yields ErrDuplicate.
func (r *PartitionRepository) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO users (username, password, instance_id) VALUES (?, ?, ?)`,
		u.Username, u.PasswordHash, u.InstanceID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return res.LastInsertId()
}

// UserByName looks a user up by (instance, username).
func (r *PartitionRepository) UserByName(ctx context.Context, instanceID, username string) (*models.User, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var u models.User
	err = db.QueryRowContext(ctx, `
		SELECT id, username, password, instance_id FROM users
		WHERE username = ? AND instance_id = ?
	`, username, instanceID).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.InstanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user by name: %w", err)
	}
	return &u, nil
}

// UserByID looks a user up by row id.
func (r *PartitionRepository) UserByID(ctx context.Context, id int64) (*models.User, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	var u models.User
	err = db.QueryRowContext(ctx,
		`SELECT id, username, password, instance_id FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.InstanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user by id: %w", err)
	}
	return &u, nil
}

// CreateNote inserts n and returns its new row id.
func (r *PartitionRepository) CreateNote(ctx context.Context, n *models.Note) (int64, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO notes (content, user_id, filename, download_link) VALUES (?, ?, ?, ?)`,
		n.Content, n.UserID, nullString(n.Filename), nullString(n.DownloadLink),
	)
	if err != nil {
		return 0, fmt.Errorf("create note: %w", err)
	}
	return res.LastInsertId()
}

// NotesByUser returns the user's notes ordered by id.
func (r *PartitionRepository) NotesByUser(ctx context.Context, userID int64) ([]models.Note, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, content, filename, download_link FROM notes
		WHERE user_id = ? ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("notes by user: %w", err)
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notes by user: %w", err)
	}
	return notes, nil
}

// NoteByID returns the note only if it belongs to userID.
func (r *PartitionRepository) NoteByID(ctx context.Context, userID, id int64) (*models.Note, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `
		SELECT id, user_id, content, filename, download_link FROM notes
		WHERE id = ? AND user_id = ?
	`, id, userID)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

// DeleteNote removes the note if it belongs to userID.
func (r *PartitionRepository) DeleteNote(ctx context.Context, userID, id int64) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (*models.Note, error) {
	var (
		n              models.Note
		filename, link sql.NullString
	)
	if err := s.Scan(&n.ID, &n.UserID, &n.Content, &filename, &link); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan note: %w", err)
	}
	if filename.Valid {
		n.Filename = &filename.String
	}
	if link.Valid {
		n.DownloadLink = &link.String
	}
	return &n, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
