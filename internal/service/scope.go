package service

import (
	"context"

	"github.com/atinyakov/sandnotes/internal/models"
	"github.com/atinyakov/sandnotes/internal/session"
)

// PartitionStore is the data access of one instance partition.
type PartitionStore interface {
	CreateUser(ctx context.Context, u *models.User) (int64, error)
	UserByName(ctx context.Context, instanceID, username string) (*models.User, error)
	UserByID(ctx context.Context, id int64) (*models.User, error)
	CreateNote(ctx context.Context, n *models.Note) (int64, error)
	NotesByUser(ctx context.Context, userID int64) ([]models.Note, error)
	NoteByID(ctx context.Context, userID, id int64) (*models.Note, error)
	DeleteNote(ctx context.Context, userID, id int64) error
}

// Scope is everything a request is allowed to touch. It is built once per
// request and passed to every service call.
type Scope struct {
	// InstanceID is the resolved instance of the request.
	InstanceID string
	// Token is the INSTANCE cookie value the client presented, if any.
	Token string
	// Session is the mutable session state; it is saved after resolution.
	Session *session.State
	// User is the authenticated user, nil for anonymous requests.
	User *models.User
	// Data reads and writes the partition of InstanceID.
	Data PartitionStore
}

// Authenticated reports whether the request carries a verified user.
func (s *Scope) Authenticated() bool { return s.User != nil }
