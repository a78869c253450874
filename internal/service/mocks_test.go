package service

import (
	"context"
	"sync"

	"github.com/atinyakov/sandnotes/internal/models"
	"github.com/atinyakov/sandnotes/internal/repository"
)

type mockPartition struct {
	CreateUserFunc  func(ctx context.Context, u *models.User) (int64, error)
	UserByNameFunc  func(ctx context.Context, instanceID, username string) (*models.User, error)
	UserByIDFunc    func(ctx context.Context, id int64) (*models.User, error)
	CreateNoteFunc  func(ctx context.Context, n *models.Note) (int64, error)
	NotesByUserFunc func(ctx context.Context, userID int64) ([]models.Note, error)
	NoteByIDFunc    func(ctx context.Context, userID, id int64) (*models.Note, error)
	DeleteNoteFunc  func(ctx context.Context, userID, id int64) error
}

func (m *mockPartition) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	return m.CreateUserFunc(ctx, u)
}
func (m *mockPartition) UserByName(ctx context.Context, instanceID, username string) (*models.User, error) {
	return m.UserByNameFunc(ctx, instanceID, username)
}
func (m *mockPartition) UserByID(ctx context.Context, id int64) (*models.User, error) {
	return m.UserByIDFunc(ctx, id)
}
func (m *mockPartition) CreateNote(ctx context.Context, n *models.Note) (int64, error) {
	return m.CreateNoteFunc(ctx, n)
}
func (m *mockPartition) NotesByUser(ctx context.Context, userID int64) ([]models.Note, error) {
	return m.NotesByUserFunc(ctx, userID)
}
func (m *mockPartition) NoteByID(ctx context.Context, userID, id int64) (*models.Note, error) {
	return m.NoteByIDFunc(ctx, userID, id)
}
func (m *mockPartition) DeleteNote(ctx context.Context, userID, id int64) error {
	return m.DeleteNoteFunc(ctx, userID, id)
}

// memNotes is an in-memory note table for one user.
type memNotes struct {
	mockPartition
	mu     sync.Mutex
	nextID int64
	notes  map[int64]models.Note
}

func newMemNotes() *memNotes {
	m := &memNotes{notes: make(map[int64]models.Note)}
	m.CreateNoteFunc = func(_ context.Context, n *models.Note) (int64, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.nextID++
		c := *n
		c.ID = m.nextID
		m.notes[c.ID] = c
		return c.ID, nil
	}
	m.NotesByUserFunc = func(_ context.Context, userID int64) ([]models.Note, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		var out []models.Note
		for id := int64(1); id <= m.nextID; id++ {
			if n, ok := m.notes[id]; ok && n.UserID == userID {
				out = append(out, n)
			}
		}
		return out, nil
	}
	m.NoteByIDFunc = func(_ context.Context, userID, id int64) (*models.Note, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		n, ok := m.notes[id]
		if !ok || n.UserID != userID {
			return nil, repository.ErrNotFound
		}
		return &n, nil
	}
	m.DeleteNoteFunc = func(_ context.Context, userID, id int64) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		n, ok := m.notes[id]
		if !ok || n.UserID != userID {
			return repository.ErrNotFound
		}
		delete(m.notes, id)
		return nil
	}
	return m
}
