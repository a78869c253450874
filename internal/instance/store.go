// Package instance manages instance sandboxes on disk: identifier rules,
// path construction, creation and removal, per-instance advisory locks and
// the lazily opened per-instance data partition.
package instance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atinyakov/sandnotes/internal/db"
)

// Sandbox layout.
const (
	DefaultDir    = "default"
	NotesDir      = "notes"
	ProfileDir    = "chrome_profile"
	PartitionFile = "app.db"
)

// ErrInvalidID is returned for identifiers that are not canonical UUIDs.
var ErrInvalidID = errors.New("invalid instance id")

// Registry records instance accesses.
type Registry interface {
	Touch(ctx context.Context, id string, at time.Time) error
}

// Store owns the instances root directory.
type Store struct {
	root     string
	registry Registry
	now      func() time.Time
	locks    *lockSet

	mu       sync.Mutex
	migrated map[string]bool
}

// NewStore creates the root and the reserved default directory if needed.
func NewStore(root string, registry Registry) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve instances dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, DefaultDir), 0o755); err != nil {
		return nil, fmt.Errorf("create instances dir: %w", err)
	}
	return &Store{
		root:     abs,
		registry: registry,
		now:      time.Now,
		locks:    newLockSet(),
		migrated: make(map[string]bool),
	}, nil
}

// NewID mints a random instance identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id is a canonical lowercase UUID. Anything else,
// including "default" and values carrying path separators, is rejected.
func ValidID(id string) bool {
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return u.String() == id
}

// Root returns the absolute instances root.
func (s *Store) Root() string { return s.root }

// Path joins segments under the sandbox of id. It performs no I/O.
func (s *Store) Path(id string, segs ...string) string {
	return filepath.Join(append([]string{s.root, id}, segs...)...)
}

// Exists reports whether id is valid and its sandbox directory is present.
func (s *Store) Exists(id string) bool {
	if !ValidID(id) {
		return false
	}
	fi, err := os.Stat(s.Path(id))
	return err == nil && fi.IsDir()
}

// EnsureCreated creates the sandbox directories of id and records an access
// in the registry. Calling it again for an existing instance is harmless.
func (s *Store) EnsureCreated(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	for _, dir := range []string{NotesDir, ProfileDir} {
		if err := os.MkdirAll(s.Path(id, dir), 0o755); err != nil {
			return fmt.Errorf("create sandbox: %w", err)
		}
	}
	return s.Touch(ctx, id)
}

// Touch records an access to id at the current time.
func (s *Store) Touch(ctx context.Context, id string) error {
	return s.registry.Touch(ctx, id, s.now())
}

// List returns the names of sandbox directories, excluding the reserved
// default directory. Plain files under the root are ignored.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || e.Name() == DefaultDir {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// Remove deletes the sandbox of id. The caller should hold the exclusive
// lock from TryAcquireExclusive.
func (s *Store) Remove(id string) error {
	if id == "" || id == DefaultDir || filepath.Base(id) != id || id == "." || id == ".." {
		return ErrInvalidID
	}
	s.mu.Lock()
	delete(s.migrated, id)
	s.mu.Unlock()

	if err := os.RemoveAll(s.Path(id)); err != nil {
		return fmt.Errorf("remove sandbox: %w", err)
	}
	return nil
}

// Acquire blocks until a shared lock on id is held and returns its release
// function. Requests hold it for their whole duration.
func (s *Store) Acquire(id string) func() {
	return s.locks.rlock(id)
}

// TryAcquireExclusive takes the exclusive lock on id if nobody holds it.
func (s *Store) TryAcquireExclusive(id string) (func(), bool) {
	return s.locks.tryLock(id)
}

// Partition returns an unopened handle on the data partition of id.
func (s *Store) Partition(id string) *Partition {
	return &Partition{store: s, id: id}
}

func (s *Store) openPartition(ctx context.Context, id string) (*sql.DB, error) {
	path := s.Path(id, PartitionFile)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migrated[id] {
		return db.ConnectPartition(path)
	}
	conn, err := db.OpenPartition(ctx, path, id)
	if err != nil {
		return nil, err
	}
	s.migrated[id] = true
	return conn, nil
}

// Partition is a per-request handle on one instance's database. The file is
// opened on the first call to DB and migrated once per process.
type Partition struct {
	store *Store
	id    string

	once sync.Once
	db   *sql.DB
	err  error
}

// ID returns the owning instance.
func (p *Partition) ID() string { return p.id }

// DB opens the partition on first use.
func (p *Partition) DB(ctx context.Context) (*sql.DB, error) {
	p.once.Do(func() {
		p.db, p.err = p.store.openPartition(ctx, p.id)
	})
	return p.db, p.err
}

// Close releases the database handle if it was opened.
func (p *Partition) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
