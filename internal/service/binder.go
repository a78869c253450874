package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinyakov/sandnotes/internal/instance"
	"github.com/atinyakov/sandnotes/internal/models"
	"github.com/atinyakov/sandnotes/internal/repository"
	"github.com/atinyakov/sandnotes/internal/session"
)

// InstanceStore is the part of instance.Store the binder needs.
type InstanceStore interface {
	Exists(id string) bool
	EnsureCreated(ctx context.Context, id string) error
	Touch(ctx context.Context, id string) error
	Acquire(id string) func()
}

// Binder turns the presented INSTANCE token and the session into the one
// instance a request works in.
type Binder struct {
	store InstanceStore
	log   *zap.Logger
	newID func() string

	// OnCreate, if set, is called after a new instance was created.
	OnCreate func(id string)
}

// NewBinder creates a Binder over store.
func NewBinder(store InstanceStore, log *zap.Logger) *Binder {
	return &Binder{store: store, log: log, newID: instance.NewID}
}

// Resolve picks the instance for a request:
//
//  1. the session's instance, if its sandbox exists;
//  2. otherwise the presented token, if its sandbox exists;
//  3. otherwise a freshly created instance.
//
// The registry access time is refreshed and st is rebound to the result.
// When the binding changes, the session's user is dropped. Resolve returns
// holding a shared lock on the instance; release must be called once the
// request is done with it.
func (b *Binder) Resolve(ctx context.Context, token string, st *session.State) (string, func(), error) {
	id, release, err := b.pick(ctx, token, st.InstanceID)
	if err != nil {
		return "", nil, err
	}
	if err := b.store.Touch(ctx, id); err != nil {
		release()
		return "", nil, fmt.Errorf("touch instance: %w", err)
	}

	if st.InstanceID != id {
		if st.UserID != 0 {
			b.log.Info("session rebound, dropping login",
				zap.String("from", st.InstanceID),
				zap.String("instance_id", id),
				zap.Int64("user_id", st.UserID),
			)
		}
		st.UserID = 0
		st.InstanceID = id
	}
	return id, release, nil
}

func (b *Binder) pick(ctx context.Context, token, bound string) (string, func(), error) {
	for _, candidate := range []string{bound, token} {
		if !instance.ValidID(candidate) {
			continue
		}
		release := b.store.Acquire(candidate)
		if b.store.Exists(candidate) {
			return candidate, release, nil
		}
		release()
	}

	id := b.newID()
	release := b.store.Acquire(id)
	if err := b.store.EnsureCreated(ctx, id); err != nil {
		release()
		return "", nil, fmt.Errorf("create instance: %w", err)
	}
	b.log.Info("instance created", zap.String("instance_id", id))
	if b.OnCreate != nil {
		b.OnCreate(id)
	}
	return id, release, nil
}

// LoadIdentity returns the authenticated user of the session or nil. The
// session's instance must equal both the presented token and the user's
// own instance; any mismatch is treated as anonymous.
func (b *Binder) LoadIdentity(ctx context.Context, st *session.State, token string, data PartitionStore) (*models.User, error) {
	if !st.Authenticated() {
		return nil, nil
	}
	if st.InstanceID == "" || st.InstanceID != token {
		return nil, nil
	}

	u, err := data.UserByID(ctx, st.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if u.InstanceID != st.InstanceID {
		b.log.Warn("user does not belong to session instance",
			zap.String("instance_id", st.InstanceID),
			zap.Int64("user_id", u.ID),
		)
		return nil, nil
	}
	return u, nil
}
