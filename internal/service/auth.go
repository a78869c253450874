// Package service holds the request-independent business logic: instance
// binding, accounts, notes and page visits. Every operation receives the
// request Scope explicitly.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/atinyakov/sandnotes/internal/models"
	"github.com/atinyakov/sandnotes/internal/repository"
)

var usernameDisallowed = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// ValidUsername reports whether name is non-empty, consists only of
// letters, digits, '_', '.', '-' and is not a relative path element.
func ValidUsername(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return usernameDisallowed.ReplaceAllString(name, "") == name
}

// AuthService registers and authenticates users inside an instance.
type AuthService struct {
	log  *zap.Logger
	cost int
}

// NewAuthService creates an AuthService hashing with bcrypt's default cost.
func NewAuthService(log *zap.Logger) *AuthService {
	return &AuthService{log: log, cost: bcrypt.DefaultCost}
}

// Register creates a user in the scope's instance.
func (s *AuthService) Register(ctx context.Context, sc *Scope, username, password string) error {
	if username == "" || password == "" {
		return ErrCredentialsRequired
	}
	if !ValidUsername(username) {
		return ErrInvalidUsername
	}

	_, err := sc.Data.UserByName(ctx, sc.InstanceID, username)
	if err == nil {
		return ErrUserExists
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = sc.Data.CreateUser(ctx, &models.User{
		Username:     username,
		PasswordHash: string(hash),
		InstanceID:   sc.InstanceID,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return ErrUserExists
	}
	if err != nil {
		return err
	}
	s.log.Info("user registered", zap.String("instance_id", sc.InstanceID), zap.String("username", username))
	return nil
}

// Login checks the credentials against the scope's instance and binds the
// user to the session.
func (s *AuthService) Login(ctx context.Context, sc *Scope, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := sc.Data.UserByName(ctx, sc.InstanceID, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u.InstanceID != sc.InstanceID {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	sc.Session.UserID = u.ID
	sc.Session.InstanceID = sc.InstanceID
	sc.User = u
	return u, nil
}

// Logout detaches the user from the session.
func (s *AuthService) Logout(sc *Scope) error {
	if !sc.Authenticated() {
		return ErrLoginRequired
	}
	sc.Session.UserID = 0
	sc.User = nil
	return nil
}
