package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/atinyakov/sandnotes/internal/instance"
)

// Visitor loads a URL in a browser whose profile lives in profileDir.
type Visitor interface {
	Visit(ctx context.Context, url, profileDir string) error
}

// VisitService sends the headless browser to pages of this application.
type VisitService struct {
	visitor Visitor
	sandbox Sandbox
	prefix  string
	log     *zap.Logger
}

// NewVisitService creates a VisitService accepting URLs that start with
// prefix.
func NewVisitService(visitor Visitor, sandbox Sandbox, prefix string, log *zap.Logger) *VisitService {
	return &VisitService{visitor: visitor, sandbox: sandbox, prefix: prefix, log: log}
}

// Visit validates url and loads it with the instance's own browser profile.
func (s *VisitService) Visit(ctx context.Context, sc *Scope, url string) error {
	if !sc.Authenticated() {
		return ErrLoginRequired
	}
	if !strings.HasPrefix(url, s.prefix) {
		return ErrInvalidURL
	}

	profile := s.sandbox.Path(sc.InstanceID, instance.ProfileDir)
	if err := s.visitor.Visit(ctx, url, profile); err != nil {
		s.log.Error("bot error", zap.String("instance_id", sc.InstanceID), zap.Error(err))
		return ErrBotCrash
	}
	return nil
}
