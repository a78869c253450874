// Package sweeper reclaims idle and orphaned instances. It reconciles the
// registry against the sandbox directories on a fixed interval.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/sandnotes/internal/models"
	"github.com/atinyakov/sandnotes/internal/repository"
)

// Registry is the registry access the sweeper needs.
type Registry interface {
	Get(ctx context.Context, id string) (*models.Instance, error)
	List(ctx context.Context) ([]models.Instance, error)
	DeleteInstances(ctx context.Context, idle []string, cutoff time.Time, orphans []string) (int64, error)
}

// Sandboxes is the sandbox access the sweeper needs.
type Sandboxes interface {
	Root() string
	Path(id string, segs ...string) string
	List() ([]string, error)
	Remove(id string) error
	TryAcquireExclusive(id string) (func(), bool)
}

// Report summarizes one sweep.
type Report struct {
	OrphanDirs int
	Idle       int
	OrphanRows int
	Skipped    int
}

// Total is the number of instances the sweep reclaimed.
func (r Report) Total() int { return r.OrphanDirs + r.Idle + r.OrphanRows }

// Sweeper deletes sandboxes and registry rows that are idle or orphaned.
type Sweeper struct {
	registry Registry
	store    Sandboxes
	interval time.Duration
	idle     time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu sync.Mutex

	// OnReclaim is called with every instance id the sweep removed.
	OnReclaim func(id string)
	// OnSweep is called after each completed sweep.
	OnSweep func(Report)
}

// New creates a Sweeper. interval is the time between sweeps and idle the
// inactivity after which an instance is reclaimed.
func New(registry Registry, store Sandboxes, interval, idle time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		registry: registry,
		store:    store,
		interval: interval,
		idle:     idle,
		log:      log,
		now:      time.Now,
	}
}

// Start runs a sweep right away and then every interval until ctx is
// cancelled. Failed sweeps are logged and retried on the next tick. The
// returned channel is closed once the loop has exited, after any sweep in
// progress has finished.
func (s *Sweeper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		s.safeSweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.safeSweep(ctx)
			}
		}
	}()
	return done
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sweep panicked", zap.Any("panic", r))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.log.Error("sweep failed", zap.Error(err))
	}
}

// Sweep performs one reconciliation pass:
//
//   - sandbox directories without a registry row are removed;
//   - instances idle for longer than the idle timeout lose their directory
//     and their row;
//   - rows whose directory is missing are removed.
//
// Each instance is handled under its exclusive lock and the decision is
// re-checked after the lock is taken; instances in use are skipped. All
// row deletions are committed in one transaction. An idle instance whose
// directory could not be removed keeps its row and is retried next time.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report Report
	now := s.now()
	cutoff := now.Add(-s.idle)

	dirs, err := s.store.List()
	if err != nil {
		return report, err
	}
	rows, err := s.registry.List(ctx)
	if err != nil {
		return report, err
	}

	rowByID := make(map[string]models.Instance, len(rows))
	for _, r := range rows {
		rowByID[r.ID] = r
	}
	onDisk := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		onDisk[d] = true
	}

	var (
		unlocks   []func()
		reclaimed []string
		idleIDs   []string
		orphanIDs []string
	)
	defer func() {
		for _, u := range unlocks {
			u()
		}
	}()
	lock := func(id string) bool {
		unlock, ok := s.store.TryAcquireExclusive(id)
		if !ok {
			report.Skipped++
			s.log.Debug("instance busy, skipping", zap.String("instance_id", id))
			return false
		}
		unlocks = append(unlocks, unlock)
		return true
	}

	for _, id := range dirs {
		if _, ok := rowByID[id]; ok {
			continue
		}
		if !lock(id) {
			continue
		}
		if _, err := s.registry.Get(ctx, id); !errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err := s.store.Remove(id); err != nil {
			s.log.Error("failed to remove orphaned sandbox", zap.String("instance_id", id), zap.Error(err))
			continue
		}
		s.log.Info("removed orphaned sandbox", zap.String("instance_id", id))
		report.OrphanDirs++
		reclaimed = append(reclaimed, id)
	}

	for _, r := range rows {
		if !r.LastAccess.Before(cutoff) {
			continue
		}
		if !lock(r.ID) {
			continue
		}
		cur, err := s.registry.Get(ctx, r.ID)
		if err != nil || !cur.LastAccess.Before(cutoff) {
			continue
		}
		if onDisk[r.ID] {
			if err := s.store.Remove(r.ID); err != nil {
				s.log.Error("failed to remove idle sandbox, row kept", zap.String("instance_id", r.ID), zap.Error(err))
				continue
			}
		}
		s.log.Info("reclaiming idle instance",
			zap.String("instance_id", r.ID),
			zap.Time("last_access", cur.LastAccess),
		)
		idleIDs = append(idleIDs, r.ID)
	}

	for _, r := range rows {
		if onDisk[r.ID] || r.LastAccess.Before(cutoff) {
			continue
		}
		if !lock(r.ID) {
			continue
		}
		if _, err := os.Stat(s.store.Path(r.ID)); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		s.log.Info("removing orphaned registry row", zap.String("instance_id", r.ID))
		orphanIDs = append(orphanIDs, r.ID)
	}

	deleted, err := s.registry.DeleteInstances(ctx, idleIDs, cutoff, orphanIDs)
	if err != nil {
		return report, fmt.Errorf("delete registry rows: %w", err)
	}
	report.Idle = len(idleIDs)
	report.OrphanRows = len(orphanIDs)
	reclaimed = append(reclaimed, idleIDs...)
	reclaimed = append(reclaimed, orphanIDs...)

	if s.OnReclaim != nil {
		for _, id := range reclaimed {
			s.OnReclaim(id)
		}
	}
	s.log.Info("sweep finished",
		zap.Int("orphan_dirs", report.OrphanDirs),
		zap.Int("idle", report.Idle),
		zap.Int("orphan_rows", report.OrphanRows),
		zap.Int("skipped", report.Skipped),
		zap.Int64("rows_deleted", deleted),
		zap.Duration("duration", s.now().Sub(now)),
	)
	if s.OnSweep != nil {
		s.OnSweep(report)
	}
	return report, nil
}

// Mismatch lists the asymmetries found by Verify.
type Mismatch struct {
	DirsWithoutRow []string
	RowsWithoutDir []string
}

// Verify checks that the sandbox root exists and compares directories with
// registry rows. Problems are logged; startup is never blocked.
func (s *Sweeper) Verify(ctx context.Context) Mismatch {
	var m Mismatch
	root := s.store.Root()
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		s.log.Error("instances root missing", zap.String("path", root), zap.Error(err))
		return m
	}

	dirs, err := s.store.List()
	if err != nil {
		s.log.Error("verify: list sandboxes", zap.Error(err))
		return m
	}
	rows, err := s.registry.List(ctx)
	if err != nil {
		s.log.Error("verify: list registry", zap.Error(err))
		return m
	}

	inRegistry := make(map[string]bool, len(rows))
	for _, r := range rows {
		inRegistry[r.ID] = true
	}
	onDisk := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		onDisk[d] = true
		if !inRegistry[d] {
			m.DirsWithoutRow = append(m.DirsWithoutRow, d)
		}
	}
	for _, r := range rows {
		if !onDisk[r.ID] {
			m.RowsWithoutDir = append(m.RowsWithoutDir, r.ID)
		}
	}

	if len(m.DirsWithoutRow) > 0 || len(m.RowsWithoutDir) > 0 {
		s.log.Warn("registry and sandboxes disagree",
			zap.Strings("dirs_without_row", m.DirsWithoutRow),
			zap.Strings("rows_without_dir", m.RowsWithoutDir),
		)
	} else {
		s.log.Info("registry and sandboxes consistent", zap.Int("instances", len(dirs)))
	}
	return m
}
