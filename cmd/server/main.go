// Package main initializes and starts the sandboxed notes server, setting up
// configuration, logging, the instance registry, sandboxes, sessions,
// services, handlers and the cleanup sweeper.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/sandnotes/internal/browser"
	"github.com/atinyakov/sandnotes/internal/config"
	"github.com/atinyakov/sandnotes/internal/db"
	"github.com/atinyakov/sandnotes/internal/instance"
	"github.com/atinyakov/sandnotes/internal/logger"
	"github.com/atinyakov/sandnotes/internal/metrics"
	"github.com/atinyakov/sandnotes/internal/middleware"
	"github.com/atinyakov/sandnotes/internal/repository"
	"github.com/atinyakov/sandnotes/internal/server/handler/http"
	"github.com/atinyakov/sandnotes/internal/service"
	"github.com/atinyakov/sandnotes/internal/session"
	"github.com/atinyakov/sandnotes/internal/sweeper"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Parse command-line, config file and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log
	if options.GeneratedSecret {
		zapLogger.Warn("SECRET_KEY not set, sessions will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize the instance registry.
	registryDB, err := db.InitRegistry(options.RegistryDriver, options.RegistryDSN)
	if err != nil {
		zapLogger.Fatal("cannot init registry", zap.Error(err))
	}
	defer registryDB.Close()
	registry := repository.NewRegistryRepository(registryDB, options.RegistryDriver)

	// Sandboxes live under the instances root next to the reserved default/.
	store, err := instance.NewStore(options.InstancesDir, registry)
	if err != nil {
		zapLogger.Fatal("cannot init instance store", zap.Error(err))
	}

	m := metrics.New()
	sessions := session.NewManager(options.SecretKey)
	limiter := middleware.NewVisitLimiter(options.VisitsPerMinute)

	// Initialize business-logic services.
	binder := service.NewBinder(store, zapLogger)
	binder.OnCreate = func(string) { m.InstancesCreated.Inc() }
	authService := service.NewAuthService(zapLogger)
	noteService := service.NewNoteService(store, zapLogger)
	visitor := browser.NewChromeVisitor(options.ChromeBinary, options.VisitWait.Std(), zapLogger)
	visitService := service.NewVisitService(visitor, store, options.VisitPrefix, zapLogger)

	// Start the cleanup sweeper; it sweeps once right away.
	sw := sweeper.New(registry, store, options.SweepInterval.Std(), options.IdleTimeout.Std(), zapLogger)
	sw.OnReclaim = func(id string) {
		sessions.DropInstance(id)
		limiter.Drop(id)
	}
	sw.OnSweep = func(r sweeper.Report) {
		m.ObserveSweep(r.OrphanDirs, r.Idle, r.OrphanRows, r.Skipped)
		sessions.Prune(options.IdleTimeout.Std())
	}
	sw.Verify(ctx)
	sweeperDone := sw.Start(ctx)

	// Build the router with middleware and routes.
	router := http.NewRouter(
		http.Handlers{
			Auth:  &http.AuthHandler{AuthService: authService, Sessions: sessions, Log: zapLogger},
			Notes: &http.NotesHandler{NoteService: noteService, Log: zapLogger},
			Visit: &http.VisitHandler{VisitService: visitService, Metrics: m, Log: zapLogger},
			Pages: &http.PageHandler{Log: zapLogger},
		},
		middleware.BindInstance(binder, sessions, store, zapLogger),
		limiter,
		m,
		zapLogger,
	)

	server := &nethttp.Server{
		Addr:              options.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", options.Address)
	if err != nil {
		zapLogger.Fatal("failed to listen", zap.String("addr", options.Address), zap.Error(err))
	}

	zapLogger.Info("starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.String("instances_dir", store.Root()),
		zap.String("registry_driver", options.RegistryDriver),
	)
	if err := serve(ctx, server, ln, shutdownTimeout); err != nil {
		zapLogger.Error("server stopped with error", zap.Error(err))
	}

	// Stop the sweeper before the deferred registry Close.
	stop()
	<-sweeperDone
	zapLogger.Info("server stopped")
}

// serve runs server on ln until ctx is cancelled, then shuts it down and
// returns only after in-flight requests have finished or timeout expired.
func serve(ctx context.Context, server *nethttp.Server, ln net.Listener, timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() { errc <- server.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	if serveErr := <-errc; serveErr != nil && !errors.Is(serveErr, nethttp.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}
