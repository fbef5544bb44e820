package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"bookshelf/internal/adapters/driven/snapshot"
	"bookshelf/internal/adapters/driven/sqlrepo"
	"bookshelf/internal/adapters/driving/httpadapter"
	"bookshelf/internal/assets"
	"bookshelf/internal/config"
	"bookshelf/internal/core/domain"
	"bookshelf/internal/core/service/resource"
	"bookshelf/internal/logging"
	"bookshelf/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// app holds the wired components every subcommand needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	repo     *sqlrepo.Repository
	svc      resource.Service
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// newApp loads configuration, opens and migrates the database and builds
// the resource service.
func newApp(ctx context.Context, flags *globalFlags, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	logger, err := logging.Configure(logOut, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	catalog, err := domain.NewCatalog(domain.DefaultSchemas()...)
	if err != nil {
		return nil, err
	}

	repo, err := sqlrepo.Open(ctx, sqlrepo.Options{
		Path:         cfg.DatabasePath,
		MaxOpenConns: cfg.DBMaxOpenConns,
		BusyTimeout:  cfg.DBBusyTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx, catalog.All()...); err != nil {
		repo.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		repo.Close()
		return nil, err
	}

	svc := resource.NewService(repo, catalog,
		resource.WithLogger(logger),
		resource.WithObserver(m.ObserveStoreOperation))

	logger.Debug("storage ready",
		slog.String("database", cfg.DatabasePath),
		slog.Any("resources", catalog.Names()))

	return &app{
		cfg:      cfg,
		logger:   logger,
		repo:     repo,
		svc:      svc,
		registry: registry,
		metrics:  m,
	}, nil
}

func (a *app) Close() error {
	return a.repo.Close()
}

// handler builds the full HTTP router.
func (a *app) handler() http.Handler {
	return httpadapter.NewHandler(a.svc, httpadapter.Options{
		Authorizer:     httpadapter.NewTokenAuthorizer(a.cfg.SecretKey),
		Logger:         a.logger,
		MaxRequestSize: a.cfg.MaxRequestSize,
		Metrics:        a.metrics,
		MetricsHandler: metrics.Handler(a.registry),
	}).SetupRoutes()
}

func runServe(cmd *cobra.Command, flags *globalFlags) error {
	fmt.Fprintln(cmd.ErrOrStderr(), assets.Banner(Version))

	a, err := newApp(cmd.Context(), flags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	listener, err := net.Listen("tcp", a.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.ServerAddr, err)
	}
	return a.serve(cmd.Context(), listener)
}

// serve runs the HTTP server and the snapshot watcher until ctx is done.
func (a *app) serve(ctx context.Context, listener net.Listener) error {
	if a.cfg.SecretKey == "" {
		a.logger.Warn("SECRET_KEY is empty, write routes are open to everyone")
	}

	// the watcher must be stopped before the caller closes the database
	watchCtx, stopWatching := context.WithCancel(ctx)
	var watcherDone <-chan struct{}
	defer func() {
		stopWatching()
		if watcherDone != nil {
			<-watcherDone
		}
	}()

	if a.cfg.ImportDir != "" {
		watcher, err := snapshot.NewWatcher(a.cfg.ImportDir, snapshot.NewImporter(a.svc, a.logger), a.logger)
		if err != nil {
			return err
		}
		if err := watcher.Watch(watchCtx); err != nil {
			return err
		}
		watcherDone = watcher.Done()
	}

	server := &http.Server{
		Handler:      a.handler(),
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(a.logger.Handler(), slog.LevelError),
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", slog.String("addr", listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// listen for context cancellation
	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	a.logger.Info("context cancelled, initiating server shutdown")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("server exited gracefully")
	return nil
}
