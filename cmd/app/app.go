package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"naming_events/pkg/api"
	"naming_events/pkg/config"
	"naming_events/pkg/data"
	"naming_events/pkg/database"
	"naming_events/pkg/naming"
	"naming_events/pkg/notifier"
	"naming_events/pkg/oracle"
	"naming_events/pkg/scheduler"
	"naming_events/pkg/security"
	"naming_events/pkg/utils"
	"naming_events/pkg/validator"
)

// App owns the long-lived services of one process
type App struct {
	cfg        *config.Config
	db         *database.Service
	dispatcher *notifier.Dispatcher
	engine     *naming.Engine
	sched      *scheduler.Scheduler
	tokens     *security.TokenManager
	logger     *zap.Logger
}

// newApp opens the store and builds the engine around it. Nothing is
// running yet apart from the database.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	dbService, err := database.NewService(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing database service: %w", err)
	}
	if err := dbService.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting database: %w", err)
	}
	repo := dbService.GetRepository()

	if cfg.DestinationsFile != "" {
		if err := seedDestinations(ctx, repo, cfg.DestinationsFile, logger); err != nil {
			_ = dbService.Stop(ctx)
			return nil, err
		}
	}

	clock := clockwork.NewRealClock()
	names, err := newOracle(cfg, clock, logger)
	if err != nil {
		_ = dbService.Stop(ctx)
		return nil, err
	}
	v, err := validator.NewValidator(cfg.Validation, names)
	if err != nil {
		_ = dbService.Stop(ctx)
		return nil, fmt.Errorf("initializing validator: %w", err)
	}

	dispatcher := notifier.NewDispatcher(notifier.Fanout{
		notifier.NewLogNotifier(logger.Named("announce")),
		notifier.NewWebhookNotifier(cfg.Notifier, repo, logger.Named("webhook")),
	}, cfg.Notifier, logger)

	engine := naming.NewEngine(repo, v, dispatcher, clock, cfg.Events, logger.Named("engine"))
	sched, err := scheduler.NewScheduler(&cfg.Scheduler, repo, engine, clock, logger.Named("scheduler"))
	if err != nil {
		_ = dbService.Stop(ctx)
		return nil, fmt.Errorf("initializing scheduler: %w", err)
	}
	engine.UseScheduler(sched)

	tokens := security.NewTokenManager(cfg.Security, clock)
	if tokens == nil {
		logger.Warn("No admin secret configured, admin routes are unauthenticated")
	}

	return &App{
		cfg:        cfg,
		db:         dbService,
		dispatcher: dispatcher,
		engine:     engine,
		sched:      sched,
		tokens:     tokens,
		logger:     logger,
	}, nil
}

func newOracle(cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) (validator.NameOracle, error) {
	if cfg.Oracle.URL == "" {
		logger.Warn("No oracle URL configured, using static names",
			zap.Int("count", len(cfg.Oracle.StaticNames)))
		return oracle.NewStatic(cfg.Oracle.StaticNames...), nil
	}
	p, err := oracle.NewPrometheus(cfg.Oracle, clock, logger.Named("oracle"))
	if err != nil {
		return nil, fmt.Errorf("initializing oracle: %w", err)
	}
	return p, nil
}

func seedDestinations(ctx context.Context, repo data.Repository, path string, logger *zap.Logger) error {
	dests, err := data.LoadDestinationsFile(path)
	if err != nil {
		return err
	}
	written, err := data.SeedDestinations(ctx, repo, dests)
	if err != nil {
		return fmt.Errorf("seeding destinations: %w", err)
	}
	logger.Info("Destinations seeded",
		zap.String("path", path),
		zap.Int("listed", len(dests)),
		zap.Int("written", written))
	return nil
}

// start brings up delivery and timers, then resolves whatever expired
// while the process was down.
func (a *App) start(ctx context.Context) error {
	a.dispatcher.Start()
	if err := a.sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	begin := time.Now()
	if err := a.sched.Recover(ctx); err != nil {
		return fmt.Errorf("recovering events: %w", err)
	}
	stats := a.sched.GetSchedulerStats()
	a.logger.Info("Recovery complete",
		zap.Int("armed", stats.ArmedTimers),
		zap.Int64("resolved", stats.Completed),
		zap.Duration("took", time.Since(begin)))
	return nil
}

func (a *App) stop(ctx context.Context) error {
	var errs []error

	if err := a.sched.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping scheduler: %w", err))
	}
	a.dispatcher.Stop()
	if err := a.db.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping database: %w", err))
	}

	for _, err := range errs {
		a.logger.Error("Shutdown error", zap.Error(err))
	}
	a.logger.Info("All services stopped")
	return errors.Join(errs...)
}

func (a *App) stats() any {
	return map[string]any{
		"events":    a.engine.Metrics().GetStats(),
		"scheduler": a.sched.GetSchedulerStats(),
		"notifier":  a.dispatcher.Stats(),
	}
}

// serve runs the command API until ctx is cancelled
func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      api.NewRouter(a.engine, a.db, a.stats, a.tokens, a.logger.Named("http")),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		ErrorLog:     log.New(utils.NewLogWriter(a.logger.Named("http"), zapcore.WarnLevel), "", 0),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
