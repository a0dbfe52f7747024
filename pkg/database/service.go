// pkg/database/service.go
package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	postgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"naming_events/pkg/config"
	"naming_events/pkg/data"
)

// Service opens the configured store, applies migrations and hands out
// the repository
type Service struct {
	pool     *pgxpool.Pool
	embedded *postgres.EmbeddedPostgres
	logger   *zap.Logger
	config   *config.DatabaseConfig
	repo     data.Repository
	schema   *data.SchemaManager

	mu        sync.RWMutex
	isRunning bool
}

// NewService creates a new database service
func NewService(cfg *config.DatabaseConfig, logger *zap.Logger) (*Service, error) {
	switch cfg.Driver {
	case config.DriverPostgres, config.DriverEmbedded, config.DriverSQLite, config.DriverMemory:
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	return &Service{
		config: cfg,
		logger: logger,
		schema: data.NewSchemaManager(logger),
	}, nil
}

// Start connects to the store and brings its schema up to date
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("database service already running")
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	var err error
	switch s.config.Driver {
	case config.DriverEmbedded:
		if err = s.startEmbedded(); err != nil {
			return err
		}
		err = s.openPostgres(ctx, s.embeddedURL())
	case config.DriverPostgres:
		err = s.openPostgres(ctx, s.config.URL)
	case config.DriverSQLite:
		s.repo, err = data.OpenSQLite(ctx, s.config.SQLitePath, s.config.MaxConns, s.logger)
	case config.DriverMemory:
		s.repo = data.NewMemoryRepository()
	}
	if err != nil {
		s.cleanup()
		return err
	}

	s.isRunning = true
	s.logger.Info("Database service started successfully", zap.String("driver", s.config.Driver))
	return nil
}

// Stop closes database connections
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cleanup()
	s.isRunning = false
	s.logger.Info("Database service stopped")
	return nil
}

// GetRepository returns the data repository
func (s *Service) GetRepository() data.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo
}

// IsHealthy checks database health
func (s *Service) IsHealthy(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return s.repo.Ping(ctx) == nil
}

// Internal methods

func (s *Service) openPostgres(ctx context.Context, dsn string) error {
	pool, err := s.createPool(ctx, dsn)
	if err != nil {
		return err
	}
	s.pool = pool

	if err := s.schema.InitializePostgres(ctx, pool); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	s.repo = data.NewPostgresRepository(pool, s.logger)
	return nil
}

func (s *Service) createPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing pool config: %w", err)
	}

	if s.config.MaxConns > 0 {
		poolConfig.MaxConns = int32(s.config.MaxConns)
	}
	if s.config.MinConns > 0 {
		poolConfig.MinConns = int32(s.config.MinConns)
	}
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging connection pool: %w", err)
	}

	return pool, nil
}

func (s *Service) startEmbedded() error {
	cfg := s.config.Embedded
	runtimePath, err := filepath.Abs(cfg.RuntimePath)
	if err != nil {
		return fmt.Errorf("resolving embedded runtime path: %w", err)
	}
	pgConfig := postgres.DefaultConfig().
		Username(cfg.Username).
		Password(cfg.Password).
		Database(cfg.Database).
		Port(cfg.Port).
		RuntimePath(runtimePath).
		Logger(os.Stderr)
	if cfg.DataPath != "" {
		dataPath, err := filepath.Abs(cfg.DataPath)
		if err != nil {
			return fmt.Errorf("resolving embedded data path: %w", err)
		}
		pgConfig = pgConfig.DataPath(dataPath)
	}

	pg := postgres.NewDatabase(pgConfig)
	if err := pg.Start(); err != nil {
		return fmt.Errorf("starting embedded postgres: %w", err)
	}
	s.embedded = pg
	s.logger.Info("Embedded postgres started", zap.Uint32("port", cfg.Port))
	return nil
}

func (s *Service) embeddedURL() string {
	cfg := s.config.Embedded
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     fmt.Sprintf("localhost:%d", cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (s *Service) cleanup() {
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			s.logger.Warn("Closing repository", zap.Error(err))
		}
		s.repo = nil
	} else if s.pool != nil {
		s.pool.Close()
	}
	s.pool = nil

	if s.embedded != nil {
		if err := s.embedded.Stop(); err != nil {
			s.logger.Warn("Stopping embedded postgres", zap.Error(err))
		}
		s.embedded = nil
	}
}

// Config represents database configuration
func (s *Service) Config() *config.DatabaseConfig {
	return s.config
}
