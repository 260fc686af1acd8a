package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/recoveryd/internal/core/config"
	"github.com/vietddude/recoveryd/internal/core/domain"
	redisclient "github.com/vietddude/recoveryd/internal/infra/redis"
	"github.com/vietddude/recoveryd/internal/infra/storage"
	"github.com/vietddude/recoveryd/internal/infra/storage/memory"
	"github.com/vietddude/recoveryd/internal/infra/storage/postgres"
	"github.com/vietddude/recoveryd/internal/recovery"
)

// Service wires the recovery engine to its process-wide collaborators:
// registry, coordinator, audit storage, event feed, and the operator HTTP
// surface. Its lifecycle is the registry's lifecycle.
type Service struct {
	cfg         Config
	registry    *recovery.Registry
	coord       *recovery.Coordinator
	server      *Server
	db          *postgres.DB
	redisClient *redisclient.Client
	audit       storage.AuditRepository
	log         *slog.Logger
}

// Config holds the application configuration.
type Config struct {
	Port     int
	Redis    redisclient.Config
	Database postgres.Config
	Recovery config.RecoveryConfig
}

// NewService creates a service with all dependencies initialized.
func NewService(cfg Config) (*Service, error) {
	// 1. Audit storage
	var audit storage.AuditRepository
	var db *postgres.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Run migrations; goose needs the raw *sql.DB that sqlx wraps.
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		audit = postgres.NewAuditRepo(db)
		slog.Info("Using PostgreSQL audit storage")
	} else {
		audit = memory.NewAuditRepo()
		slog.Info("Using in-memory audit storage")
	}

	// 2. Event feed
	var events recovery.EventPublisher
	var rc *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		rc, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, event feed disabled", "error", err)
		} else {
			events = redisclient.NewPublisher(rc)
			slog.Info("Recovery event feed enabled")
		}
	}

	// 3. Engine
	registry := recovery.NewRegistry()
	coord := recovery.NewCoordinator(registry, audit, events)

	server := NewServer(coord, registry, audit, cfg.Port, cfg.Recovery.AuditLimit)

	return &Service{
		cfg:         cfg,
		registry:    registry,
		coord:       coord,
		server:      server,
		db:          db,
		redisClient: rc,
		audit:       audit,
		log:         slog.Default(),
	}, nil
}

// Start starts the operator HTTP surface.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Control server failed", "error", err)
		}
	}()
	s.log.Info("Recovery service started", "port", s.cfg.Port)
	return nil
}

// Stop shuts the engine down: all pending errors are cancelled, the
// registry is emptied, and external clients are closed.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping recovery service...")

	s.coord.Shutdown()

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	return s.server.Stop(ctx)
}

// Coordinator exposes the engine to in-process operations.
func (s *Service) Coordinator() *recovery.Coordinator {
	return s.coord
}

// DefaultPolicy returns the policy configuration derived from the service
// config, for operations wrapped in this process.
func (s *Service) DefaultPolicy(operationID string) recovery.PolicyConfig {
	timeout := s.cfg.Recovery.DefaultSelectionTimeout
	if timeout == 0 {
		timeout = domain.NoSelectionTimeout
	}
	return recovery.PolicyConfig{
		MaxRetries:       s.cfg.Recovery.MaxRetries,
		SelectionTimeout: timeout,
		OperationID:      operationID,
	}
}
