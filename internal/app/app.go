// Package app assembles repositories and services from configuration. Both the
// HTTP gateway and the lendctl command build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/repository"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/service"
	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/cache"
	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/config"
	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/database"
)

// App holds the wired dependency graph.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sqlx.DB
	Redis  *redis.Client

	Validator *validator.Validate
	Users     *repository.UserRepository

	Metrics        *service.MetricsService
	Auth           *service.AuthService
	Lending        *service.LendingService
	Items          *service.ItemService
	Loans          *service.LoanService
	Maintenance    *service.MaintenanceService
	Reconciliation *service.ReconciliationService
}

// New connects to PostgreSQL and, when reachable, Redis, then wires services.
// Redis is optional: without it caching is off and scans skip the in-flight lock.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := migrateUp(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("database migrations applied")
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, continuing without cache and scan lock", zap.Error(err))
		redisClient = nil
	}

	return Wire(cfg, logger, db, redisClient)
}

// Wire builds the service graph on top of existing connections. redisClient may be nil.
func Wire(cfg *config.Config, logger *zap.Logger, db *sqlx.DB, redisClient *redis.Client) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	location, err := time.LoadLocation(cfg.Maintenance.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load maintenance timezone %q: %w", cfg.Maintenance.Timezone, err)
	}

	validate := service.NewValidator()
	metrics := service.NewMetricsService()

	users := repository.NewUserRepository(db)
	items := repository.NewItemRepository(db)
	loans := repository.NewLoanRepository(db)
	lending := repository.NewLendingRepository(db)

	lockClient := redisClient
	if !cfg.Lending.ScanLockEnabled {
		lockClient = nil
	}
	locks := repository.NewScanLockRepository(lockClient)

	cacheSvc := service.NewCacheService(
		repository.NewCacheRepository(redisClient),
		metrics,
		cfg.Maintenance.CacheTTL,
		logger,
		cfg.Maintenance.CacheEnabled && redisClient != nil,
	)

	interval := cfg.Reconciliation.Interval
	if !cfg.Reconciliation.Enabled {
		interval = 0
	}
	reconciliation := service.NewReconciliationService(items, loans, lending, users, metrics, logger, service.ReconciliationConfig{
		Interval:   interval,
		Workers:    cfg.Reconciliation.Workers,
		MaxRetries: cfg.Reconciliation.MaxRetries,
		RetryDelay: cfg.Reconciliation.RetryDelay,
	})

	maintenance := service.NewMaintenanceService(items, cacheSvc, logger, service.MaintenanceConfig{
		WarningHorizon: cfg.Maintenance.WarningHorizon,
		Location:       location,
		CacheTTL:       cfg.Maintenance.CacheTTL,
	})

	return &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Redis:     redisClient,
		Validator: validate,
		Users:     users,
		Metrics:   metrics,
		Auth: service.NewAuthService(users, validate, logger, service.AuthConfig{
			AccessTokenSecret: cfg.JWT.Secret,
			AccessTokenExpiry: cfg.JWT.Expiration,
			Issuer:            cfg.JWT.Issuer,
		}),
		Lending: service.NewLendingService(lending, locks, users, reconciliation, metrics, validate, logger, service.LendingConfig{
			Atomic:              cfg.Lending.Atomic,
			LedgerRetryAttempts: cfg.Lending.LedgerRetryAttempts,
			LedgerRetryDelay:    cfg.Lending.LedgerRetryDelay,
			ScanLockTTL:         cfg.Lending.ScanLockTTL,
		}),
		Items:          service.NewItemService(items, maintenance, users, validate, logger),
		Loans:          service.NewLoanService(loans, logger, cfg.Export.MaxRows),
		Maintenance:    maintenance,
		Reconciliation: reconciliation,
	}, nil
}

// Start launches background workers.
func (a *App) Start(ctx context.Context) {
	a.Reconciliation.Start(ctx)
}

// Close stops background workers and releases connections.
func (a *App) Close() {
	a.Reconciliation.Stop()
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("failed to close postgres", zap.Error(err))
	}
}

func migrateUp(db *sqlx.DB) error {
	migrator, err := database.NewMigrator(db)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	return migrator.Up()
}
