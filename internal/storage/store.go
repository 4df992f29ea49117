package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mintwatch/internal/config"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("storage: invalid input")
)

// AlertStore is the durable table of price alerts. Implementations must be
// safe for concurrent use.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error)
	ListAllAlerts(ctx context.Context) ([]PriceAlert, error)
	ListUserAlerts(ctx context.Context, userID int64) ([]PriceAlert, error)
	// DeleteAlert returns false when the alert is already gone.
	DeleteAlert(ctx context.Context, id int64) (bool, error)
	DeleteUserAlert(ctx context.Context, id, userID int64) (bool, error)
}

// CelebrationStore holds celebration stickers and animations.
type CelebrationStore interface {
	AddMedia(ctx context.Context, media CelebrationMedia) (CelebrationMedia, error)
	// RandomMedia returns ErrNotFound when the category is empty.
	RandomMedia(ctx context.Context, category string) (CelebrationMedia, error)
	DeleteMedia(ctx context.Context, id int64) (bool, error)
}

// QuoteSampleStore records oracle observations for price history export.
type QuoteSampleStore interface {
	InsertQuoteSamples(ctx context.Context, samples []QuoteSample) error
	ListQuoteSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]QuoteSample, error)
}

// UserStore is the registry of users that receive broadcasts.
type UserStore interface {
	// UpsertUser registers the user and reports whether it was new. An
	// existing user keeps FirstSeen; non-empty names replace stored ones.
	UpsertUser(ctx context.Context, user User) (bool, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
	CountUsers(ctx context.Context) (int, error)
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}
