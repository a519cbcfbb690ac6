// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"mailmerge-workers/internal/common/config"
	apperrors "mailmerge-workers/internal/common/errors"
)

const (
	defaultPostgresConns = 4
	connLifetime         = 5 * time.Minute
)

// PostgresClient owns the pool shared by the Postgres sheet and template stores.
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres opens a pool. sql.Open does not dial; the first query or Ping does.
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, apperrors.NewStorageError("open postgres", err)
	}

	maxOpen := cfg.MaxConnections
	if maxOpen <= 0 {
		maxOpen = defaultPostgresConns
	}
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connLifetime)

	return &PostgresClient{DB: db}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	if err := c.DB.PingContext(ctx); err != nil {
		return apperrors.NewStorageError("ping postgres", err)
	}
	return nil
}

func (c *PostgresClient) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
