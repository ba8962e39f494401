// Package storage provides metadata persistence, storage backend strategies
// and the blob store for the seriesd service.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const pingTimeout = 5 * time.Second

// ErrNoDatabaseConnection is returned when a store is constructed without a connection.
var ErrNoDatabaseConnection = errors.New("database connection is required")

// Connection wraps a pooled *sql.DB with the configured connection limits.
type Connection struct {
	*sql.DB
}

// NewConnection opens a PostgreSQL connection pool and verifies connectivity.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{DB: db}, nil
}

// HealthCheck verifies that the database is reachable.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return ErrNoDatabaseConnection
	}

	return c.PingContext(ctx)
}
