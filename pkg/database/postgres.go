// pkg/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
)

type PostgresDB struct {
	*sql.DB
}

// NewPostgresDB creates a new PostgreSQL connection
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	return NewPostgresDBWithRetry(context.Background(), connectionString, 0)
}

// NewPostgresDBWithRetry keeps pinging with exponential backoff until maxElapsed passes.
// A zero maxElapsed pings exactly once.
func NewPostgresDBWithRetry(ctx context.Context, connectionString string, maxElapsed time.Duration) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ping := func() error { return db.PingContext(ctx) }

	if maxElapsed <= 0 {
		err = ping()
	} else {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = maxElapsed
		err = backoff.Retry(ping, backoff.WithContext(b, ctx))
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{db}, nil
}

// Close closes the database connection
func (db *PostgresDB) Close() error {
	return db.DB.Close()
}
