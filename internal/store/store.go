// Package store implements the durable job store on PostgreSQL. It is the
// single source of truth for job state: every mutation goes through one of
// its atomic claim/update operations, and no caller may read-then-write
// around it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Store wraps the Postgres connection pool.
type Store struct {
	db *sql.DB
}

// New wraps an existing connection pool (used by tests via sqlmock).
func New(db *sql.DB) *Store { return &Store{db: db} }

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying pool for advisory locks and migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }
