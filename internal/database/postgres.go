package database

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Store wraps the PostgreSQL connection pool. All mutating core operations
// run inside a pgx.Tx owned by the caller; read paths may run on the pool.
type Store struct {
	Pool *pgxpool.Pool
	Log  *logrus.Logger
}

// New connects to the database and verifies the connection.
func New(ctx context.Context, connString string, log *logrus.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{Pool: pool, Log: log}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.Pool.Close()
}

// InitSchema applies the migration file at path. Statements are idempotent
// (CREATE IF NOT EXISTS), so re-running at every startup is safe.
func (s *Store) InitSchema(ctx context.Context, path string) error {
	schema, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	if _, err := s.Pool.Exec(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Begin starts a read-write transaction.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.Pool.Begin(ctx)
}

// Querier lets store methods run on either the pool or a transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

// q returns the transaction if not nil, otherwise the pool.
func (s *Store) q(tx pgx.Tx) Querier {
	if tx != nil {
		return tx
	}
	return s.Pool
}
