// Package db provides the PostgreSQL access layer for the gauge lifecycle
// core: a pgx connection-pool wrapper, the transaction coordinator every
// multi-row operation runs under, transient-error retry, and schema
// migration.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Default operation bounds. Every statement is bounded by the query
// timeout; pool and lock acquisition by the acquire timeout.
const (
	DefaultQueryTimeout   = 15 * time.Second
	DefaultAcquireTimeout = 30 * time.Second
)

// PostgresDB wraps a PostgreSQL connection pool with helper methods using
// the pgx driver. The gauge core uses it directly for all transactional
// work; GORM is used only for schema migration (see migrate.go).
type PostgresDB struct {
	pool           *pgxpool.Pool
	queryTimeout   time.Duration
	acquireTimeout time.Duration
}

// Options tunes the connection pool.
type Options struct {
	MaxConnections int
	QueryTimeout   time.Duration
	AcquireTimeout time.Duration
}

// NewPostgresDB creates a new PostgreSQL database connection pool. The
// connection string format is standard PostgreSQL:
//
//	postgresql://[user[:password]@][host][:port][/dbname][?param1=value1&...]
func NewPostgresDB(connString string, opts Options) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if opts.MaxConnections > 0 {
		cfg.MaxConns = int32(opts.MaxConnections)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultAcquireTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &PostgresDB{
		pool:           pool,
		queryTimeout:   opts.QueryTimeout,
		acquireTimeout: opts.AcquireTimeout,
	}
	if db.queryTimeout == 0 {
		db.queryTimeout = DefaultQueryTimeout
	}
	if db.acquireTimeout == 0 {
		db.acquireTimeout = DefaultAcquireTimeout
	}
	return db, nil
}

// Close closes the database connection pool.
func (db *PostgresDB) Close() {
	db.pool.Close()
}

// Exec executes a SQL statement outside any transaction.
func (db *PostgresDB) Exec(ctx context.Context, sql string, args ...interface{}) error {
	ctx, cancel := db.queryContext(ctx)
	defer cancel()
	_, err := db.pool.Exec(ctx, sql, args...)
	return err
}

// Query executes a query that returns rows. Caller must call rows.Close()
// when done. The caller's context bounds the read; row iteration outlives
// this call, so no per-statement timeout is layered on here.
func (db *PostgresDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

// QueryRow executes a query that returns a single row.
func (db *PostgresDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// Pool returns the underlying connection pool for advanced operations.
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *PostgresDB) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.queryTimeout)
}
