// Package store provides database operations for rigwatch.
//
// This package handles all persistence: fine samples, hourly and daily
// summaries, the machine registry and key/value settings. It uses DuckDB as
// the backing database. One Store is constructed by the caller and passed to
// every component that needs it.
//
// Writes are serialized through a store-wide write lock so that only one
// writer touches the database at a time. Reads run concurrently and never
// observe half-written batches because every write is a single transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/logging"
)

var log = logging.Component("store")

// =============================================================================
// Store Configuration
// =============================================================================

// Config holds store configuration options.
type Config struct {
	// DSN is the database connection string. ":memory:" opens an in-memory
	// database private to this Store.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration

	// QueryTimeout is applied to calls whose context has no deadline.
	QueryTimeout time.Duration

	// InsertChunkSize is the number of rows per multi-row INSERT.
	InsertChunkSize int

	// MemoryLimit is passed to DuckDB's memory_limit setting when set.
	MemoryLimit string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    8,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
		InsertChunkSize: 500,
	}
}

// =============================================================================
// Store
// =============================================================================

// Store provides database operations.
//
// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	config Config

	// writeMu serializes every write transaction.
	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// New opens the database and creates the schema.
func New(cfg Config) (*Store, error) {
	defaults := DefaultConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaults.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaults.QueryTimeout
	}
	if cfg.InsertChunkSize <= 0 {
		cfg.InsertChunkSize = defaults.InsertChunkSize
	}

	dsn := cfg.DSN
	if dsn == ":memory:" {
		dsn = ""
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.MemoryLimit != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET memory_limit = '%s'", cfg.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	log.Debug("store opened", "dsn", cfg.DSN)

	return &Store{
		db:     db,
		config: cfg,
	}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// DB returns the underlying database connection.
// Use with caution - prefer using Store methods.
func (s *Store) DB() *sql.DB {
	return s.db
}

// =============================================================================
// Transaction Support
// =============================================================================

// TransactionContext executes a function within a database transaction.
//
// If the function returns an error, the transaction is rolled back.
// If the function returns nil, the transaction is committed.
// The store write lock is held for the whole transaction.
func (s *Store) TransactionContext(ctx context.Context, fn func(*sql.Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Database("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Database("commit transaction", err)
	}

	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// withTimeout applies QueryTimeout when ctx carries no deadline.
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.QueryTimeout)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrStoreClosed
	}
	return nil
}

// query runs a read with the store timeout and hands the rows to fn.
func (s *Store) query(ctx context.Context, fn func(*sql.Rows) error, query string, args ...interface{}) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Database("query", err)
	}
	defer rows.Close()

	if err := fn(rows); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return errors.Database("iterate rows", err)
	}
	return nil
}

// exec runs a single write statement in its own transaction.
func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var affected int64
	err := s.TransactionContext(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return errors.Database("exec", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return errors.Database("rows affected", err)
		}
		return nil
	})
	return affected, err
}

// =============================================================================
// Health Check
// =============================================================================

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
