package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/medflow/medflow-stock/pkg/config"
	"github.com/medflow/medflow-stock/pkg/logger"
)

// DB wraps sqlx.DB with additional functionality
type DB struct {
	*sqlx.DB
	logger      *logger.Logger
	lockTimeout time.Duration
}

// New creates a new database connection
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &DB{
		DB:          db,
		logger:      log,
		lockTimeout: cfg.LockTimeout,
	}, nil
}

// NewWithDSN creates a new database connection with a DSN string
func NewWithDSN(dsn string, lockTimeout time.Duration, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return Wrap(db, lockTimeout, log), nil
}

// Wrap adopts an existing handle, e.g. one backed by sqlmock.
func Wrap(db *sqlx.DB, lockTimeout time.Duration, log *logger.Logger) *DB {
	if log == nil {
		log = logger.Nop()
	}
	return &DB{
		DB:          db,
		logger:      log,
		lockTimeout: lockTimeout,
	}
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) map[string]string {
	status := map[string]string{
		"status": "up",
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}

	return status
}

// Transaction executes fn inside a single transaction. When a lock timeout is
// configured it is applied with SET LOCAL so it only lives as long as the tx.
// Any error from fn rolls everything back.
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if db.lockTimeout > 0 {
		// SET LOCAL doesn't accept bind parameters; the value is an integer we format ourselves.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			db.rollback(tx)
			return fmt.Errorf("failed to set lock_timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		db.rollback(tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (db *DB) rollback(tx *sqlx.Tx) {
	if rbErr := tx.Rollback(); rbErr != nil {
		db.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
	}
}
