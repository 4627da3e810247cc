package store

import (
	"context"
	"errors"
	"fmt"

	// database/sql drivers selected by Config.Driver
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/Sternrassler/dataaccess/pkg/pool"
	"github.com/Sternrassler/dataaccess/pkg/retry"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// Open connects to the database and verifies the connection. The driver's
// own pool is capped at cfg.Capacity so it never exceeds the resource pool.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Capacity)
	db.SetMaxIdleConns(cfg.Capacity)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// ConnFactory hands out dedicated connections from db to a pool.
type ConnFactory struct {
	DB *sqlx.DB
}

// Open implements pool.Factory.
func (f ConnFactory) Open(ctx context.Context) (*sqlx.Conn, error) {
	return f.DB.Connx(ctx)
}

// Close implements pool.Factory.
func (f ConnFactory) Close(conn *sqlx.Conn) error {
	return conn.Close()
}

// Backend bundles a database, its connection pool and the executor that
// runs queries on pooled connections.
type Backend struct {
	DB   *sqlx.DB
	Pool *pool.Pool[*sqlx.Conn]
	Exec *retry.Executor[*sqlx.Conn]
}

// Connect opens the database and builds a Backend around it.
func Connect(ctx context.Context, cfg Config, policy retry.Policy, logger zerolog.Logger) (*Backend, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b, err := NewBackend(db, cfg.Capacity, policy, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().
		Str("driver", cfg.Driver).
		Str("host", cfg.Host).
		Str("database", cfg.DBName).
		Int("capacity", cfg.Capacity).
		Msg("Database backend ready")
	return b, nil
}

// NewBackend wraps an already open database.
func NewBackend(db *sqlx.DB, capacity int, policy retry.Policy, logger zerolog.Logger) (*Backend, error) {
	p, err := pool.New[*sqlx.Conn](pool.Config{Name: "database", Capacity: capacity}, ConnFactory{DB: db}, logger)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	exec, err := retry.NewExecutor[*sqlx.Conn](p, policy,
		retry.WithName("database"),
		retry.WithClassifier(Classify),
		retry.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}
	return &Backend{DB: db, Pool: p, Exec: exec}, nil
}

// Ping checks a pooled connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.Exec.Do(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		return conn.PingContext(ctx)
	})
}

// Close drains the pool and then closes the database.
func (b *Backend) Close(ctx context.Context) error {
	return errors.Join(b.Pool.Shutdown(ctx), b.DB.Close())
}
