// Package store manages PostgreSQL access for the broker: connection pool
// construction, embedded schema migrations, and database error classification.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fastpubsub/fastpubsub/internal/config"
)

// Store wraps the pgx connection pool shared by all repositories.
type Store struct {
	pool *pgxpool.Pool
}

// Open builds the connection pool from env config. The pool is sized to
// DatabasePoolSize persistent connections plus DatabaseMaxOverflow burst
// capacity; pre-ping validates connections on acquire when enabled.
func Open(ctx context.Context, cfg *config.EnvConfig, logger *zap.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.DatabasePoolSize + cfg.DatabaseMaxOverflow)
	poolCfg.MinConns = int32(cfg.DatabasePoolSize)

	if cfg.DatabasePoolPrePing {
		poolCfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
			return conn.Ping(ctx) == nil
		}
	}
	if cfg.DatabaseEcho {
		poolCfg.ConnConfig.Tracer = &echoTracer{logger: logger}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool exposes the underlying pool to repositories.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping checks database connectivity. Used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases all pool connections.
func (s *Store) Close() {
	s.pool.Close()
}
