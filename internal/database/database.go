package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/chatreply/internal/retry"
)

// PoolOptions configures NewPool.
type PoolOptions struct {
	URL      string
	MaxConns int32
	Connect  retry.Config
}

// NewPool opens a pgx pool and waits for the database to answer a ping.
// Postgres often starts after the application in container deployments, so
// connecting is retried with backoff.
func NewPool(ctx context.Context, opts PoolOptions) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	result := retry.Do(ctx, opts.Connect, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, config)
		if err != nil {
			return retry.Transient(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			log.Warn().Err(err).Msg("database ping failed")
			return retry.Transient(err)
		}
		pool = p
		return nil
	})
	if !result.Success {
		return nil, fmt.Errorf("failed to connect after %d attempts: %w", result.Attempts, result.LastError)
	}

	log.Info().Int("attempts", result.Attempts).Int32("max_conns", config.MaxConns).Msg("database connected")
	return pool, nil
}
