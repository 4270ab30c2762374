// Package cmd holds the chatreply command-line commands.
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/chatreply/internal/analysis"
	"github.com/chatreply/internal/bots"
	"github.com/chatreply/internal/capture"
	"github.com/chatreply/internal/config"
	"github.com/chatreply/internal/database"
	"github.com/chatreply/internal/delivery"
	"github.com/chatreply/internal/engine"
	"github.com/chatreply/internal/jobqueue"
	"github.com/chatreply/internal/llm"
	"github.com/chatreply/internal/logging"
	"github.com/chatreply/internal/metrics"
	"github.com/chatreply/internal/roomlock"
	"github.com/chatreply/internal/selector"
)

// loadConfig reads and validates the configuration named by --config and
// configures logging from it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Setup(cfg.General.LogLevel, cfg.General.LogFormat, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return database.NewPool(ctx, database.PoolOptions{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		Connect:  cfg.Database.RetryConfig(),
	})
}

// runtime is the fully wired reply pipeline.
type runtime struct {
	pool    *pgxpool.Pool
	redis   *redis.Client
	metrics *metrics.Metrics
	queue   *jobqueue.JobQueue
}

func (r *runtime) Close() {
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	r.pool.Close()
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// buildRuntime wires storage, the generative-text client, the classifiers,
// the selector, the room lock and the reply worker.
func buildRuntime(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*runtime, error) {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{pool: pool, metrics: metrics.New(reg)}

	if cfg.Redis.Addr != "" {
		rt.redis = newRedisClient(cfg.Redis)
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	backend, err := llm.NewBackend(ctx, cfg.AI.ConnectorOptions())
	if err != nil {
		rt.Close()
		return nil, err
	}
	if cfg.AI.CaptureDir != "" {
		recorder, err := capture.NewRecorder(cfg.AI.CaptureDir)
		if err != nil {
			rt.Close()
			return nil, err
		}
		log.Warn().Str("dir", recorder.Dir()).Msg("recording generative-text exchanges")
		backend = capture.WrapBackend(backend, recorder)
	}
	gen := llm.NewResilientClient(backend, cfg.AI.Resilience, rt.metrics)

	registry := bots.NewPostgresRegistry(pool)
	sel := selector.New(
		analysis.NewLLMSentimentAnalyzer(gen),
		analysis.NewLLMAddresseeResolver(gen),
		registry,
		cfg.Selection,
	)

	store, err := newLockStore(cfg, pool, rt.redis)
	if err != nil {
		rt.Close()
		return nil, err
	}

	eng := engine.New(sel, roomlock.NewLocker(store), engine.Config{LockTTL: cfg.Lock.TTL},
		engine.WithObserver(rt.metrics),
	)

	var notifier delivery.Notifier = delivery.LogNotifier{}
	if rt.redis != nil {
		notifier = delivery.NewRedisNotifier(rt.redis)
	}
	messages := delivery.NewPostgresMessageStore(pool)
	deliverer := delivery.NewDeliverer(delivery.NewReplyWriter(gen), messages, notifier)

	worker := jobqueue.NewReplyWorker(messages, eng, deliverer.Deliver, &cfg.Queue, rt.metrics)
	rt.queue, err = jobqueue.NewJobQueue(pool, &cfg.Queue, worker)
	if err != nil {
		rt.Close()
		return nil, err
	}

	log.Info().
		Str("backend", backend.Name()).
		Str("lock_backend", cfg.Lock.Backend).
		Dur("lock_ttl", cfg.Lock.TTL).
		Int("max_workers", cfg.Queue.MaxWorkers).
		Msg("reply pipeline ready")
	return rt, nil
}

func newLockStore(cfg *config.Config, pool *pgxpool.Pool, client *redis.Client) (roomlock.Store, error) {
	switch cfg.Lock.Backend {
	case config.LockBackendRedis:
		if client == nil {
			return nil, fmt.Errorf("redis lock backend needs redis.addr")
		}
		return roomlock.NewRedisStore(client), nil
	case config.LockBackendPostgres:
		return roomlock.NewPostgresStore(pool), nil
	case config.LockBackendMemory:
		log.Warn().Msg("in-memory room lock only serializes replies within this process")
		return roomlock.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", cfg.Lock.Backend)
	}
}
