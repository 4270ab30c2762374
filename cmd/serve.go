package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/chatreply/internal/api"
	"github.com/chatreply/internal/api/auth"
	"github.com/chatreply/internal/config"
	"github.com/chatreply/internal/roomlock"
	"github.com/chatreply/internal/tracing"
)

const lockPurgeInterval = 10 * time.Minute

// ServeCommand runs the reply workers and, unless disabled, the HTTP API.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the reply workers and the HTTP API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-api",
				Usage: "Run only the reply workers",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	withAPI := !c.Bool("no-api")
	if withAPI {
		if err := config.ValidateAPI(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt, err := buildRuntime(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reply workers: %w", err)
	}
	log.Info().Msg("reply workers started")

	g, gctx := errgroup.WithContext(ctx)

	if withAPI {
		var gatherer prometheus.Gatherer
		if cfg.Metrics.Enabled {
			gatherer = reg
		}
		server := api.NewServer(api.Options{
			Addr:            cfg.API.Addr,
			ShutdownTimeout: cfg.API.ShutdownTimeout,
			Gatherer:        gatherer,
		}, rt.queue, auth.NewTokenService(cfg.API.JWTSecret, cfg.API.JWTIssuer))
		g.Go(func() error { return server.Start(gctx) })
	}

	if cfg.Lock.Backend == config.LockBackendPostgres {
		store := roomlock.NewPostgresStore(rt.pool)
		g.Go(func() error {
			purgeExpiredLocks(gctx, store)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.JobTimeout)
		defer cancel()
		log.Info().Msg("stopping reply workers")
		return rt.queue.Stop(stopCtx)
	})

	return g.Wait()
}

func purgeExpiredLocks(ctx context.Context, store *roomlock.PostgresStore) {
	ticker := time.NewTicker(lockPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("failed to purge expired room locks")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("purged expired room locks")
			}
		}
	}
}
