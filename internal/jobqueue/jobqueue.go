package jobqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"
)

// JobQueue manages the River client.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a job queue that works reply jobs with worker.
func NewJobQueue(pool *pgxpool.Pool, config *QueueConfig, worker *ReplyWorker) (*JobQueue, error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:      config.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: config.MaxAttempts,
		JobTimeout:  config.JobTimeout,
		RetryPolicy: config.RetryPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, pool: pool, config: config}, nil
}

// NewInsertOnlyJobQueue creates a job queue that can enqueue but not work
// jobs, for the API and CLI.
func NewInsertOnlyJobQueue(pool *pgxpool.Pool, config *QueueConfig) (*JobQueue, error) {
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		MaxAttempts: config.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	return &JobQueue{client: client, pool: pool, config: config}, nil
}

// Migrate applies River's schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate River schema: %w", err)
	}
	for _, v := range res.Versions {
		log.Info().Int("version", v.Version).Msg("applied River migration")
	}
	return nil
}

// Start starts the job queue workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop waits for running jobs to finish and stops the workers.
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// EnqueueMessagePosted queues reply handling for a message. duplicate is
// true when a job for the same message was already queued.
func (jq *JobQueue) EnqueueMessagePosted(ctx context.Context, args MessagePostedArgs) (jobID int64, duplicate bool, err error) {
	res, err := jq.client.Insert(ctx, args, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to queue message posted job: %w", err)
	}
	return res.Job.ID, res.UniqueSkippedAsDuplicate, nil
}
