/*
Package jobqueue runs bot reply handling as River jobs.

Every posted chat message is enqueued as a chat_message_posted job on the
bot_replies queue. River delivers jobs at least once and retries failed ones
with the RetryPolicy below; the room lock and the unique reply index keep
retries and duplicates from producing a second reply.

Tuning notes:
  - MaxWorkers bounds concurrent generations, and with it the load on the
    generative-text backend and the database pool.
  - JobTimeout must stay below the room lock TTL so a slow but healthy job is
    never overtaken by its own lock expiry.
  - SnoozeOnContention re-schedules a job that found its room busy instead of
    dropping it. Zero drops it.
*/
package jobqueue

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// QueueBotReplies is the River queue reply jobs run on.
const QueueBotReplies = "bot_replies"

// QueueConfig holds the job queue tunables.
type QueueConfig struct {
	MaxWorkers  int           `koanf:"max_workers"`
	MaxAttempts int           `koanf:"max_attempts"`
	JobTimeout  time.Duration `koanf:"job_timeout"`
	// HistoryLimit is how many earlier messages are given to the classifiers.
	HistoryLimit       int           `koanf:"history_limit"`
	SnoozeOnContention time.Duration `koanf:"snooze_on_contention"`
	RetryPolicy        RetryPolicy   `koanf:"retry_policy"`
}

// RetryPolicy is an exponential backoff with jitter for failed jobs.
type RetryPolicy struct {
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
	Multiplier      float64       `koanf:"multiplier"`
}

// NextRetry implements river.ClientRetryPolicy.
func (p RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	return time.Now().Add(p.delay(job.Attempt))
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxInterval) {
		d = float64(p.MaxInterval)
	}
	// +/-10% so retries of a burst of jobs spread out.
	d += (rand.Float64() - 0.5) * 0.2 * d
	return time.Duration(d)
}

// DefaultQueueConfig returns the default configuration.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:   10,
		MaxAttempts:  5,
		JobTimeout:   2 * time.Minute,
		HistoryLimit: 20,
		RetryPolicy: RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaxInterval:     5 * time.Minute,
			Multiplier:      2.0,
		},
	}
}

// RiverQueueConfig converts the config to River's queue configuration.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		QueueBotReplies: {MaxWorkers: c.MaxWorkers},
	}
}
