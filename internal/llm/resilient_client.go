package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/chatreply/internal/logging"
	"github.com/chatreply/internal/retry"
)

// ResilienceConfig bounds every generation request.
type ResilienceConfig struct {
	Retry              retry.Config  `koanf:"retry"`
	AttemptTimeout     time.Duration `koanf:"attempt_timeout"`
	RequestTimeout     time.Duration `koanf:"request_timeout"`
	BreakerFailures    uint32        `koanf:"breaker_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
	RequestsPerSecond  float64       `koanf:"requests_per_second"` // 0 disables client-side limiting
	Burst              int           `koanf:"burst"`
}

// DefaultResilienceConfig returns the defaults used when nothing is configured.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Retry:              retry.GenerationConfig(),
		AttemptTimeout:     25 * time.Second,
		RequestTimeout:     60 * time.Second,
		BreakerFailures:    5,
		BreakerOpenTimeout: 30 * time.Second,
		RequestsPerSecond:  0,
		Burst:              1,
	}
}

// EventSink receives resiliency events, typically for metrics.
type EventSink interface {
	GenerationRetried(backend, op string, attempt int)
	GenerationRepaired(backend string, stats JSONRepairStats)
	GenerationFinished(backend, op string, attempts int, elapsed time.Duration, err error)
}

// ResilientClient implements Generator on top of a Backend.
type ResilientClient struct {
	backend   Backend
	cfg       ResilienceConfig
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	eventSink EventSink
}

// NewResilientClient wraps backend with the given policy. eventSink may be nil.
func NewResilientClient(backend Backend, cfg ResilienceConfig, eventSink EventSink) *ResilientClient {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-" + backend.Name(),
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// The caller giving up is not a backend failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("generative-text circuit breaker changed state")
		},
	})

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &ResilientClient{
		backend:   backend,
		cfg:       cfg,
		breaker:   breaker,
		limiter:   limiter,
		eventSink: eventSink,
	}
}

// GenerateText returns free-form text.
func (c *ResilientClient) GenerateText(ctx context.Context, req Request) (string, error) {
	var text string
	err := c.run(ctx, "generate_text", req, false, func(raw string) error {
		text = strings.TrimSpace(raw)
		return nil
	})
	return text, err
}

// GenerateJSON runs a JSON-mode generation and decodes it into target.
// Output that cannot be decoded even after repair is retried like any other
// transient failure.
func (c *ResilientClient) GenerateJSON(ctx context.Context, req Request, target any) error {
	return c.run(ctx, "generate_json", req, true, func(raw string) error {
		stats, err := DecodeJSONResponse(raw, target)
		if stats.WasRepaired && c.eventSink != nil {
			c.eventSink.GenerationRepaired(c.backend.Name(), stats)
		}
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).
				Str("backend", c.backend.Name()).
				Str("raw", logging.Truncate(raw, 300)).
				Msg("could not decode JSON response")
			return retry.Transient(err)
		}
		return nil
	})
}

func (c *ResilientClient) run(ctx context.Context, op string, req Request, jsonMode bool, accept func(raw string) error) error {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	completion := Completion{
		System:   composeSystemPrompt(req.Persona, req.SystemPrompt),
		User:     req.UserPrompt,
		JSONMode: jsonMode,
	}

	attempt := 0
	result := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && c.eventSink != nil {
			c.eventSink.GenerationRetried(c.backend.Name(), op, attempt)
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}

		raw, err := c.attempt(ctx, completion)
		if err != nil {
			return err
		}
		return accept(raw)
	})

	var err error
	if !result.Success {
		err = &UpstreamError{
			Op:       op,
			Backend:  c.backend.Name(),
			Attempts: result.Attempts,
			Err:      result.LastError,
		}
	}
	if c.eventSink != nil {
		c.eventSink.GenerationFinished(c.backend.Name(), op, result.Attempts, result.TotalDuration, err)
	}
	return err
}

// attempt performs one bounded call through the circuit breaker.
func (c *ResilientClient) attempt(ctx context.Context, completion Completion) (string, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		attemptCtx := ctx
		if c.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
			defer cancel()
		}

		raw, err := c.backend.Complete(attemptCtx, completion)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(raw) == "" {
			return nil, ErrEmptyResponse
		}
		return raw, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", retry.Permanent(fmt.Errorf("%w: %v", ErrCircuitOpen, err))
	}
	if errors.Is(err, ErrEmptyResponse) {
		return "", retry.Transient(err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
