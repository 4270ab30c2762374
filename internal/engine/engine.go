// Package engine runs the per-message reply pipeline under the room lock:
// acquire, decide, deliver, release.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatreply/internal/analysis"
	"github.com/chatreply/internal/bots"
	"github.com/chatreply/internal/roomlock"
	"github.com/chatreply/internal/selector"
)

const tracerName = "github.com/chatreply/internal/engine"

// releaseTimeout bounds the lock release, which runs on a fresh context.
const releaseTimeout = 5 * time.Second

// IncomingMessage is everything the pipeline needs about a posted message.
type IncomingMessage struct {
	OrganizationID int64
	Room           bots.ChatRoom
	MessageID      int64
	History        []analysis.ConversationMessage
	Message        analysis.ConversationMessage
}

// DeliverFunc generates, stores and publishes the reply for a positive
// decision. It runs while the room lock is held.
type DeliverFunc func(ctx context.Context, in IncomingMessage, decision selector.ReplyDecision, binding bots.Binding) error

// Outcome reports what HandleIncomingMessage did.
type Outcome struct {
	// Acquired is false when another execution held the room.
	Acquired  bool
	Decision  selector.ReplyDecision
	Delivered bool
}

// Decider produces reply decisions.
type Decider interface {
	Decide(ctx context.Context, orgID int64, room bots.ChatRoom, history []analysis.ConversationMessage, last analysis.ConversationMessage) (selector.ReplyDecision, *bots.Binding, error)
}

// RoomLocker is the lock contract used by the engine.
type RoomLocker interface {
	TryAcquire(ctx context.Context, roomID int64, ttl time.Duration) (*roomlock.Handle, error)
	Release(ctx context.Context, h *roomlock.Handle) error
}

// Observer receives pipeline events, typically for metrics.
type Observer interface {
	LockAttempt(acquired bool)
	Decision(d selector.ReplyDecision)
	Delivery(elapsed time.Duration, err error)
}

type Config struct {
	LockTTL time.Duration `koanf:"ttl"`
}

type Engine struct {
	decider  Decider
	locker   RoomLocker
	cfg      Config
	observer Observer
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock replaces the clock used to check lock expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(decider Decider, locker RoomLocker, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		decider:  decider,
		locker:   locker,
		cfg:      cfg,
		observer: nopObserver{},
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleIncomingMessage runs the pipeline for one message. A room held by
// another execution is not an error: the returned Outcome has Acquired false.
// Classifier, registry and delivery failures are returned so the job runner
// can retry. The lock is released on every path once acquired.
func (e *Engine) HandleIncomingMessage(ctx context.Context, in IncomingMessage, deliver DeliverFunc) (out Outcome, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.handle_incoming_message", trace.WithAttributes(
		attribute.Int64("chat.organization_id", in.OrganizationID),
		attribute.Int64("chat.room_id", in.Room.ID),
		attribute.Int64("chat.message_id", in.MessageID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := zerolog.Ctx(ctx)

	handle, err := e.acquire(ctx, in.Room.ID)
	if err != nil {
		return Outcome{}, err
	}
	e.observer.LockAttempt(handle != nil)
	if handle == nil {
		logger.Debug().Msg("room is being handled by another execution")
		span.SetAttributes(attribute.Bool("room_lock.acquired", false))
		return Outcome{}, nil
	}
	span.SetAttributes(attribute.Bool("room_lock.acquired", true))

	defer func() {
		// The job context may already be cancelled; the key must still go.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := e.locker.Release(releaseCtx, handle); relErr != nil {
			logger.Error().Err(relErr).Msg("failed to release room lock")
		}
	}()

	out.Acquired = true

	decision, binding, err := e.decide(ctx, in)
	if err != nil {
		return out, err
	}

	if decision.ShouldReply && handle.Expired(e.now()) {
		logger.Warn().
			Time("lock_deadline", handle.Deadline()).
			Int64("bot_actor_id", decision.BotActorID).
			Msg("room lock expired before delivery, dropping reply")
		decision = selector.NoReply(selector.ReasonLockExpired, "room lock expired before the reply was ready", decision.Confidence)
		binding = nil
	}
	out.Decision = decision
	e.observer.Decision(decision)

	if !decision.ShouldReply {
		return out, nil
	}
	if binding == nil {
		return out, errors.New("positive decision without a bot binding")
	}
	if deliver == nil {
		return out, errors.New("no deliver func configured")
	}

	if err := e.deliver(ctx, in, decision, *binding, deliver); err != nil {
		return out, err
	}
	out.Delivered = true
	return out, nil
}

func (e *Engine) acquire(ctx context.Context, roomID int64) (*roomlock.Handle, error) {
	ctx, span := e.tracer.Start(ctx, "roomlock.try_acquire", trace.WithAttributes(
		attribute.Int64("chat.room_id", roomID),
		attribute.String("room_lock.ttl", e.cfg.LockTTL.String()),
	))
	defer span.End()

	handle, err := e.locker.TryAcquire(ctx, roomID, e.cfg.LockTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("acquire room lock: %w", err)
	}
	return handle, nil
}

func (e *Engine) decide(ctx context.Context, in IncomingMessage) (selector.ReplyDecision, *bots.Binding, error) {
	ctx, span := e.tracer.Start(ctx, "selector.decide")
	defer span.End()

	decision, binding, err := e.decider.Decide(ctx, in.OrganizationID, in.Room, in.History, in.Message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return selector.ReplyDecision{}, nil, fmt.Errorf("decide reply: %w", err)
	}
	span.SetAttributes(
		attribute.Bool("reply.should_reply", decision.ShouldReply),
		attribute.String("reply.reason", string(decision.Reason)),
		attribute.Int("reply.confidence", decision.Confidence),
	)
	return decision, binding, nil
}

func (e *Engine) deliver(ctx context.Context, in IncomingMessage, decision selector.ReplyDecision, binding bots.Binding, deliver DeliverFunc) error {
	ctx, span := e.tracer.Start(ctx, "delivery.deliver", trace.WithAttributes(
		attribute.Int64("reply.bot_actor_id", decision.BotActorID),
		attribute.String("reply.bot_type", string(decision.BotType)),
	))
	defer span.End()

	start := time.Now()
	err := deliver(ctx, in, decision, binding)
	e.observer.Delivery(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deliver reply: %w", err)
	}
	zerolog.Ctx(ctx).Info().
		Int64("bot_actor_id", decision.BotActorID).
		Str("bot_name", decision.BotName).
		Dur("elapsed", time.Since(start)).
		Msg("bot reply delivered")
	return nil
}

type nopObserver struct{}

func (nopObserver) LockAttempt(bool)                {}
func (nopObserver) Decision(selector.ReplyDecision) {}
func (nopObserver) Delivery(time.Duration, error)   {}
