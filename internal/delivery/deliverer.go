package delivery

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/chatreply/internal/bots"
	"github.com/chatreply/internal/engine"
	"github.com/chatreply/internal/payload"
	"github.com/chatreply/internal/selector"
)

// Deliverer writes, stores and publishes a bot reply.
type Deliverer struct {
	writer   *ReplyWriter
	store    MessageStore
	notifier Notifier
}

func NewDeliverer(writer *ReplyWriter, store MessageStore, notifier Notifier) *Deliverer {
	return &Deliverer{writer: writer, store: store, notifier: notifier}
}

var _ engine.DeliverFunc = (*Deliverer)(nil).Deliver

// Deliver is an engine.DeliverFunc. It runs under the room lock, so the reply
// check here sees any reply stored by an earlier holder. Push failures are
// logged only: the reply is already stored and clients pick it up on their
// next fetch.
func (d *Deliverer) Deliver(ctx context.Context, in engine.IncomingMessage, decision selector.ReplyDecision, binding bots.Binding) error {
	logger := zerolog.Ctx(ctx)

	replied, err := d.store.HasReply(ctx, in.MessageID)
	if err != nil {
		return err
	}
	if replied {
		logger.Info().Msg("message already answered, skipping reply generation")
		return nil
	}

	text, err := d.writer.Write(ctx, binding.Bot, in.History, in.Message)
	if err != nil {
		return err
	}

	msg, err := d.store.InsertReply(ctx, ReplyRecord{
		RoomID:         in.Room.ID,
		ActorID:        binding.Actor.ID,
		ReplyToMessage: in.MessageID,
		Content:        text,
	})
	if errors.Is(err, ErrAlreadyReplied) {
		logger.Info().Msg("message already answered, discarding generated reply")
		return nil
	}
	if err != nil {
		return err
	}

	p := payload.Build(in.Room, msg, binding)
	if err := d.notifier.Publish(ctx, p); err != nil {
		logger.Warn().Err(err).Int64("reply_id", msg.ID).Msg("failed to publish reply notification")
	}

	logger.Debug().
		Int64("reply_id", msg.ID).
		Str("reason", string(decision.Reason)).
		Msg("reply stored")
	return nil
}
