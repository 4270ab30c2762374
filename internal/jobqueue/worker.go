package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/chatreply/internal/analysis"
	"github.com/chatreply/internal/delivery"
	"github.com/chatreply/internal/engine"
	"github.com/chatreply/internal/logging"
)

// MessagePostedArgs identifies a newly posted chat message.
type MessagePostedArgs struct {
	OrganizationID int64 `json:"organization_id"`
	RoomID         int64 `json:"room_id"`
	MessageID      int64 `json:"message_id"`
}

func (MessagePostedArgs) Kind() string { return "chat_message_posted" }

// InsertOpts routes the job to the reply queue and drops duplicate inserts
// for the same message.
func (MessagePostedArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:      QueueBotReplies,
		UniqueOpts: river.UniqueOpts{ByArgs: true},
	}
}

// MessageHandler is the reply pipeline entry point.
type MessageHandler interface {
	HandleIncomingMessage(ctx context.Context, in engine.IncomingMessage, deliver engine.DeliverFunc) (engine.Outcome, error)
}

// JobRecorder counts job results.
type JobRecorder interface {
	JobResult(result string)
}

// ReplyWorker loads the posted message and its context and runs it through
// the engine.
type ReplyWorker struct {
	river.WorkerDefaults[MessagePostedArgs]
	store    delivery.MessageStore
	handler  MessageHandler
	deliver  engine.DeliverFunc
	config   *QueueConfig
	recorder JobRecorder
}

func NewReplyWorker(store delivery.MessageStore, handler MessageHandler, deliver engine.DeliverFunc, config *QueueConfig, recorder JobRecorder) *ReplyWorker {
	return &ReplyWorker{
		store:    store,
		handler:  handler,
		deliver:  deliver,
		config:   config,
		recorder: recorder,
	}
}

// Timeout bounds a single job execution.
func (w *ReplyWorker) Timeout(*river.Job[MessagePostedArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work returns upstream failures so River retries the job. Messages or rooms
// that no longer exist cancel the job.
func (w *ReplyWorker) Work(ctx context.Context, job *river.Job[MessagePostedArgs]) error {
	args := job.Args
	ctx, logger := logging.WithJob(ctx, logging.JobFields{
		JobID:          job.ID,
		Attempt:        job.Attempt,
		OrganizationID: args.OrganizationID,
		RoomID:         args.RoomID,
		MessageID:      args.MessageID,
	})
	logger.Debug().Msg("processing posted message")

	in, done, err := w.load(ctx, args)
	if err != nil {
		w.record("failed")
		if errors.Is(err, delivery.ErrNotFound) {
			logger.Warn().Err(err).Msg("cancelling job for missing room or message")
			return river.JobCancel(err)
		}
		return err
	}
	if done {
		logger.Debug().Msg("message already answered")
		w.record("declined")
		return nil
	}

	out, err := w.handler.HandleIncomingMessage(ctx, in, w.deliver)
	if err != nil {
		logger.Error().Err(err).Msg("reply pipeline failed")
		w.record("failed")
		return err
	}

	switch {
	case !out.Acquired:
		w.record("contended")
		if w.config.SnoozeOnContention > 0 {
			return river.JobSnooze(w.config.SnoozeOnContention)
		}
	case out.Delivered:
		w.record("replied")
	default:
		w.record("declined")
	}
	return nil
}

// load gathers the engine input. done is true when the message already has a
// bot reply.
func (w *ReplyWorker) load(ctx context.Context, args MessagePostedArgs) (engine.IncomingMessage, bool, error) {
	room, err := w.store.LoadRoom(ctx, args.RoomID)
	if err != nil {
		return engine.IncomingMessage{}, false, err
	}
	if room.OrganizationID != args.OrganizationID {
		return engine.IncomingMessage{}, false, fmt.Errorf("room %d is not in organization %d: %w", args.RoomID, args.OrganizationID, delivery.ErrNotFound)
	}

	replied, err := w.store.HasReply(ctx, args.MessageID)
	if err != nil {
		return engine.IncomingMessage{}, false, err
	}
	if replied {
		return engine.IncomingMessage{}, true, nil
	}

	msg, err := w.store.Message(ctx, args.RoomID, args.MessageID)
	if err != nil {
		return engine.IncomingMessage{}, false, err
	}

	stored, err := w.store.History(ctx, args.RoomID, args.MessageID, w.config.HistoryLimit)
	if err != nil {
		return engine.IncomingMessage{}, false, err
	}
	history := make([]analysis.ConversationMessage, 0, len(stored))
	for _, m := range stored {
		history = append(history, m.Conversation())
	}

	return engine.IncomingMessage{
		OrganizationID: args.OrganizationID,
		Room:           room,
		MessageID:      args.MessageID,
		History:        history,
		Message:        msg.Conversation(),
	}, false, nil
}

func (w *ReplyWorker) record(result string) {
	if w.recorder != nil {
		w.recorder.JobResult(result)
	}
}
