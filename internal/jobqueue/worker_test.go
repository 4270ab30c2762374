package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatreply/internal/bots"
	"github.com/chatreply/internal/delivery"
	"github.com/chatreply/internal/engine"
	"github.com/chatreply/internal/payload"
	"github.com/chatreply/internal/selector"
)

type stubStore struct {
	room     bots.ChatRoom
	roomErr  error
	messages map[int64]delivery.StoredMessage
	replied  map[int64]bool
	history  []delivery.StoredMessage
	limit    int
}

func (s *stubStore) LoadRoom(_ context.Context, roomID int64) (bots.ChatRoom, error) {
	if s.roomErr != nil {
		return bots.ChatRoom{}, s.roomErr
	}
	if s.room.ID != roomID {
		return bots.ChatRoom{}, delivery.ErrNotFound
	}
	return s.room, nil
}

func (s *stubStore) Message(_ context.Context, _ int64, messageID int64) (delivery.StoredMessage, error) {
	m, ok := s.messages[messageID]
	if !ok {
		return delivery.StoredMessage{}, delivery.ErrNotFound
	}
	return m, nil
}

func (s *stubStore) History(_ context.Context, _ int64, _ int64, limit int) ([]delivery.StoredMessage, error) {
	s.limit = limit
	return s.history, nil
}

func (s *stubStore) HasReply(_ context.Context, messageID int64) (bool, error) {
	return s.replied[messageID], nil
}

func (s *stubStore) InsertReply(context.Context, delivery.ReplyRecord) (payload.Message, error) {
	return payload.Message{}, errors.New("not used")
}

type stubHandler struct {
	out   engine.Outcome
	err   error
	calls []engine.IncomingMessage
}

func (h *stubHandler) HandleIncomingMessage(_ context.Context, in engine.IncomingMessage, _ engine.DeliverFunc) (engine.Outcome, error) {
	h.calls = append(h.calls, in)
	return h.out, h.err
}

type countingRecorder map[string]int

func (c countingRecorder) JobResult(result string) { c[result]++ }

func newStore() *stubStore {
	return &stubStore{
		room: bots.ChatRoom{ID: 5, OrganizationID: 10, Kind: bots.RoomGroup},
		messages: map[int64]delivery.StoredMessage{
			77: {ID: 77, RoomID: 5, SenderActorID: 7, SenderName: "Dana", Content: "Sunny, ping"},
		},
		replied: map[int64]bool{},
		history: []delivery.StoredMessage{
			{ID: 70, RoomID: 5, SenderActorID: 42, SenderName: "Sunny", SenderIsBot: true, Content: "Morning!"},
		},
	}
}

func job(args MessagePostedArgs) *river.Job[MessagePostedArgs] {
	return &river.Job[MessagePostedArgs]{
		JobRow: &rivertype.JobRow{ID: 1, Attempt: 1, Kind: args.Kind()},
		Args:   args,
	}
}

var posted = MessagePostedArgs{OrganizationID: 10, RoomID: 5, MessageID: 77}

func TestWorkRunsPipeline(t *testing.T) {
	store := newStore()
	handler := &stubHandler{out: engine.Outcome{Acquired: true, Delivered: true}}
	rec := countingRecorder{}
	w := NewReplyWorker(store, handler, nil, DefaultQueueConfig(), rec)

	require.NoError(t, w.Work(context.Background(), job(posted)))

	require.Len(t, handler.calls, 1)
	in := handler.calls[0]
	assert.Equal(t, int64(10), in.OrganizationID)
	assert.Equal(t, int64(5), in.Room.ID)
	assert.Equal(t, int64(77), in.MessageID)
	assert.Equal(t, "Sunny, ping", in.Message.Content)
	require.Len(t, in.History, 1)
	assert.True(t, in.History[0].IsBot)
	assert.Equal(t, DefaultQueueConfig().HistoryLimit, store.limit)
	assert.Equal(t, 1, rec["replied"])
}

func TestWorkFinishesOnContention(t *testing.T) {
	rec := countingRecorder{}
	w := NewReplyWorker(newStore(), &stubHandler{out: engine.Outcome{Acquired: false}}, nil, DefaultQueueConfig(), rec)

	assert.NoError(t, w.Work(context.Background(), job(posted)))
	assert.Equal(t, 1, rec["contended"])
}

func TestWorkSnoozesOnContentionWhenConfigured(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.SnoozeOnContention = 10 * time.Second
	w := NewReplyWorker(newStore(), &stubHandler{out: engine.Outcome{Acquired: false}}, nil, cfg, nil)

	assert.Error(t, w.Work(context.Background(), job(posted)))
}

func TestWorkCountsDeclines(t *testing.T) {
	rec := countingRecorder{}
	handler := &stubHandler{out: engine.Outcome{
		Acquired: true,
		Decision: selector.NoReply(selector.ReasonAddressedToHuman, "for Lee", 90),
	}}
	w := NewReplyWorker(newStore(), handler, nil, DefaultQueueConfig(), rec)

	assert.NoError(t, w.Work(context.Background(), job(posted)))
	assert.Equal(t, 1, rec["declined"])
}

func TestWorkReturnsUpstreamFailure(t *testing.T) {
	upstream := errors.New("503 service unavailable")
	rec := countingRecorder{}
	w := NewReplyWorker(newStore(), &stubHandler{err: upstream}, nil, DefaultQueueConfig(), rec)

	err := w.Work(context.Background(), job(posted))
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, 1, rec["failed"])
}

func TestWorkSkipsAnsweredMessages(t *testing.T) {
	store := newStore()
	store.replied[77] = true
	handler := &stubHandler{}
	w := NewReplyWorker(store, handler, nil, DefaultQueueConfig(), nil)

	assert.NoError(t, w.Work(context.Background(), job(posted)))
	assert.Empty(t, handler.calls)
}

func TestWorkCancelsForMissingData(t *testing.T) {
	tests := []struct {
		name string
		args MessagePostedArgs
	}{
		{name: "unknown room", args: MessagePostedArgs{OrganizationID: 10, RoomID: 6, MessageID: 77}},
		{name: "room in other organization", args: MessagePostedArgs{OrganizationID: 11, RoomID: 5, MessageID: 77}},
		{name: "unknown message", args: MessagePostedArgs{OrganizationID: 10, RoomID: 5, MessageID: 78}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &stubHandler{}
			w := NewReplyWorker(newStore(), handler, nil, DefaultQueueConfig(), nil)

			err := w.Work(context.Background(), job(tt.args))
			require.Error(t, err)
			assert.ErrorIs(t, err, delivery.ErrNotFound)
			assert.Empty(t, handler.calls)
		})
	}
}

func TestWorkRetriesStoreFailures(t *testing.T) {
	down := errors.New("connection refused")
	store := newStore()
	store.roomErr = down
	w := NewReplyWorker(store, &stubHandler{}, nil, DefaultQueueConfig(), nil)

	err := w.Work(context.Background(), job(posted))
	assert.ErrorIs(t, err, down)
}

func TestTimeoutUsesConfig(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.JobTimeout = 42 * time.Second
	w := NewReplyWorker(newStore(), &stubHandler{}, nil, cfg, nil)
	assert.Equal(t, 42*time.Second, w.Timeout(job(posted)))
}

func TestArgs(t *testing.T) {
	assert.Equal(t, "chat_message_posted", posted.Kind())
	opts := posted.InsertOpts()
	assert.Equal(t, QueueBotReplies, opts.Queue)
	assert.True(t, opts.UniqueOpts.ByArgs)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{InitialInterval: time.Second, MaxInterval: 10 * time.Second, Multiplier: 2}

	assert.InDelta(t, float64(time.Second), float64(p.delay(1)), float64(110*time.Millisecond))
	assert.InDelta(t, float64(4*time.Second), float64(p.delay(3)), float64(410*time.Millisecond))
	assert.InDelta(t, float64(10*time.Second), float64(p.delay(10)), float64(1010*time.Millisecond))

	next := p.NextRetry(&rivertype.JobRow{Attempt: 2})
	assert.WithinDuration(t, time.Now().Add(2*time.Second), next, 300*time.Millisecond)
}

func TestRiverQueueConfig(t *testing.T) {
	queues := DefaultQueueConfig().RiverQueueConfig()
	require.Contains(t, queues, QueueBotReplies)
	assert.Equal(t, 10, queues[QueueBotReplies].MaxWorkers)
}
