package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatreply/internal/analysis"
	"github.com/chatreply/internal/bots"
	"github.com/chatreply/internal/engine"
	"github.com/chatreply/internal/llm"
	"github.com/chatreply/internal/payload"
	"github.com/chatreply/internal/selector"
)

type fakeGenerator struct {
	text     string
	err      error
	requests []llm.Request
}

func (g *fakeGenerator) GenerateText(_ context.Context, req llm.Request) (string, error) {
	g.requests = append(g.requests, req)
	return g.text, g.err
}

func (g *fakeGenerator) GenerateJSON(context.Context, llm.Request, any) error {
	return errors.New("not used")
}

type memoryStore struct {
	mu      sync.Mutex
	replies map[int64]ReplyRecord
	nextID  int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{replies: map[int64]ReplyRecord{}, nextID: 1000}
}

func (s *memoryStore) LoadRoom(context.Context, int64) (bots.ChatRoom, error) {
	return bots.ChatRoom{}, ErrNotFound
}

func (s *memoryStore) Message(context.Context, int64, int64) (StoredMessage, error) {
	return StoredMessage{}, ErrNotFound
}

func (s *memoryStore) History(context.Context, int64, int64, int) ([]StoredMessage, error) {
	return nil, nil
}

func (s *memoryStore) HasReply(_ context.Context, messageID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.replies[messageID]
	return ok, nil
}

func (s *memoryStore) InsertReply(_ context.Context, r ReplyRecord) (payload.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.replies[r.ReplyToMessage]; ok {
		return payload.Message{}, ErrAlreadyReplied
	}
	s.replies[r.ReplyToMessage] = r
	s.nextID++
	return payload.Message{ID: s.nextID, Content: r.Content, CreatedAt: time.Now()}, nil
}

func sunnyBinding() bots.Binding {
	botID := int64(1)
	return bots.Binding{
		Bot:   bots.Bot{ID: 1, Type: bots.ChatBot, Name: "Sunny", Persona: "You are warm and supportive."},
		Actor: &bots.ChatActor{ID: 42, OrganizationID: 10, BotID: &botID, DisplayName: "Sunny"},
	}
}

func incoming() engine.IncomingMessage {
	return engine.IncomingMessage{
		OrganizationID: 10,
		Room:           bots.ChatRoom{ID: 5, OrganizationID: 10, Kind: bots.RoomGroup},
		MessageID:      77,
		History: []analysis.ConversationMessage{
			{SenderID: 8, SenderName: "Lee", Content: "Deploy went out at 9."},
		},
		Message: analysis.ConversationMessage{SenderID: 7, SenderName: "Dana", Content: "I'm overwhelmed today"},
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestReplyWriterUsesPersona(t *testing.T) {
	gen := &fakeGenerator{text: "  You've got this.  "}
	w := NewReplyWriter(gen)

	in := incoming()
	text, err := w.Write(context.Background(), sunnyBinding().Bot, in.History, in.Message)
	require.NoError(t, err)
	assert.Equal(t, "You've got this.", text)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Equal(t, "You are warm and supportive.", req.Persona)
	assert.Contains(t, req.SystemPrompt, "You are Sunny")
	assert.Contains(t, req.UserPrompt, "Deploy went out at 9.")
	assert.Contains(t, req.UserPrompt, "I'm overwhelmed today")
}

func TestReplyWriterRejectsEmptyText(t *testing.T) {
	w := NewReplyWriter(&fakeGenerator{text: "   "})
	_, err := w.Write(context.Background(), bots.Bot{Name: "Sunny"}, nil, analysis.ConversationMessage{Content: "hi"})
	assert.Error(t, err)
}

func TestRedisNotifierPublishesToRoomChannel(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)

	sub := client.Subscribe(ctx, RoomChannel(5))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := payload.Build(bots.ChatRoom{ID: 5, OrganizationID: 10}, payload.Message{ID: 1, Content: "hello"}, sunnyBinding())
	require.NoError(t, NewRedisNotifier(client).Publish(ctx, p))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "chat:room:5", msg.Channel)
		var got payload.Payload
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, payload.EventMessageCreated, got.Event)
		assert.Equal(t, int64(42), got.Sender.ActorID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestDelivererStoresAndPublishes(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	sub := client.Subscribe(ctx, RoomChannel(5))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	store := newMemoryStore()
	d := NewDeliverer(NewReplyWriter(&fakeGenerator{text: "Take a breath, I'm here."}), store, NewRedisNotifier(client))

	binding := sunnyBinding()
	decision := selector.Reply(binding, selector.ReasonContentRouted, "troubled", 90)
	require.NoError(t, d.Deliver(ctx, incoming(), decision, binding))

	stored, err := store.HasReply(ctx, 77)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, int64(42), store.replies[77].ActorID)

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, "Take a breath")
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestDelivererSkipsSecondReply(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	store := newMemoryStore()
	gen := &fakeGenerator{text: "first"}
	d := NewDeliverer(NewReplyWriter(gen), store, NewRedisNotifier(client))

	binding := sunnyBinding()
	decision := selector.Reply(binding, selector.ReasonAddressed, "", 90)
	require.NoError(t, d.Deliver(ctx, incoming(), decision, binding))
	require.NoError(t, d.Deliver(ctx, incoming(), decision, binding))
	assert.Len(t, store.replies, 1)
	assert.Len(t, gen.requests, 1, "an answered message must not reach the generator again")
}

// racingStore reports no reply on the first HasReply call, as when a
// concurrent job stored its reply just after the check.
type racingStore struct {
	*memoryStore
	checks int
}

func (s *racingStore) HasReply(ctx context.Context, messageID int64) (bool, error) {
	s.checks++
	if s.checks == 1 {
		return false, nil
	}
	return s.memoryStore.HasReply(ctx, messageID)
}

func TestDelivererDiscardsReplyWhenInsertLosesRace(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{memoryStore: newMemoryStore()}
	store.replies[77] = ReplyRecord{RoomID: 5, ActorID: 99, ReplyToMessage: 77, Content: "earlier"}
	gen := &fakeGenerator{text: "late"}
	notifier := &failingNotifier{}
	d := NewDeliverer(NewReplyWriter(gen), store, notifier)

	binding := sunnyBinding()
	require.NoError(t, d.Deliver(ctx, incoming(), selector.Reply(binding, selector.ReasonAddressed, "", 90), binding))
	assert.Equal(t, "earlier", store.replies[77].Content)
	assert.Equal(t, 0, notifier.calls)

	gen.requests = nil
	require.NoError(t, d.Deliver(ctx, incoming(), selector.Reply(binding, selector.ReasonAddressed, "", 90), binding))
	assert.Empty(t, gen.requests)
}

type failingNotifier struct{ calls int }

func (n *failingNotifier) Publish(context.Context, payload.Payload) error {
	n.calls++
	return errors.New("push down")
}

func TestDelivererToleratesPublishFailure(t *testing.T) {
	notifier := &failingNotifier{}
	d := NewDeliverer(NewReplyWriter(&fakeGenerator{text: "ok"}), newMemoryStore(), notifier)

	binding := sunnyBinding()
	err := d.Deliver(context.Background(), incoming(), selector.Reply(binding, selector.ReasonAddressed, "", 90), binding)
	assert.NoError(t, err)
	assert.Equal(t, 1, notifier.calls)
}

func TestDelivererPropagatesGenerationFailure(t *testing.T) {
	upstream := errors.New("circuit open")
	store := newMemoryStore()
	d := NewDeliverer(NewReplyWriter(&fakeGenerator{err: upstream}), store, &failingNotifier{})

	binding := sunnyBinding()
	err := d.Deliver(context.Background(), incoming(), selector.Reply(binding, selector.ReasonAddressed, "", 90), binding)
	assert.ErrorIs(t, err, upstream)
	assert.Empty(t, store.replies)
}

func TestStoredMessageConversation(t *testing.T) {
	m := StoredMessage{ID: 1, SenderActorID: 42, SenderName: "Sunny", SenderIsBot: true, Content: "hi"}
	assert.Equal(t, analysis.ConversationMessage{SenderID: 42, SenderName: "Sunny", IsBot: true, Content: "hi"}, m.Conversation())
}

func TestDelivererWithoutPushStillStores(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	d := NewDeliverer(NewReplyWriter(&fakeGenerator{text: "Noted."}), store, LogNotifier{})

	binding := sunnyBinding()
	require.NoError(t, d.Deliver(ctx, incoming(), selector.Reply(binding, selector.ReasonAddressed, "", 80), binding))

	stored, err := store.HasReply(ctx, 77)
	require.NoError(t, err)
	assert.True(t, stored)
}
