package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chatreply/internal/payload"
)

// Notifier hands a reply payload to the push fan-out.
type Notifier interface {
	Publish(ctx context.Context, p payload.Payload) error
}

// RoomChannel is the pub/sub channel for a room.
func RoomChannel(roomID int64) string {
	return fmt.Sprintf("chat:room:%d", roomID)
}

// RedisNotifier publishes payloads on per-room Redis channels.
type RedisNotifier struct {
	client redis.UniversalClient
}

func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, p payload.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := n.client.Publish(ctx, RoomChannel(p.RoomID), body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", RoomChannel(p.RoomID), err)
	}
	return nil
}

// LogNotifier stands in when no push fan-out is configured. Clients then see
// replies on their next fetch.
type LogNotifier struct{}

func (LogNotifier) Publish(ctx context.Context, p payload.Payload) error {
	zerolog.Ctx(ctx).Debug().
		Int64("room_id", p.RoomID).
		Int64("reply_id", p.Message.ID).
		Msg("push disabled, reply not published")
	return nil
}
