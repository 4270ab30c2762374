// Package delivery turns a positive reply decision into a stored bot message
// and a push notification.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/chatreply/internal/analysis"
	"github.com/chatreply/internal/bots"
	"github.com/chatreply/internal/payload"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrAlreadyReplied is returned by InsertReply when a bot reply to the
	// triggering message already exists.
	ErrAlreadyReplied = errors.New("message already has a bot reply")
)

// StoredMessage is a chat message row joined with its sender.
type StoredMessage struct {
	ID            int64
	RoomID        int64
	SenderActorID int64
	SenderName    string
	SenderIsBot   bool
	Content       string
	CreatedAt     time.Time
}

// Conversation projects the message for analysis.
func (m StoredMessage) Conversation() analysis.ConversationMessage {
	return analysis.ConversationMessage{
		SenderID:   m.SenderActorID,
		SenderName: m.SenderName,
		IsBot:      m.SenderIsBot,
		Content:    m.Content,
	}
}

// ReplyRecord is a bot reply about to be stored.
type ReplyRecord struct {
	RoomID         int64
	ActorID        int64
	ReplyToMessage int64
	Content        string
}

// MessageStore reads rooms and messages and stores bot replies.
type MessageStore interface {
	LoadRoom(ctx context.Context, roomID int64) (bots.ChatRoom, error)
	Message(ctx context.Context, roomID, messageID int64) (StoredMessage, error)
	// History returns up to limit messages posted before beforeID, oldest
	// first.
	History(ctx context.Context, roomID, beforeID int64, limit int) ([]StoredMessage, error)
	HasReply(ctx context.Context, messageID int64) (bool, error)
	InsertReply(ctx context.Context, r ReplyRecord) (payload.Message, error)
}
