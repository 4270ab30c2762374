// Package payload builds the push notification sent when a bot posts a reply.
package payload

import (
	"fmt"
	"time"

	"github.com/chatreply/internal/bots"
)

// EventMessageCreated is the event name consumed by the push fan-out.
const EventMessageCreated = "chat.message.created"

// Message is a stored chat message as seen by the payload builder.
type Message struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type Sender struct {
	ActorID     int64        `json:"actorId"`
	BotID       int64        `json:"botId"`
	BotType     bots.BotType `json:"botType"`
	DisplayName string       `json:"displayName"`
	IconURL     string       `json:"iconUrl,omitempty"`
	IsBot       bool         `json:"isBot"`
}

// Payload is the wire shape pushed to connected clients.
type Payload struct {
	Event          string        `json:"event"`
	OrganizationID int64         `json:"organizationId"`
	RoomID         int64         `json:"roomId"`
	RoomKind       bots.RoomKind `json:"roomKind"`
	Message        Message       `json:"message"`
	Sender         Sender        `json:"sender"`
}

// Build assembles the payload for a bot reply. binding must carry the bot's
// actor in the room's organization; Build panics otherwise, since selection
// never yields a reply without one.
func Build(room bots.ChatRoom, message Message, binding bots.Binding) Payload {
	if binding.Actor == nil {
		panic(fmt.Sprintf("payload: bot %d has no actor in organization %d", binding.Bot.ID, room.OrganizationID))
	}
	if binding.Actor.OrganizationID != room.OrganizationID {
		panic(fmt.Sprintf("payload: actor %d belongs to organization %d, room %d to %d",
			binding.Actor.ID, binding.Actor.OrganizationID, room.ID, room.OrganizationID))
	}

	name := binding.Actor.DisplayName
	if name == "" {
		name = binding.Bot.Name
	}

	return Payload{
		Event:          EventMessageCreated,
		OrganizationID: room.OrganizationID,
		RoomID:         room.ID,
		RoomKind:       room.Kind,
		Message:        message,
		Sender: Sender{
			ActorID:     binding.Actor.ID,
			BotID:       binding.Bot.ID,
			BotType:     binding.Bot.Type,
			DisplayName: name,
			IconURL:     binding.Bot.IconURL,
			IsBot:       true,
		},
	}
}
