// Package bots holds the read-only bot and chat actor registry.
package bots

import "fmt"

// BotType discriminates bot personas.
type BotType string

const (
	// ChatBot is the warm, supportive persona used for emotionally charged input.
	ChatBot BotType = "ChatBot"
	// SystemBot is the terse, formal persona used for routine messages.
	SystemBot BotType = "SystemBot"
	// WildBot is never chosen by random selection.
	WildBot BotType = "WildBot"
)

func (t BotType) Valid() bool {
	switch t {
	case ChatBot, SystemBot, WildBot:
		return true
	}
	return false
}

// ParseBotType validates a stored or configured bot type.
func ParseBotType(s string) (BotType, error) {
	t := BotType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown bot type %q", s)
	}
	return t, nil
}

// Bot is the global, organization-independent definition of a bot.
type Bot struct {
	ID      int64   `json:"id"`
	Type    BotType `json:"type"`
	Name    string  `json:"name"`
	Persona string  `json:"persona"`
	IconURL string  `json:"iconUrl"`
}

// ChatActor is a participant handle scoped to one organization, backed by
// either a human user or a bot.
type ChatActor struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organizationId"`
	UserID         *int64 `json:"userId,omitempty"`
	BotID          *int64 `json:"botId,omitempty"`
	DisplayName    string `json:"displayName"`
}

func (a ChatActor) IsBot() bool { return a.BotID != nil }

// Validate checks that the actor has exactly one backing entity.
func (a ChatActor) Validate() error {
	switch {
	case a.UserID != nil && a.BotID != nil:
		return fmt.Errorf("actor %d is backed by both a user and a bot", a.ID)
	case a.UserID == nil && a.BotID == nil:
		return fmt.Errorf("actor %d has no backing user or bot", a.ID)
	}
	return nil
}

// Binding is a bot together with its actor in one organization. Actor is nil
// when the organization has not provisioned the bot.
type Binding struct {
	Bot   Bot
	Actor *ChatActor
}

// HasActor reports whether the bot is provisioned in the organization.
func (b Binding) HasActor() bool { return b.Actor != nil }

// RoomKind distinguishes one-to-one rooms from group rooms.
type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomGroup  RoomKind = "group"
)

// ChatRoom is a read-only view of a room and its participants.
type ChatRoom struct {
	ID             int64       `json:"id"`
	OrganizationID int64       `json:"organizationId"`
	Kind           RoomKind    `json:"kind"`
	Participants   []ChatActor `json:"participants"`
}

// BotParticipants returns the bot-backed participants.
func (r ChatRoom) BotParticipants() []ChatActor {
	var out []ChatActor
	for _, p := range r.Participants {
		if p.IsBot() {
			out = append(out, p)
		}
	}
	return out
}
