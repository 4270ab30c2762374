// Package analysis classifies chat messages with a generative-text model:
// sentiment scoring and addressee resolution.
package analysis

import (
	"fmt"
	"strings"
)

// ConversationMessage is the analysis-ready projection of a stored chat
// message. SenderID is the organization-scoped actor id.
type ConversationMessage struct {
	SenderID   int64
	SenderName string
	IsBot      bool
	Content    string
}

// FormatTranscript renders messages one per line as
// `[actor:<id>] <name> (bot|human): <content>`.
func FormatTranscript(messages []ConversationMessage) string {
	var b strings.Builder
	for _, m := range messages {
		kind := "human"
		if m.IsBot {
			kind = "bot"
		}
		name := m.SenderName
		if name == "" {
			name = "unknown"
		}
		fmt.Fprintf(&b, "[actor:%d] %s (%s): %s\n", m.SenderID, name, kind, strings.TrimSpace(m.Content))
	}
	return b.String()
}
