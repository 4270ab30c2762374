package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chatreply/internal/analysis"
	"github.com/chatreply/internal/bots"
	"github.com/chatreply/internal/llm"
)

const replySystemPrompt = `You are %s, a participant in a team chat room.
Reply to the newest message in the conversation below. Keep it short and conversational,
write plain text without markdown headings, and do not prefix the reply with your name.`

// ReplyWriter generates reply text in a bot's persona.
type ReplyWriter struct {
	gen llm.Generator
}

func NewReplyWriter(gen llm.Generator) *ReplyWriter {
	return &ReplyWriter{gen: gen}
}

func (w *ReplyWriter) Write(ctx context.Context, bot bots.Bot, history []analysis.ConversationMessage, last analysis.ConversationMessage) (string, error) {
	var prompt strings.Builder
	if len(history) > 0 {
		prompt.WriteString("Conversation so far:\n")
		prompt.WriteString(analysis.FormatTranscript(history))
		prompt.WriteString("\n")
	}
	prompt.WriteString("Newest message:\n")
	prompt.WriteString(analysis.FormatTranscript([]analysis.ConversationMessage{last}))

	text, err := w.gen.GenerateText(ctx, llm.Request{
		SystemPrompt: fmt.Sprintf(replySystemPrompt, bot.Name),
		UserPrompt:   prompt.String(),
		Persona:      bot.Persona,
	})
	if err != nil {
		return "", fmt.Errorf("generate reply as %s: %w", bot.Name, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("generated reply is empty")
	}
	return text, nil
}
