package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chatreply/internal/llm"
)

// AttentionThreshold is the score at or above which a sentiment signal is
// considered present.
const AttentionThreshold = 50

// SentimentResult holds four independent 0-100 scores plus a confidence.
type SentimentResult struct {
	Troubled       int    `json:"troubled"`
	Negative       int    `json:"negative"`
	Positive       int    `json:"positive"`
	Urgency        int    `json:"urgency"`
	Confidence     int    `json:"confidence"`
	Summary        string `json:"summary"`
	PrimaryEmotion string `json:"primaryEmotion"`
}

func (r *SentimentResult) UnmarshalJSON(data []byte) error {
	var wire struct {
		Troubled       score  `json:"troubled"`
		Negative       score  `json:"negative"`
		Positive       score  `json:"positive"`
		Urgency        score  `json:"urgency"`
		Confidence     score  `json:"confidence"`
		Summary        string `json:"summary"`
		PrimaryEmotion string `json:"primaryEmotion"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = SentimentResult{
		Troubled:       int(wire.Troubled),
		Negative:       int(wire.Negative),
		Positive:       int(wire.Positive),
		Urgency:        int(wire.Urgency),
		Confidence:     int(wire.Confidence),
		Summary:        wire.Summary,
		PrimaryEmotion: wire.PrimaryEmotion,
	}
	return nil
}

func (r SentimentResult) IsTroubled() bool { return r.Troubled >= AttentionThreshold }
func (r SentimentResult) IsNegative() bool { return r.Negative >= AttentionThreshold }
func (r SentimentResult) IsPositive() bool { return r.Positive >= AttentionThreshold }
func (r SentimentResult) IsUrgent() bool   { return r.Urgency >= AttentionThreshold }

// NeedsAttention reports whether the message is troubled, negative or urgent.
// Positive sentiment never counts.
func (r SentimentResult) NeedsAttention() bool {
	return r.IsTroubled() || r.IsNegative() || r.IsUrgent()
}

func (r SentimentResult) clamped() SentimentResult {
	r.Troubled = clampScore(r.Troubled)
	r.Negative = clampScore(r.Negative)
	r.Positive = clampScore(r.Positive)
	r.Urgency = clampScore(r.Urgency)
	r.Confidence = clampScore(r.Confidence)
	r.Summary = strings.TrimSpace(r.Summary)
	r.PrimaryEmotion = strings.ToLower(strings.TrimSpace(r.PrimaryEmotion))
	return r
}

func clampScore(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// SentimentAnalyzer scores a single message.
type SentimentAnalyzer interface {
	AnalyzeSentiment(ctx context.Context, content string) (SentimentResult, error)
}

// LLMSentimentAnalyzer asks a generative-text model for sentiment scores.
type LLMSentimentAnalyzer struct {
	gen llm.Generator
}

func NewLLMSentimentAnalyzer(gen llm.Generator) *LLMSentimentAnalyzer {
	return &LLMSentimentAnalyzer{gen: gen}
}

// AnalyzeSentiment returns the model's scores clamped to 0-100. Upstream
// failures are returned unchanged in kind so the job runner can retry.
func (a *LLMSentimentAnalyzer) AnalyzeSentiment(ctx context.Context, content string) (SentimentResult, error) {
	var result SentimentResult
	err := a.gen.GenerateJSON(ctx, llm.Request{
		SystemPrompt: sentimentSystemPrompt,
		UserPrompt:   "Message:\n" + content,
	}, &result)
	if err != nil {
		return SentimentResult{}, fmt.Errorf("sentiment analysis: %w", err)
	}

	result = result.clamped()
	zerolog.Ctx(ctx).Debug().
		Int("troubled", result.Troubled).
		Int("negative", result.Negative).
		Int("positive", result.Positive).
		Int("urgency", result.Urgency).
		Int("confidence", result.Confidence).
		Str("emotion", result.PrimaryEmotion).
		Bool("needs_attention", result.NeedsAttention()).
		Msg("sentiment analyzed")
	return result, nil
}
