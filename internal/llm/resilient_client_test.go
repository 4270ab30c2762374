package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatreply/internal/retry"
)

// scriptedBackend replays responses and errors in order.
type scriptedBackend struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	delay     time.Duration
	calls     []Completion
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Complete(ctx context.Context, c Completion) (string, error) {
	b.mu.Lock()
	i := len(b.calls)
	b.calls = append(b.calls, c)
	b.mu.Unlock()

	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if i < len(b.errs) && b.errs[i] != nil {
		return "", b.errs[i]
	}
	if i < len(b.responses) {
		return b.responses[i], nil
	}
	return "", nil
}

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type recordingSink struct {
	retries  int
	repairs  []JSONRepairStats
	finished []error
}

func (s *recordingSink) GenerationRetried(string, string, int) { s.retries++ }
func (s *recordingSink) GenerationRepaired(_ string, stats JSONRepairStats) {
	s.repairs = append(s.repairs, stats)
}
func (s *recordingSink) GenerationFinished(_, _ string, _ int, _ time.Duration, err error) {
	s.finished = append(s.finished, err)
}

func fastConfig() ResilienceConfig {
	cfg := DefaultResilienceConfig()
	cfg.Retry = retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	cfg.AttemptTimeout = time.Second
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func TestGenerateTextPrependsPersona(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"  hello there \n"}}
	client := NewResilientClient(backend, fastConfig(), nil)

	text, err := client.GenerateText(context.Background(), Request{
		SystemPrompt: "Answer briefly.",
		UserPrompt:   "hi",
		Persona:      "You are Sunny, a cheerful helper.",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)

	require.Len(t, backend.calls, 1)
	assert.Equal(t, "You are Sunny, a cheerful helper.\n\nAnswer briefly.", backend.calls[0].System)
	assert.Equal(t, "hi", backend.calls[0].User)
	assert.False(t, backend.calls[0].JSONMode)
}

func TestGenerateTextWithoutPersona(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"ok"}}
	client := NewResilientClient(backend, fastConfig(), nil)

	_, err := client.GenerateText(context.Background(), Request{SystemPrompt: "sys", UserPrompt: "u"})
	require.NoError(t, err)
	assert.Equal(t, "sys", backend.calls[0].System)
}

func TestGenerateTextRetriesTransientFailures(t *testing.T) {
	backend := &scriptedBackend{
		errs:      []error{errors.New("503 service unavailable"), nil},
		responses: []string{"", "second time lucky"},
	}
	sink := &recordingSink{}
	client := NewResilientClient(backend, fastConfig(), sink)

	text, err := client.GenerateText(context.Background(), Request{UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", text)
	assert.Equal(t, 2, backend.callCount())
	assert.Equal(t, 1, sink.retries)
	require.Len(t, sink.finished, 1)
	assert.NoError(t, sink.finished[0])
}

func TestGenerateTextPropagatesFailure(t *testing.T) {
	backend := &scriptedBackend{errs: []error{
		errors.New("502 bad gateway"),
		errors.New("502 bad gateway"),
		errors.New("502 bad gateway"),
	}}
	client := NewResilientClient(backend, fastConfig(), nil)

	_, err := client.GenerateText(context.Background(), Request{UserPrompt: "x"})
	require.Error(t, err)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 3, upstream.Attempts)
	assert.Equal(t, "generate_text", upstream.Op)
	assert.Equal(t, 3, backend.callCount())
}

func TestGenerateTextDoesNotRetryPermanentErrors(t *testing.T) {
	backend := &scriptedBackend{errs: []error{errors.New("invalid api key")}}
	client := NewResilientClient(backend, fastConfig(), nil)

	_, err := client.GenerateText(context.Background(), Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, backend.callCount())
}

func TestGenerateTextRetriesEmptyResponses(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"   ", "filled"}}
	client := NewResilientClient(backend, fastConfig(), nil)

	text, err := client.GenerateText(context.Background(), Request{UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "filled", text)
}

func TestAttemptTimeoutBoundsEachCall(t *testing.T) {
	backend := &scriptedBackend{delay: 200 * time.Millisecond, responses: []string{"late", "late", "late"}}
	cfg := fastConfig()
	cfg.AttemptTimeout = 10 * time.Millisecond
	client := NewResilientClient(backend, cfg, nil)

	start := time.Now()
	_, err := client.GenerateText(context.Background(), Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, 3, backend.callCount())
}

func TestCallerCancellationStopsGeneration(t *testing.T) {
	backend := &scriptedBackend{delay: time.Second, responses: []string{"late"}}
	client := NewResilientClient(backend, fastConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.GenerateText(ctx, Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, backend.callCount())
}

func TestGenerateJSONDecodesResult(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"```json\n{\"score\": 42, \"label\": \"calm\"}\n```"}}
	client := NewResilientClient(backend, fastConfig(), nil)

	var out struct {
		Score int    `json:"score"`
		Label string `json:"label"`
	}
	require.NoError(t, client.GenerateJSON(context.Background(), Request{UserPrompt: "x"}, &out))
	assert.Equal(t, 42, out.Score)
	assert.Equal(t, "calm", out.Label)
	assert.True(t, backend.calls[0].JSONMode)
}

func TestGenerateJSONRepairsAndReports(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`{"score": 7, "tags": ["a", "b",]`}}
	sink := &recordingSink{}
	client := NewResilientClient(backend, fastConfig(), sink)

	var out struct {
		Score int      `json:"score"`
		Tags  []string `json:"tags"`
	}
	require.NoError(t, client.GenerateJSON(context.Background(), Request{UserPrompt: "x"}, &out))
	assert.Equal(t, 7, out.Score)
	assert.Equal(t, []string{"a", "b"}, out.Tags)
	require.Len(t, sink.repairs, 1)
	assert.True(t, sink.repairs[0].WasRepaired)
}

func TestGenerateJSONRetriesUndecodableOutput(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"I cannot answer that.", `{"score": 1}`}}
	client := NewResilientClient(backend, fastConfig(), nil)

	var out struct {
		Score int `json:"score"`
	}
	require.NoError(t, client.GenerateJSON(context.Background(), Request{UserPrompt: "x"}, &out))
	assert.Equal(t, 1, out.Score)
	assert.Equal(t, 2, backend.callCount())
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	failing := errors.New("503 service unavailable")
	backend := &scriptedBackend{errs: []error{failing, failing, failing, failing}}
	cfg := fastConfig()
	cfg.Retry.MaxRetries = 0
	cfg.BreakerFailures = 2
	cfg.BreakerOpenTimeout = time.Minute
	client := NewResilientClient(backend, cfg, nil)

	for i := 0; i < 2; i++ {
		_, err := client.GenerateText(context.Background(), Request{UserPrompt: "x"})
		require.Error(t, err)
	}

	_, err := client.GenerateText(context.Background(), Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, backend.callCount())
}
