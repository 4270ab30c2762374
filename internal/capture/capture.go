// Package capture records generative-text exchanges as JSON fixtures so that
// classifier behaviour seen in production can be replayed in tests.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatreply/internal/llm"
)

// Exchange is one recorded backend call.
type Exchange struct {
	Backend   string        `json:"backend"`
	System    string        `json:"system"`
	User      string        `json:"user"`
	JSONMode  bool          `json:"json_mode"`
	Response  string        `json:"response,omitempty"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Timestamp time.Time     `json:"timestamp"`
}

// Recorder writes exchanges under dir/<session>/.
type Recorder struct {
	sessionDir string
	seq        atomic.Uint64
}

// NewRecorder creates the session directory under dir.
func NewRecorder(dir string) (*Recorder, error) {
	sessionDir := filepath.Join(dir, time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture directory %s: %w", sessionDir, err)
	}
	return &Recorder{sessionDir: sessionDir}, nil
}

// Dir is the session directory files are written to.
func (r *Recorder) Dir() string { return r.sessionDir }

// WriteJSON stores payload as <category>-<seq>.json. Failures are logged
// and otherwise ignored.
func (r *Recorder) WriteJSON(ctx context.Context, category string, payload any) {
	logger := zerolog.Ctx(ctx)

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		logger.Warn().Err(err).Str("category", category).Msg("capture: failed to marshal payload")
		return
	}

	path := filepath.Join(r.sessionDir, fmt.Sprintf("%s-%04d.json", category, r.seq.Add(1)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("capture: failed to write file")
		return
	}
	logger.Debug().Str("path", path).Msg("capture: wrote exchange")
}

// Backend records every call made through the wrapped backend.
type Backend struct {
	next     llm.Backend
	recorder *Recorder
}

// WrapBackend returns next unchanged when recorder is nil.
func WrapBackend(next llm.Backend, recorder *Recorder) llm.Backend {
	if recorder == nil {
		return next
	}
	return &Backend{next: next, recorder: recorder}
}

func (b *Backend) Name() string { return b.next.Name() }

func (b *Backend) Complete(ctx context.Context, c llm.Completion) (string, error) {
	start := time.Now()
	out, err := b.next.Complete(ctx, c)

	ex := Exchange{
		Backend:   b.next.Name(),
		System:    c.System,
		User:      c.User,
		JSONMode:  c.JSONMode,
		Response:  out,
		Elapsed:   time.Since(start),
		Timestamp: start.UTC(),
	}
	if err != nil {
		ex.Error = err.Error()
	}
	category := "text"
	if c.JSONMode {
		category = "json"
	}
	b.recorder.WriteJSON(ctx, category, ex)
	return out, err
}
