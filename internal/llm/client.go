// Package llm is the generative-text boundary of chatreply: a vendor-neutral
// Generator interface, concrete vendor backends and a resilience wrapper that
// owns retry, timeout, circuit-breaking and JSON-repair policy.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request is one generation call. Persona, when set, is prepended ahead of
// the system prompt.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Persona      string
}

// Generator is the generative-text service consumed by the classifiers and
// the reply writer.
type Generator interface {
	GenerateText(ctx context.Context, req Request) (string, error)
	// GenerateJSON runs a JSON-constrained generation and decodes the result
	// into target, which must be a pointer.
	GenerateJSON(ctx context.Context, req Request, target any) error
}

// Completion is the vendor-neutral input handed to a Backend.
type Completion struct {
	System   string
	User     string
	JSONMode bool
}

// Backend is a single vendor integration without any resilience policy.
type Backend interface {
	Complete(ctx context.Context, c Completion) (string, error)
	Name() string
}

var (
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrCircuitOpen   = errors.New("llm: circuit breaker open")
)

// UpstreamError is returned when a generation failed after all attempts.
type UpstreamError struct {
	Op       string
	Backend  string
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm %s via %s failed after %d attempt(s): %v", e.Op, e.Backend, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func composeSystemPrompt(persona, system string) string {
	persona = strings.TrimSpace(persona)
	if persona == "" {
		return system
	}
	if strings.TrimSpace(system) == "" {
		return persona
	}
	return persona + "\n\n" + system
}
