package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chatreply/internal/llm"
)

// FlexibleID is an identifier that may arrive from the classifier as a JSON
// string, a JSON number or null. Use Value to read it in normalized form.
type FlexibleID struct {
	value string
	set   bool
}

// NewFlexibleID returns a set identifier holding s.
func NewFlexibleID(s string) FlexibleID {
	return ParseFlexibleID(s)
}

// ParseFlexibleID normalizes a raw identifier. Strings are trimmed, integral
// numbers and numeric strings are rendered in base 10, and nil, blank or
// other kinds are unset.
func ParseFlexibleID(raw any) FlexibleID {
	switch v := raw.(type) {
	case nil:
		return FlexibleID{}
	case string:
		v = strings.TrimSpace(v)
		if v == "" || strings.EqualFold(v, "null") {
			return FlexibleID{}
		}
		if looksNumeric(v) {
			return parseNumberLiteral(v)
		}
		return FlexibleID{value: v, set: true}
	case json.Number:
		return parseNumberLiteral(string(v))
	case int:
		return FlexibleID{value: strconv.Itoa(v), set: true}
	case int64:
		return FlexibleID{value: strconv.FormatInt(v, 10), set: true}
	case float64:
		return parseNumberLiteral(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return FlexibleID{}
	}
}

func parseNumberLiteral(lit string) FlexibleID {
	if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return FlexibleID{value: strconv.FormatInt(n, 10), set: true}
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil && f == float64(int64(f)) {
		return FlexibleID{value: strconv.FormatInt(int64(f), 10), set: true}
	}
	return FlexibleID{value: lit, set: true}
}

// looksNumeric reports whether s is a plain decimal literal such as "42",
// "-3" or "42.0". Names like "inf" or "0x2a" are left alone.
func looksNumeric(s string) bool {
	digits := 0
	for i, ch := range s {
		switch {
		case ch >= '0' && ch <= '9':
			digits++
		case (ch == '-' || ch == '+') && i == 0:
		case ch == '.' || ch == 'e' || ch == 'E':
		default:
			return false
		}
	}
	if digits == 0 {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// Value returns the normalized identifier and whether one is present.
func (f FlexibleID) Value() (string, bool) { return f.value, f.set }

// IsSet reports whether an identifier is present.
func (f FlexibleID) IsSet() bool { return f.set }

func (f FlexibleID) String() string {
	if !f.set {
		return "<none>"
	}
	return f.value
}

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*f = ParseFlexibleID(raw)
	return nil
}

func (f FlexibleID) MarshalJSON() ([]byte, error) {
	if !f.set {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// AddresseeResult is the classifier's best guess at who a message is for.
type AddresseeResult struct {
	TargetID   FlexibleID `json:"targetId"`
	TargetName string     `json:"targetName"`
	Confidence int        `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
}

func (a *AddresseeResult) UnmarshalJSON(data []byte) error {
	var wire struct {
		TargetID   FlexibleID `json:"targetId"`
		TargetName string     `json:"targetName"`
		Confidence score      `json:"confidence"`
		Reasoning  string     `json:"reasoning"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*a = AddresseeResult{
		TargetID:   wire.TargetID,
		TargetName: wire.TargetName,
		Confidence: int(wire.Confidence),
		Reasoning:  wire.Reasoning,
	}
	return nil
}

// AddresseeResolver determines which participant a message is directed at.
type AddresseeResolver interface {
	ResolveAddressee(ctx context.Context, history []ConversationMessage, last ConversationMessage) (AddresseeResult, error)
}

// LLMAddresseeResolver resolves addressees with a generative-text model.
type LLMAddresseeResolver struct {
	gen llm.Generator
}

func NewLLMAddresseeResolver(gen llm.Generator) *LLMAddresseeResolver {
	return &LLMAddresseeResolver{gen: gen}
}

func (r *LLMAddresseeResolver) ResolveAddressee(ctx context.Context, history []ConversationMessage, last ConversationMessage) (AddresseeResult, error) {
	var prompt strings.Builder
	prompt.WriteString("Conversation so far:\n")
	if len(history) == 0 {
		prompt.WriteString("(no earlier messages)\n")
	} else {
		prompt.WriteString(FormatTranscript(history))
	}
	prompt.WriteString("\nNewest message:\n")
	prompt.WriteString(FormatTranscript([]ConversationMessage{last}))

	var result AddresseeResult
	if err := r.gen.GenerateJSON(ctx, llm.Request{
		SystemPrompt: addresseeSystemPrompt,
		UserPrompt:   prompt.String(),
	}, &result); err != nil {
		return AddresseeResult{}, fmt.Errorf("addressee resolution: %w", err)
	}

	result.Confidence = clampScore(result.Confidence)
	result.TargetName = strings.TrimSpace(result.TargetName)

	zerolog.Ctx(ctx).Debug().
		Str("target_id", result.TargetID.String()).
		Str("target_name", result.TargetName).
		Int("confidence", result.Confidence).
		Msg("addressee resolved")
	return result, nil
}
