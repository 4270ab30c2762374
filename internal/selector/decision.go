package selector

import "github.com/chatreply/internal/bots"

// Reason labels why a decision was made. Every decline has its own reason
// so operators can tell intentional silence from failure.
type Reason string

const (
	ReasonSenderIsBot      Reason = "sender_is_bot"
	ReasonEmptyMessage     Reason = "empty_message"
	ReasonDirectRoom       Reason = "direct_room"
	ReasonUnparsableTarget Reason = "unparsable_target"
	ReasonTargetNotFound   Reason = "target_not_found"
	ReasonAddressedToHuman Reason = "addressed_to_human"
	ReasonLowConfidence    Reason = "low_confidence"
	ReasonAddressed        Reason = "addressed"
	ReasonContentRouted    Reason = "content_routed"
	ReasonRandomFallback   Reason = "random_fallback"
	ReasonNoActorBinding   Reason = "no_actor_binding"
	ReasonLockExpired      Reason = "lock_expired"
)

// ReplyDecision is the single output of bot selection.
type ReplyDecision struct {
	ShouldReply bool         `json:"shouldReply"`
	BotActorID  int64        `json:"botActorId,omitempty"`
	BotID       int64        `json:"botId,omitempty"`
	BotName     string       `json:"botName,omitempty"`
	BotType     bots.BotType `json:"botType,omitempty"`
	Confidence  int          `json:"confidence"`
	Reason      Reason       `json:"reason"`
	Rationale   string       `json:"rationale"`
}

// NoReply builds a negative decision.
func NoReply(reason Reason, rationale string, confidence int) ReplyDecision {
	return ReplyDecision{
		ShouldReply: false,
		Confidence:  confidence,
		Reason:      reason,
		Rationale:   rationale,
	}
}

// Reply builds a positive decision for binding. A binding without an actor
// cannot be replied as and yields a no_actor_binding decline instead.
func Reply(binding bots.Binding, reason Reason, rationale string, confidence int) ReplyDecision {
	if binding.Actor == nil {
		return NoReply(ReasonNoActorBinding, "bot "+binding.Bot.Name+" has no actor in this organization", confidence)
	}
	name := binding.Actor.DisplayName
	if name == "" {
		name = binding.Bot.Name
	}
	return ReplyDecision{
		ShouldReply: true,
		BotActorID:  binding.Actor.ID,
		BotID:       binding.Bot.ID,
		BotName:     name,
		BotType:     binding.Bot.Type,
		Confidence:  confidence,
		Reason:      reason,
		Rationale:   rationale,
	}
}
