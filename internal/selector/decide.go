package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chatreply/internal/analysis"
	"github.com/chatreply/internal/bots"
)

// Decide produces the reply decision for the newest message in room. The
// returned binding is non-nil exactly when the decision is to reply.
// Classifier and registry failures are returned as errors, never downgraded
// to a decline.
func (s *Selector) Decide(ctx context.Context, orgID int64, room bots.ChatRoom, history []analysis.ConversationMessage, last analysis.ConversationMessage) (ReplyDecision, *bots.Binding, error) {
	decision, binding, err := s.decide(ctx, orgID, room, history, last)
	if err != nil {
		return ReplyDecision{}, nil, err
	}

	zerolog.Ctx(ctx).Info().
		Bool("should_reply", decision.ShouldReply).
		Int64("organization_id", orgID).
		Int64("room_id", room.ID).
		Str("reason", string(decision.Reason)).
		Int("confidence", decision.Confidence).
		Int64("bot_actor_id", decision.BotActorID).
		Str("rationale", decision.Rationale).
		Msg("reply decision")
	return decision, binding, nil
}

func (s *Selector) decide(ctx context.Context, orgID int64, room bots.ChatRoom, history []analysis.ConversationMessage, last analysis.ConversationMessage) (ReplyDecision, *bots.Binding, error) {
	if last.IsBot {
		return NoReply(ReasonSenderIsBot, "message was posted by a bot", 100), nil, nil
	}
	if strings.TrimSpace(last.Content) == "" {
		return NoReply(ReasonEmptyMessage, "message has no text", 100), nil, nil
	}

	if room.Kind == bots.RoomDirect {
		binding, err := s.directRoomBot(ctx, orgID, room)
		if err != nil {
			return ReplyDecision{}, nil, err
		}
		if binding != nil {
			return replyWith(*binding, ReasonDirectRoom, "direct conversation with a single bot", 100)
		}
	}

	res, err := s.addressee.ResolveAddressee(ctx, history, last)
	if err != nil {
		return ReplyDecision{}, nil, err
	}
	target, err := s.resolveTarget(ctx, orgID, res)
	if err != nil {
		return ReplyDecision{}, nil, err
	}

	switch target.reason {
	case "":
		// Nobody in particular was addressed.
	case ReasonAddressed:
		if res.Confidence < s.cfg.MinAddresseeConfidence {
			return NoReply(ReasonLowConfidence,
				fmt.Sprintf("addressed to %s with confidence %d below %d", target.binding.Bot.Name, res.Confidence, s.cfg.MinAddresseeConfidence),
				res.Confidence), nil, nil
		}
		return replyWith(*target.binding, ReasonAddressed, target.detail, res.Confidence)
	default:
		return NoReply(target.reason, target.detail, res.Confidence), nil, nil
	}

	botType, sentiment, err := s.classify(ctx, last.Content)
	if err != nil {
		return ReplyDecision{}, nil, err
	}
	rationale := fmt.Sprintf("%s persona for %s message", botType, describeSentiment(sentiment))

	binding, err := s.GetBotWithActor(ctx, orgID, botType)
	if err != nil {
		return ReplyDecision{}, nil, err
	}
	if binding != nil && binding.HasActor() {
		return replyWith(*binding, ReasonContentRouted, rationale, sentiment.Confidence)
	}

	random, err := s.GetRandomBot(ctx, orgID)
	if err != nil {
		return ReplyDecision{}, nil, err
	}
	if random != nil {
		return replyWith(*random, ReasonRandomFallback,
			fmt.Sprintf("no %s provisioned, picked %s", botType, random.Bot.Name), sentiment.Confidence)
	}
	return NoReply(ReasonNoActorBinding, "no bot is provisioned in this organization", sentiment.Confidence), nil, nil
}

// directRoomBot returns the only bot in a direct room, or nil when the room
// does not have exactly one bot participant.
func (s *Selector) directRoomBot(ctx context.Context, orgID int64, room bots.ChatRoom) (*bots.Binding, error) {
	participants := room.BotParticipants()
	if len(participants) != 1 {
		return nil, nil
	}
	actor := participants[0]
	if actor.OrganizationID != orgID {
		return nil, nil
	}
	b, err := s.registry.BotByID(ctx, *actor.BotID)
	if errors.Is(err, bots.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bots.Binding{Bot: b, Actor: &actor}, nil
}

func replyWith(binding bots.Binding, reason Reason, rationale string, confidence int) (ReplyDecision, *bots.Binding, error) {
	return Reply(binding, reason, rationale, confidence), &binding, nil
}

func describeSentiment(r analysis.SentimentResult) string {
	var signals []string
	if r.IsTroubled() {
		signals = append(signals, "troubled")
	}
	if r.IsNegative() {
		signals = append(signals, "negative")
	}
	if r.IsUrgent() {
		signals = append(signals, "urgent")
	}
	if len(signals) == 0 {
		return "routine"
	}
	return strings.Join(signals, "/")
}
