// Package selector decides whether a bot should answer a chat message and
// which one.
package selector

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chatreply/internal/analysis"
	"github.com/chatreply/internal/bots"
)

// Config tunes selection.
type Config struct {
	// MinAddresseeConfidence is the lowest resolver confidence at which an
	// explicitly addressed bot answers.
	MinAddresseeConfidence int `koanf:"min_addressee_confidence"`
}

func DefaultConfig() Config {
	return Config{MinAddresseeConfidence: 50}
}

// Selector combines the classifiers with registry lookups. It holds no state
// between calls.
type Selector struct {
	sentiment analysis.SentimentAnalyzer
	addressee analysis.AddresseeResolver
	registry  bots.Registry
	cfg       Config
	intn      func(n int) int
}

type Option func(*Selector)

// WithIntn replaces the random source used by GetRandomBot. intn must return
// a value in [0, n).
func WithIntn(intn func(n int) int) Option {
	return func(s *Selector) { s.intn = intn }
}

func New(sentiment analysis.SentimentAnalyzer, addressee analysis.AddresseeResolver, registry bots.Registry, cfg Config, opts ...Option) *Selector {
	s := &Selector{
		sentiment: sentiment,
		addressee: addressee,
		registry:  registry,
		cfg:       cfg,
		intn:      rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DetermineBotTypeByContent picks the ChatBot persona for messages that need
// attention and SystemBot for everything else.
func (s *Selector) DetermineBotTypeByContent(ctx context.Context, content string) (bots.BotType, error) {
	botType, _, err := s.classify(ctx, content)
	return botType, err
}

func (s *Selector) classify(ctx context.Context, content string) (bots.BotType, analysis.SentimentResult, error) {
	result, err := s.sentiment.AnalyzeSentiment(ctx, content)
	if err != nil {
		return "", analysis.SentimentResult{}, err
	}
	if result.NeedsAttention() {
		return bots.ChatBot, result, nil
	}
	return bots.SystemBot, result, nil
}

// GetBotByType returns the global bot of the given type, or nil.
func (s *Selector) GetBotByType(ctx context.Context, botType bots.BotType) (*bots.Bot, error) {
	b, err := s.registry.BotByType(ctx, botType)
	if errors.Is(err, bots.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBotWithActor returns the bot of the given type with its actor in orgID.
// The binding is returned without an actor when the organization has not
// provisioned the bot; callers must check HasActor.
func (s *Selector) GetBotWithActor(ctx context.Context, orgID int64, botType bots.BotType) (*bots.Binding, error) {
	b, err := s.GetBotByType(ctx, botType)
	if err != nil || b == nil {
		return nil, err
	}
	actor, err := s.botActor(ctx, orgID, b.ID)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		zerolog.Ctx(ctx).Warn().
			Int64("organization_id", orgID).
			Int64("bot_id", b.ID).
			Str("bot_type", string(botType)).
			Msg("bot has no actor in organization")
	}
	return &bots.Binding{Bot: *b, Actor: actor}, nil
}

// SelectBotByContent routes by sentiment and returns the matching bot.
func (s *Selector) SelectBotByContent(ctx context.Context, orgID int64, content string) (*bots.Binding, error) {
	botType, err := s.DetermineBotTypeByContent(ctx, content)
	if err != nil {
		return nil, err
	}
	return s.GetBotWithActor(ctx, orgID, botType)
}

// GetRandomBot picks uniformly among the non-WildBot bots that have an actor
// in orgID. Bots without an actor are skipped so the result can always be
// replied as. It returns nil when no candidate exists.
func (s *Selector) GetRandomBot(ctx context.Context, orgID int64) (*bots.Binding, error) {
	all, err := s.registry.ListBots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}

	logger := zerolog.Ctx(ctx)
	var candidates []bots.Binding
	for _, b := range all {
		if b.Type == bots.WildBot {
			continue
		}
		actor, err := s.botActor(ctx, orgID, b.ID)
		if err != nil {
			return nil, err
		}
		if actor == nil {
			logger.Debug().
				Int64("organization_id", orgID).
				Int64("bot_id", b.ID).
				Msg("skipping bot without actor in organization")
			continue
		}
		candidates = append(candidates, bots.Binding{Bot: b, Actor: actor})
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	chosen := candidates[s.intn(len(candidates))]
	return &chosen, nil
}

// SelectBotByConversation returns the bot the newest message is addressed
// to. When nobody in particular is addressed any bot may answer, so a random
// one is returned. An unusable target yields nil.
func (s *Selector) SelectBotByConversation(ctx context.Context, orgID int64, history []analysis.ConversationMessage, last analysis.ConversationMessage) (*bots.Binding, error) {
	res, err := s.addressee.ResolveAddressee(ctx, history, last)
	if err != nil {
		return nil, err
	}

	target, err := s.resolveTarget(ctx, orgID, res)
	if err != nil {
		return nil, err
	}
	switch target.reason {
	case "":
		return s.GetRandomBot(ctx, orgID)
	case ReasonAddressed:
		return target.binding, nil
	default:
		return nil, nil
	}
}

type targetOutcome struct {
	// reason is empty when no target was named.
	reason  Reason
	detail  string
	binding *bots.Binding
}

// resolveTarget turns an addressee result into an org-scoped bot binding.
func (s *Selector) resolveTarget(ctx context.Context, orgID int64, res analysis.AddresseeResult) (targetOutcome, error) {
	raw, ok := res.TargetID.Value()
	if !ok {
		return targetOutcome{}, nil
	}

	actorID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || actorID <= 0 {
		zerolog.Ctx(ctx).Warn().
			Str("target_id", raw).
			Str("target_name", res.TargetName).
			Int64("organization_id", orgID).
			Msg("addressee target id is not an actor id")
		return targetOutcome{reason: ReasonUnparsableTarget, detail: fmt.Sprintf("target %q is not an actor id", raw)}, nil
	}

	actor, err := s.registry.ActorByID(ctx, orgID, actorID)
	if errors.Is(err, bots.ErrNotFound) {
		return targetOutcome{reason: ReasonTargetNotFound, detail: fmt.Sprintf("actor %d not found in organization", actorID)}, nil
	}
	if err != nil {
		return targetOutcome{}, err
	}
	if !actor.IsBot() {
		return targetOutcome{reason: ReasonAddressedToHuman, detail: fmt.Sprintf("message is addressed to %s", actor.DisplayName)}, nil
	}

	b, err := s.registry.BotByID(ctx, *actor.BotID)
	if errors.Is(err, bots.ErrNotFound) {
		return targetOutcome{reason: ReasonTargetNotFound, detail: fmt.Sprintf("bot %d behind actor %d not found", *actor.BotID, actorID)}, nil
	}
	if err != nil {
		return targetOutcome{}, err
	}

	return targetOutcome{
		reason:  ReasonAddressed,
		detail:  strings.TrimSpace(res.Reasoning),
		binding: &bots.Binding{Bot: b, Actor: &actor},
	}, nil
}

func (s *Selector) botActor(ctx context.Context, orgID, botID int64) (*bots.ChatActor, error) {
	actor, err := s.registry.BotActor(ctx, orgID, botID)
	if errors.Is(err, bots.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &actor, nil
}
