package bots

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("not found")

// Registry is the read side of the bot and actor catalogue. Lookups return
// ErrNotFound when nothing matches.
type Registry interface {
	BotByType(ctx context.Context, botType BotType) (Bot, error)
	BotByID(ctx context.Context, id int64) (Bot, error)
	ListBots(ctx context.Context) ([]Bot, error)
	// ActorByID returns the actor with the given id inside orgID only.
	ActorByID(ctx context.Context, orgID, actorID int64) (ChatActor, error)
	// BotActor returns the actor binding botID into orgID.
	BotActor(ctx context.Context, orgID, botID int64) (ChatActor, error)
}

type orgBot struct {
	orgID int64
	botID int64
}

// InMemoryRegistry is a threadsafe Registry for tests and local runs.
type InMemoryRegistry struct {
	mu        sync.RWMutex
	bots      map[int64]Bot
	actors    map[int64]ChatActor
	botActors map[orgBot]int64
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		bots:      make(map[int64]Bot),
		actors:    make(map[int64]ChatActor),
		botActors: make(map[orgBot]int64),
	}
}

// AddBot registers or replaces a bot definition.
func (r *InMemoryRegistry) AddBot(b Bot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bots[b.ID] = b
}

// AddActor registers or replaces an actor.
func (r *InMemoryRegistry) AddActor(a ChatActor) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.actors[a.ID]; ok && prev.BotID != nil {
		key := orgBot{orgID: prev.OrganizationID, botID: *prev.BotID}
		if r.botActors[key] == a.ID {
			delete(r.botActors, key)
		}
	}
	r.actors[a.ID] = cloneActor(a)
	if a.BotID != nil {
		r.botActors[orgBot{orgID: a.OrganizationID, botID: *a.BotID}] = a.ID
	}
	return nil
}

func (r *InMemoryRegistry) BotByType(ctx context.Context, botType BotType) (Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// Lowest id wins when several bots share a type.
	var (
		found Bot
		ok    bool
	)
	for _, b := range r.bots {
		if b.Type == botType && (!ok || b.ID < found.ID) {
			found, ok = b, true
		}
	}
	if !ok {
		return Bot{}, ErrNotFound
	}
	return found, nil
}

func (r *InMemoryRegistry) BotByID(ctx context.Context, id int64) (Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bots[id]
	if !ok {
		return Bot{}, ErrNotFound
	}
	return b, nil
}

func (r *InMemoryRegistry) ListBots(ctx context.Context) ([]Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Bot, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRegistry) ActorByID(ctx context.Context, orgID, actorID int64) (ChatActor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[actorID]
	if !ok || a.OrganizationID != orgID {
		return ChatActor{}, ErrNotFound
	}
	return cloneActor(a), nil
}

func (r *InMemoryRegistry) BotActor(ctx context.Context, orgID, botID int64) (ChatActor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.botActors[orgBot{orgID: orgID, botID: botID}]
	if !ok {
		return ChatActor{}, ErrNotFound
	}
	return cloneActor(r.actors[id]), nil
}

func cloneActor(a ChatActor) ChatActor {
	if a.UserID != nil {
		v := *a.UserID
		a.UserID = &v
	}
	if a.BotID != nil {
		v := *a.BotID
		a.BotID = &v
	}
	return a
}
