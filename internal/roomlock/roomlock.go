// Package roomlock serializes reply handling per chat room across worker
// processes with a TTL-bounded, token-guarded lock.
package roomlock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidTTL is returned when a non-positive TTL is requested.
var ErrInvalidTTL = errors.New("lock ttl must be positive")

// Store is a key-value backend offering the two atomic operations the lock
// needs.
type Store interface {
	// SetIfAbsent stores token under key with the given expiry if the key
	// is absent (or expired) and reports whether it did.
	SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if it still holds token, in a single
	// atomic step, and reports whether it did.
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
}

// Key returns the store key for a room.
func Key(roomID int64) string {
	return fmt.Sprintf("lock:room:%d", roomID)
}

// Handle is proof of a successful acquisition. It is only authoritative
// until its TTL elapses.
type Handle struct {
	RoomID     int64
	key        string
	token      string
	acquiredAt time.Time
	ttl        time.Duration
	released   atomic.Bool
}

// Token returns the random value stored under the room key.
func (h *Handle) Token() string { return h.token }

// Deadline is the instant the store will expire the key.
func (h *Handle) Deadline() time.Time { return h.acquiredAt.Add(h.ttl) }

// Expired reports whether the handle has outlived its TTL at now. Work done
// after expiry is not exclusive.
func (h *Handle) Expired(now time.Time) bool { return !now.Before(h.Deadline()) }

// Remaining returns how much of the TTL is left at now, never negative.
func (h *Handle) Remaining(now time.Time) time.Duration {
	if d := h.Deadline().Sub(now); d > 0 {
		return d
	}
	return 0
}

// Locker acquires and releases room locks on a Store.
type Locker struct {
	store    Store
	now      func() time.Time
	newToken func() string
}

// NewLocker returns a Locker backed by store.
func NewLocker(store Store) *Locker {
	return &Locker{
		store:    store,
		now:      time.Now,
		newToken: func() string { return uuid.NewString() },
	}
}

// Now returns the locker's clock reading, for checking handle expiry.
func (l *Locker) Now() time.Time { return l.now() }

// TryAcquire attempts to take the lock for roomID without waiting. It returns
// (nil, nil) when another holder has the room.
func (l *Locker) TryAcquire(ctx context.Context, roomID int64, ttl time.Duration) (*Handle, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	key := Key(roomID)
	token := l.newToken()
	acquiredAt := l.now()

	ok, err := l.store.SetIfAbsent(ctx, key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		zerolog.Ctx(ctx).Debug().Int64("room_id", roomID).Msg("room lock held elsewhere")
		return nil, nil
	}

	zerolog.Ctx(ctx).Debug().
		Int64("room_id", roomID).
		Dur("ttl", ttl).
		Msg("room lock acquired")
	return &Handle{RoomID: roomID, key: key, token: token, acquiredAt: acquiredAt, ttl: ttl}, nil
}

// Release gives the lock back if h still owns it. Releasing a handle twice,
// or after its key expired and was taken by someone else, is a no-op.
func (l *Locker) Release(ctx context.Context, h *Handle) error {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return nil
	}

	deleted, err := l.store.CompareAndDelete(ctx, h.key, h.token)
	if err != nil {
		// Allow a later retry with the same handle.
		h.released.Store(false)
		return fmt.Errorf("release %s: %w", h.key, err)
	}

	logger := zerolog.Ctx(ctx)
	if !deleted {
		logger.Warn().
			Int64("room_id", h.RoomID).
			Time("deadline", h.Deadline()).
			Msg("room lock was no longer ours at release")
		return nil
	}
	logger.Debug().Int64("room_id", h.RoomID).Msg("room lock released")
	return nil
}
