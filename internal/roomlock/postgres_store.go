package roomlock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps locks in the room_reply_locks table. Each operation is
// a single statement, so the database provides the atomicity.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const acquireSQL = `
INSERT INTO room_reply_locks (lock_key, token, expires_at)
VALUES ($1, $2, now() + $3::bigint * interval '1 millisecond')
ON CONFLICT (lock_key) DO UPDATE
	SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
	WHERE room_reply_locks.expires_at <= now()
RETURNING token`

func (s *PostgresStore) SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	var stored string
	err := s.pool.QueryRow(ctx, acquireSQL, key, token, ttl.Milliseconds()).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == token, nil
}

func (s *PostgresStore) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM room_reply_locks WHERE lock_key = $1 AND token = $2`, key, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeExpired removes expired rows. Expired rows never block acquisition, so
// this only keeps the table small.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM room_reply_locks WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
