package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatreply/internal/bots"
	"github.com/chatreply/internal/payload"
)

// PostgresMessageStore reads chat_rooms, chat_room_participants and
// chat_messages.
type PostgresMessageStore struct {
	pool *pgxpool.Pool
}

func NewPostgresMessageStore(pool *pgxpool.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

func (s *PostgresMessageStore) LoadRoom(ctx context.Context, roomID int64) (bots.ChatRoom, error) {
	var (
		room bots.ChatRoom
		kind string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, kind FROM chat_rooms WHERE id = $1`, roomID,
	).Scan(&room.ID, &room.OrganizationID, &kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return bots.ChatRoom{}, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return bots.ChatRoom{}, fmt.Errorf("load room %d: %w", roomID, err)
	}
	room.Kind = bots.RoomKind(kind)

	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.organization_id, a.user_id, a.bot_id, a.display_name
		FROM chat_room_participants p
		JOIN chat_actors a ON a.id = p.actor_id
		WHERE p.room_id = $1
		ORDER BY a.id`, roomID)
	if err != nil {
		return bots.ChatRoom{}, fmt.Errorf("load participants of room %d: %w", roomID, err)
	}
	defer rows.Close()

	for rows.Next() {
		actor, err := bots.ScanActor(rows)
		if err != nil {
			return bots.ChatRoom{}, fmt.Errorf("scan participant: %w", err)
		}
		room.Participants = append(room.Participants, actor)
	}
	if err := rows.Err(); err != nil {
		return bots.ChatRoom{}, fmt.Errorf("load participants of room %d: %w", roomID, err)
	}
	return room, nil
}

const messageColumns = `m.id, m.room_id, m.sender_actor_id, a.display_name, a.bot_id IS NOT NULL, m.content, m.created_at`

func (s *PostgresMessageStore) Message(ctx context.Context, roomID, messageID int64) (StoredMessage, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM chat_messages m
		JOIN chat_actors a ON a.id = m.sender_actor_id
		WHERE m.id = $1 AND m.room_id = $2`, messageID, roomID)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredMessage{}, fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return StoredMessage{}, fmt.Errorf("load message %d: %w", messageID, err)
	}
	return m, nil
}

func (s *PostgresMessageStore) History(ctx context.Context, roomID, beforeID int64, limit int) ([]StoredMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+`
			FROM chat_messages m
			JOIN chat_actors a ON a.id = m.sender_actor_id
			WHERE m.room_id = $1 AND m.id < $2
			ORDER BY m.id DESC
			LIMIT $3
		) recent
		ORDER BY id ASC`, roomID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history of room %d: %w", roomID, err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresMessageStore) HasReply(ctx context.Context, messageID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_messages WHERE reply_to_message_id = $1)`, messageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check reply to %d: %w", messageID, err)
	}
	return exists, nil
}

// InsertReply stores the reply. The unique index on reply_to_message_id makes
// a second reply to the same message fail with ErrAlreadyReplied.
func (s *PostgresMessageStore) InsertReply(ctx context.Context, r ReplyRecord) (payload.Message, error) {
	var msg payload.Message
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (room_id, sender_actor_id, content, reply_to_message_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (reply_to_message_id) WHERE reply_to_message_id IS NOT NULL DO NOTHING
		RETURNING id, content, created_at`,
		r.RoomID, r.ActorID, r.Content, r.ReplyToMessage,
	).Scan(&msg.ID, &msg.Content, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return payload.Message{}, ErrAlreadyReplied
	}
	if err != nil {
		return payload.Message{}, fmt.Errorf("insert reply to %d: %w", r.ReplyToMessage, err)
	}
	return msg, nil
}

func scanMessage(row pgx.Row) (StoredMessage, error) {
	var m StoredMessage
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderActorID, &m.SenderName, &m.SenderIsBot, &m.Content, &m.CreatedAt)
	return m, err
}
