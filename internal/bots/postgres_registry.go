package bots

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRegistry reads bots and actors from the bots and chat_actors tables.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

const botColumns = `id, bot_type, name, persona, COALESCE(icon_url, '')`

const actorColumns = `id, organization_id, user_id, bot_id, display_name`

func (r *PostgresRegistry) BotByType(ctx context.Context, botType BotType) (Bot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE bot_type = $1 ORDER BY id LIMIT 1`, string(botType))
	b, err := scanBot(row)
	if err != nil {
		return Bot{}, fmt.Errorf("bot by type %s: %w", botType, err)
	}
	return b, nil
}

func (r *PostgresRegistry) BotByID(ctx context.Context, id int64) (Bot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	b, err := scanBot(row)
	if err != nil {
		return Bot{}, fmt.Errorf("bot %d: %w", id, err)
	}
	return b, nil
}

func (r *PostgresRegistry) ListBots(ctx context.Context) ([]Bot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+botColumns+` FROM bots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	var out []Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("list bots: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	return out, nil
}

func (r *PostgresRegistry) ActorByID(ctx context.Context, orgID, actorID int64) (ChatActor, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+actorColumns+` FROM chat_actors WHERE id = $1 AND organization_id = $2`,
		actorID, orgID)
	a, err := ScanActor(row)
	if err != nil {
		return ChatActor{}, fmt.Errorf("actor %d in org %d: %w", actorID, orgID, err)
	}
	return a, nil
}

func (r *PostgresRegistry) BotActor(ctx context.Context, orgID, botID int64) (ChatActor, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+actorColumns+` FROM chat_actors WHERE bot_id = $1 AND organization_id = $2 ORDER BY id LIMIT 1`,
		botID, orgID)
	a, err := ScanActor(row)
	if err != nil {
		return ChatActor{}, fmt.Errorf("actor for bot %d in org %d: %w", botID, orgID, err)
	}
	return a, nil
}

func scanBot(row pgx.Row) (Bot, error) {
	var (
		b       Bot
		botType string
	)
	if err := row.Scan(&b.ID, &botType, &b.Name, &b.Persona, &b.IconURL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bot{}, ErrNotFound
		}
		return Bot{}, err
	}
	t, err := ParseBotType(botType)
	if err != nil {
		return Bot{}, err
	}
	b.Type = t
	return b, nil
}

// ScanActor scans the actor column set used across packages:
// id, organization_id, user_id, bot_id, display_name.
func ScanActor(row pgx.Row) (ChatActor, error) {
	var a ChatActor
	if err := row.Scan(&a.ID, &a.OrganizationID, &a.UserID, &a.BotID, &a.DisplayName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChatActor{}, ErrNotFound
		}
		return ChatActor{}, err
	}
	return a, nil
}
