package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestSchemaEnforcesSingleReply(t *testing.T) {
	body, err := fs.ReadFile(Migrations(), "migrations/000001_chat_schema.up.sql")
	require.NoError(t, err)

	schema := string(body)
	assert.Contains(t, schema, "CREATE UNIQUE INDEX IF NOT EXISTS chat_messages_one_reply_idx")
	assert.Contains(t, schema, "WHERE reply_to_message_id IS NOT NULL")
	for _, table := range []string{"bots", "chat_actors", "chat_rooms", "chat_room_participants", "chat_messages", "room_reply_locks"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
