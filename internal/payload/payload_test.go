package payload

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatreply/internal/bots"
)

func TestBuild(t *testing.T) {
	botID := int64(1)
	room := bots.ChatRoom{ID: 5, OrganizationID: 10, Kind: bots.RoomGroup}
	actor := bots.ChatActor{ID: 42, OrganizationID: 10, BotID: &botID, DisplayName: "Sunny"}
	binding := bots.Binding{
		Bot:   bots.Bot{ID: 1, Type: bots.ChatBot, Name: "Sunny", IconURL: "https://cdn.example.com/sunny.png"},
		Actor: &actor,
	}
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	got := Build(room, Message{ID: 900, Content: "Hang in there!", CreatedAt: created}, binding)

	want := Payload{
		Event:          EventMessageCreated,
		OrganizationID: 10,
		RoomID:         5,
		RoomKind:       bots.RoomGroup,
		Message:        Message{ID: 900, Content: "Hang in there!", CreatedAt: created},
		Sender: Sender{
			ActorID:     42,
			BotID:       1,
			BotType:     bots.ChatBot,
			DisplayName: "Sunny",
			IconURL:     "https://cdn.example.com/sunny.png",
			IsBot:       true,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildJSONShape(t *testing.T) {
	botID := int64(2)
	actor := bots.ChatActor{ID: 43, OrganizationID: 10, BotID: &botID}
	p := Build(
		bots.ChatRoom{ID: 5, OrganizationID: 10, Kind: bots.RoomDirect},
		Message{ID: 1, Content: "Noted."},
		bots.Binding{Bot: bots.Bot{ID: 2, Type: bots.SystemBot, Name: "Ledger"}, Actor: &actor},
	)

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "chat.message.created", decoded["event"])
	assert.Equal(t, "direct", decoded["roomKind"])

	sender := decoded["sender"].(map[string]any)
	assert.Equal(t, "Ledger", sender["displayName"])
	assert.Equal(t, true, sender["isBot"])
	assert.NotContains(t, sender, "iconUrl")
}

func TestBuildPanicsWithoutActor(t *testing.T) {
	assert.Panics(t, func() {
		Build(bots.ChatRoom{ID: 5, OrganizationID: 10}, Message{Content: "x"}, bots.Binding{Bot: bots.Bot{ID: 1}})
	})
}

func TestBuildPanicsOnForeignActor(t *testing.T) {
	botID := int64(1)
	actor := bots.ChatActor{ID: 42, OrganizationID: 99, BotID: &botID}
	assert.Panics(t, func() {
		Build(bots.ChatRoom{ID: 5, OrganizationID: 10}, Message{Content: "x"}, bots.Binding{Bot: bots.Bot{ID: 1}, Actor: &actor})
	})
}
