package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/life-stream-dev/gaia-sync-server/internal/connection"
	"github.com/life-stream-dev/gaia-sync-server/internal/database"
	"github.com/life-stream-dev/gaia-sync-server/internal/metrics"
)

func TestBroadcastNewMessagesPerRoom(t *testing.T) {
	f := newFixture(t)
	inRoom, inRoomTransport := f.open()
	inRoom.SetRoom("r1")
	other, otherTransport := f.open()
	other.SetRoom("r2")
	_, idleTransport := f.open()

	f.store.AddMessage(database.ChatMessage{ID: idAt(5), Room: "r1"})
	f.store.AddMessage(database.ChatMessage{ID: idAt(6), Room: "r1"})

	require.NoError(t, f.engine.PollOnce(context.Background()))

	pushes := inRoomTransport.pushes(t)
	require.Len(t, pushes, 1)
	assert.Equal(t, CommandNewMessages, pushes[0]["command"])
	assert.Equal(t, "r1", pushes[0]["room"])
	assert.Equal(t, []any{
		map[string]any{"_id": idAt(5).Hex()},
		map[string]any{"_id": idAt(6).Hex()},
	}, pushes[0]["messages"])

	assert.Empty(t, otherTransport.pushes(t))
	assert.Empty(t, idleTransport.pushes(t))
	assert.Equal(t, idAt(6), f.engine.Cursor())
}

func TestBroadcastMessagesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	conn, transport := f.open()
	conn.SetRoom("r1")
	f.store.AddMessage(database.ChatMessage{ID: idAt(5), Room: "r1"})

	require.NoError(t, f.engine.PollOnce(context.Background()))
	require.NoError(t, f.engine.PollOnce(context.Background()))
	assert.Len(t, transport.pushes(t), 1)
	assert.Equal(t, idAt(5), f.engine.Cursor())

	f.store.AddMessage(database.ChatMessage{ID: idAt(7), Room: "r1"})
	require.NoError(t, f.engine.PollOnce(context.Background()))
	pushes := transport.pushes(t)
	require.Len(t, pushes, 2)
	assert.Len(t, pushes[1]["messages"], 1)
}

func TestBroadcastAdvancesCursorWithoutSubscribers(t *testing.T) {
	f := newFixture(t)
	f.store.AddMessage(database.ChatMessage{ID: idAt(3), Room: "nobody"})

	require.NoError(t, f.engine.PollOnce(context.Background()))
	assert.Equal(t, idAt(3), f.engine.Cursor())
}

func TestBroadcastGameUpdate(t *testing.T) {
	f := newFixture(t)
	player := primitive.NewObjectID()
	f.store.PutUser(database.UserActivity{ID: player, Security: database.UserSecurity{LastActive: base, LastOnline: base}})
	f.store.PutGame(database.GameRecord{Snapshot: database.GameSnapshot{
		ID:        "g1",
		UpdatedAt: base,
		Players:   []database.GamePlayer{{ID: player}},
	}})
	conn, transport := f.open()
	conn.SubscribeGame("g1")

	require.NoError(t, f.engine.PollOnce(context.Background()))

	pushes := transport.pushes(t)
	require.Len(t, pushes, 2)
	assert.Equal(t, []string{CommandLastUpdate, CommandPlayerStatus}, commands(pushes))
	assert.Equal(t, "g1", pushes[0]["game"])
	assert.Equal(t, base.Format(time.RFC3339Nano), pushes[0]["lastUpdate"])
	assert.Equal(t, []any{map[string]any{"_id": player.Hex(), "status": "online"}}, pushes[1]["players"])

	_, update := conn.Game()
	assert.Equal(t, base, update)
	cached, ok := f.engine.Cache().Get("g1")
	require.True(t, ok)
	assert.Equal(t, base, cached.UpdatedAt)

	// 未变化时不再推送
	require.NoError(t, f.engine.PollOnce(context.Background()))
	assert.Len(t, transport.pushes(t), 2)

	f.store.PutGame(database.GameRecord{Snapshot: database.GameSnapshot{
		ID:        "g1",
		UpdatedAt: base.Add(time.Second),
		Players:   []database.GamePlayer{{ID: player}},
	}})
	require.NoError(t, f.engine.PollOnce(context.Background()))
	assert.Len(t, transport.pushes(t), 4)
}

func TestBroadcastGameReachesNewSubscriber(t *testing.T) {
	f := newFixture(t)
	f.store.PutGame(database.GameRecord{Snapshot: database.GameSnapshot{ID: "g1", UpdatedAt: base}})
	early, earlyTransport := f.open()
	early.SubscribeGame("g1")
	require.NoError(t, f.engine.PollOnce(context.Background()))
	require.Len(t, earlyTransport.pushes(t), 2)

	late, lateTransport := f.open()
	late.SubscribeGame("g1")
	require.NoError(t, f.engine.PollOnce(context.Background()))

	assert.Equal(t, []string{CommandLastUpdate, CommandPlayerStatus}, commands(lateTransport.pushes(t)))
	assert.Len(t, earlyTransport.pushes(t), 2, "already up to date")
}

func TestBroadcastOmitsUnresolvedPlayers(t *testing.T) {
	f := newFixture(t)
	known, missing := primitive.NewObjectID(), primitive.NewObjectID()
	f.store.PutUser(database.UserActivity{ID: known})
	f.store.PutGame(database.GameRecord{Snapshot: database.GameSnapshot{
		ID:        "g1",
		UpdatedAt: base,
		Players:   []database.GamePlayer{{ID: missing}, {ID: known}},
	}})
	conn, transport := f.open()
	conn.SubscribeGame("g1")

	require.NoError(t, f.engine.PollOnce(context.Background()))
	pushes := transport.pushes(t)
	require.Len(t, pushes, 2)
	assert.Equal(t, []any{map[string]any{"_id": known.Hex(), "status": "offline"}}, pushes[1]["players"])
}

func TestGameConditions(t *testing.T) {
	newConn := func(game string, update time.Time) *connection.Connection {
		conn := connection.NewConnection(game, newMockTransport())
		if game != "" {
			conn.SubscribeGame(game)
			if !update.IsZero() {
				conn.MarkGameUpdate(game, update)
			}
		}
		return conn
	}

	conditions := gameConditions([]*connection.Connection{
		newConn("g2", base),
		newConn("g2", base.Add(-time.Minute)),
		newConn("g1", base),
		newConn("g1", time.Time{}),
		newConn("g1", base.Add(time.Minute)),
		newConn("", time.Time{}),
	})

	assert.Equal(t, []database.GameCondition{
		{GameID: "g1", Since: database.Epoch},
		{GameID: "g2", Since: base.Add(-time.Minute)},
	}, conditions)
	assert.Empty(t, gameConditions(nil))
}

func TestPollOnceStoreError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	f := newFixture(t, WithMetrics(m))
	conn, transport := f.open()
	conn.SetRoom("r1")
	conn.SubscribeGame("g1")
	f.store.AddMessage(database.ChatMessage{ID: idAt(5), Room: "r1"})
	f.store.SetError(errors.New("store unavailable"))

	assert.Error(t, f.engine.PollOnce(context.Background()))
	assert.Empty(t, transport.pushes(t))
	assert.Equal(t, database.CursorAt(base), f.engine.Cursor())

	f.store.SetError(nil)
	require.NoError(t, f.engine.PollOnce(context.Background()))
	assert.Len(t, transport.pushes(t), 1)
	expected := `
# HELP gaia_sync_poll_errors_total Poll-and-broadcast iterations aborted by a store error.
# TYPE gaia_sync_poll_errors_total counter
gaia_sync_poll_errors_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "gaia_sync_poll_errors_total"))
}

func TestBroadcastForwardsWholeDocument(t *testing.T) {
	f := newFixture(t)
	conn, transport := f.open()
	conn.SetRoom("r1")
	author := primitive.NewObjectID()
	require.NoError(t, f.store.AddDocument(bson.D{
		{"_id", idAt(5)},
		{"room", "r1"},
		{"type", "text"},
		{"author", bson.D{{"_id", author}, {"name", "ann"}}},
		{"reactions", bson.A{"+1"}},
		{"createdAt", base},
	}))

	require.NoError(t, f.engine.PollOnce(context.Background()))

	pushes := transport.pushes(t)
	require.Len(t, pushes, 1)
	messages := pushes[0]["messages"].([]any)
	require.Len(t, messages, 1)
	message := messages[0].(map[string]any)
	assert.Equal(t, idAt(5).Hex(), message["_id"])
	assert.NotContains(t, message, "room")
	assert.Equal(t, "text", message["type"])
	assert.Equal(t, map[string]any{"_id": author.Hex(), "name": "ann"}, message["author"])
	assert.Equal(t, []any{"+1"}, message["reactions"])
	assert.Contains(t, message, "createdAt")
}

func TestGameBroadcastSurvivesMessageFailure(t *testing.T) {
	f := newFixture(t)
	f.store.PutGame(database.GameRecord{Snapshot: database.GameSnapshot{ID: "g1", UpdatedAt: base}})
	conn, transport := f.open()
	conn.SetRoom("r1")
	conn.SubscribeGame("g1")
	f.store.AddMessage(database.ChatMessage{ID: idAt(5), Room: "r1"})
	f.store.SetMessagesError(errors.New("chatmessages unavailable"))

	assert.Error(t, f.engine.PollOnce(context.Background()))
	assert.Equal(t, []string{CommandLastUpdate, CommandPlayerStatus}, commands(transport.pushes(t)))
	assert.Equal(t, database.CursorAt(base), f.engine.Cursor())

	f.store.SetMessagesError(nil)
	require.NoError(t, f.engine.PollOnce(context.Background()))
	assert.Equal(t, []string{CommandLastUpdate, CommandPlayerStatus, CommandNewMessages}, commands(transport.pushes(t)))
}
