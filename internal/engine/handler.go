package engine

import (
	"context"
	"encoding/json"
	"github.com/life-stream-dev/gaia-sync-server/internal/connection"
	"github.com/life-stream-dev/gaia-sync-server/internal/database"
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

// HandleMessage 处理一条入站消息, 消息中出现的所有指令都会执行
func (e *Engine) HandleMessage(ctx context.Context, conn *connection.Connection, raw []byte) {
	unlock := conn.LockInbound()
	defer unlock()

	fields, err := decodeDirectives(raw)
	if err != nil {
		logger.WarnF("[%s] Discarding malformed message, details: %v", conn.ConnID, err)
		return
	}

	if value, ok := fields[keyRoom]; ok {
		e.subscribeRoom(ctx, conn, value)
	}
	if value, ok := fields[keyGame]; ok {
		e.subscribeGame(conn, value)
	}
	if _, ok := fields[keyFetchPlayerStatus]; ok {
		e.sendPlayerStatus(ctx, conn)
	}
	if value, ok := fields[keyJWT]; ok {
		e.authenticate(ctx, conn, value)
	}
	if value, ok := fields[keyOnline]; ok && truthy(value) {
		if user, ok := conn.User(); ok {
			e.RecordActivity(ctx, user, true)
		}
	}
}

func (e *Engine) subscribeRoom(ctx context.Context, conn *connection.Connection, value json.RawMessage) {
	var room string
	if err := json.Unmarshal(value, &room); err != nil {
		logger.WarnF("[%s] Ignoring room subscription with invalid room, details: %v", conn.ConnID, err)
		return
	}
	conn.SetRoom(room)
	if room == "" {
		return
	}
	logger.DebugF("[%s] Subscribed to room %s", conn.ConnID, room)

	history, err := e.store.FindRoomHistory(ctx, room, e.historyLimit)
	if err != nil {
		logger.ErrorF("[%s] Fail to load history of room %s, details: %v", conn.ConnID, room, err)
		return
	}

	e.push(conn, CommandMessageList, messageListPush{
		Command:  CommandMessageList,
		Room:     room,
		Messages: stripRoom(history),
	})
}

func (e *Engine) subscribeGame(conn *connection.Connection, value json.RawMessage) {
	var game string
	if err := json.Unmarshal(value, &game); err != nil {
		logger.WarnF("[%s] Ignoring game subscription with invalid game, details: %v", conn.ConnID, err)
		return
	}
	conn.SubscribeGame(game)
	logger.DebugF("[%s] Subscribed to game %s", conn.ConnID, game)
}

func (e *Engine) sendPlayerStatus(ctx context.Context, conn *connection.Connection) {
	game, _ := conn.Game()
	if game == "" {
		return
	}
	snapshot, ok := e.games.Get(game)
	if !ok {
		return
	}

	users, err := e.store.FindUsersActivity(ctx, snapshot.PlayerIDs())
	if err != nil {
		logger.ErrorF("[%s] Fail to load player activity of game %s, details: %v", conn.ConnID, game, err)
		return
	}

	e.push(conn, CommandPlayerStatus, playerStatusPush{
		Command: CommandPlayerStatus,
		Players: e.playerStatuses(snapshot, indexUsers(users), e.now()),
	})
}

func (e *Engine) authenticate(ctx context.Context, conn *connection.Connection, value json.RawMessage) {
	var token string
	if err := json.Unmarshal(value, &token); err != nil {
		logger.DebugF("[%s] Malformed credential, clearing user", conn.ConnID)
		conn.ClearUser()
		return
	}

	identity, err := e.verifier.Verify(token)
	if err != nil {
		logger.DebugF("[%s] Authentication failed, details: %v", conn.ConnID, err)
		conn.ClearUser()
		return
	}

	conn.SetUser(identity.UserID)
	logger.InfoF("[%s] Authenticated as user %s", conn.ConnID, identity.UserID.Hex())
	e.RecordActivity(ctx, identity.UserID, true)
	e.sendActiveGames(ctx, conn)
}

// sendActiveGames 推送轮到该用户行动的对局
func (e *Engine) sendActiveGames(ctx context.Context, conn *connection.Connection) {
	user, ok := conn.User()
	if !ok {
		return
	}
	games, err := e.store.FindActiveTurnGameIDs(ctx, user)
	if err != nil {
		logger.ErrorF("[%s] Fail to load active turn games of user %s, details: %v", conn.ConnID, user.Hex(), err)
		return
	}
	if games == nil {
		games = []string{}
	}
	e.push(conn, CommandCurrentTurn, currentTurnPush{Command: CommandCurrentTurn, Games: games})
}

func indexUsers(users []database.UserActivity) map[primitive.ObjectID]database.UserActivity {
	byID := make(map[primitive.ObjectID]database.UserActivity, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}
	return byID
}

// playerStatuses 按快照中的玩家顺序输出, 查不到的玩家直接略过
func (e *Engine) playerStatuses(snapshot database.GameSnapshot, users map[primitive.ObjectID]database.UserActivity, now time.Time) []PlayerStatus {
	statuses := make([]PlayerStatus, 0, len(snapshot.Players))
	for _, player := range snapshot.Players {
		user, ok := users[player.ID]
		if !ok {
			continue
		}
		statuses = append(statuses, PlayerStatus{
			ID:     user.ID,
			Status: e.presence.Status(user.Security.LastActive, user.Security.LastOnline, now),
		})
	}
	return statuses
}
