package engine

import (
	"context"
	"errors"
	"fmt"
	"github.com/life-stream-dev/gaia-sync-server/internal/connection"
	"github.com/life-stream-dev/gaia-sync-server/internal/database"
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"sort"
	"time"
)

// PollOnce 执行一轮轮询: 先广播新消息, 再广播对局变化.
// 两步相互独立, 一步的存储错误只跳过该步.
func (e *Engine) PollOnce(ctx context.Context) error {
	startTime := time.Now()
	err := errors.Join(e.broadcastMessages(ctx), e.broadcastGames(ctx))
	e.metrics.PollFinished(time.Since(startTime).Seconds(), err)
	return err
}

func (e *Engine) pollLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := e.PollOnce(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorF("Poll iteration failed, details: %v", err)
		}
		timer.Reset(e.pollDelay)
	}
}

func (e *Engine) broadcastMessages(ctx context.Context) error {
	cursor := e.Cursor()
	messages, err := e.store.FindMessages(ctx, cursor)
	if err != nil {
		return fmt.Errorf("find messages after %s: %w", cursor.Hex(), err)
	}
	if len(messages) == 0 {
		return nil
	}

	perRoom := make(map[string][]database.ChatMessage)
	latest := cursor
	for _, message := range messages {
		if database.ObjectIDAfter(message.ID, latest) {
			latest = message.ID
		}
		room := message.Room
		message.Room = ""
		perRoom[room] = append(perRoom[room], message)
	}

	for _, conn := range e.conns.List() {
		room := conn.Room()
		if room == "" {
			continue
		}
		batch, ok := perRoom[room]
		if !ok {
			continue
		}
		e.push(conn, CommandNewMessages, messageListPush{
			Command:  CommandNewMessages,
			Room:     room,
			Messages: batch,
		})
	}

	e.advanceCursor(latest)
	logger.DebugF("Broadcast %d new messages in %d rooms, cursor %s", len(messages), len(perRoom), latest.Hex())
	return nil
}

// gameConditions 每个对局取所有订阅者中最早的推送时间; 任一订阅者从未推送过则用 Epoch
func gameConditions(conns []*connection.Connection) []database.GameCondition {
	bounds := make(map[string]time.Time)
	for _, conn := range conns {
		game, update := conn.Game()
		if game == "" {
			continue
		}
		if update.IsZero() {
			update = database.Epoch
		}
		current, seen := bounds[game]
		if !seen || update.Before(current) {
			bounds[game] = update
		}
	}

	conditions := make([]database.GameCondition, 0, len(bounds))
	for game, since := range bounds {
		conditions = append(conditions, database.GameCondition{GameID: game, Since: since})
	}
	sort.Slice(conditions, func(i, j int) bool { return conditions[i].GameID < conditions[j].GameID })
	return conditions
}

type gamePush struct {
	conn     *connection.Connection
	snapshot database.GameSnapshot
}

func (e *Engine) broadcastGames(ctx context.Context) error {
	conns := e.conns.List()
	conditions := gameConditions(conns)
	if len(conditions) == 0 {
		return nil
	}

	games, err := e.store.FindGames(ctx, conditions)
	if err != nil {
		return fmt.Errorf("find changed games: %w", err)
	}
	for _, game := range games {
		e.games.Set(game)
	}
	if len(games) == 0 {
		return nil
	}

	pending := make([]gamePush, 0)
	playerSet := make(map[primitive.ObjectID]struct{})
	for _, conn := range conns {
		game, update := conn.Game()
		if game == "" {
			continue
		}
		snapshot, ok := e.games.Get(game)
		if !ok || snapshot.UpdatedAt.IsZero() {
			continue
		}
		if !update.IsZero() && !snapshot.UpdatedAt.After(update) {
			continue
		}
		pending = append(pending, gamePush{conn: conn, snapshot: snapshot})
		for _, id := range snapshot.PlayerIDs() {
			playerSet[id] = struct{}{}
		}
	}
	if len(pending) == 0 {
		return nil
	}

	playerIDs := make([]primitive.ObjectID, 0, len(playerSet))
	for id := range playerSet {
		playerIDs = append(playerIDs, id)
	}
	users, err := e.store.FindUsersActivity(ctx, playerIDs)
	if err != nil {
		return fmt.Errorf("find player activity: %w", err)
	}
	byID := indexUsers(users)
	now := e.now()

	for _, p := range pending {
		// 期间连接可能切换了对局或已被推送过
		if !p.conn.MarkGameUpdate(p.snapshot.ID, p.snapshot.UpdatedAt) {
			continue
		}
		e.push(p.conn, CommandLastUpdate, lastUpdatePush{
			Command:    CommandLastUpdate,
			LastUpdate: p.snapshot.UpdatedAt,
			Game:       p.snapshot.ID,
		})
		e.push(p.conn, CommandPlayerStatus, playerStatusPush{
			Command: CommandPlayerStatus,
			Players: e.playerStatuses(p.snapshot, byID, now),
		})
	}
	return nil
}
