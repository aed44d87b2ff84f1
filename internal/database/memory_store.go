package database

import (
	"bytes"
	"context"
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"slices"
	"sync"
)

// GameRecord 内存中的对局, 比 GameSnapshot 多出轮次信息
type GameRecord struct {
	Snapshot       GameSnapshot
	Status         string
	CurrentPlayers []primitive.ObjectID
}

// MemoryStore 进程内 Store 实现, 用于测试和 memory:// 本地运行
type MemoryStore struct {
	mu       sync.RWMutex
	messages []ChatMessage
	games    map[string]GameRecord
	users    map[primitive.ObjectID]UserActivity
	err      error
	msgErr   error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games: make(map[string]GameRecord),
		users: make(map[primitive.ObjectID]UserActivity),
	}
}

// SetError 之后的所有操作都返回 err, 传 nil 恢复
func (ms *MemoryStore) SetError(err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.err = err
}

// SetMessagesError 只让 FindMessages 失败, 传 nil 恢复
func (ms *MemoryStore) SetMessagesError(err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.msgErr = err
}

// AddDocument 按数据库中的原始文档写入消息, 与 DBStore 使用同一解码逻辑
func (ms *MemoryStore) AddDocument(doc any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	message, err := DecodeChatMessage(raw)
	if err != nil {
		return err
	}
	ms.AddMessage(message)
	return nil
}

func (ms *MemoryStore) AddMessage(message ChatMessage) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	idx, _ := slices.BinarySearchFunc(ms.messages, message.ID, func(m ChatMessage, id primitive.ObjectID) int {
		return bytes.Compare(m.ID[:], id[:])
	})
	ms.messages = slices.Insert(ms.messages, idx, message)
}

func (ms *MemoryStore) PutGame(record GameRecord) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.games[record.Snapshot.ID] = record
}

func (ms *MemoryStore) PutUser(user UserActivity) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.users[user.ID] = user
}

func (ms *MemoryStore) User(id primitive.ObjectID) (UserActivity, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	user, ok := ms.users[id]
	return user, ok
}

func (ms *MemoryStore) FindMessages(_ context.Context, afterID primitive.ObjectID) ([]ChatMessage, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.err != nil {
		return nil, ms.err
	}
	if ms.msgErr != nil {
		return nil, ms.msgErr
	}
	result := make([]ChatMessage, 0)
	for _, message := range ms.messages {
		if ObjectIDAfter(message.ID, afterID) {
			result = append(result, message)
		}
	}
	return result, nil
}

func (ms *MemoryStore) FindRoomHistory(_ context.Context, room string, limit int64) ([]ChatMessage, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.err != nil {
		return nil, ms.err
	}
	if room == "" {
		return nil, ErrEmptyID
	}
	result := make([]ChatMessage, 0)
	for i := len(ms.messages) - 1; i >= 0 && int64(len(result)) < limit; i-- {
		if ms.messages[i].Room == room {
			result = append(result, ms.messages[i])
		}
	}
	slices.Reverse(result)
	return result, nil
}

func (ms *MemoryStore) FindGames(_ context.Context, conditions []GameCondition) ([]GameSnapshot, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.err != nil {
		return nil, ms.err
	}
	result := make([]GameSnapshot, 0)
	for _, condition := range conditions {
		record, ok := ms.games[condition.GameID]
		if !ok || !record.Snapshot.UpdatedAt.After(condition.Since) {
			continue
		}
		snapshot := record.Snapshot
		snapshot.Players = slices.Clone(record.Snapshot.Players)
		result = append(result, snapshot)
	}
	return result, nil
}

func (ms *MemoryStore) FindUsersActivity(_ context.Context, ids []primitive.ObjectID) ([]UserActivity, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.err != nil {
		return nil, ms.err
	}
	result := make([]UserActivity, 0, len(ids))
	for _, id := range ids {
		if user, ok := ms.users[id]; ok {
			result = append(result, user)
		}
	}
	return result, nil
}

// UpdateUserActivity 与 MongoDB updateOne 一致, 用户不存在时不做任何事
func (ms *MemoryStore) UpdateUserActivity(_ context.Context, userID primitive.ObjectID, update ActivityUpdate) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.err != nil {
		return ms.err
	}
	if userID.IsZero() {
		return ErrEmptyID
	}
	user, ok := ms.users[userID]
	if !ok {
		logger.DebugF("User %s does not exist, activity ignored", userID.Hex())
		return nil
	}
	user.Security.LastActive = update.LastActive
	if !update.LastOnline.IsZero() {
		user.Security.LastOnline = update.LastOnline
	}
	ms.users[userID] = user
	return nil
}

func (ms *MemoryStore) FindActiveTurnGameIDs(_ context.Context, userID primitive.ObjectID) ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if ms.err != nil {
		return nil, ms.err
	}
	if userID.IsZero() {
		return nil, ErrEmptyID
	}
	result := make([]string, 0)
	for id, record := range ms.games {
		if record.Status == "active" && slices.Contains(record.CurrentPlayers, userID) {
			result = append(result, id)
		}
	}
	slices.Sort(result)
	return result, nil
}
