package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

const (
	ChatMessageCollectionName = "chatmessages"
	GameCollectionName        = "games"
	UserCollectionName        = "users"
)

var (
	ErrEmptyID        = errors.New("identifier is empty")
	ErrInvalidMessage = errors.New("invalid chat message")
	// Epoch 表示 "从未更新过" 的下界
	Epoch = time.Unix(0, 0).UTC()
)

// ChatMessage 聊天消息, _id 单调递增, 作为水位线使用.
// 除 _id 和 room 外的字段不做解释, 原样透传给客户端.
type ChatMessage struct {
	ID     primitive.ObjectID
	Room   string
	Fields bson.M
}

// MarshalJSON Room 为空时不输出 room 字段
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(m.Fields)+2)
	for key, value := range m.Fields {
		doc[key] = value
	}
	doc["_id"] = m.ID
	if m.Room != "" {
		doc["room"] = m.Room
	}
	return json.Marshal(doc)
}

// DecodeChatMessage 只要求 _id 是 ObjectID; room 不是字符串时视为无房间
func DecodeChatMessage(raw bson.Raw) (ChatMessage, error) {
	decoder, err := bson.NewDecoder(bsonrw.NewBSONDocumentReader(raw))
	if err != nil {
		return ChatMessage{}, err
	}
	decoder.DefaultDocumentM()

	var doc bson.M
	if err := decoder.Decode(&doc); err != nil {
		return ChatMessage{}, err
	}
	id, ok := doc["_id"].(primitive.ObjectID)
	if !ok {
		return ChatMessage{}, fmt.Errorf("%w: _id is %T, not an ObjectID", ErrInvalidMessage, doc["_id"])
	}
	room, _ := doc["room"].(string)
	delete(doc, "_id")
	delete(doc, "room")
	return ChatMessage{ID: id, Room: room, Fields: doc}, nil
}

type GamePlayer struct {
	ID primitive.ObjectID `bson:"_id" json:"_id"`
}

// GameSnapshot 对局的最小投影, 只保留比对和在线状态需要的字段
type GameSnapshot struct {
	ID        string       `bson:"_id" json:"_id"`
	UpdatedAt time.Time    `bson:"updatedAt" json:"updatedAt"`
	Players   []GamePlayer `bson:"players" json:"players"`
}

func (g GameSnapshot) PlayerIDs() []primitive.ObjectID {
	ids := make([]primitive.ObjectID, 0, len(g.Players))
	for _, player := range g.Players {
		ids = append(ids, player.ID)
	}
	return ids
}

type UserSecurity struct {
	LastActive time.Time `bson:"lastActive,omitempty"`
	LastOnline time.Time `bson:"lastOnline,omitempty"`
}

type UserActivity struct {
	ID       primitive.ObjectID `bson:"_id"`
	Security UserSecurity       `bson:"security"`
}

// ActivityUpdate LastOnline 为零值时不写入
type ActivityUpdate struct {
	LastActive time.Time
	LastOnline time.Time
}

// GameCondition 查询 updatedAt 晚于 Since 的对局
type GameCondition struct {
	GameID string
	Since  time.Time
}

type Store interface {
	// FindMessages 返回 _id 大于 afterID 的全部消息, 按 _id 升序
	FindMessages(ctx context.Context, afterID primitive.ObjectID) ([]ChatMessage, error)
	// FindRoomHistory 返回房间最近 limit 条消息, 按 _id 升序
	FindRoomHistory(ctx context.Context, room string, limit int64) ([]ChatMessage, error)
	FindGames(ctx context.Context, conditions []GameCondition) ([]GameSnapshot, error)
	FindUsersActivity(ctx context.Context, ids []primitive.ObjectID) ([]UserActivity, error)
	UpdateUserActivity(ctx context.Context, userID primitive.ObjectID, update ActivityUpdate) error
	FindActiveTurnGameIDs(ctx context.Context, userID primitive.ObjectID) ([]string, error)
}

// ObjectIDAfter 按字节序比较, ObjectID 的高位是秒级时间戳
func ObjectIDAfter(a, b primitive.ObjectID) bool {
	return bytes.Compare(a[:], b[:]) > 0
}

// CursorAt 构造一个时间点上的水位线, 该秒之后插入的消息都大于它
func CursorAt(t time.Time) primitive.ObjectID {
	return primitive.NewObjectIDFromTimestamp(t)
}
