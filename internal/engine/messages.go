package engine

import (
	"encoding/json"
	"github.com/life-stream-dev/gaia-sync-server/internal/database"
	"github.com/life-stream-dev/gaia-sync-server/internal/presence"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

const (
	CommandMessageList  = "messageList"
	CommandNewMessages  = "newMessages"
	CommandPlayerStatus = "game:playerStatus"
	CommandLastUpdate   = "game:lastUpdate"
	CommandCurrentTurn  = "games:currentTurn"
)

// 入站指令键
const (
	keyRoom              = "room"
	keyGame              = "game"
	keyFetchPlayerStatus = "fetchPlayerStatus"
	keyJWT               = "jwt"
	keyOnline            = "online"
)

type PlayerStatus struct {
	ID     primitive.ObjectID `json:"_id"`
	Status presence.Status    `json:"status"`
}

type messageListPush struct {
	Command  string                 `json:"command"`
	Room     string                 `json:"room"`
	Messages []database.ChatMessage `json:"messages"`
}

type playerStatusPush struct {
	Command string         `json:"command"`
	Players []PlayerStatus `json:"players"`
}

type lastUpdatePush struct {
	Command    string    `json:"command"`
	LastUpdate time.Time `json:"lastUpdate"`
	Game       string    `json:"game"`
}

type currentTurnPush struct {
	Command string   `json:"command"`
	Games   []string `json:"games"`
}

// decodeDirectives 只解析顶层键, 未知键忽略; 非对象载荷视为格式错误
func decodeDirectives(raw []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// stripRoom 客户端已知道自己的房间
func stripRoom(messages []database.ChatMessage) []database.ChatMessage {
	stripped := make([]database.ChatMessage, len(messages))
	for i, message := range messages {
		message.Room = ""
		stripped[i] = message
	}
	return stripped
}

// truthy 与 JS 的真值判断一致: true, 非零数字, 非空字符串
func truthy(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch value := v.(type) {
	case bool:
		return value
	case float64:
		return value != 0
	case string:
		return value != ""
	case nil:
		return false
	default:
		return true
	}
}
