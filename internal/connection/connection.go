// Package connection 维护在线连接及其订阅状态
package connection

import (
	"errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"sync"
	"time"
)

var ErrNotOpen = errors.New("transport is not open")

// Transport 双向连接的最小抽象, pong/close/error 事件由传输层回调引擎
type Transport interface {
	Send(data []byte) error
	Ping() error
	Close() error
	IsOpen() bool
	RemoteAddr() string
}

// Connection 表示一个客户端连接
type Connection struct {
	ConnID    string
	transport Transport

	inbound sync.Mutex // 同一连接的入站消息串行处理

	mu         sync.Mutex
	room       string
	game       string
	gameUpdate time.Time // 零值表示尚未推送过
	user       primitive.ObjectID
	alive      bool
}

func NewConnection(connID string, transport Transport) *Connection {
	return &Connection{
		ConnID:    connID,
		transport: transport,
		alive:     true,
	}
}

func (c *Connection) IsOpen() bool {
	return c.transport.IsOpen()
}

func (c *Connection) RemoteAddr() string {
	return c.transport.RemoteAddr()
}

// LockInbound 返回解锁函数
func (c *Connection) LockInbound() func() {
	c.inbound.Lock()
	return c.inbound.Unlock
}

func (c *Connection) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Connection) SetRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
}

// Game 返回订阅的对局以及最近一次推送的更新时间
func (c *Connection) Game() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game, c.gameUpdate
}

// SubscribeGame 切换对局并清空推送时间, 下一轮必定重推
func (c *Connection) SubscribeGame(game string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.game = game
	c.gameUpdate = time.Time{}
}

// MarkGameUpdate 仍订阅 game 且 updatedAt 更新时前移推送时间并返回 true
func (c *Connection) MarkGameUpdate(game string, updatedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.game == "" || c.game != game || updatedAt.IsZero() {
		return false
	}
	if !c.gameUpdate.IsZero() && !updatedAt.After(c.gameUpdate) {
		return false
	}
	c.gameUpdate = updatedAt
	return true
}

func (c *Connection) User() (primitive.ObjectID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, !c.user.IsZero()
}

func (c *Connection) SetUser(user primitive.ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
}

func (c *Connection) ClearUser() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = primitive.NilObjectID
}

func (c *Connection) MarkAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = true
}

// ResetAlive 置为未响应, 返回之前的状态
func (c *Connection) ResetAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

func (c *Connection) Ping() error {
	if !c.transport.IsOpen() {
		return nil
	}
	return c.transport.Ping()
}

// Terminate 强制关闭底层连接
func (c *Connection) Terminate() error {
	return c.transport.Close()
}
