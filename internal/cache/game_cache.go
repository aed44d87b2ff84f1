// Package cache 保存最近变化过的对局快照, 避免重复读库
package cache

import (
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/life-stream-dev/gaia-sync-server/internal/database"
	"sync"
	"time"
)

const (
	DefaultTTL  = 24 * time.Hour
	DefaultSize = 10000
)

type Clock func() time.Time

type entry struct {
	snapshot database.GameSnapshot
	storedAt time.Time
}

// GameCache 底层 LRU 负责容量与后台过期, 读取时再按注入的时钟判定 TTL
type GameCache struct {
	mu  sync.Mutex // Set 的比较-写入与 Get 的过期删除互斥
	lru *expirable.LRU[string, entry]
	ttl time.Duration
	now Clock
}

type Option func(*GameCache)

func WithClock(clock Clock) Option {
	return func(c *GameCache) { c.now = clock }
}

func New(size int, ttl time.Duration, opts ...Option) *GameCache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &GameCache{
		lru: expirable.NewLRU[string, entry](size, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *GameCache) expired(e entry) bool {
	return c.now().Sub(e.storedAt) >= c.ttl
}

func (c *GameCache) Get(gameID string) (database.GameSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(gameID)
	if !ok {
		return database.GameSnapshot{}, false
	}
	if c.expired(e) {
		c.lru.Remove(gameID)
		return database.GameSnapshot{}, false
	}
	return e.snapshot, true
}

// Set 只接受 updatedAt 不早于现有条目的快照, 返回是否写入
func (c *GameCache) Set(snapshot database.GameSnapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.lru.Peek(snapshot.ID); ok && !c.expired(current) {
		if snapshot.UpdatedAt.Before(current.snapshot.UpdatedAt) {
			return false
		}
	}
	c.lru.Add(snapshot.ID, entry{snapshot: snapshot, storedAt: c.now()})
	return true
}

func (c *GameCache) Len() int {
	return c.lru.Len()
}
