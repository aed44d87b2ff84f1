// Package engine 实现连接订阅、活跃检测与轮询广播
//
// 三条执行路径并发运行: 每个连接的入站消息处理, 轮询广播循环, 活跃检测定时器.
// 它们共享连接表和对局缓存, 单个连接的订阅字段由 Connection 自身加锁.
package engine

import (
	"context"
	"github.com/google/uuid"
	"github.com/life-stream-dev/gaia-sync-server/internal/auth"
	"github.com/life-stream-dev/gaia-sync-server/internal/cache"
	"github.com/life-stream-dev/gaia-sync-server/internal/connection"
	"github.com/life-stream-dev/gaia-sync-server/internal/database"
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
	"github.com/life-stream-dev/gaia-sync-server/internal/metrics"
	"github.com/life-stream-dev/gaia-sync-server/internal/presence"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"sync"
	"time"
)

const (
	DefaultPollDelay     = 250 * time.Millisecond
	DefaultSweepInterval = 20 * time.Second
	DefaultHistoryLimit  = 100
)

type Engine struct {
	store    database.Store
	verifier auth.Verifier
	conns    *connection.ConnectionManager
	games    *cache.GameCache
	presence presence.Tracker
	metrics  *metrics.Metrics
	now      func() time.Time

	pollDelay     time.Duration
	sweepInterval time.Duration
	historyLimit  int64

	cursorMu sync.Mutex
	cursor   primitive.ObjectID

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithPollDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollDelay = d
		}
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sweepInterval = d
		}
	}
}

func WithHistoryLimit(limit int64) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.historyLimit = limit
		}
	}
}

func WithCache(c *cache.GameCache) Option {
	return func(e *Engine) { e.games = c }
}

func WithPresenceWindow(window time.Duration) Option {
	return func(e *Engine) { e.presence = presence.NewTracker(window) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithConnectionManager(cm *connection.ConnectionManager) Option {
	return func(e *Engine) { e.conns = cm }
}

// WithCursor 覆盖初始水位线, 默认为启动时刻
func WithCursor(cursor primitive.ObjectID) Option {
	return func(e *Engine) { e.cursor = cursor }
}

func New(store database.Store, verifier auth.Verifier, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		verifier:      verifier,
		conns:         connection.NewConnectionManager(),
		presence:      presence.NewTracker(presence.DefaultWindow),
		now:           time.Now,
		pollDelay:     DefaultPollDelay,
		sweepInterval: DefaultSweepInterval,
		historyLimit:  DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.games == nil {
		e.games = cache.New(cache.DefaultSize, cache.DefaultTTL, cache.WithClock(e.now))
	}
	if e.cursor.IsZero() {
		// 已有的历史消息不再广播
		e.cursor = database.CursorAt(e.now())
	}
	return e
}

func (e *Engine) Connections() *connection.ConnectionManager {
	return e.conns
}

func (e *Engine) Cache() *cache.GameCache {
	return e.games
}

func (e *Engine) Cursor() primitive.ObjectID {
	e.cursorMu.Lock()
	defer e.cursorMu.Unlock()
	return e.cursor
}

// advanceCursor 水位线只前进不后退
func (e *Engine) advanceCursor(id primitive.ObjectID) {
	e.cursorMu.Lock()
	defer e.cursorMu.Unlock()
	if database.ObjectIDAfter(id, e.cursor) {
		e.cursor = id
	}
}

// Open 注册新连接, 初始为存活且未认证
func (e *Engine) Open(transport connection.Transport) *connection.Connection {
	conn := connection.NewConnection(uuid.NewString(), transport)
	e.conns.AddConnection(conn)
	e.metrics.ConnectionOpened()
	return conn
}

// Close 在传输层 close/error 时调用
func (e *Engine) Close(conn *connection.Connection) {
	if e.conns.RemoveConnection(conn.ConnID) {
		e.metrics.ConnectionClosed()
	}
}

// HandlePong 收到 pong 表示在线但不一定活跃
func (e *Engine) HandlePong(ctx context.Context, conn *connection.Connection) {
	conn.MarkAlive()
	if user, ok := conn.User(); ok {
		e.RecordActivity(ctx, user, false)
	}
}

func (e *Engine) push(conn *connection.Connection, command string, payload any) {
	if err := conn.Send(payload); err != nil {
		logger.WarnF("[%s] Fail to push %s, details: %v", conn.ConnID, command, err)
		return
	}
	e.metrics.Pushed(command)
}

// Run 启动轮询循环和活跃检测, 阻塞到 ctx 取消或 Stop
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.runMu.Lock()
	e.cancel = cancel
	e.done = done
	e.runMu.Unlock()
	defer close(done)

	logger.InfoF("Sync engine started, poll delay %v, sweep interval %v", e.pollDelay, e.sweepInterval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.pollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.sweepLoop(ctx)
	}()
	wg.Wait()
	logger.InfoF("Sync engine stopped")
}

func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Invoke 作为关闭回调: 停止后台任务并断开所有连接
func (e *Engine) Invoke(ctx context.Context) error {
	e.Stop()
	for _, conn := range e.conns.List() {
		_ = conn.Terminate()
		e.Close(conn)
	}
	return ctx.Err()
}
