package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/life-stream-dev/gaia-sync-server/internal/connection"
	"github.com/life-stream-dev/gaia-sync-server/internal/database"
	"github.com/life-stream-dev/gaia-sync-server/internal/engine"
)

// fakeConn 记录写入的帧; block 非 nil 时每次写入都等待它关闭
type fakeConn struct {
	mu     sync.Mutex
	frames []frame
	block  chan struct{}
	closed bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.frames = append(c.frames, frame{messageType: messageType, data: data})
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
}

func (c *fakeConn) written() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.frames...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestTransportWritesInOrder(t *testing.T) {
	conn := &fakeConn{}
	transport := newWSTransport(conn)
	defer transport.Close()

	require.NoError(t, transport.Send([]byte("a")))
	require.NoError(t, transport.Ping())
	require.NoError(t, transport.Send([]byte("b")))

	assert.Eventually(t, func() bool { return len(conn.written()) == 3 }, time.Second, 5*time.Millisecond)
	frames := conn.written()
	assert.Equal(t, frame{messageType: websocket.TextMessage, data: []byte("a")}, frames[0])
	assert.Equal(t, websocket.PingMessage, frames[1].messageType)
	assert.Equal(t, []byte("b"), frames[2].data)
}

func TestTransportSendDoesNotBlockOnSlowPeer(t *testing.T) {
	conn := &fakeConn{block: make(chan struct{})}
	transport := newWSTransport(conn)
	defer close(conn.block)

	start := time.Now()
	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, transport.Send([]byte("x")))
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, transport.IsOpen())

	// 写循环占用一帧, 缓冲区再满一次即断开
	var err error
	for i := 0; i < 2 && err == nil; i++ {
		err = transport.Send([]byte("overflow"))
	}
	assert.ErrorIs(t, err, ErrSlowConsumer)
	assert.False(t, transport.IsOpen())
	assert.True(t, conn.isClosed())
	assert.ErrorIs(t, transport.Send([]byte("late")), connection.ErrNotOpen)
}

func TestTransportCloseStopsPump(t *testing.T) {
	conn := &fakeConn{}
	transport := newWSTransport(conn)

	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())
	assert.ErrorIs(t, transport.Ping(), connection.ErrNotOpen)
	assert.True(t, conn.isClosed())
}

func TestSlowPeerDoesNotDelayBroadcast(t *testing.T) {
	store := database.NewMemoryStore()
	eng := engine.New(store, nil)

	slowConn := &fakeConn{block: make(chan struct{})}
	defer close(slowConn.block)
	fastConn := &fakeConn{}

	slow := eng.Open(newWSTransport(slowConn))
	slow.SetRoom("r1")
	fast := eng.Open(newWSTransport(fastConn))
	fast.SetRoom("r1")
	defer func() { _ = eng.Invoke(context.Background()) }()

	store.AddMessage(database.ChatMessage{ID: primitive.NewObjectIDFromTimestamp(time.Now().Add(time.Hour)), Room: "r1"})

	start := time.Now()
	require.NoError(t, eng.PollOnce(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Eventually(t, func() bool { return len(fastConn.written()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, slowConn.written())
}
