package server

import (
	"errors"
	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/gaia-sync-server/internal/connection"
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var ErrSlowConsumer = errors.New("send buffer is full")

// wsConn gorilla 连接中写循环用到的部分
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddr() net.Addr
}

type frame struct {
	messageType int
	data        []byte
}

// wsTransport 所有写操作经由 writePump 串行执行, Send 和 Ping 只入队不阻塞.
// 缓冲区满时断开连接.
type wsTransport struct {
	ws        wsConn
	send      chan frame
	done      chan struct{}
	open      atomic.Bool
	closeOnce sync.Once
}

func newWSTransport(ws wsConn) *wsTransport {
	t := &wsTransport{
		ws:   ws,
		send: make(chan frame, sendBufferSize),
		done: make(chan struct{}),
	}
	t.open.Store(true)
	go t.writePump()
	return t
}

func (t *wsTransport) enqueue(f frame) error {
	if !t.open.Load() {
		return connection.ErrNotOpen
	}
	select {
	case t.send <- f:
		return nil
	case <-t.done:
		return connection.ErrNotOpen
	default:
		logger.WarnF("Send buffer of %s is full, closing connection", t.RemoteAddr())
		_ = t.Close()
		return ErrSlowConsumer
	}
}

func (t *wsTransport) Send(data []byte) error {
	return t.enqueue(frame{messageType: websocket.TextMessage, data: data})
}

func (t *wsTransport) Ping() error {
	return t.enqueue(frame{messageType: websocket.PingMessage})
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.open.Store(false)
		close(t.done)
		err = t.ws.Close()
	})
	return err
}

func (t *wsTransport) IsOpen() bool {
	return t.open.Load()
}

func (t *wsTransport) RemoteAddr() string {
	return t.ws.RemoteAddr().String()
}

func (t *wsTransport) writePump() {
	for {
		select {
		case <-t.done:
			return
		case f := <-t.send:
			_ = t.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.ws.WriteMessage(f.messageType, f.data); err != nil {
				if !isNetClosedError(err) && !errors.Is(err, websocket.ErrCloseSent) {
					logger.WarnF("Fail to write to %s, details: %v", t.RemoteAddr(), err)
				}
				_ = t.Close()
				return
			}
		}
	}
}
