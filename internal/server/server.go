// Package server 暴露 websocket 同步端点以及 /metrics 和 /healthz
package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/gaia-sync-server/internal/config"
	"github.com/life-stream-dev/gaia-sync-server/internal/engine"
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
	"net"
	"net/http"
	"time"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type Server struct {
	engine *engine.Engine
	http   *http.Server
	mux    *http.ServeMux
}

// New metricsHandler 为 nil 时不注册 /metrics
func New(cfg config.ListenConfig, eng *engine.Engine, metricsHandler http.Handler) *Server {
	path := cfg.Path
	if path == "" {
		path = "/"
	}

	s := &Server{engine: eng, mux: http.NewServeMux()}
	s.mux.HandleFunc(path, s.serveWS)
	s.mux.HandleFunc("/healthz", s.serveHealth)
	if metricsHandler != nil {
		s.mux.Handle("/metrics", metricsHandler)
	}
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe 阻塞直到服务关闭, 正常关闭时返回 nil
func (s *Server) ListenAndServe() error {
	logger.InfoF("Sync server listen on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Invoke 作为关闭回调, 停止接受新连接
func (s *Server) Invoke(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"status":"ok","connections":%d,"cachedGames":%d}`, s.engine.Connections().Count(), s.engine.Cache().Len())
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnF("Fail to upgrade connection from %s, details: %v", r.RemoteAddr, err)
		return
	}

	transport := newWSTransport(ws)
	conn := s.engine.Open(transport)
	logger.InfoF("[%s] Connection opened from %s", conn.ConnID, transport.RemoteAddr())

	ctx := context.WithoutCancel(r.Context())

	defer func() {
		_ = transport.Close()
		s.engine.Close(conn)
		logger.InfoF("[%s] Connection closed", conn.ConnID)
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		s.engine.HandlePong(ctx, conn)
		return nil
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			handleReadError(conn.ConnID, err)
			return
		}
		if messageType != websocket.TextMessage {
			logger.DebugF("[%s] Ignoring non-text frame", conn.ConnID)
			continue
		}
		s.engine.HandleMessage(ctx, conn, data)
	}
}
