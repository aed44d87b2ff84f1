package engine

import (
	"context"
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
	"time"
)

// SweepOnce 未响应上一次 ping 的连接被强制关闭, 其余连接重新 ping.
// 已认证的连接同时收到一次 games:currentTurn.
func (e *Engine) SweepOnce(ctx context.Context) {
	for _, conn := range e.conns.List() {
		if !conn.ResetAlive() {
			logger.InfoF("[%s] No pong since last sweep, terminating", conn.ConnID)
			if err := conn.Terminate(); err != nil {
				logger.DebugF("[%s] Error occured while terminating connection, details: %v", conn.ConnID, err)
			}
			e.Close(conn)
			e.metrics.Terminated()
			continue
		}

		if err := conn.Ping(); err != nil {
			logger.WarnF("[%s] Fail to send ping, details: %v", conn.ConnID, err)
		}

		e.sendActiveGames(ctx, conn)
	}
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SweepOnce(ctx)
		}
	}
}
