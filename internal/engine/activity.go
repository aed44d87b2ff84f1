package engine

import (
	"context"
	"github.com/life-stream-dev/gaia-sync-server/internal/database"
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RecordActivity isActive 时同时刷新 lastActive 和 lastOnline, 否则只刷新 lastActive.
// 失败只记录日志.
func (e *Engine) RecordActivity(ctx context.Context, user primitive.ObjectID, isActive bool) {
	now := e.now()
	update := database.ActivityUpdate{LastActive: now}
	if isActive {
		update.LastOnline = now
	}
	if err := e.store.UpdateUserActivity(ctx, user, update); err != nil {
		logger.ErrorF("Fail to record activity of user %s, details: %v", user.Hex(), err)
	}
}
