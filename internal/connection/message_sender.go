package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
)

// Send 序列化 payload 并发送; 连接未打开或发送时恰好关闭都视为成功的空操作
func (c *Connection) Send(payload any) error {
	if !c.transport.IsOpen() {
		logger.DebugF("[%s] Connection not open, dropping message", c.ConnID)
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.SendRaw(data)
}

func (c *Connection) SendRaw(data []byte) error {
	if !c.transport.IsOpen() {
		return nil
	}
	if err := c.transport.Send(data); err != nil {
		if errors.Is(err, ErrNotOpen) || !c.transport.IsOpen() {
			logger.DebugF("[%s] Connection closed while sending, dropping message", c.ConnID)
			return nil
		}
		logger.ErrorF("[%s] Fail to send data, details: %v", c.ConnID, err)
		return err
	}
	logger.DebugF("[%s] Send %d bytes to client", c.ConnID, len(data))
	return nil
}
