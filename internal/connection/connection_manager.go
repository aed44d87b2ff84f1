package connection

import (
	"github.com/life-stream-dev/gaia-sync-server/internal/logger"
	"sync"
)

// ConnectionManager 连接管理器, 允许在遍历时并发增删
type ConnectionManager struct {
	connections sync.Map
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{}
}

func (cm *ConnectionManager) AddConnection(conn *Connection) {
	cm.connections.Store(conn.ConnID, conn)
	logger.InfoF("Client %s connected from %s", conn.ConnID, conn.RemoteAddr())
}

// RemoveConnection 返回连接此前是否存在
func (cm *ConnectionManager) RemoveConnection(connID string) bool {
	if _, loaded := cm.connections.LoadAndDelete(connID); loaded {
		logger.InfoF("Client %s disconnected", connID)
		return true
	}
	return false
}

// List 返回当前打开的连接快照, 不含正在关闭或已关闭的
func (cm *ConnectionManager) List() []*Connection {
	result := make([]*Connection, 0)
	cm.connections.Range(func(_, value any) bool {
		conn := value.(*Connection)
		if conn.IsOpen() {
			result = append(result, conn)
		}
		return true
	})
	return result
}

func (cm *ConnectionManager) Count() int {
	count := 0
	cm.connections.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
