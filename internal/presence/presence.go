// Package presence 根据最近活跃/在线时间推导玩家状态
package presence

import "time"

type Status string

const (
	Online  Status = "online"
	Away    Status = "away"
	Offline Status = "offline"
)

const DefaultWindow = 60 * time.Second

// Tracker 无内部状态, 只保存判定窗口
type Tracker struct {
	window time.Duration
}

func NewTracker(window time.Duration) Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return Tracker{window: window}
}

// Status 零值时间视为远古时间
func (t Tracker) Status(lastActive, lastOnline, now time.Time) Status {
	window := t.window
	if window <= 0 {
		window = DefaultWindow
	}
	if within(lastOnline, now, window) {
		return Online
	}
	if within(lastActive, now, window) {
		return Away
	}
	return Offline
}

func within(at, now time.Time, window time.Duration) bool {
	if at.IsZero() {
		return false
	}
	return now.Sub(at) < window
}
