package coordinator

import "github.com/any-hub/streamcache/internal/cache"

// EventType 标识 Coordinator 对外发布的生命周期事件。
type EventType string

const (
	EventCached  EventType = "cached"
	EventFailed  EventType = "failed"
	EventStopped EventType = "stopped"
	EventCleared EventType = "cleared"
)

// Event 描述一次条目状态变化；EventCleared 不携带 Source。
type Event struct {
	Type   EventType
	Source cache.Source
	Key    string
	Bytes  int64
	Err    error
}
