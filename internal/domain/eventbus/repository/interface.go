package repository

import (
	"context"
	"time"
)

// EventRepository 领域事件数据访问接口
type EventRepository interface {
	// Store 存储领域事件
	Store(ctx context.Context, event Event) error

	// FindByEventType 根据事件类型查找事件，按时间倒序
	FindByEventType(ctx context.Context, eventType string, limit int) ([]Event, error)

	// FindByLicenceKey 查找某个许可的全部事件
	FindByLicenceKey(ctx context.Context, key string) ([]Event, error)

	// Recent 最近的事件
	Recent(ctx context.Context, limit int) ([]Event, error)

	// DeleteOldEvents 删除指定时间之前的旧事件
	DeleteOldEvents(ctx context.Context, beforeTime time.Time) (int64, error)

	// GetEventStats 获取事件统计信息
	GetEventStats(ctx context.Context) (map[string]int64, error)
}

// Event 领域事件
type Event struct {
	ID         uint           `json:"id"`
	EventType  string         `json:"event_type"`
	LicenceKey string         `json:"licence_key,omitempty"`
	PeerID     string         `json:"peer_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
