package storage

import (
	"time"

	"gorm.io/datatypes"
)

// LicenceKey 许可记录，列布局沿用旧版 licence_keys 表
type LicenceKey struct {
	LicenceKey   string  `gorm:"column:licence_key;primaryKey"`
	RegisteredAt int64   `gorm:"column:registered_at;not null"`
	ExpiredAt    int64   `gorm:"column:expired_at;not null"`
	Active       bool    `gorm:"column:active;not null"`
	Note         *string `gorm:"column:note"`
	MaxBindIDs   int     `gorm:"column:max_bind_ids;not null"`
}

func (LicenceKey) TableName() string { return "licence_keys" }

// LicenceBinding 设备绑定，(licence_key, peer_id) 唯一
type LicenceBinding struct {
	LicenceKey string `gorm:"column:licence_key;primaryKey"`
	PeerID     string `gorm:"column:peer_id;primaryKey"`
	BoundAt    int64  `gorm:"column:bound_at;not null"`
}

func (LicenceBinding) TableName() string { return "licence_bindings" }

// DomainEvent 领域事件存储模型
type DomainEvent struct {
	ID        uint           `gorm:"primaryKey"`
	EventType string         `gorm:"index;not null"` // 事件类型
	SessionID string         `gorm:"index"`          // 对端设备ID
	UserID    string         `gorm:"index"`          // 许可键
	Data      datatypes.JSON `gorm:"not null"`       // 事件数据
	CreatedAt time.Time      `gorm:"index"`
}

func (DomainEvent) TableName() string { return "domain_events" }
