package infrastructure

import (
	"context"
	"time"

	"licence-server-go/internal/domain/eventbus"
	"licence-server-go/internal/domain/eventbus/repository"
)

const auditWriteTimeout = 5 * time.Second

// AuditLogger 审计订阅者使用的日志接口
type AuditLogger interface {
	Warn(format string, args ...any)
}

// Subscriber 订阅 bus 上的许可主题，逐条写入事件存储
type Subscriber interface {
	Subscribe(topic string, fn interface{}) error
}

// RegisterAudit 把所有许可事件持久化到 repo。写入失败只记录日志。
func RegisterAudit(bus Subscriber, repo repository.EventRepository, logger AuditLogger) error {
	handler := func(ev eventbus.LicenceEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		defer cancel()
		err := repo.Store(ctx, repository.Event{
			EventType:  ev.Type,
			LicenceKey: ev.LicenceKey,
			PeerID:     ev.PeerID,
			Data:       ev.Detail,
			CreatedAt:  ev.At,
		})
		if err != nil && logger != nil {
			logger.Warn("审计事件写入失败 %s: %v", ev.Type, err)
		}
	}
	for _, topic := range eventbus.LicenceTopics {
		if err := bus.Subscribe(topic, handler); err != nil {
			return err
		}
	}
	return nil
}
