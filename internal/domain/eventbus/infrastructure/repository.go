package infrastructure

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"licence-server-go/internal/domain/eventbus/repository"
	"licence-server-go/internal/platform/errors"
	"licence-server-go/internal/platform/storage"
)

const defaultRecentLimit = 50

// eventRepository 事件存储库实现
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository 创建事件存储库
func NewEventRepository(db *gorm.DB) repository.EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Store(ctx context.Context, event repository.Event) error {
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	dataBytes, err := sonic.Marshal(data)
	if err != nil {
		return errors.Wrap(errors.KindStorage, "event.store.marshal", "failed to marshal event data", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := &storage.DomainEvent{
		EventType: event.EventType,
		SessionID: event.PeerID,
		UserID:    event.LicenceKey,
		Data:      dataBytes,
		CreatedAt: createdAt,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.Storage("event.store.create", "failed to store event", err)
	}
	return nil
}

func (r *eventRepository) FindByEventType(ctx context.Context, eventType string, limit int) ([]repository.Event, error) {
	var rows []storage.DomainEvent
	query := r.db.WithContext(ctx).
		Where("event_type = ?", eventType).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, errors.Storage("event.find.type", "failed to find events by type", err)
	}
	return convertDomainEvents(rows)
}

func (r *eventRepository) FindByLicenceKey(ctx context.Context, key string) ([]repository.Event, error) {
	var rows []storage.DomainEvent
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", key).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Storage("event.find.licence", "failed to find events by licence key", err)
	}
	return convertDomainEvents(rows)
}

func (r *eventRepository) Recent(ctx context.Context, limit int) ([]repository.Event, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	var rows []storage.DomainEvent
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, errors.Storage("event.recent", "failed to list recent events", err)
	}
	return convertDomainEvents(rows)
}

func (r *eventRepository) DeleteOldEvents(ctx context.Context, beforeTime time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", beforeTime).
		Delete(&storage.DomainEvent{})
	if res.Error != nil {
		return 0, errors.Storage("event.delete.old", "failed to delete old events", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *eventRepository) GetEventStats(ctx context.Context) (map[string]int64, error) {
	var stats []struct {
		EventType string
		Count     int64
	}

	if err := r.db.WithContext(ctx).
		Model(&storage.DomainEvent{}).
		Select("event_type, count(*) as count").
		Group("event_type").
		Scan(&stats).Error; err != nil {
		return nil, errors.Storage("event.stats", "failed to get event stats", err)
	}

	result := make(map[string]int64, len(stats))
	for _, stat := range stats {
		result[stat.EventType] = stat.Count
	}
	return result, nil
}

func convertDomainEvents(rows []storage.DomainEvent) ([]repository.Event, error) {
	events := make([]repository.Event, len(rows))
	for i, row := range rows {
		var data map[string]any
		if len(row.Data) > 0 {
			if err := sonic.Unmarshal(row.Data, &data); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "event.convert.unmarshal", "failed to unmarshal event data", err)
			}
		}
		events[i] = repository.Event{
			ID:         row.ID,
			EventType:  row.EventType,
			LicenceKey: row.UserID,
			PeerID:     row.SessionID,
			Data:       data,
			CreatedAt:  row.CreatedAt,
		}
	}
	return events, nil
}
