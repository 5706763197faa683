package store

import (
	"context"
	stderrors "errors"
	"strings"

	"gorm.io/gorm"

	"licence-server-go/internal/domain/licence/model"
	"licence-server-go/internal/platform/errors"
	"licence-server-go/internal/platform/storage"
)

type sqliteStore struct {
	db    *gorm.DB
	clock model.Clock
}

// NewSQLite builds a SQLite-backed licence store. The schema must already be migrated.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, errors.New(errors.KindConfig, "licence.store.sqlite", "sqlite store requires database handle")
	}
	return &sqliteStore{db: db, clock: clockOrSystem(cfg.Clock)}, nil
}

func isDuplicate(err error) bool {
	return stderrors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *sqliteStore) Issue(ctx context.Context, key string, expiredAt int64, active bool, note *string, maxBindIDs int) error {
	if err := requireKey("licence.issue", key); err != nil {
		return err
	}
	row := &storage.LicenceKey{
		LicenceKey:   key,
		RegisteredAt: s.clock.Now(),
		ExpiredAt:    expiredAt,
		Active:       active,
		Note:         note,
		MaxBindIDs:   model.ClampMaxBind(maxBindIDs),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isDuplicate(err) {
			return duplicate("licence.issue", key)
		}
		return errors.Storage("licence.issue", "failed to insert licence", err)
	}
	return nil
}

func (s *sqliteStore) Extend(ctx context.Context, key string, deltaSeconds int64) error {
	if err := requireKey("licence.extend", key); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row storage.LicenceKey
		if err := tx.Where("licence_key = ?", key).Take(&row).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("licence.extend", key)
			}
			return errors.Storage("licence.extend", "failed to load licence", err)
		}
		next := model.SaturatingAdd(row.ExpiredAt, deltaSeconds)
		if err := tx.Model(&storage.LicenceKey{}).
			Where("licence_key = ?", key).
			Update("expired_at", next).Error; err != nil {
			return errors.Storage("licence.extend", "failed to update expiry", err)
		}
		return nil
	})
}

func (s *sqliteStore) updateColumn(ctx context.Context, op, key, column string, value any) error {
	if err := requireKey(op, key); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Model(&storage.LicenceKey{}).
		Where("licence_key = ?", key).
		Update(column, value)
	if res.Error != nil {
		return errors.Storage(op, "failed to update "+column, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(op, key)
	}
	return nil
}

func (s *sqliteStore) SetActive(ctx context.Context, key string, active bool) error {
	return s.updateColumn(ctx, "licence.set_active", key, "active", active)
}

func (s *sqliteStore) SetMaxBind(ctx context.Context, key string, n int) error {
	return s.updateColumn(ctx, "licence.set_max_bind", key, "max_bind_ids", model.BoundMaxBind(n))
}

func (s *sqliteStore) Lookup(ctx context.Context, key string) (*model.LicenceRecord, error) {
	var row storage.LicenceKey
	if err := s.db.WithContext(ctx).Where("licence_key = ?", key).Take(&row).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Storage("licence.lookup", "failed to find licence", err)
	}
	return toRecord(&row), nil
}

func (s *sqliteStore) List(ctx context.Context, offset, limit int) (int64, []model.LicenceRecord, error) {
	total, err := s.Count(ctx)
	if err != nil {
		return 0, nil, err
	}
	var rows []storage.LicenceKey
	query := s.db.WithContext(ctx).
		Order("registered_at DESC").
		Order("licence_key ASC")
	if offset > 0 {
		query = query.Offset(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return 0, nil, errors.Storage("licence.list", "failed to list licences", err)
	}
	records := make([]model.LicenceRecord, len(rows))
	for i := range rows {
		records[i] = *toRecord(&rows[i])
	}
	return total, records, nil
}

func (s *sqliteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&storage.LicenceKey{}).Count(&n).Error; err != nil {
		return 0, errors.Storage("licence.count", "failed to count licences", err)
	}
	return n, nil
}

func (s *sqliteStore) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).
		Model(&storage.LicenceKey{}).
		Where("licence_key = ?", key).
		Count(&n).Error; err != nil {
		return false, errors.Storage("licence.exists", "failed to check licence", err)
	}
	return n > 0, nil
}

func (s *sqliteStore) Bindings(ctx context.Context, key string) ([]model.Binding, error) {
	var rows []storage.LicenceBinding
	if err := s.db.WithContext(ctx).
		Where("licence_key = ?", key).
		Order("bound_at ASC").
		Order("peer_id ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Storage("licence.bindings", "failed to list bindings", err)
	}
	out := make([]model.Binding, len(rows))
	for i, row := range rows {
		out[i] = model.Binding{LicenceKey: row.LicenceKey, PeerID: row.PeerID, BoundAt: row.BoundAt}
	}
	return out, nil
}

func (s *sqliteStore) BoundCount(ctx context.Context, key string) (int64, error) {
	return countBindings(s.db.WithContext(ctx), key)
}

func (s *sqliteStore) IsBound(ctx context.Context, key, peer string) (bool, error) {
	return hasBinding(s.db.WithContext(ctx), key, peer)
}

func (s *sqliteStore) Admit(ctx context.Context, key, peer string, now int64) (model.BindResult, error) {
	var result model.BindResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bound, err := hasBinding(tx, key, peer)
		if err != nil {
			return err
		}
		if bound {
			result = model.Bound()
			return nil
		}

		var row storage.LicenceKey
		var rec *model.LicenceRecord
		if err := tx.Where("licence_key = ?", key).Take(&row).Error; err != nil {
			if !stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Storage("licence.admit", "failed to load licence", err)
			}
		} else {
			rec = toRecord(&row)
		}

		var count int64
		if rec != nil {
			if count, err = countBindings(tx, key); err != nil {
				return err
			}
		}
		var ok bool
		if result, ok = decide(rec, count, now); !ok {
			return nil
		}

		if err := tx.Create(&storage.LicenceBinding{LicenceKey: key, PeerID: peer, BoundAt: now}).Error; err != nil {
			return errors.Storage("licence.admit", "failed to insert binding", err)
		}
		return nil
	})
	if err != nil {
		return model.BindResult{}, err
	}
	return result, nil
}

func (s *sqliteStore) Close(context.Context) error {
	// 连接由 bootstrap 统一关闭
	return nil
}

func hasBinding(db *gorm.DB, key, peer string) (bool, error) {
	var n int64
	if err := db.Model(&storage.LicenceBinding{}).
		Where("licence_key = ? AND peer_id = ?", key, peer).
		Count(&n).Error; err != nil {
		return false, errors.Storage("licence.is_bound", "failed to check binding", err)
	}
	return n > 0, nil
}

func countBindings(db *gorm.DB, key string) (int64, error) {
	var n int64
	if err := db.Model(&storage.LicenceBinding{}).
		Where("licence_key = ?", key).
		Count(&n).Error; err != nil {
		return 0, errors.Storage("licence.bound_count", "failed to count bindings", err)
	}
	return n, nil
}

func toRecord(row *storage.LicenceKey) *model.LicenceRecord {
	return &model.LicenceRecord{
		Key:          row.LicenceKey,
		RegisteredAt: row.RegisteredAt,
		ExpiredAt:    row.ExpiredAt,
		Active:       row.Active,
		Note:         row.Note,
		MaxBindIDs:   row.MaxBindIDs,
	}
}
