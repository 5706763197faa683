package storage

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"licence-server-go/internal/platform/errors"
)

// Migration 数据库迁移接口
type Migration interface {
	Version() string
	Description() string
	Up(db *gorm.DB) error
	Down(db *gorm.DB) error
}

// MigrationRecord 迁移记录
type MigrationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Version   string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	AppliedAt time.Time `gorm:"not null"`
}

func (MigrationRecord) TableName() string { return "migration_records" }

// MigrationManager 按版本号顺序执行迁移，每个迁移独占一个事务
type MigrationManager struct {
	db         *gorm.DB
	migrations []Migration
}

func NewMigrationManager(db *gorm.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// AddMigration 添加迁移
func (m *MigrationManager) AddMigration(migrations ...Migration) {
	m.migrations = append(m.migrations, migrations...)
}

func (m *MigrationManager) sorted() []Migration {
	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version() < out[j].Version() })
	return out
}

func (m *MigrationManager) applied() (map[string]bool, error) {
	if err := m.db.AutoMigrate(&MigrationRecord{}); err != nil {
		return nil, errors.Storage("migration.create_table", "failed to create migration table", err)
	}

	var versions []string
	if err := m.db.Model(&MigrationRecord{}).Pluck("version", &versions).Error; err != nil {
		return nil, errors.Storage("migration.get_applied", "failed to get applied migrations", err)
	}

	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// Pending 返回尚未应用的迁移版本
func (m *MigrationManager) Pending() ([]string, error) {
	applied, err := m.applied()
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, migration := range m.sorted() {
		if !applied[migration.Version()] {
			pending = append(pending, migration.Version())
		}
	}
	return pending, nil
}

// RunMigrations 执行所有待应用的迁移，返回本次应用的版本
func (m *MigrationManager) RunMigrations() ([]string, error) {
	applied, err := m.applied()
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, migration := range m.sorted() {
		if applied[migration.Version()] {
			continue
		}

		err := m.db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return errors.Storage("migration.up", fmt.Sprintf("failed to run migration %s", migration.Version()), err)
			}
			record := &MigrationRecord{
				Version:   migration.Version(),
				Name:      migration.Description(),
				AppliedAt: time.Now(),
			}
			if err := tx.Create(record).Error; err != nil {
				return errors.Storage("migration.record", "failed to record migration", err)
			}
			return nil
		})
		if err != nil {
			return ran, err
		}
		ran = append(ran, migration.Version())
	}

	return ran, nil
}

// RollbackMigration 回滚指定版本的迁移
func (m *MigrationManager) RollbackMigration(version string) error {
	var record MigrationRecord
	if err := m.db.Where("version = ?", version).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return errors.New(errors.KindStorage, "migration.not_found", fmt.Sprintf("migration %s not found", version))
		}
		return errors.Storage("migration.find_record", "failed to find migration record", err)
	}

	var target Migration
	for _, migration := range m.migrations {
		if migration.Version() == version {
			target = migration
			break
		}
	}
	if target == nil {
		return errors.New(errors.KindStorage, "migration.not_registered", fmt.Sprintf("migration %s not registered", version))
	}

	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := target.Down(tx); err != nil {
			return errors.Storage("migration.down", fmt.Sprintf("failed to rollback migration %s", version), err)
		}
		if err := tx.Delete(&record).Error; err != nil {
			return errors.Storage("migration.delete_record", "failed to delete migration record", err)
		}
		return nil
	})
}

// GetMigrationHistory 获取迁移历史
func (m *MigrationManager) GetMigrationHistory() ([]MigrationRecord, error) {
	var records []MigrationRecord
	if err := m.db.Order("applied_at DESC").Order("version DESC").Find(&records).Error; err != nil {
		return nil, errors.Storage("migration.history", "failed to get migration history", err)
	}
	return records, nil
}
