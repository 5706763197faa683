package migrations

import (
	"gorm.io/gorm"
)

// Migration001LicenceKeys 创建许可表，结构与旧版部署的 licence_keys 保持一致
type Migration001LicenceKeys struct{}

func (m *Migration001LicenceKeys) Version() string {
	return "001_licence_keys"
}

func (m *Migration001LicenceKeys) Description() string {
	return "Create licence_keys table"
}

func (m *Migration001LicenceKeys) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS licence_keys (
			licence_key TEXT PRIMARY KEY NOT NULL,
			registered_at INTEGER NOT NULL,
			expired_at INTEGER NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			note TEXT NULL
		)
	`).Error; err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_licence_keys_active ON licence_keys(active)`,
		`CREATE INDEX IF NOT EXISTS idx_licence_keys_expired_at ON licence_keys(expired_at)`,
		`CREATE INDEX IF NOT EXISTS idx_licence_keys_registered_at ON licence_keys(registered_at)`,
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (m *Migration001LicenceKeys) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS licence_keys`).Error
}
