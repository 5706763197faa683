package migrations

import (
	"gorm.io/gorm"
)

// Migration002LicenceBindings 增加设备配额列与绑定表
type Migration002LicenceBindings struct{}

func (m *Migration002LicenceBindings) Version() string {
	return "002_licence_bindings"
}

func (m *Migration002LicenceBindings) Description() string {
	return "Add max_bind_ids column and licence_bindings table"
}

func (m *Migration002LicenceBindings) Up(db *gorm.DB) error {
	// 旧库可能已手工加过该列
	if !db.Migrator().HasColumn("licence_keys", "max_bind_ids") {
		if err := db.Exec(`ALTER TABLE licence_keys ADD COLUMN max_bind_ids INTEGER NOT NULL DEFAULT 3`).Error; err != nil {
			return err
		}
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS licence_bindings (
			licence_key TEXT NOT NULL,
			peer_id TEXT NOT NULL,
			bound_at INTEGER NOT NULL,
			PRIMARY KEY (licence_key, peer_id)
		)
	`).Error; err != nil {
		return err
	}

	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_licence_bindings_bound_at ON licence_bindings(bound_at)`).Error
}

func (m *Migration002LicenceBindings) Down(db *gorm.DB) error {
	if err := db.Exec(`DROP TABLE IF EXISTS licence_bindings`).Error; err != nil {
		return err
	}
	return db.Exec(`ALTER TABLE licence_keys DROP COLUMN max_bind_ids`).Error
}
