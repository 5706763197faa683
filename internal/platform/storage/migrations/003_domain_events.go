package migrations

import (
	"gorm.io/gorm"
)

// Migration003DomainEvents 许可事件审计表
type Migration003DomainEvents struct{}

func (m *Migration003DomainEvents) Version() string {
	return "003_domain_events"
}

func (m *Migration003DomainEvents) Description() string {
	return "Create domain_events audit table"
}

func (m *Migration003DomainEvents) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS domain_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type VARCHAR(255) NOT NULL,
			session_id VARCHAR(255),
			user_id VARCHAR(255),
			data JSON NOT NULL,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_domain_events_event_type ON domain_events(event_type)`).Error; err != nil {
		return err
	}
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_domain_events_user_id ON domain_events(user_id)`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_domain_events_created_at ON domain_events(created_at)`).Error
}

func (m *Migration003DomainEvents) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS domain_events`).Error
}
