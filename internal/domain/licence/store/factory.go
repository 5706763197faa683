package store

import (
	"fmt"

	"gorm.io/gorm"
)

// Driver identifiers supported by the licence store.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New creates a licence store based on the provided configuration.
func New(cfg Config, deps Dependencies) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	switch driver {
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverSQLite:
		if deps.SQLiteDB == nil {
			return nil, fmt.Errorf("sqlite driver requires database handle")
		}
		return NewSQLite(deps.SQLiteDB, cfg)
	default:
		return nil, fmt.Errorf("unsupported licence store driver: %s", driver)
	}
}
