package lock

import (
	"context"
	"fmt"
	"time"
)

// Driver identifiers supported by the key locker.
const (
	DriverLocal = "local"
	DriverRedis = "redis"
)

// Locker provides mutual exclusion per licence key.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned unlock is idempotent.
	Lock(ctx context.Context, key string) (unlock func(), err error)
	Close() error
}

// Config selects and tunes the locker.
type Config struct {
	Driver string
	TTL    time.Duration
	Redis  *RedisConfig
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// New creates a locker based on the provided configuration.
func New(cfg Config) (Locker, error) {
	switch cfg.Driver {
	case "", DriverLocal:
		return NewLocal(), nil
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported lock driver: %s", cfg.Driver)
	}
}
