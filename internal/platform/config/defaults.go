package config

import "time"

const (
	DefaultServerPort = 21114
	adminPortOffset   = 100
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: DefaultServerPort,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "data/db_v2.sqlite3",
			MaxOpenConns: 1,
			BusyTimeout:  5 * time.Second,
		},
		Licence: LicenceConfig{
			DefaultMaxBindIDs: 3,
			DefaultDuration:   30 * 24 * time.Hour,
			Lock: LockConfig{
				Driver: "local",
				TTL:    10 * time.Second,
				Redis: RedisConfig{
					Prefix: "licence:lock:",
				},
			},
		},
		CustomKeys: CustomKeysConfig{
			Path:          "custom_keys.json",
			Watch:         true,
			Debounce:      100 * time.Millisecond,
			SweepInterval: 10 * time.Minute,
		},
		Admin: AdminConfig{
			Enabled:  true,
			IP:       "127.0.0.1",
			Port:     DefaultServerPort + adminPortOffset,
			TokenTTL: 12 * time.Hour,
		},
		Events: EventsConfig{
			Audit:   true,
			Workers: 4,
		},
	}
}
