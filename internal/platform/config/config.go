package config

import (
	"time"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Licence    LicenceConfig    `yaml:"licence" mapstructure:"licence"`
	CustomKeys CustomKeysConfig `yaml:"custom_keys" mapstructure:"custom_keys"`
	Admin      AdminConfig      `yaml:"admin" mapstructure:"admin"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`

	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// ServerConfig 会合服务的基础端口，管理端口默认为 Port+100
type ServerConfig struct {
	IP   string `yaml:"ip" mapstructure:"ip"`
	Port int    `yaml:"port" mapstructure:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

// DatabaseConfig 许可存储配置
type DatabaseConfig struct {
	Driver       string        `yaml:"driver" mapstructure:"driver"` // sqlite/memory
	DSN          string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	BusyTimeout  time.Duration `yaml:"busy_timeout" mapstructure:"busy_timeout"`
}

// LicenceConfig 许可签发与绑定配置
type LicenceConfig struct {
	DefaultMaxBindIDs int           `yaml:"default_max_bind_ids" mapstructure:"default_max_bind_ids"`
	DefaultDuration   time.Duration `yaml:"default_duration" mapstructure:"default_duration"`
	Lock              LockConfig    `yaml:"lock" mapstructure:"lock"`
}

// LockConfig 按许可键加锁的实现选择
type LockConfig struct {
	Driver string        `yaml:"driver" mapstructure:"driver"` // local/redis
	TTL    time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Redis  RedisConfig   `yaml:"redis,omitempty" mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// CustomKeysConfig 外部密钥文件配置
type CustomKeysConfig struct {
	Path          string        `yaml:"path" mapstructure:"path"`
	Watch         bool          `yaml:"watch" mapstructure:"watch"`
	Debounce      time.Duration `yaml:"debounce" mapstructure:"debounce"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// AdminConfig 管理端配置
type AdminConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	IP        string        `yaml:"ip" mapstructure:"ip"`
	Port      int           `yaml:"port" mapstructure:"port"`
	Username  string        `yaml:"username" mapstructure:"username"`
	Password  string        `yaml:"password" mapstructure:"password"`
	JWTSecret string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
	StaticDir string        `yaml:"static_dir" mapstructure:"static_dir"`
}

// EventsConfig 许可事件与审计
type EventsConfig struct {
	Audit   bool `yaml:"audit" mapstructure:"audit"`
	Workers int  `yaml:"workers" mapstructure:"workers"`
}

type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}
