package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "config.yaml"

// Loader reads the yaml config file, applies .env and environment overrides
// and validates the result.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader reading DefaultConfigPath.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      DefaultConfigPath,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the config file location.
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// WithEnv overrides environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config   *Config
	Path     string
	Warnings []string
}

// Load 读取配置：默认值 <- yaml 文件 <- 环境变量
func (l *Loader) Load() (*Result, error) {
	result := &Result{Path: "default"}

	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			result.Warnings = append(result.Warnings, "未找到 .env 文件，使用系统环境变量")
		}
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件 %s 失败: %w", l.path, err)
		}
		result.Path = l.path
	case os.IsNotExist(err):
		result.Warnings = append(result.Warnings, fmt.Sprintf("配置文件 %s 不存在，使用默认配置", l.path))
	default:
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", l.path, err)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = cfg.Server.Port + adminPortOffset
	}
	if cfg.Admin.Enabled && (cfg.Admin.Username == "" || cfg.Admin.Password == "") {
		cfg.Admin.Enabled = false
		result.Warnings = append(result.Warnings, "未配置管理员账号 (ADMIN_USER/ADMIN_PASS)，管理端已禁用")
	}

	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	result.Config = cfg
	return result, nil
}

// applyEnv 兼容旧部署使用的环境变量
func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.lookupEnv("DB_URL"); ok && v != "" {
		cfg.Database.DSN = v
	}
	if v, ok := l.lookupEnv("MAX_DATABASE_CONNECTIONS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_DATABASE_CONNECTIONS 无效: %w", err)
		}
		cfg.Database.MaxOpenConns = n
	}
	if v, ok := l.lookupEnv("ADMIN_USER"); ok && v != "" {
		cfg.Admin.Username = v
	}
	if v, ok := l.lookupEnv("ADMIN_PASS"); ok && v != "" {
		cfg.Admin.Password = v
	}
	if v, ok := l.lookupEnv("ADMIN_PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ADMIN_PORT 无效: %w", err)
		}
		cfg.Admin.Port = n
	}
	if v, ok := l.lookupEnv("ADMIN_JWT_SECRET"); ok && v != "" {
		cfg.Admin.JWTSecret = v
	}
	if v, ok := l.lookupEnv("CUSTOM_KEYS_FILE"); ok && v != "" {
		cfg.CustomKeys.Path = v
	}
	if v, ok := l.lookupEnv("LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = v
	}
	if v, ok := l.lookupEnv("REDIS_ADDR"); ok && v != "" {
		cfg.Licence.Lock.Redis.Addr = v
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Admin.Enabled && (cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", cfg.Admin.Port)
	}
	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
	if cfg.Database.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Licence.DefaultMaxBindIDs < 1 || cfg.Licence.DefaultMaxBindIDs > 1000 {
		return fmt.Errorf("default_max_bind_ids must be within [1, 1000], got %d", cfg.Licence.DefaultMaxBindIDs)
	}
	switch strings.ToLower(cfg.Licence.Lock.Driver) {
	case "local":
	case "redis":
		if cfg.Licence.Lock.Redis.Addr == "" {
			return fmt.Errorf("redis lock driver requires licence.lock.redis.addr")
		}
	default:
		return fmt.Errorf("unsupported lock driver: %s", cfg.Licence.Lock.Driver)
	}
	if cfg.CustomKeys.Path == "" {
		return fmt.Errorf("custom_keys.path must not be empty")
	}
	if cfg.CustomKeys.Debounce < 0 {
		return fmt.Errorf("custom_keys.debounce must not be negative")
	}
	return nil
}
