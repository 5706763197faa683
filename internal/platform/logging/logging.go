package logging

import (
	"fmt"
	"io"
	"log/slog"

	"licence-server-go/internal/utils"
)

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console overrides the console sink (defaults to stdout).
	Console io.Writer
}

// Logger provides access to both slog and the tagged printf-style API.
type Logger struct {
	legacy *utils.Logger
}

// New creates a new Logger instance backed by the utils logger.
func New(cfg Config) (*Logger, error) {
	logCfg := &utils.LogCfg{
		LogLevel: cfg.Level,
		LogDir:   cfg.Dir,
		LogFile:  cfg.Filename,
		Console:  cfg.Console,
	}
	legacy, err := utils.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return &Logger{legacy: legacy}, nil
}

// Legacy exposes the underlying tagged logger.
func (l *Logger) Legacy() *utils.Logger {
	return l.legacy
}

// Slog exposes the structured logger for new integrations.
func (l *Logger) Slog() *slog.Logger {
	return l.legacy.Slog()
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	return l.legacy.Close()
}
