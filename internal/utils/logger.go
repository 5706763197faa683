package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	LogRetentionDays = 7 // 日志保留天数
)

var DefaultLogger *Logger

type LogCfg struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogDir   string `yaml:"log_dir" json:"log_dir"`
	LogFile  string `yaml:"log_file" json:"log_file"`
	// Console 为 nil 时输出到 os.Stdout
	Console io.Writer `yaml:"-" json:"-"`
}

// CustomTextHandler 自定义文本处理器，支持彩色输出和格式化
type CustomTextHandler struct {
	writer io.Writer
	level  slog.Level
	mu     sync.Mutex
}

var (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m" // 时间：灰色
	colorDebug = "\x1b[36m" // DEBUG：青色
	colorInfo  = "\x1b[32m" // INFO：绿色
	colorWarn  = "\x1b[33m" // WARN：黄色
	colorError = "\x1b[31m" // ERROR：红色
)

// 模块标签对应的控制台颜色
var tagColors = map[string]string{
	"[引导]":            "\x1b[96m",
	"[存储]":            "\x1b[94m",
	"[许可]":            "\x1b[92m",
	"[密钥]":            "\x1b[93m",
	"[HTTP]":          "\x1b[95m",
	"[事件]":            "\x1b[36m",
	"[OBSERVABILITY]": "\x1b[90m",
}

func (h *CustomTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *CustomTextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	timeStr := r.Time.Format("2006-01-02 15:04:05.000")

	var levelStr, levelColor string
	switch r.Level {
	case slog.LevelDebug:
		levelStr, levelColor = "调试", colorDebug
	case slog.LevelWarn:
		levelStr, levelColor = "警告", colorWarn
	case slog.LevelError:
		levelStr, levelColor = "错误", colorError
	default:
		levelStr, levelColor = "信息", colorInfo
	}

	msg := r.Message
	moduleColor := ""
	for tag, color := range tagColors {
		if strings.HasPrefix(msg, tag) {
			moduleColor = color
			break
		}
	}

	var output string
	if moduleColor != "" && r.Level < slog.LevelWarn {
		// 模块日志格式: [时间] [模块] 消息
		output = fmt.Sprintf("%s[%s]%s %s%s%s",
			colorTime, timeStr, colorReset,
			moduleColor, msg, colorReset)
	} else {
		output = fmt.Sprintf("%s[%s]%s %s[%s]%s %s",
			colorTime, timeStr, colorReset,
			levelColor, levelStr, colorReset,
			msg)
	}

	if r.NumAttrs() > 0 {
		output += " {"
		r.Attrs(func(a slog.Attr) bool {
			output += fmt.Sprintf(" %s=%v", a.Key, a.Value)
			return true
		})
		output += " }"
	}
	output += "\n"

	_, err := h.writer.Write([]byte(output))
	return err
}

func (h *CustomTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h // 简化实现
}

func (h *CustomTextHandler) WithGroup(name string) slog.Handler {
	return h // 简化实现
}

// Logger 日志实现：文件写 JSON，控制台写彩色文本
type Logger struct {
	config      *LogCfg
	jsonLogger  *slog.Logger
	textLogger  *slog.Logger
	logFile     *os.File
	currentDate string
	mu          sync.RWMutex
	ticker      *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// configLogLevelToSlogLevel 将配置中的日志级别转换为slog.Level
func configLogLevelToSlogLevel(configLevel string) slog.Level {
	switch strings.ToLower(configLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger 创建新的日志记录器
func NewLogger(config *LogCfg) (*Logger, error) {
	if err := os.MkdirAll(config.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %v", err)
	}

	logPath := filepath.Join(config.LogDir, config.LogFile)
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %v", err)
	}

	slogLevel := configLogLevelToSlogLevel(config.LogLevel)

	console := config.Console
	if console == nil {
		console = os.Stdout
	}

	logger := &Logger{
		config:      config,
		jsonLogger:  slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slogLevel})),
		textLogger:  slog.New(&CustomTextHandler{writer: console, level: slogLevel}),
		logFile:     file,
		currentDate: time.Now().Format("2006-01-02"),
		stopCh:      make(chan struct{}),
	}

	logger.startRotationChecker()
	if DefaultLogger == nil {
		DefaultLogger = logger
	}

	return logger, nil
}

// startRotationChecker 启动定时检查器
func (l *Logger) startRotationChecker() {
	l.ticker = time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-l.ticker.C:
				l.checkAndRotate()
			case <-l.stopCh:
				return
			}
		}
	}()
}

func (l *Logger) checkAndRotate() {
	today := time.Now().Format("2006-01-02")
	if today != l.currentDate {
		l.rotateLogFile(today)
		l.cleanOldLogs()
	}
}

// rotateLogFile 将当前日志归档为 <name>-<date><ext> 并重新打开
func (l *Logger) rotateLogFile(newDate string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		l.logFile.Close()
	}

	logDir := l.config.LogDir
	currentLogPath := filepath.Join(logDir, l.config.LogFile)
	baseFileName := strings.TrimSuffix(l.config.LogFile, filepath.Ext(l.config.LogFile))
	ext := filepath.Ext(l.config.LogFile)
	archivedLogPath := filepath.Join(logDir, fmt.Sprintf("%s-%s%s", baseFileName, l.currentDate, ext))

	if _, err := os.Stat(currentLogPath); err == nil {
		if err := os.Rename(currentLogPath, archivedLogPath); err != nil {
			l.textLogger.Error("重命名日志文件失败", slog.String("error", err.Error()))
		}
	}

	file, err := os.OpenFile(currentLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.textLogger.Error("创建新日志文件失败", slog.String("error", err.Error()))
		return
	}

	l.logFile = file
	l.currentDate = newDate
	slogLevel := configLogLevelToSlogLevel(l.config.LogLevel)
	l.jsonLogger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slogLevel}))

	l.textLogger.Info("日志文件已轮转", slog.String("new_date", newDate))
}

// cleanOldLogs 清理超过保留天数的归档日志
func (l *Logger) cleanOldLogs() {
	logDir := l.config.LogDir

	entries, err := os.ReadDir(logDir)
	if err != nil {
		l.textLogger.Error("读取日志目录失败", slog.String("error", err.Error()))
		return
	}

	cutoffDate := time.Now().AddDate(0, 0, -LogRetentionDays)
	baseFileName := strings.TrimSuffix(l.config.LogFile, filepath.Ext(l.config.LogFile))
	ext := filepath.Ext(l.config.LogFile)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if !strings.HasPrefix(fileName, baseFileName+"-") || !strings.HasSuffix(fileName, ext) {
			continue
		}
		dateStr := strings.TrimSuffix(strings.TrimPrefix(fileName, baseFileName+"-"), ext)
		fileDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if fileDate.Before(cutoffDate) {
			if err := os.Remove(filepath.Join(logDir, fileName)); err != nil {
				l.textLogger.Error("删除旧日志文件失败",
					slog.String("file", fileName),
					slog.String("error", err.Error()))
			} else {
				l.textLogger.Info("已删除旧日志文件", slog.String("file", fileName))
			}
		}
	}
}

// Close 关闭日志文件，可重复调用
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.ticker != nil {
			l.ticker.Stop()
		}
		close(l.stopCh)
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.logFile != nil {
			err = l.logFile.Close()
		}
		if DefaultLogger == l {
			DefaultLogger = nil
		}
	})
	return err
}

func (l *Logger) log(level slog.Level, msg string, fields ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var attrs []slog.Attr
	if len(fields) > 0 && fields[0] != nil {
		if fieldsMap, ok := fields[0].(map[string]interface{}); ok {
			keys := make([]string, 0, len(fieldsMap))
			for k := range fieldsMap {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				attrs = append(attrs, slog.Any(k, fieldsMap[k]))
			}
		} else {
			attrs = append(attrs, slog.Any("fields", fields[0]))
		}
	}

	ctx := context.Background()
	l.jsonLogger.LogAttrs(ctx, level, msg, attrs...)
	l.textLogger.LogAttrs(ctx, level, msg, attrs...)
}

func containsFormatPlaceholders(s string) bool {
	return strings.Contains(s, "%")
}

func (l *Logger) emit(level slog.Level, msg string, args ...interface{}) {
	if l == nil {
		return
	}
	if len(args) > 0 && containsFormatPlaceholders(msg) {
		l.log(level, fmt.Sprintf(msg, args...))
		return
	}
	l.log(level, msg, args...)
}

// Debug 记录调试级别日志
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l == nil || !strings.EqualFold(l.config.LogLevel, "debug") {
		return
	}
	l.emit(slog.LevelDebug, msg, args...)
}

// Info 记录信息级别日志，msg 含占位符时按格式化模式处理
func (l *Logger) Info(msg string, args ...interface{}) {
	l.emit(slog.LevelInfo, msg, args...)
}

// Warn 记录警告级别日志
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.emit(slog.LevelWarn, msg, args...)
}

// Error 记录错误级别日志
func (l *Logger) Error(msg string, args ...interface{}) {
	l.emit(slog.LevelError, msg, args...)
}

// FormatLog 构造带单一分类标签的日志消息。例如：FormatLog("引导", "服务已启动") -> "[引导] 服务已启动"
// 如果传入的 message 已经以 "[" 开头，则直接返回原文。
func FormatLog(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" {
		return message
	}
	if strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}

// DebugTag 记录带分类标签的调试日志
func (l *Logger) DebugTag(tag, msg string, args ...interface{}) {
	l.Debug(FormatLog(tag, msg), args...)
}

// InfoTag 记录带分类标签的信息日志
func (l *Logger) InfoTag(tag, msg string, args ...interface{}) {
	l.Info(FormatLog(tag, msg), args...)
}

// WarnTag 记录带分类标签的警告日志
func (l *Logger) WarnTag(tag, msg string, args ...interface{}) {
	l.Warn(FormatLog(tag, msg), args...)
}

// ErrorTag 记录带分类标签的错误日志
func (l *Logger) ErrorTag(tag, msg string, args ...interface{}) {
	l.Error(FormatLog(tag, msg), args...)
}

// Slog exposes the underlying slog text logger for structured integrations.
func (l *Logger) Slog() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.textLogger
}

// TaggedLogger 将所有日志固定到一个模块标签下，供领域包使用
type TaggedLogger struct {
	base *Logger
	tag  string
}

// WithTag 返回固定标签的日志视图
func (l *Logger) WithTag(tag string) *TaggedLogger {
	return &TaggedLogger{base: l, tag: tag}
}

func (t *TaggedLogger) Debug(format string, args ...any) { t.base.DebugTag(t.tag, format, args...) }
func (t *TaggedLogger) Info(format string, args ...any)  { t.base.InfoTag(t.tag, format, args...) }
func (t *TaggedLogger) Warn(format string, args ...any)  { t.base.WarnTag(t.tag, format, args...) }
func (t *TaggedLogger) Error(format string, args ...any) { t.base.ErrorTag(t.tag, format, args...) }
