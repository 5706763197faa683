package customkeys

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"licence-server-go/internal/domain/eventbus"
	"licence-server-go/internal/platform/errors"
	"licence-server-go/internal/platform/observability"
)

const (
	// DefaultKey 首次运行时写入的示例密钥
	DefaultKey      = "123"
	defaultValidity = 365 * 24 * time.Hour
)

// Logger provides the minimal logging contract required by the cache.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// snapshot 发布后不再修改
type snapshot struct {
	entries  map[string]time.Time
	version  uint64
	loadedAt time.Time
}

// Cache 外部密钥的只读快照。读者只做一次原子 Load；写者（重载、清理）由 writeMu 串行。
type Cache struct {
	path      string
	now       func() time.Time
	logger    Logger
	publisher eventbus.Publisher

	current atomic.Pointer[snapshot]
	writeMu sync.Mutex
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	Path      string
	Now       func() time.Time
	Logger    Logger
	Publisher eventbus.Publisher
}

// NewCache creates an empty cache reading from opts.Path.
func NewCache(opts CacheOptions) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Publisher == nil {
		opts.Publisher = eventbus.NopPublisher{}
	}
	c := &Cache{
		path:      opts.Path,
		now:       opts.Now,
		logger:    opts.Logger,
		publisher: opts.Publisher,
	}
	c.current.Store(&snapshot{entries: map[string]time.Time{}})
	return c
}

// Path returns the source file path.
func (c *Cache) Path() string { return c.path }

// EnsureSource 源文件不存在时写入一条示例密钥，返回是否新建
func (c *Cache) EnsureSource() (bool, error) {
	if _, err := os.Stat(c.path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, errors.Wrap(errors.KindSource, "customkeys.ensure", "cannot stat key source",
			fmt.Errorf("%w: %w", errors.ErrSourceUnreadable, err))
	}

	entry := Entry{Key: DefaultKey, Expiry: c.now().Add(defaultValidity).UTC().Truncate(time.Second)}
	if err := Save(c.path, []Entry{entry}); err != nil {
		return false, err
	}
	c.logger.Info("已创建默认密钥文件 %s", c.path)
	return true, nil
}

// Load 解析源文件为新的条目表，不影响当前快照
func (c *Cache) Load() (map[string]time.Time, LoadStats, error) {
	return readFile(c.path, c.now(), c.logger.Warn)
}

// Swap 原子替换当前快照
func (c *Cache) Swap(entries map[string]time.Time) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.swapLocked(entries)
}

func (c *Cache) swapLocked(entries map[string]time.Time) uint64 {
	prev := c.current.Load()
	next := &snapshot{
		entries:  entries,
		version:  prev.version + 1,
		loadedAt: c.now(),
	}
	c.current.Store(next)
	return next.version
}

// Reload 执行 Load+Swap。解析失败时保留旧快照并返回错误。
func (c *Cache) Reload() (stats LoadStats, err error) {
	ctx, end := observability.StartSpan(context.Background(), "customkeys", "reload")
	defer func() { end(err) }()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	entries, stats, err := c.Load()
	if err != nil {
		observability.RecordMetric(ctx, "customkeys.reload", 1, map[string]string{"result": "error"})
		return stats, err
	}
	version := c.swapLocked(entries)
	observability.RecordMetric(ctx, "customkeys.reload", 1, map[string]string{"result": "ok"})

	c.logger.Info("密钥文件已加载: %d 条有效, %d 条过期, %d 条无法解析 (v%d)",
		stats.Loaded, stats.Expired, stats.Unparsable, version)
	eventbus.Emit(c.publisher, eventbus.LicenceEvent{
		Type: eventbus.EventCustomKeysReloaded,
		Detail: map[string]any{
			"loaded":     stats.Loaded,
			"expired":    stats.Expired,
			"unparsable": stats.Unparsable,
			"version":    version,
		},
	})
	return stats, nil
}

// IsValid 密钥在当前快照中且过期时间严格晚于现在
func (c *Cache) IsValid(key string) bool {
	expiry, ok := c.current.Load().entries[key]
	return ok && expiry.After(c.now())
}

// Sweep 移除已过期条目，返回移除数量
func (c *Cache) Sweep() int {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := c.now()
	prev := c.current.Load()
	kept := make(map[string]time.Time, len(prev.entries))
	for key, expiry := range prev.entries {
		if expiry.After(now) {
			kept[key] = expiry
		}
	}
	removed := len(prev.entries) - len(kept)
	if removed == 0 {
		return 0
	}
	c.swapLocked(kept)

	c.logger.Info("清理过期密钥 %d 条", removed)
	eventbus.Emit(c.publisher, eventbus.LicenceEvent{
		Type:   eventbus.EventCustomKeysSwept,
		Detail: map[string]any{"removed": removed},
	})
	return removed
}

// Len returns the number of entries in the current snapshot.
func (c *Cache) Len() int {
	return len(c.current.Load().entries)
}

// Version 每次 Swap 递增
func (c *Cache) Version() uint64 {
	return c.current.Load().version
}

// Keys returns the snapshot keys in sorted order.
func (c *Cache) Keys() []string {
	entries := c.current.Load().entries
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a sorted copy of the current entries.
func (c *Cache) Snapshot() []Entry {
	entries := c.current.Load().entries
	out := make([]Entry, 0, len(entries))
	for k, v := range entries {
		out = append(out, Entry{Key: k, Expiry: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// LoadedAt returns when the current snapshot was published.
func (c *Cache) LoadedAt() time.Time {
	return c.current.Load().loadedAt
}
