package customkeys

import (
	"context"
	"sync"
	"time"

	"licence-server-go/internal/domain/eventbus"
)

// ServiceOptions 外部密钥服务配置
type ServiceOptions struct {
	Path          string
	Watch         bool
	Debounce      time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	Logger        Logger
	Publisher     eventbus.Publisher
}

// Service 负责首次运行、初始加载、文件监听和周期清理
type Service struct {
	cache *Cache
	opts  ServiceOptions

	mu      sync.Mutex
	watcher *Watcher
}

func NewService(opts ServiceOptions) *Service {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Service{
		cache: NewCache(CacheOptions{
			Path:      opts.Path,
			Now:       opts.Now,
			Logger:    opts.Logger,
			Publisher: opts.Publisher,
		}),
		opts: opts,
	}
}

// Cache returns the underlying key cache.
func (s *Service) Cache() *Cache { return s.cache }

// Start 完成首次运行初始化和初始加载，然后启动监听。
// 加载或监听失败只记录日志：缓存保持为空或旧快照，服务照常可用。
func (s *Service) Start() {
	log := s.opts.Logger

	if created, err := s.cache.EnsureSource(); err != nil {
		log.Error("初始化密钥文件 %s 失败: %v", s.cache.Path(), err)
	} else if created {
		log.Info("首次运行，已生成默认密钥 %s", DefaultKey)
	}

	if _, err := s.cache.Reload(); err != nil {
		log.Error("加载密钥文件 %s 失败: %v", s.cache.Path(), err)
	}

	if !s.opts.Watch {
		return
	}
	w, err := NewWatcher(s.cache.Path(), s.opts.Debounce, s.onChange, log)
	if err != nil {
		log.Warn("密钥文件监听启动失败，不支持热加载: %v", err)
		return
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	log.Info("开始监听密钥文件 %s", s.cache.Path())
}

func (s *Service) onChange() {
	if _, err := s.cache.Reload(); err != nil {
		s.opts.Logger.Warn("密钥文件重新加载失败，保留当前密钥: %v", err)
	}
}

// Run 周期清理过期密钥，直到 ctx 结束。SweepInterval <= 0 时只等待 ctx。
func (s *Service) Run(ctx context.Context) error {
	if s.opts.SweepInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.cache.Sweep()
		}
	}
}

// Watching reports whether live reload is active.
func (s *Service) Watching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watcher != nil
}

// Stop 停止文件监听，可重复调用
func (s *Service) Stop() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}
