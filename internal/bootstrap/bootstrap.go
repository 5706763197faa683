package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"licence-server-go/internal/domain/customkeys"
	"licence-server-go/internal/domain/eventbus"
	eventinfra "licence-server-go/internal/domain/eventbus/infrastructure"
	"licence-server-go/internal/domain/eventbus/repository"
	"licence-server-go/internal/domain/licence"
	"licence-server-go/internal/domain/licence/lock"
	"licence-server-go/internal/domain/licence/store"
	platformconfig "licence-server-go/internal/platform/config"
	platformerrors "licence-server-go/internal/platform/errors"
	platformlogging "licence-server-go/internal/platform/logging"
	platformobservability "licence-server-go/internal/platform/observability"
	platformstorage "licence-server-go/internal/platform/storage"
	httptransport "licence-server-go/internal/transport/http"
	httpadmin "licence-server-go/internal/transport/http/admin"
	"licence-server-go/internal/utils"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

// Options 控制启动入口，零值即读取默认配置文件
type Options struct {
	ConfigPath string
	// Loader 非空时忽略 ConfigPath
	Loader *platformconfig.Loader
}

type appState struct {
	opts Options

	config                *platformconfig.Config
	configPath            string
	configWarnings        []string
	logProvider           *platformlogging.Logger
	logger                *utils.Logger
	slogger               *slog.Logger
	observabilityShutdown platformobservability.ShutdownFunc

	db        *gorm.DB
	bus       *eventbus.AsyncEventBus
	events    repository.EventRepository
	store     store.Store
	locker    lock.Locker
	keys      *customkeys.Service
	manager   *licence.Manager
	adminHTTP *httpadmin.Service
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context, opts Options) error {
	state := &appState{opts: opts}
	defer state.close()

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	logger := state.logger
	if state.config == nil || logger == nil || state.manager == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger/manager not initialised",
		)
	}
	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		_ = group.Wait()
		return err
	}
	logger.InfoTag("引导", "服务已成功启动")

	return waitForShutdown(signalCtx, groupCtx, cancel, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *utils.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("引导", "初始化依赖关系概览")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("引导", "%s (%s)", step.Title, step.ID)
			continue
		}
		logger.InfoTag("引导", "%s (%s) <- %s", step.Title, step.ID, strings.Join(step.DependsOn, ", "))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph 按依赖顺序列出初始化步骤
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "加载配置",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "初始化日志",
			DependsOn: []string{"config:load"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "设置可观测性钩子",
			DependsOn: []string{"logging:init-provider"},
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "初始化数据库",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "events:init-bus",
			Title:     "初始化事件总线",
			DependsOn: []string{"storage:init-database"},
			Execute:   initEventBusStep,
		},
		{
			ID:        "licence:init-store",
			Title:     "初始化许可存储",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindStorage,
			Execute:   initLicenceStoreStep,
		},
		{
			ID:        "customkeys:init-cache",
			Title:     "加载外部密钥",
			DependsOn: []string{"events:init-bus"},
			Kind:      platformerrors.KindSource,
			Execute:   initCustomKeysStep,
		},
		{
			ID:        "licence:init-manager",
			Title:     "初始化许可管理器",
			DependsOn: []string{"licence:init-store", "customkeys:init-cache", "events:init-bus"},
			Kind:      platformerrors.KindDomain,
			Execute:   initManagerStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := state.opts.Loader
	if loader == nil {
		loader = platformconfig.NewLoader().WithPath(state.opts.ConfigPath)
	}
	res, err := loader.Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load config", err)
	}
	state.config = res.Config
	state.configPath = res.Path
	state.configWarnings = res.Warnings
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}

	logProvider, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logProvider = logProvider
	state.logger = logProvider.Legacy()
	state.slogger = logProvider.Slog()
	utils.DefaultLogger = state.logger

	state.logger.InfoTag("引导", "日志模块就绪 [%s] %s", state.config.Log.Level, state.configPath)
	for _, warning := range state.configWarnings {
		state.logger.WarnTag("配置", warning)
	}
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	cfg := platformobservability.Config{
		Enabled: state.config.Observability.Enabled || strings.EqualFold(state.config.Log.Level, "debug"),
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

// initDatabaseStep memory 驱动不需要数据库；此时审计也随之关闭
func initDatabaseStep(_ context.Context, state *appState) error {
	dbCfg := state.config.Database
	if strings.EqualFold(dbCfg.Driver, store.DriverMemory) {
		state.logger.WarnTag("存储", "使用内存许可存储，重启后数据丢失")
		return nil
	}

	db, err := platformstorage.Open(dbCfg)
	if err != nil {
		return err
	}
	state.db = db

	applied, err := platformstorage.Migrate(db)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		state.logger.InfoTag("存储", "已执行数据库迁移: %s", strings.Join(applied, ", "))
	}
	state.logger.InfoTag("存储", "数据库就绪 %s (max_open_conns=%d)", dbCfg.DSN, dbCfg.MaxOpenConns)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	bus := eventbus.NewAsyncEventBus(state.config.Events.Workers, state.logger.WithTag("事件"))
	eventbus.Install(bus)
	state.bus = bus

	if err := eventbus.SetupEventHandlers(bus, state.logger.WithTag("事件")); err != nil {
		return err
	}

	if !state.config.Events.Audit {
		return nil
	}
	if state.db == nil {
		state.logger.WarnTag("事件", "未使用数据库，审计已关闭")
		return nil
	}
	repo := eventinfra.NewEventRepository(state.db)
	if err := eventinfra.RegisterAudit(bus, repo, state.logger.WithTag("审计")); err != nil {
		return err
	}
	state.events = repo
	return nil
}

func initLicenceStoreStep(_ context.Context, state *appState) error {
	st, err := store.New(
		store.Config{Driver: strings.ToLower(state.config.Database.Driver)},
		store.Dependencies{SQLiteDB: state.db},
	)
	if err != nil {
		return err
	}
	state.store = st

	lockCfg := state.config.Licence.Lock
	locker, err := lock.New(lock.Config{
		Driver: strings.ToLower(lockCfg.Driver),
		TTL:    lockCfg.TTL,
		Redis: &lock.RedisConfig{
			Addr:     lockCfg.Redis.Addr,
			Username: lockCfg.Redis.Username,
			Password: lockCfg.Redis.Password,
			DB:       lockCfg.Redis.DB,
			Prefix:   lockCfg.Redis.Prefix,
		},
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindPlatform, "licence:init-lock", "failed to create key locker", err)
	}
	state.locker = locker

	count, err := st.Count(context.Background())
	if err != nil {
		return err
	}
	state.logger.InfoTag("许可", "许可存储就绪 driver=%s lock=%s, 共 %d 个许可", state.config.Database.Driver, lockCfg.Driver, count)
	return nil
}

func initCustomKeysStep(_ context.Context, state *appState) error {
	ck := state.config.CustomKeys
	svc := customkeys.NewService(customkeys.ServiceOptions{
		Path:          ck.Path,
		Watch:         ck.Watch,
		Debounce:      ck.Debounce,
		SweepInterval: ck.SweepInterval,
		Logger:        state.logger.WithTag("密钥"),
		Publisher:     state.bus,
	})
	svc.Start()
	state.keys = svc
	return nil
}

func initManagerStep(_ context.Context, state *appState) error {
	manager, err := licence.NewManager(licence.Options{
		Store:             state.store,
		Locker:            state.locker,
		Cache:             state.keys.Cache(),
		Publisher:         state.bus,
		Logger:            state.logger.WithTag("许可"),
		DefaultMaxBindIDs: state.config.Licence.DefaultMaxBindIDs,
		DefaultDuration:   state.config.Licence.DefaultDuration,
	})
	if err != nil {
		return err
	}
	state.manager = manager
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	keys := state.keys
	g.Go(func() error {
		return keys.Run(groupCtx)
	})

	if !state.config.Admin.Enabled {
		state.logger.WarnTag("管理", "管理端未启用")
		return nil
	}
	if _, err := startAdminServer(state, g, groupCtx); err != nil {
		return fmt.Errorf("启动管理端失败: %w", err)
	}
	return nil
}

func startAdminServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	config := state.config
	logger := state.logger

	svc, err := httpadmin.NewService(httpadmin.Options{
		Config:     config.Admin,
		Manager:    state.manager,
		CustomKeys: state.keys.Cache(),
		Events:     state.events,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	state.adminHTTP = svc

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config:         config,
		Logger:         logger,
		AuthMiddleware: svc.AuthMiddleware(),
		StaticRoot:     config.Admin.StaticDir,
	})
	if err != nil {
		return nil, err
	}
	svc.Register(httpRouter)

	httpRouter.Engine.NoRoute(func(c *gin.Context) {
		httptransport.RespondError(c, http.StatusNotFound, "not found", gin.H{})
	})

	addr := net.JoinHostPort(config.Admin.IP, strconv.Itoa(config.Admin.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "admin:listen", "failed to listen on "+addr, err)
	}

	httpServer := &http.Server{
		Handler:           httpRouter.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "管理端已启动，访问地址 http://%s/admin", listener.Addr())

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP 服务运行失败: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

// waitForShutdown 等待系统信号或任一服务退出
func waitForShutdown(
	signalCtx context.Context,
	groupCtx context.Context,
	cancel context.CancelFunc,
	logger *utils.Logger,
	g *errgroup.Group,
) error {
	select {
	case <-signalCtx.Done():
		logger.InfoTag("引导", "收到系统信号 %v，正在进行资源清理", context.Cause(signalCtx))
	case <-groupCtx.Done():
		logger.WarnTag("引导", "服务异常退出，正在进行资源清理")
	}

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("引导", "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag("引导", "所有服务已成功关闭")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("引导", "服务关闭超时，已强制退出")
		return errors.New("服务关闭超时")
	}
	return nil
}

// close 逆序释放资源；未初始化的字段直接跳过
func (s *appState) close() {
	logger := s.logger

	if s.keys != nil {
		if err := s.keys.Stop(); err != nil {
			logger.WarnTag("密钥", "停止密钥文件监听失败: %v", err)
		}
	}
	if s.bus != nil {
		// 先排空队列，审计写入完成后再关闭数据库
		s.bus.Stop()
		eventbus.Install(nil)
	}
	if s.locker != nil {
		if err := s.locker.Close(); err != nil {
			logger.WarnTag("许可", "关闭锁失败: %v", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(context.Background()); err != nil {
			logger.WarnTag("许可", "关闭许可存储失败: %v", err)
		}
	}
	if s.db != nil {
		if err := platformstorage.Close(s.db); err != nil {
			logger.WarnTag("存储", "关闭数据库失败: %v", err)
		}
	}
	if s.observabilityShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.observabilityShutdown(shutdownCtx); err != nil {
			logger.WarnTag("引导", "可观测性未正常关闭: %v", err)
		}
		cancel()
	}
	if s.logProvider != nil {
		s.logProvider.Close()
	}
}
