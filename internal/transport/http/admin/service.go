package admin

import (
	"context"
	"crypto/subtle"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"licence-server-go/internal/domain/customkeys"
	"licence-server-go/internal/domain/eventbus/repository"
	"licence-server-go/internal/domain/licence"
	"licence-server-go/internal/platform/config"
	"licence-server-go/internal/platform/errors"
	httptransport "licence-server-go/internal/transport/http"
	"licence-server-go/internal/utils"
)

const (
	logTag        = "管理"
	ctxAdminUser  = "admin_user"
	defaultEvents = 50
	maxEvents     = 500
)

// CustomKeys 管理端对外部密钥缓存的操作
type CustomKeys interface {
	Snapshot() []customkeys.Entry
	Version() uint64
	LoadedAt() time.Time
	Sweep() int
	Reload() (customkeys.LoadStats, error)
}

// Options 管理端依赖
type Options struct {
	Config     config.AdminConfig
	Manager    *licence.Manager
	CustomKeys CustomKeys
	// Events 为空表示未启用审计
	Events repository.EventRepository
	Logger *utils.Logger
}

// Service 管理端 HTTP 服务
type Service struct {
	cfg        config.AdminConfig
	manager    *licence.Manager
	customKeys CustomKeys
	events     repository.EventRepository
	logger     *utils.Logger
	token      *Token
	startedAt  time.Time
}

// NewService 创建管理端服务实例
func NewService(opts Options) (*Service, error) {
	if opts.Manager == nil {
		return nil, errors.New(errors.KindConfig, "admin.new", "licence manager is required")
	}
	if opts.Config.Username == "" || opts.Config.Password == "" {
		return nil, errors.New(errors.KindConfig, "admin.new", "admin credentials are required")
	}

	secret := opts.Config.JWTSecret
	if secret == "" {
		// 未配置密钥时令牌只在本进程内有效
		secret = uuid.NewString()
		opts.Logger.WarnTag(logTag, "未配置 admin.jwt_secret，重启后已签发的令牌失效")
	}

	return &Service{
		cfg:        opts.Config,
		manager:    opts.Manager,
		customKeys: opts.CustomKeys,
		events:     opts.Events,
		logger:     opts.Logger,
		token:      NewToken(secret, opts.Config.TokenTTL),
		startedAt:  time.Now(),
	}, nil
}

// Register 注册管理端路由；/api/login 之外的接口都需要认证
func (s *Service) Register(r *httptransport.Router) {
	r.Engine.GET("/admin", s.AuthMiddleware(), s.handleAdminPage)
	r.API.POST("/login", s.handleLogin)

	secured := r.Secured
	secured.GET("/health", s.handleHealth)

	secured.GET("/keys", s.handleListKeys)
	secured.POST("/keys", s.handleCreateKey)
	secured.GET("/keys/generate", s.handleGenerateKey)
	secured.GET("/keys/:key", s.handleGetKey)
	secured.POST("/keys/:key/extend", s.handleExtendKey)
	secured.POST("/keys/:key/active/:flag", s.handleSetActive)
	secured.POST("/keys/:key/max/:n", s.handleSetMaxBind)
	secured.GET("/keys/:key/bindings", s.handleBindings)
	secured.GET("/keys/:key/check", s.handleCheck)
	secured.POST("/validate", s.handleValidate)

	secured.GET("/custom-keys", s.handleCustomKeys)
	secured.POST("/custom-keys/sweep", s.handleSweepCustomKeys)
	secured.POST("/custom-keys/reload", s.handleReloadCustomKeys)

	secured.GET("/events", s.handleEvents)

	s.logger.InfoTag(logTag, "管理端路由注册完成")
}

// AuthMiddleware 接受 HTTP Basic 或 Bearer 令牌
func (s *Service) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		switch {
		case strings.HasPrefix(header, "Bearer "):
			user, err := s.token.Verify(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
			if err != nil {
				s.logger.WarnTag(logTag, "无效的令牌: %v", err)
				s.unauthorized(c, "无效的token")
				return
			}
			c.Set(ctxAdminUser, user)
		case strings.HasPrefix(header, "Basic "):
			user, pass, ok := c.Request.BasicAuth()
			if !ok || !s.checkCredentials(user, pass) {
				s.logger.WarnTag(logTag, "管理员认证失败 user=%s ip=%s", user, c.ClientIP())
				s.unauthorized(c, "用户名或密码错误")
				return
			}
			c.Set(ctxAdminUser, user)
		default:
			s.unauthorized(c, "未提供认证信息")
			return
		}
		c.Next()
	}
}

func (s *Service) checkCredentials(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) == 1
	return userOK && passOK
}

func (s *Service) unauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", `Basic realm="licence admin"`)
	httptransport.RespondError(c, http.StatusUnauthorized, message, nil)
	c.Abort()
}

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

func (s *Service) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "缺少用户名或密码", nil)
		return
	}
	if !s.checkCredentials(req.Username, req.Password) {
		s.logger.WarnTag(logTag, "登录失败 user=%s ip=%s", req.Username, c.ClientIP())
		httptransport.RespondError(c, http.StatusUnauthorized, "用户名或密码错误", nil)
		return
	}

	token, expiresAt, err := s.token.Generate(req.Username)
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.Unix(),
	}, "登录成功")
}

func (s *Service) handleHealth(c *gin.Context) {
	data := gin.H{
		"status":     "ok",
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
	}
	if stats := processStats(c.Request.Context()); stats != nil {
		data["process"] = stats
	}
	if s.customKeys != nil {
		data["custom_keys"] = gin.H{
			"count":   len(s.customKeys.Snapshot()),
			"version": s.customKeys.Version(),
		}
	}
	httptransport.RespondSuccess(c, http.StatusOK, data, "")
}

// processStats 读取本进程的资源占用，失败时返回 nil
func processStats(ctx context.Context) gin.H {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil
	}
	stats := gin.H{"pid": p.Pid}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		stats["rss_bytes"] = mem.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		stats["cpu_percent"] = cpu
	}
	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		stats["threads"] = threads
	}
	return stats
}

func (s *Service) handleAdminPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(adminPage))
}
