package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"licence-server-go/internal/domain/customkeys"
	"licence-server-go/internal/domain/eventbus/repository"
	httptransport "licence-server-go/internal/transport/http"
)

func (s *Service) customKeysReady(c *gin.Context) bool {
	if s.customKeys == nil {
		httptransport.RespondError(c, http.StatusServiceUnavailable, "外部密钥未启用", nil)
		return false
	}
	return true
}

func (s *Service) handleCustomKeys(c *gin.Context) {
	if !s.customKeysReady(c) {
		return
	}
	entries := s.customKeys.Snapshot()
	if entries == nil {
		entries = []customkeys.Entry{}
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"version":   s.customKeys.Version(),
		"loaded_at": s.customKeys.LoadedAt(),
		"keys":      entries,
	}, "")
}

func (s *Service) handleSweepCustomKeys(c *gin.Context) {
	if !s.customKeysReady(c) {
		return
	}
	removed := s.customKeys.Sweep()
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"removed": removed}, "")
}

func (s *Service) handleReloadCustomKeys(c *gin.Context) {
	if !s.customKeysReady(c) {
		return
	}
	stats, err := s.customKeys.Reload()
	if err != nil {
		s.logger.WarnTag(logTag, "手动重新加载密钥文件失败: %v", err)
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"version": s.customKeys.Version(),
		"stats":   stats,
	}, "")
}

func (s *Service) handleEvents(c *gin.Context) {
	if s.events == nil {
		httptransport.RespondError(c, http.StatusServiceUnavailable, "审计未启用", nil)
		return
	}
	limit := defaultEvents
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httptransport.RespondError(c, http.StatusBadRequest, "limit 无效", nil)
			return
		}
		limit = min(n, maxEvents)
	}

	ctx := c.Request.Context()
	var (
		events []repository.Event
		err    error
	)
	if eventType := c.Query("type"); eventType != "" {
		events, err = s.events.FindByEventType(ctx, eventType, limit)
	} else {
		events, err = s.events.Recent(ctx, limit)
	}
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	if events == nil {
		events = []repository.Event{}
	}
	httptransport.RespondSuccess(c, http.StatusOK, events, "")
}
