package admin

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"licence-server-go/internal/domain/licence"
	"licence-server-go/internal/domain/licence/model"
	"licence-server-go/internal/platform/errors"
	httptransport "licence-server-go/internal/transport/http"
)

// keyView 列表/详情中单个许可的展示结构
type keyView struct {
	licence.LicenceRecord
	Valid     bool `json:"valid"`
	Permanent bool `json:"permanent"`
}

func (s *Service) view(rec *licence.LicenceRecord, now int64) keyView {
	return keyView{
		LicenceRecord: *rec,
		Valid:         rec.ValidAt(now),
		Permanent:     rec.Permanent(),
	}
}

func (s *Service) now() int64 { return s.manager.Now() }

// handleListKeys 分页列出许可；带 key 参数时只查这一条
func (s *Service) handleListKeys(c *gin.Context) {
	ctx := c.Request.Context()
	if key := strings.TrimSpace(c.Query("key")); key != "" {
		s.respondRecord(c, key)
		return
	}

	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}

	total, records, err := s.manager.List(ctx, offset, limit)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	now := s.now()
	items := make([]keyView, 0, len(records))
	for i := range records {
		items = append(items, s.view(&records[i], now))
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"total":  total,
		"offset": offset,
		"limit":  licence.ClampLimit(limit),
		"items":  items,
	}, "")
}

func (s *Service) handleGetKey(c *gin.Context) {
	s.respondRecord(c, c.Param("key"))
}

func (s *Service) respondRecord(c *gin.Context, key string) {
	rec, err := s.manager.Lookup(c.Request.Context(), key)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	if rec == nil {
		httptransport.RespondError(c, http.StatusNotFound, "许可不存在", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, s.view(rec, s.now()), "")
}

type createRequest struct {
	Key        string `json:"key" form:"key"`
	Duration   string `json:"duration" form:"duration"`
	Note       string `json:"note" form:"note"`
	MaxBindIDs int    `json:"max_bind_ids" form:"max_bind_ids"`
}

func (s *Service) handleCreateKey(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBind(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "请求格式错误", nil)
		return
	}
	rec, err := s.manager.Create(c.Request.Context(), licence.CreateRequest{
		Key:        req.Key,
		Duration:   req.Duration,
		Note:       req.Note,
		MaxBindIDs: req.MaxBindIDs,
	})
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	s.logger.InfoTag(logTag, "%s 新建许可 %s", c.GetString(ctxAdminUser), rec.Key)
	httptransport.RespondSuccess(c, http.StatusCreated, s.view(rec, s.now()), "许可已创建")
}

func (s *Service) handleGenerateKey(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"key": licence.GenerateKey()}, "")
}

func (s *Service) handleExtendKey(c *gin.Context) {
	key := c.Param("key")
	option := c.Query("option")
	if option == "" {
		option = c.PostForm("option")
	}
	if err := s.manager.ExtendByOption(c.Request.Context(), key, option); err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	s.logger.InfoTag(logTag, "%s 续期许可 %s %s", c.GetString(ctxAdminUser), key, option)
	s.respondRecord(c, key)
}

func (s *Service) handleSetActive(c *gin.Context) {
	key := c.Param("key")
	active, err := strconv.ParseBool(c.Param("flag"))
	if err != nil {
		httptransport.RespondErr(c, errors.Domain("admin.set_active", "flag must be a boolean", errors.ErrInvalidArgument))
		return
	}
	if err := s.manager.SetActive(c.Request.Context(), key, active); err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	s.respondRecord(c, key)
}

func (s *Service) handleSetMaxBind(c *gin.Context) {
	key := c.Param("key")
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		httptransport.RespondErr(c, errors.Domain("admin.set_max", "n must be an integer", errors.ErrInvalidArgument))
		return
	}
	if err := s.manager.SetMaxBind(c.Request.Context(), key, n); err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	s.respondRecord(c, key)
}

func (s *Service) handleBindings(c *gin.Context) {
	bindings, err := s.manager.Bindings(c.Request.Context(), c.Param("key"))
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	if bindings == nil {
		bindings = []model.Binding{}
	}
	httptransport.RespondSuccess(c, http.StatusOK, bindings, "")
}

func (s *Service) handleCheck(c *gin.Context) {
	state, err := s.manager.CheckState(c.Request.Context(), c.Param("key"), c.Query("peer"))
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, state, "")
}

type validateRequest struct {
	Key  string `json:"key" form:"key" binding:"required"`
	Peer string `json:"peer" form:"peer" binding:"required"`
}

// handleValidate 与会合服务的校验入口一致：可能真正占用一个设备名额
func (s *Service) handleValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBind(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "缺少 key 或 peer", nil)
		return
	}
	res, err := s.manager.Validate(c.Request.Context(), req.Key, req.Peer)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"allowed": res.Allowed(),
		"source":  res.Source,
		"outcome": res.Result.Outcome.String(),
		"reason":  res.Result.Reason.String(),
	}, "")
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Domain("admin.query", name+" must be an integer", errors.ErrInvalidArgument)
	}
	return n, nil
}
