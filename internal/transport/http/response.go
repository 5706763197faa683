package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"licence-server-go/internal/platform/errors"
)

// APIResponse 定义统一的接口返回结构体
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

// RespondSuccess 返回成功响应
func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}

	c.JSON(httpStatus, APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondError 返回失败响应
func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// StatusFor 将领域错误映射为 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errors.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrStorageUnavailable), errors.IsKind(err, errors.KindStorage):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrSourceUnreadable), errors.Is(err, errors.ErrSourceMalformed):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// RespondErr 按错误类型返回失败响应
func RespondErr(c *gin.Context, err error) {
	RespondError(c, StatusFor(err), err.Error(), nil)
}
