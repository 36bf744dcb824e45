// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"dream-weaver-go/internal/service"

	"github.com/gin-gonic/gin"
)

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// statusOf 把业务错误映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrChatBusy):
		return http.StatusConflict
	case errors.Is(err, service.ErrDreamNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrEmptyMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// surfacedInState 报告该错误是否已经通过 Error 状态呈现给用户。
// 这类错误以正常响应返回快照，由客户端根据快照渲染错误信息。
func surfacedInState(err error) bool {
	return errors.Is(err, service.ErrUnsupportedCapability) ||
		errors.Is(err, service.ErrTranscriptTooShort) ||
		errors.Is(err, service.ErrAnalysisFailure)
}
