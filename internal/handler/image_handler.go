package handler

import (
	"context"
	"net/http"
	"time"

	"dream-weaver-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ImageLinker 为存储中的图片生成限时下载地址，*storage.MinioImageStore 实现了它。
type ImageLinker interface {
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// ImageHandler 把稳定的图片地址重定向到对象存储的预签名地址。
type ImageHandler struct {
	linker ImageLinker
	expiry time.Duration
}

// NewImageHandler 创建一个新的 ImageHandler 实例。
func NewImageHandler(linker ImageLinker, expiry time.Duration) *ImageHandler {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &ImageHandler{linker: linker, expiry: expiry}
}

// Redirect 处理 GET /api/v1/images/*object。
func (h *ImageHandler) Redirect(c *gin.Context) {
	objectName := c.Param("object")
	url, err := h.linker.PresignedURL(c.Request.Context(), objectName, h.expiry)
	if err != nil {
		log.Warnf("[ImageHandler] 生成图片地址失败, object: %s, error: %v", objectName, err)
		fail(c, http.StatusNotFound, "图片不存在")
		return
	}
	c.Redirect(http.StatusFound, url)
}
