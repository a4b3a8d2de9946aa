package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ns2250225/live-qrcode/pkg/storage"
)

// uploadCSP 上传内容与站点同源，禁止 svg 等文件执行脚本或加载外部资源
const uploadCSP = "default-src 'none'; style-src 'unsafe-inline'; sandbox"

// UploadHandler 上传文件读取处理器，公开访问
type UploadHandler struct {
	blobs storage.BlobStore
}

// NewUploadHandler 创建 UploadHandler
func NewUploadHandler(blobs storage.BlobStore) *UploadHandler {
	return &UploadHandler{blobs: blobs}
}

// Serve 按存储名返回文件，存储名唯一且不可变，允许长期缓存
// GET /uploads/:filename
func (h *UploadHandler) Serve(c *gin.Context) {
	name := c.Param("filename")
	if !storage.ValidName(name) {
		c.String(http.StatusForbidden, "Forbidden")
		return
	}

	body, contentType, err := h.blobs.Open(c.Request.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.String(http.StatusNotFound, "Not Found")
		case errors.Is(err, storage.ErrInvalidName):
			c.String(http.StatusForbidden, "Forbidden")
		default:
			c.String(http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}
	defer body.Close()

	c.DataFromReader(http.StatusOK, -1, contentType, body, map[string]string{
		"Cache-Control":           "public, max-age=31536000, immutable",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": uploadCSP,
	})
}
