package handler

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ns2250225/live-qrcode/internal/api/middleware"
	"github.com/ns2250225/live-qrcode/pkg/response"
)

// PageHandler 前端页面处理器
// 访问控制已由 Gate 完成，这里只负责返回构建产物
type PageHandler struct {
	root string
}

// NewPageHandler 创建 PageHandler，root 为空时所有页面返回 404
func NewPageHandler(root string) *PageHandler {
	return &PageHandler{root: root}
}

// Serve 作为 NoRoute 处理器：静态文件存在则直接返回，否则回落到 index.html
func (h *PageHandler) Serve(c *gin.Context) {
	if middleware.IsAPI(c.Request.URL.Path) {
		response.NotFound(c, response.CodeBadRequest, "接口不存在")
		return
	}
	if h.root == "" || (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) {
		c.String(http.StatusNotFound, "Not Found")
		return
	}

	rel := strings.TrimPrefix(path.Clean("/"+c.Request.URL.Path), "/")
	if rel != "" {
		full := filepath.Join(h.root, filepath.FromSlash(rel))
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			c.File(full)
			return
		}
	}

	index := filepath.Join(h.root, "index.html")
	if _, err := os.Stat(index); err != nil {
		c.String(http.StatusNotFound, "Not Found")
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.File(index)
}
