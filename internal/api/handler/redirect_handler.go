package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ns2250225/live-qrcode/internal/service"
)

// RedirectHandler 扫码跳转处理器，公开访问
type RedirectHandler struct {
	redirectSvc service.RedirectService
}

// NewRedirectHandler 创建 RedirectHandler
func NewRedirectHandler(redirectSvc service.RedirectService) *RedirectHandler {
	return &RedirectHandler{redirectSvc: redirectSvc}
}

// Resolve 短码跳转，每次都必须回源，禁止任何缓存
// GET /q/:code
func (h *RedirectHandler) Resolve(c *gin.Context) {
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")

	target, err := h.redirectSvc.Resolve(c.Request.Context(), c.Param("code"), OriginFromRequest(c.Request))
	if err != nil {
		if errors.Is(err, service.ErrCodeNotFound) {
			c.String(http.StatusNotFound, "Not Found or Inactive")
			return
		}
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.Redirect(http.StatusFound, target.Location)
}

// OriginFromRequest 取入站请求的协议与主机，反向代理场景优先 X-Forwarded-Proto
func OriginFromRequest(r *http.Request) service.Origin {
	scheme := ""
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return service.Origin{Scheme: scheme, Host: r.Host}
}
