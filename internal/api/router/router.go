package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ns2250225/live-qrcode/config"
	"github.com/ns2250225/live-qrcode/internal/api/handler"
	"github.com/ns2250225/live-qrcode/internal/api/middleware"
	"github.com/ns2250225/live-qrcode/internal/model"
	"github.com/ns2250225/live-qrcode/pkg/jwt"
)

// Setup 初始化并返回 Gin 路由引擎
// 鉴权由全局 Gate 统一完成，页面路由经 NoRoute 同样受其约束
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, db *gorm.DB, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Warn("可信代理配置无效，忽略转发头", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))
	r.Use(middleware.Gate(jwtMgr, cfg.Auth.Cookie))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── 公开访问 ──
	r.GET("/q/:code", h.Redirect.Resolve)
	r.GET("/uploads/:filename", h.Upload.Serve)

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 认证模块
		auth := v1.Group("/auth")
		{
			auth.POST("/register", h.Auth.Register)
			auth.POST("/login", h.Auth.Login)
			auth.POST("/logout", h.Auth.Logout)
			auth.GET("/me", h.Auth.GetCurrentUser)
		}

		// 活码模块
		codes := v1.Group("/codes")
		{
			codes.GET("", h.Code.List)
			codes.POST("", h.Code.Create)
			codes.GET("/:id", h.Code.Get)
			codes.PUT("/:id", h.Code.Update)
		}

		// 管理端
		admin := v1.Group("/admin", middleware.RoleAuth(model.RoleAdmin))
		{
			admin.GET("/users", h.User.ListUsers)
			admin.PUT("/users/:id/points", h.User.SetPoints)
			admin.PUT("/users/:id/role", h.User.SetRole)
		}
	}

	// ── 前端页面 ──
	r.NoRoute(h.Page.Serve)

	return r
}
