package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/ns2250225/live-qrcode/internal/dto"
	"github.com/ns2250225/live-qrcode/internal/service"
	"github.com/ns2250225/live-qrcode/pkg/response"
)

// UserHandler 管理端用户 HTTP 处理器，路由层限定 ADMIN
type UserHandler struct {
	userSvc service.UserService
}

// NewUserHandler 创建 UserHandler
func NewUserHandler(userSvc service.UserService) *UserHandler {
	return &UserHandler{userSvc: userSvc}
}

// ListUsers 用户列表（含活码数与邀请人数）
// GET /api/v1/admin/users
func (h *UserHandler) ListUsers(c *gin.Context) {
	var req dto.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, response.CodeBadRequest, "参数校验失败")
		return
	}

	list, total, err := h.userSvc.List(c.Request.Context(), &req)
	if err != nil {
		response.InternalError(c)
		return
	}

	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}

// SetPoints 设置积分
// PUT /api/v1/admin/users/:id/points
func (h *UserHandler) SetPoints(c *gin.Context) {
	var req dto.SetPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, response.CodeBadRequest, "积分必须是整数")
		return
	}

	if err := h.userSvc.SetPoints(c.Request.Context(), c.Param("id"), *req.Points); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.NotFound(c, response.CodeUserNotFound, "用户不存在")
			return
		}
		response.InternalError(c)
		return
	}

	response.OK(c, gin.H{"points": *req.Points})
}

// SetRole 设置角色，新角色在目标用户下次登录后生效
// PUT /api/v1/admin/users/:id/role
func (h *UserHandler) SetRole(c *gin.Context) {
	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, response.CodeBadRequest, "参数校验失败")
		return
	}

	if err := h.userSvc.SetRole(c.Request.Context(), callerID, c.Param("id"), req.Role); err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			response.NotFound(c, response.CodeUserNotFound, "用户不存在")
		case errors.Is(err, service.ErrUserSelfRoleChange):
			response.BadRequest(c, response.CodeSelfRoleChange, "不能修改自己的角色")
		case errors.Is(err, service.ErrInvalidRole):
			response.BadRequest(c, response.CodeBadRequest, "无效的角色")
		default:
			response.InternalError(c)
		}
		return
	}

	response.OK(c, nil)
}
