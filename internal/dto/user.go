package dto

import "time"

// ── 管理端用户 DTO ──

// AdminUserResponse 管理端用户列表行
type AdminUserResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	Points       int       `json:"points"`
	ReferralCode string    `json:"referral_code"`
	InvitedBy    *string   `json:"invited_by,omitempty"`
	CodeCount    int64     `json:"code_count"`
	InviteeCount int64     `json:"invitee_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// SetPointsRequest 管理员设置积分，允许 64 位范围内的任意整数（含负数）
type SetPointsRequest struct {
	Points *int `json:"points" binding:"required"`
}

// SetRoleRequest 管理员设置角色
type SetRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=USER ADMIN"`
}
