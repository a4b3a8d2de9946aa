package dto

import (
	"io"
	"time"
)

// ── 活码模块 DTO ──

// CreateCodeRequest 创建活码（multipart/form-data，LINK 类型也可用 JSON）
type CreateCodeRequest struct {
	Type    string `form:"type"     json:"type"     binding:"required,oneof=LINK IMAGE"`
	LinkURL string `form:"link_url" json:"link_url" binding:"omitempty,max=2048"`
}

// UpdateCodeRequest 更新活码目标，短码不可变
type UpdateCodeRequest struct {
	Type    string `form:"type"     json:"type"     binding:"required,oneof=LINK IMAGE"`
	LinkURL string `form:"link_url" json:"link_url" binding:"omitempty,max=2048"`
	Active  *bool  `form:"active"   json:"active"`
}

// Upload 随请求上传的图片
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// CodeResponse 活码详情
type CodeResponse struct {
	ID            string    `json:"id"`
	ShortCode     string    `json:"short_code"`
	ShortURL      string    `json:"short_url"`
	Type          string    `json:"type"`
	TargetContent string    `json:"target_content"`
	Visits        int64     `json:"visits"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CreateCodeResponse 创建结果，附带扣费后的余额
type CreateCodeResponse struct {
	Code   CodeResponse `json:"code"`
	Points int          `json:"points"`
}
