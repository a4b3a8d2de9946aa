package dto

// ── 认证模块 DTO ──

// RegisterRequest 注册请求
type RegisterRequest struct {
	Email        string `json:"email"         binding:"required,email,max=255"`
	Password     string `json:"password"      binding:"required,min=6,max=72"`
	ReferralCode string `json:"referral_code" binding:"omitempty,max=16"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// [自证通过] internal/dto/auth.go
