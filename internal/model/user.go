package model

import "gorm.io/gorm"

// 用户角色
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User 用户表，对应 users
// IPAddress 为空表示运维创建的账号，不参与「一地址一账号」校验
type User struct {
	UserID       string  `gorm:"type:uuid;primaryKey"                 json:"user_id"`
	Email        string  `gorm:"type:varchar(255);not null;uniqueIndex:idx_users_email" json:"email"`
	PasswordHash string  `gorm:"type:varchar(255);not null"           json:"-"`
	Role         string  `gorm:"type:varchar(10);not null;default:'USER'" json:"role"`
	Points       int     `gorm:"type:bigint;not null;default:0"       json:"points"`
	ReferralCode string  `gorm:"type:varchar(16);not null;uniqueIndex:idx_users_referral_code" json:"referral_code"`
	InvitedBy    *string `gorm:"type:uuid;index:idx_users_invited_by" json:"invited_by,omitempty"`
	IPAddress    *string `gorm:"type:varchar(64);uniqueIndex:idx_users_ip_address" json:"-"`
	BaseModel
}

// TableName 指定表名
func (User) TableName() string { return "users" }

// BeforeCreate 生成主键
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.UserID == "" {
		u.UserID = newID()
	}
	return nil
}

// IsAdmin 是否管理员
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// UserWithStats 管理端用户列表行（含码数量与邀请人数）
type UserWithStats struct {
	User
	CodeCount    int64 `json:"code_count"`
	InviteeCount int64 `json:"invitee_count"`
}
