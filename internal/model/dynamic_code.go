package model

import "gorm.io/gorm"

// 活码类型
const (
	CodeTypeLink  = "LINK"
	CodeTypeImage = "IMAGE"
)

// DynamicCode 活码表，对应 dynamic_codes
// ShortCode 分配后不可变；TargetContent 可原地替换
type DynamicCode struct {
	ID            string `gorm:"type:uuid;primaryKey"                                   json:"id"`
	UserID        string `gorm:"type:uuid;not null;index:idx_dynamic_codes_user_created" json:"user_id"`
	ShortCode     string `gorm:"type:varchar(16);not null;uniqueIndex:idx_dynamic_codes_short_code" json:"short_code"`
	Type          string `gorm:"type:varchar(10);not null"                              json:"type"`
	TargetContent string `gorm:"type:text;not null"                                     json:"target_content"`
	Visits        int64  `gorm:"not null;default:0"                                     json:"visits"`
	Active        bool   `gorm:"not null;default:true"                                  json:"active"`
	BaseModel
}

// TableName 指定表名
func (DynamicCode) TableName() string { return "dynamic_codes" }

// BeforeCreate 生成主键
func (d *DynamicCode) BeforeCreate(_ *gorm.DB) error {
	if d.ID == "" {
		d.ID = newID()
	}
	return nil
}

// IsValidCodeType 校验活码类型
func IsValidCodeType(t string) bool {
	return t == CodeTypeLink || t == CodeTypeImage
}
