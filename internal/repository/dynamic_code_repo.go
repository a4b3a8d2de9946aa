package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ns2250225/live-qrcode/internal/model"
	pkgerrors "github.com/ns2250225/live-qrcode/pkg/errors"
)

// DynamicCodeRepository 活码数据访问接口
type DynamicCodeRepository interface {
	// Create 插入活码；短码冲突时返回 pkgerrors.ErrDuplicateKey
	Create(ctx context.Context, code *model.DynamicCode) error
	GetByID(ctx context.Context, id string) (*model.DynamicCode, error)
	GetByShortCode(ctx context.Context, shortCode string) (*model.DynamicCode, error)
	ExistsByShortCode(ctx context.Context, shortCode string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]model.DynamicCode, error)
	// UpdateTarget 原地替换目标内容与启用状态，短码不变
	UpdateTarget(ctx context.Context, id, codeType, target string, active bool) error
	IncrementVisits(ctx context.Context, id string) error
}

type dynamicCodeRepo struct {
	db *gorm.DB
}

// NewDynamicCodeRepo 创建 DynamicCodeRepository 实例
func NewDynamicCodeRepo(db *gorm.DB) DynamicCodeRepository {
	return &dynamicCodeRepo{db: db}
}

func (r *dynamicCodeRepo) Create(ctx context.Context, code *model.DynamicCode) error {
	return pkgerrors.NormalizeDuplicate(r.db.WithContext(ctx).Create(code).Error)
}

func (r *dynamicCodeRepo) GetByID(ctx context.Context, id string) (*model.DynamicCode, error) {
	var code model.DynamicCode
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&code).Error; err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *dynamicCodeRepo) GetByShortCode(ctx context.Context, shortCode string) (*model.DynamicCode, error) {
	var code model.DynamicCode
	if err := r.db.WithContext(ctx).Where("short_code = ?", shortCode).First(&code).Error; err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *dynamicCodeRepo) ExistsByShortCode(ctx context.Context, shortCode string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.DynamicCode{}).
		Where("short_code = ?", shortCode).
		Count(&count).Error
	return count > 0, err
}

func (r *dynamicCodeRepo) ListByUser(ctx context.Context, userID string) ([]model.DynamicCode, error) {
	var codes []model.DynamicCode
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&codes).Error
	return codes, err
}

func (r *dynamicCodeRepo) UpdateTarget(ctx context.Context, id, codeType, target string, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.DynamicCode{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"type":           codeType,
			"target_content": target,
			"active":         active,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *dynamicCodeRepo) IncrementVisits(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.DynamicCode{}).
		Where("id = ?", id).
		UpdateColumn("visits", gorm.Expr("visits + 1")).Error
}
