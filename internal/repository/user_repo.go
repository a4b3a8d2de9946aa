package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ns2250225/live-qrcode/internal/model"
	pkgerrors "github.com/ns2250225/live-qrcode/pkg/errors"
)

// UserRepository 用户数据访问接口
// 积分字段只能通过 AddPoints / DebitPoints / SetPoints 原子修改
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByReferralCode(ctx context.Context, code string) (*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByIP(ctx context.Context, ip string) (bool, error)
	ExistsByReferralCode(ctx context.Context, code string) (bool, error)
	// AddPoints 原子增加积分，用户不存在时返回 gorm.ErrRecordNotFound
	AddPoints(ctx context.Context, id string, delta int) error
	// DebitPoints 条件扣减：仅当 points >= amount 时扣减，返回是否扣减成功
	DebitPoints(ctx context.Context, id string, amount int) (bool, error)
	SetPoints(ctx context.Context, id string, points int) error
	SetRole(ctx context.Context, id string, role string) error
	SetPasswordHash(ctx context.Context, id string, hash string) error
	ListWithStats(ctx context.Context, offset, limit int) ([]model.UserWithStats, int64, error)
}

// userRepo UserRepository 的 GORM 实现
type userRepo struct {
	db *gorm.DB
}

// NewUserRepo 创建 UserRepository 实例
func NewUserRepo(db *gorm.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	return pkgerrors.NormalizeDuplicate(r.db.WithContext(ctx).Create(user).Error)
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.first(ctx, "user_id = ?", id)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *userRepo) GetByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return r.first(ctx, "referral_code = ?", code)
}

func (r *userRepo) first(ctx context.Context, query string, arg interface{}) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where(query, arg).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "email = ?", email)
}

func (r *userRepo) ExistsByIP(ctx context.Context, ip string) (bool, error) {
	return r.exists(ctx, "ip_address = ?", ip)
}

func (r *userRepo) ExistsByReferralCode(ctx context.Context, code string) (bool, error) {
	return r.exists(ctx, "referral_code = ?", code)
}

func (r *userRepo) exists(ctx context.Context, query string, arg interface{}) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where(query, arg).
		Count(&count).Error
	return count > 0, err
}

func (r *userRepo) AddPoints(ctx context.Context, id string, delta int) error {
	res := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("user_id = ?", id).
		Update("points", gorm.Expr("points + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DebitPoints 单条 UPDATE 完成检查与扣减，并发请求由数据库行锁串行化
func (r *userRepo) DebitPoints(ctx context.Context, id string, amount int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("user_id = ? AND points >= ?", id, amount).
		Update("points", gorm.Expr("points - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *userRepo) SetPoints(ctx context.Context, id string, points int) error {
	return r.updateColumn(ctx, id, "points", points)
}

func (r *userRepo) SetRole(ctx context.Context, id string, role string) error {
	return r.updateColumn(ctx, id, "role", role)
}

func (r *userRepo) SetPasswordHash(ctx context.Context, id string, hash string) error {
	return r.updateColumn(ctx, id, "password_hash", hash)
}

func (r *userRepo) updateColumn(ctx context.Context, id, column string, value interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("user_id = ?", id).
		Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *userRepo) ListWithStats(ctx context.Context, offset, limit int) ([]model.UserWithStats, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []model.UserWithStats
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Select(`users.*,
			(SELECT COUNT(*) FROM dynamic_codes dc WHERE dc.user_id = users.user_id) AS code_count,
			(SELECT COUNT(*) FROM users inv WHERE inv.invited_by = users.user_id) AS invitee_count`).
		Order("users.created_at DESC").
		Offset(offset).Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	return rows, total, nil
}

// IsNotFound 判断是否为记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
