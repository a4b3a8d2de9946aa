package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ns2250225/live-qrcode/config"
	"github.com/ns2250225/live-qrcode/internal/model"
	"github.com/ns2250225/live-qrcode/internal/repository"
	pkgerrors "github.com/ns2250225/live-qrcode/pkg/errors"
)

// AdminInitialPoints 命令行创建的管理员初始积分
const AdminInitialPoints = 9999

// ErrWeakPassword 密码不满足最小长度
var ErrWeakPassword = errors.New("密码长度需在 6 到 72 位之间")

// OperatorService 运维命令行使用的账号操作，不经过 HTTP
type OperatorService interface {
	// EnsureAdmin 创建管理员；邮箱已存在时提升为管理员并重置密码。返回是否新建
	EnsureAdmin(ctx context.Context, email, password string) (bool, error)
	// SetPointsByEmail 按邮箱设置积分
	SetPointsByEmail(ctx context.Context, email string, points int) error
}

type operatorService struct {
	repo          *repository.Repository
	ledger        Ledger
	referralCodes *CodeAllocator
	logger        *zap.Logger
}

// NewOperatorService 创建 OperatorService
func NewOperatorService(cfg *config.Config, repo *repository.Repository, logger *zap.Logger) OperatorService {
	return &operatorService{
		repo:          repo,
		referralCodes: NewCodeAllocator("referral_code", referralCodeAlphabet, cfg.Code.ReferralCodeLength, logger),
		logger:        logger,
	}
}

func (s *operatorService) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if len(password) < 6 || len(password) > 72 {
		return false, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}

	existing, err := s.repo.User.GetByEmail(ctx, email)
	switch {
	case err == nil:
		err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
			if !existing.IsAdmin() {
				if err := tx.User.SetRole(ctx, existing.UserID, model.RoleAdmin); err != nil {
					return err
				}
			}
			return tx.User.SetPasswordHash(ctx, existing.UserID, string(hash))
		})
		if err != nil {
			return false, err
		}
		if existing.IsAdmin() {
			s.logger.Info("管理员已存在，已重置密码", zap.String("user_id", existing.UserID))
		} else {
			s.logger.Info("已有用户提升为管理员", zap.String("user_id", existing.UserID))
		}
		return false, nil
	case !repository.IsNotFound(err):
		return false, err
	}

	// 管理员不占用注册地址
	var user *model.User
	err = retryOnCollision(ctx, s.logger, func(ctx context.Context) error {
		err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
			code, err := s.referralCodes.Allocate(ctx, tx.User.ExistsByReferralCode)
			if err != nil {
				return err
			}
			user = &model.User{
				Email:        email,
				PasswordHash: string(hash),
				Role:         model.RoleAdmin,
				Points:       AdminInitialPoints,
				ReferralCode: code,
			}
			return tx.User.Create(ctx, user)
		})
		if pkgerrors.IsDuplicateKey(err) {
			if taken, _ := s.repo.User.ExistsByEmail(ctx, email); taken {
				return ErrEmailExists
			}
			return errors.Join(errCodeCollision, err)
		}
		return err
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("管理员创建成功", zap.String("user_id", user.UserID))
	return true, nil
}

func (s *operatorService) SetPointsByEmail(ctx context.Context, email string, points int) error {
	user, err := s.repo.User.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrUserNotFound
		}
		return err
	}
	return s.ledger.AdminSetPoints(ctx, s.repo.User, user.UserID, points)
}
