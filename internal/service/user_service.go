package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ns2250225/live-qrcode/internal/dto"
	"github.com/ns2250225/live-qrcode/internal/model"
	"github.com/ns2250225/live-qrcode/internal/repository"
)

// ── 用户模块业务错误 ──

var (
	ErrUserSelfRoleChange = errors.New("不能修改自己的角色")
	ErrInvalidRole        = errors.New("无效的角色")
)

// UserService 管理端用户业务接口
type UserService interface {
	List(ctx context.Context, req *dto.PaginationRequest) ([]dto.AdminUserResponse, int64, error)
	SetPoints(ctx context.Context, userID string, points int) error
	SetRole(ctx context.Context, callerID, userID, role string) error
}

type userService struct {
	repo   *repository.Repository
	ledger Ledger
	logger *zap.Logger
}

// NewUserService 创建 UserService 实例
func NewUserService(repo *repository.Repository, logger *zap.Logger) UserService {
	return &userService{repo: repo, logger: logger}
}

func (s *userService) List(ctx context.Context, req *dto.PaginationRequest) ([]dto.AdminUserResponse, int64, error) {
	rows, total, err := s.repo.User.ListWithStats(ctx, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询用户列表失败", zap.Error(err))
		return nil, 0, err
	}

	list := make([]dto.AdminUserResponse, 0, len(rows))
	for _, r := range rows {
		list = append(list, dto.AdminUserResponse{
			ID:           r.UserID,
			Email:        r.Email,
			Role:         r.Role,
			Points:       r.Points,
			ReferralCode: r.ReferralCode,
			InvitedBy:    r.InvitedBy,
			CodeCount:    r.CodeCount,
			InviteeCount: r.InviteeCount,
			CreatedAt:    r.CreatedAt,
		})
	}
	return list, total, nil
}

// SetPoints 管理员覆盖积分，允许任意整数
func (s *userService) SetPoints(ctx context.Context, userID string, points int) error {
	if err := s.ledger.AdminSetPoints(ctx, s.repo.User, userID, points); err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			s.logger.Error("设置积分失败", zap.String("user_id", userID), zap.Error(err))
		}
		return err
	}
	s.logger.Info("管理员设置积分", zap.String("user_id", userID), zap.Int("points", points))
	return nil
}

func (s *userService) SetRole(ctx context.Context, callerID, userID, role string) error {
	if role != model.RoleUser && role != model.RoleAdmin {
		return ErrInvalidRole
	}
	if callerID == userID {
		return ErrUserSelfRoleChange
	}

	if err := s.repo.User.SetRole(ctx, userID, role); err != nil {
		if repository.IsNotFound(err) {
			return ErrUserNotFound
		}
		s.logger.Error("设置角色失败", zap.String("user_id", userID), zap.Error(err))
		return err
	}
	s.logger.Info("管理员设置角色", zap.String("user_id", userID), zap.String("role", role))
	return nil
}
