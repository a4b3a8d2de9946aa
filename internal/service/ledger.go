package service

import (
	"context"
	"errors"

	"github.com/ns2250225/live-qrcode/internal/model"
	"github.com/ns2250225/live-qrcode/internal/repository"
)

// 积分规则
const (
	RegistrationBonus = 20 // 注册赠送
	ReferralBonus     = 10 // 邀请人奖励
	CreationCost      = 10 // 创建一个活码的消耗
)

var (
	ErrInsufficientPoints = errors.New("积分不足")
	ErrUserNotFound       = errors.New("用户不存在")
)

// Ledger 积分账本
// 所有方法接收事务内的 UserRepository，余额只通过数据库原子更新修改，不做应用层读改写
type Ledger struct{}

// CreditRegistration 设置新用户初始积分，随用户记录一并插入
func (Ledger) CreditRegistration(u *model.User) {
	u.Points = RegistrationBonus
}

// CreditReferral 给邀请人加分
func (Ledger) CreditReferral(ctx context.Context, users repository.UserRepository, inviterID string) error {
	if err := users.AddPoints(ctx, inviterID, ReferralBonus); err != nil {
		if repository.IsNotFound(err) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// DebitForCreation 条件扣减创建费用
// 余额不足返回 ErrInsufficientPoints 且不做任何修改
func (Ledger) DebitForCreation(ctx context.Context, users repository.UserRepository, userID string) error {
	ok, err := users.DebitPoints(ctx, userID, CreationCost)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// 未扣减成功：区分用户不存在与余额不足
	if _, err := users.GetByID(ctx, userID); err != nil {
		if repository.IsNotFound(err) {
			return ErrUserNotFound
		}
		return err
	}
	return ErrInsufficientPoints
}

// AdminSetPoints 直接覆盖余额，不做额度校验，调用方权限由路由层控制
func (Ledger) AdminSetPoints(ctx context.Context, users repository.UserRepository, userID string, points int) error {
	if err := users.SetPoints(ctx, userID, points); err != nil {
		if repository.IsNotFound(err) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}
