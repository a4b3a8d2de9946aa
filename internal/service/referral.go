package service

import (
	"context"
	"strings"

	"github.com/ns2250225/live-qrcode/internal/repository"
)

// ReferralResolver 邀请码解析
type ReferralResolver struct{}

// Resolve 将邀请码解析为邀请人 ID
// 空码或未知码返回 ok=false，注册照常进行，不视为错误
func (ReferralResolver) Resolve(ctx context.Context, users repository.UserRepository, code string) (string, bool, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", false, nil
	}

	inviter, err := users.GetByReferralCode(ctx, code)
	if err != nil {
		if repository.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return inviter.UserID, true, nil
}
