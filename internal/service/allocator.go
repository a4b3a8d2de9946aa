package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// 生成字母表，均为 URL 安全字符
const (
	shortCodeAlphabet    = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	referralCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// errCodeCollision 插入时唯一约束冲突，整个事务需要重试
var errCodeCollision = errors.New("随机码冲突")

// codeGenerator 生成一个候选码
type codeGenerator func() (string, error)

// CodeAllocator 随机码分配器
// 生成 → 查重 → 冲突则重新生成，不设次数上限；数据库唯一约束是最终防线
type CodeAllocator struct {
	kind   string
	gen    codeGenerator
	logger *zap.Logger
}

// NewCodeAllocator 创建分配器
func NewCodeAllocator(kind, alphabet string, length int, logger *zap.Logger) *CodeAllocator {
	return &CodeAllocator{
		kind: kind,
		gen: func() (string, error) {
			return randomString(alphabet, length)
		},
		logger: logger,
	}
}

// Allocate 返回一个当前未被占用的码
func (a *CodeAllocator) Allocate(ctx context.Context, exists func(ctx context.Context, code string) (bool, error)) (string, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := a.gen()
		if err != nil {
			return "", err
		}

		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}

		if attempt%10 == 0 {
			a.logger.Warn("随机码连续冲突", zap.String("kind", a.kind), zap.Int("attempts", attempt))
		} else {
			a.logger.Debug("随机码冲突，重新生成", zap.String("kind", a.kind), zap.String("code", code))
		}
	}
}

// randomString 使用 crypto/rand 从字母表中均匀取样
func randomString(alphabet string, length int) (string, error) {
	size := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// collisionBackoff 冲突重试的退避策略：指数增长、单次等待封顶，不限制总次数
func collisionBackoff() retry.Backoff {
	return retry.WithCappedDuration(500*time.Millisecond, retry.NewExponential(10*time.Millisecond))
}

// retryOnCollision 在 fn 返回 errCodeCollision 时整体重试
func retryOnCollision(ctx context.Context, logger *zap.Logger, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, collisionBackoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if errors.Is(err, errCodeCollision) {
			logger.Debug("插入时唯一约束冲突，重试事务", zap.Int("attempt", attempt))
			return retry.RetryableError(err)
		}
		return err
	})
}
