package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ns2250225/live-qrcode/config"
)

// Client Redis 客户端封装
// 当前用于短码跳转查询缓存
type Client struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

// NewClient 创建 Redis 连接并执行 Ping 健康检查
func NewClient(cfg *config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	logger.Info("Redis 连接成功", zap.String("addr", cfg.Addr))

	return &Client{rdb: rdb, logger: logger}, nil
}

// ── 短码缓存 ──

const codePrefix = "qrcode:code:"

// CodeEntry 跳转解析所需的短码快照
type CodeEntry struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
	Type   string `json:"type"`
	Target string `json:"target"`
}

// GetCode 读取短码缓存，未命中时返回 (nil, nil)
func (c *Client) GetCode(ctx context.Context, shortCode string) (*CodeEntry, error) {
	raw, err := c.rdb.Get(ctx, codePrefix+shortCode).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry CodeEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// 脏数据直接丢弃，回源数据库
		c.logger.Warn("短码缓存解析失败", zap.String("short_code", shortCode), zap.Error(err))
		_ = c.rdb.Del(ctx, codePrefix+shortCode).Err()
		return nil, nil
	}
	return &entry, nil
}

// SetCode 覆盖写入短码缓存，ttl <= 0 时不缓存
// 活码更新提交后调用，保证缓存中始终是最新一次提交的内容
func (c *Client) SetCode(ctx context.Context, shortCode string, entry *CodeEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, codePrefix+shortCode, raw, ttl).Err()
}

// FillCode 回源后填充缓存，键已存在时不覆盖
// 回源读到的可能是并发更新之前的旧行，只能填空位，不能盖掉更新写入的新值
func (c *Client) FillCode(ctx context.Context, shortCode string, entry *CodeEntry, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}
	return c.rdb.SetNX(ctx, codePrefix+shortCode, raw, ttl).Result()
}

// InvalidateCode 删除短码缓存，目标内容或启用状态变更后调用
func (c *Client) InvalidateCode(ctx context.Context, shortCode string) error {
	return c.rdb.Del(ctx, codePrefix+shortCode).Err()
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	return c.rdb.Close()
}
