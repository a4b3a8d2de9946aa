package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ns2250225/live-qrcode/config"
	"github.com/ns2250225/live-qrcode/internal/repository"
	"github.com/ns2250225/live-qrcode/pkg/redis"
)

// visitTimeout 单次访问计数写入的超时
const visitTimeout = 5 * time.Second

// defaultHost 请求未携带 Host 时用于补全站内引用
const defaultHost = "localhost:8080"

// CodeCache 短码查询缓存，由 pkg/redis.Client 实现
type CodeCache interface {
	GetCode(ctx context.Context, shortCode string) (*redis.CodeEntry, error)
	SetCode(ctx context.Context, shortCode string, entry *redis.CodeEntry, ttl time.Duration) error
	FillCode(ctx context.Context, shortCode string, entry *redis.CodeEntry, ttl time.Duration) (bool, error)
	InvalidateCode(ctx context.Context, shortCode string) error
}

// Origin 入站请求的协议与主机，用于补全站内引用
type Origin struct {
	Scheme string
	Host   string
}

// Redirect 跳转结果
type Redirect struct {
	Location string
	Type     string
}

// RedirectService 短码跳转解析
type RedirectService interface {
	Resolve(ctx context.Context, shortCode string, origin Origin) (*Redirect, error)
	// Drain 等待所有后台访问计数完成
	Drain()
}

type redirectService struct {
	cfg    *config.Config
	repo   *repository.Repository
	cache  CodeCache
	logger *zap.Logger
	visits sync.WaitGroup
}

// NewRedirectService 创建 RedirectService 实例，cache 可为 nil
func NewRedirectService(cfg *config.Config, repo *repository.Repository, cache CodeCache, logger *zap.Logger) RedirectService {
	return &redirectService{
		cfg:    cfg,
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// Resolve 解析短码
// 不存在与已停用一律返回 ErrCodeNotFound；访问计数在后台执行，失败不影响跳转
func (s *redirectService) Resolve(ctx context.Context, shortCode string, origin Origin) (*Redirect, error) {
	entry, err := s.lookup(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	if !entry.Active {
		return nil, ErrCodeNotFound
	}

	s.countVisit(ctx, entry.ID)

	return &Redirect{
		Location: NormalizeTarget(entry.Target, origin),
		Type:     entry.Type,
	}, nil
}

func (s *redirectService) lookup(ctx context.Context, shortCode string) (*redis.CodeEntry, error) {
	if s.cache != nil {
		entry, err := s.cache.GetCode(ctx, shortCode)
		if err != nil {
			s.logger.Warn("读取短码缓存失败", zap.String("short_code", shortCode), zap.Error(err))
		} else if entry != nil {
			return entry, nil
		}
	}

	code, err := s.repo.DynamicCode.GetByShortCode(ctx, shortCode)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrCodeNotFound
		}
		s.logger.Error("查询短码失败", zap.String("short_code", shortCode), zap.Error(err))
		return nil, err
	}

	entry := &redis.CodeEntry{
		ID:     code.ID,
		Active: code.Active,
		Type:   code.Type,
		Target: code.TargetContent,
	}
	if s.cache != nil {
		// 只填空位：并发的更新可能已写入比本次读到的更新的内容
		if _, err := s.cache.FillCode(ctx, shortCode, entry, s.cfg.Redirect.CacheTTL); err != nil {
			s.logger.Warn("写入短码缓存失败", zap.String("short_code", shortCode), zap.Error(err))
		}
	}
	return entry, nil
}

// countVisit 后台递增访问计数，不随请求取消
func (s *redirectService) countVisit(ctx context.Context, id string) {
	s.visits.Add(1)
	go func() {
		defer s.visits.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("访问计数异常", zap.String("id", id), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), visitTimeout)
		defer cancel()

		if err := s.repo.DynamicCode.IncrementVisits(ctx, id); err != nil {
			s.logger.Warn("访问计数失败", zap.String("id", id), zap.Error(err))
		}
	}()
}

func (s *redirectService) Drain() {
	s.visits.Wait()
}

// NormalizeTarget 将目标内容规范为可跳转的绝对地址
//   - 以 / 开头的站内引用补全为 scheme://host/...
//   - 缺少 http(s) 协议的外部地址补 https://
//   - 其余原样返回
func NormalizeTarget(target string, origin Origin) string {
	if strings.HasPrefix(target, "/") {
		scheme := origin.Scheme
		if scheme == "" {
			scheme = "http"
		}
		host := origin.Host
		if host == "" {
			host = defaultHost
		}
		return scheme + "://" + host + target
	}

	lower := strings.ToLower(target)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return target
	}
	return "https://" + target
}
