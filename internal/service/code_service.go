package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ns2250225/live-qrcode/config"
	"github.com/ns2250225/live-qrcode/internal/dto"
	"github.com/ns2250225/live-qrcode/internal/model"
	"github.com/ns2250225/live-qrcode/internal/repository"
	pkgerrors "github.com/ns2250225/live-qrcode/pkg/errors"
	"github.com/ns2250225/live-qrcode/pkg/redis"
	"github.com/ns2250225/live-qrcode/pkg/storage"
)

// ── 活码模块业务错误 ──

var (
	ErrCodeNotFound     = errors.New("活码不存在")
	ErrInvalidCodeType  = errors.New("无效的活码类型")
	ErrLinkRequired     = errors.New("链接地址不能为空")
	ErrImageRequired    = errors.New("请上传图片")
	ErrUnsupportedImage = errors.New("不支持的图片格式")
	ErrUploadFailed     = errors.New("文件上传失败")
)

// CodeService 活码管理业务接口
type CodeService interface {
	Create(ctx context.Context, userID string, req *dto.CreateCodeRequest, upload *dto.Upload) (*dto.CreateCodeResponse, error)
	Get(ctx context.Context, userID, id string) (*dto.CodeResponse, error)
	ListMine(ctx context.Context, userID string) ([]dto.CodeResponse, error)
	Update(ctx context.Context, userID, id string, req *dto.UpdateCodeRequest, upload *dto.Upload) (*dto.CodeResponse, error)
}

type codeService struct {
	cfg        *config.Config
	repo       *repository.Repository
	blobs      storage.BlobStore
	cache      CodeCache
	ledger     Ledger
	shortCodes *CodeAllocator
	logger     *zap.Logger
}

// NewCodeService 创建 CodeService 实例，cache 可为 nil
func NewCodeService(
	cfg *config.Config,
	repo *repository.Repository,
	blobs storage.BlobStore,
	cache CodeCache,
	logger *zap.Logger,
) CodeService {
	return &codeService{
		cfg:        cfg,
		repo:       repo,
		blobs:      blobs,
		cache:      cache,
		shortCodes: NewCodeAllocator("short_code", shortCodeAlphabet, cfg.Code.ShortCodeLength, logger),
		logger:     logger,
	}
}

// Create 扣费并创建活码
// 扣费、分配短码、插入记录在同一事务内；事务失败时已上传的图片尽力删除
func (s *codeService) Create(ctx context.Context, userID string, req *dto.CreateCodeRequest, upload *dto.Upload) (*dto.CreateCodeResponse, error) {
	if err := validateTarget(req.Type, req.LinkURL, upload, false); err != nil {
		return nil, err
	}

	// 1. 余额预检，避免余额不足时仍然上传文件；最终以事务内的条件扣减为准
	user, err := s.repo.User.GetByID(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		s.logger.Error("查询用户失败", zap.Error(err))
		return nil, err
	}
	if user.Points < CreationCost {
		return nil, ErrInsufficientPoints
	}

	// 2. 确定目标内容
	target := strings.TrimSpace(req.LinkURL)
	uploaded := ""
	if req.Type == model.CodeTypeImage {
		if uploaded, err = s.store(ctx, upload); err != nil {
			return nil, err
		}
		target = uploaded
	}

	// 3. 事务：扣费 → 分配短码 → 插入
	var code *model.DynamicCode
	var points int
	ctx = context.WithoutCancel(ctx)
	err = retryOnCollision(ctx, s.logger, func(ctx context.Context) error {
		err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
			if err := s.ledger.DebitForCreation(ctx, tx.User, userID); err != nil {
				return err
			}

			shortCode, err := s.shortCodes.Allocate(ctx, tx.DynamicCode.ExistsByShortCode)
			if err != nil {
				return err
			}

			code = &model.DynamicCode{
				UserID:        userID,
				ShortCode:     shortCode,
				Type:          req.Type,
				TargetContent: target,
				Active:        true,
			}
			if err := tx.DynamicCode.Create(ctx, code); err != nil {
				return err
			}

			after, err := tx.User.GetByID(ctx, userID)
			if err != nil {
				return err
			}
			points = after.Points
			return nil
		})
		// dynamic_codes 上只有短码一个业务唯一约束
		if pkgerrors.IsDuplicateKey(err) {
			return errors.Join(errCodeCollision, err)
		}
		return err
	})
	if err != nil {
		if uploaded != "" {
			s.discard(ctx, uploaded)
		}
		if !errors.Is(err, ErrInsufficientPoints) && !errors.Is(err, ErrUserNotFound) {
			s.logger.Error("创建活码事务失败", zap.String("user_id", userID), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("活码创建成功",
		zap.String("user_id", userID),
		zap.String("short_code", code.ShortCode),
		zap.String("type", code.Type),
	)

	return &dto.CreateCodeResponse{
		Code:   s.toResponse(code),
		Points: points,
	}, nil
}

func (s *codeService) Get(ctx context.Context, userID, id string) (*dto.CodeResponse, error) {
	code, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	resp := s.toResponse(code)
	return &resp, nil
}

func (s *codeService) ListMine(ctx context.Context, userID string) ([]dto.CodeResponse, error) {
	codes, err := s.repo.DynamicCode.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("查询活码列表失败", zap.Error(err))
		return nil, err
	}

	list := make([]dto.CodeResponse, 0, len(codes))
	for i := range codes {
		list = append(list, s.toResponse(&codes[i]))
	}
	return list, nil
}

// Update 原地替换目标内容，短码不变
func (s *codeService) Update(ctx context.Context, userID, id string, req *dto.UpdateCodeRequest, upload *dto.Upload) (*dto.CodeResponse, error) {
	code, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	keepImage := code.Type == model.CodeTypeImage
	if err := validateTarget(req.Type, req.LinkURL, upload, keepImage); err != nil {
		return nil, err
	}

	target := code.TargetContent
	uploaded := ""
	switch {
	case req.Type == model.CodeTypeLink:
		target = strings.TrimSpace(req.LinkURL)
	case upload != nil:
		if uploaded, err = s.store(ctx, upload); err != nil {
			return nil, err
		}
		target = uploaded
	}

	active := code.Active
	if req.Active != nil {
		active = *req.Active
	}

	if err := s.repo.DynamicCode.UpdateTarget(ctx, code.ID, req.Type, target, active); err != nil {
		if uploaded != "" {
			s.discard(ctx, uploaded)
		}
		if repository.IsNotFound(err) {
			return nil, ErrCodeNotFound
		}
		s.logger.Error("更新活码失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}

	// 旧图片不再被引用
	if code.Type == model.CodeTypeImage && target != code.TargetContent {
		s.discard(ctx, code.TargetContent)
	}

	code.Type = req.Type
	code.TargetContent = target
	code.Active = active
	s.refreshCache(ctx, code)
	resp := s.toResponse(code)
	return &resp, nil
}

// owned 查询活码并校验归属，非本人的活码视为不存在
func (s *codeService) owned(ctx context.Context, userID, id string) (*model.DynamicCode, error) {
	code, err := s.repo.DynamicCode.GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrCodeNotFound
		}
		s.logger.Error("查询活码失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	if code.UserID != userID {
		return nil, ErrCodeNotFound
	}
	return code, nil
}

// validateTarget 校验类型与目标内容
// keepImage 为 true 时 IMAGE 类型可以不上传新文件，沿用原图
func validateTarget(codeType, link string, upload *dto.Upload, keepImage bool) error {
	if !model.IsValidCodeType(codeType) {
		return ErrInvalidCodeType
	}
	switch codeType {
	case model.CodeTypeLink:
		if strings.TrimSpace(link) == "" {
			return ErrLinkRequired
		}
	case model.CodeTypeImage:
		if upload == nil {
			if keepImage {
				return nil
			}
			return ErrImageRequired
		}
		if !storage.IsImage(upload.Name) {
			return ErrUnsupportedImage
		}
	}
	return nil
}

func (s *codeService) store(ctx context.Context, upload *dto.Upload) (string, error) {
	ref, err := s.blobs.Put(ctx, upload.Name, upload.ContentType, upload.Body)
	if err != nil {
		s.logger.Error("保存上传文件失败", zap.String("name", upload.Name), zap.Error(err))
		return "", ErrUploadFailed
	}
	return ref, nil
}

func (s *codeService) discard(ctx context.Context, ref string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), ref); err != nil {
		s.logger.Warn("删除上传文件失败", zap.String("ref", ref), zap.Error(err))
	}
}

// refreshCache 提交后把新内容覆盖写入缓存
// 跳转回源只做 SETNX，所以并发读到旧行的请求无法再把旧值写回
func (s *codeService) refreshCache(ctx context.Context, code *model.DynamicCode) {
	if s.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	entry := &redis.CodeEntry{
		ID:     code.ID,
		Active: code.Active,
		Type:   code.Type,
		Target: code.TargetContent,
	}
	err := s.cache.SetCode(ctx, code.ShortCode, entry, s.cfg.Redirect.CacheTTL)
	if err == nil {
		return
	}
	s.logger.Warn("写入短码缓存失败，改为清除", zap.String("short_code", code.ShortCode), zap.Error(err))
	if err := s.cache.InvalidateCode(ctx, code.ShortCode); err != nil {
		s.logger.Warn("清除短码缓存失败", zap.String("short_code", code.ShortCode), zap.Error(err))
	}
}

func (s *codeService) toResponse(c *model.DynamicCode) dto.CodeResponse {
	return dto.CodeResponse{
		ID:            c.ID,
		ShortCode:     c.ShortCode,
		ShortURL:      strings.TrimRight(s.cfg.Server.BaseURL, "/") + "/q/" + c.ShortCode,
		Type:          c.Type,
		TargetContent: c.TargetContent,
		Visits:        c.Visits,
		Active:        c.Active,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}
