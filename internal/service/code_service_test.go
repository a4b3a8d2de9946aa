package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/ns2250225/live-qrcode/config"
	"github.com/ns2250225/live-qrcode/internal/dto"
	"github.com/ns2250225/live-qrcode/internal/model"
	"github.com/ns2250225/live-qrcode/pkg/redis"
)

func newTestCodeService(cache CodeCache) (*codeService, *memStore, *memBlobStore) {
	cfg := newTestConfig()
	repo, store := newMockRepository()
	blobs := newMemBlobStore()
	svc := NewCodeService(cfg, repo, blobs, cache, testLogger()).(*codeService)
	return svc, store, blobs
}

func linkReq(url string) *dto.CreateCodeRequest {
	return &dto.CreateCodeRequest{Type: model.CodeTypeLink, LinkURL: url}
}

func TestCreate_Link(t *testing.T) {
	svc, store, _ := newTestCodeService(nil)
	u := store.seedUser(model.User{Points: 20})

	resp, err := svc.Create(context.Background(), u.UserID, linkReq("https://example.com"), nil)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if resp.Points != 10 || store.user(u.UserID).Points != 10 {
		t.Errorf("期望余额 10，实际 resp=%d store=%d", resp.Points, store.user(u.UserID).Points)
	}

	c := store.code(resp.Code.ID)
	if !c.Active || c.Visits != 0 || c.TargetContent != "https://example.com" || c.Type != model.CodeTypeLink {
		t.Errorf("活码内容不符: %+v", c)
	}
	if len(c.ShortCode) != 6 {
		t.Errorf("短码长度期望 6，实际 %q", c.ShortCode)
	}
	if resp.Code.ShortURL != "http://localhost:8080/q/"+c.ShortCode {
		t.Errorf("短链接不符: %s", resp.Code.ShortURL)
	}
}

func TestCreate_Image(t *testing.T) {
	svc, store, blobs := newTestCodeService(nil)
	u := store.seedUser(model.User{Points: 10})

	resp, err := svc.Create(context.Background(), u.UserID,
		&dto.CreateCodeRequest{Type: model.CodeTypeImage}, imageUpload("logo.png"))
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if blobs.count() != 1 {
		t.Fatalf("期望存储 1 个文件，实际 %d", blobs.count())
	}
	if resp.Code.TargetContent != "/uploads/1-logo.png" {
		t.Errorf("目标应为上传引用，实际 %s", resp.Code.TargetContent)
	}
	if store.user(u.UserID).Points != 0 {
		t.Errorf("期望余额 0，实际 %d", store.user(u.UserID).Points)
	}
}

func TestCreate_InsufficientPoints(t *testing.T) {
	svc, store, blobs := newTestCodeService(nil)
	u := store.seedUser(model.User{Points: 9})

	_, err := svc.Create(context.Background(), u.UserID,
		&dto.CreateCodeRequest{Type: model.CodeTypeImage}, imageUpload("logo.png"))
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("期望 ErrInsufficientPoints，实际 %v", err)
	}
	if store.codeCount() != 0 {
		t.Error("余额不足时不应创建活码")
	}
	if store.user(u.UserID).Points != 9 {
		t.Errorf("余额不应变化，实际 %d", store.user(u.UserID).Points)
	}
	if blobs.count() != 0 {
		t.Error("余额不足时不应保存上传文件")
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, store, _ := newTestCodeService(nil)
	u := store.seedUser(model.User{Points: 100})

	tests := []struct {
		name   string
		req    *dto.CreateCodeRequest
		upload *dto.Upload
		want   error
	}{
		{"链接为空", linkReq("  "), nil, ErrLinkRequired},
		{"图片缺失", &dto.CreateCodeRequest{Type: model.CodeTypeImage}, nil, ErrImageRequired},
		{"图片格式", &dto.CreateCodeRequest{Type: model.CodeTypeImage}, imageUpload("run.exe"), ErrUnsupportedImage},
		{"类型无效", &dto.CreateCodeRequest{Type: "TEXT"}, nil, ErrInvalidCodeType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), u.UserID, tt.req, tt.upload)
			if !errors.Is(err, tt.want) {
				t.Errorf("期望 %v，实际 %v", tt.want, err)
			}
		})
	}
	if store.user(u.UserID).Points != 100 {
		t.Error("校验失败时不应扣费")
	}
}

func TestCreate_UploadFailure(t *testing.T) {
	svc, store, blobs := newTestCodeService(nil)
	u := store.seedUser(model.User{Points: 20})
	blobs.failPut = errStoreDown

	_, err := svc.Create(context.Background(), u.UserID,
		&dto.CreateCodeRequest{Type: model.CodeTypeImage}, imageUpload("a.png"))
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("期望 ErrUploadFailed，实际 %v", err)
	}
	if store.user(u.UserID).Points != 20 {
		t.Error("上传失败时不应扣费")
	}
}

// 插入失败时扣费必须一并回滚，已上传的文件被清理
func TestCreate_RollbackOnInsertFailure(t *testing.T) {
	svc, store, blobs := newTestCodeService(nil)
	u := store.seedUser(model.User{Points: 20})
	store.failCodeCreate = errStoreDown

	_, err := svc.Create(context.Background(), u.UserID,
		&dto.CreateCodeRequest{Type: model.CodeTypeImage}, imageUpload("a.png"))
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("期望存储错误，实际 %v", err)
	}
	if got := store.user(u.UserID).Points; got != 20 {
		t.Errorf("扣费应回滚，实际余额 %d", got)
	}
	if store.codeCount() != 0 {
		t.Error("不应留下活码记录")
	}
	if blobs.count() != 0 || len(blobs.deleted) != 1 {
		t.Errorf("上传文件应被清理，剩余 %d 删除 %d", blobs.count(), len(blobs.deleted))
	}
}

// 预检通过后余额被并发请求耗尽，事务内的条件扣减兜底
func TestCreate_ConcurrentLastPoints(t *testing.T) {
	svc, store, _ := newTestCodeService(nil)
	u := store.seedUser(model.User{Points: 10})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), u.UserID, linkReq("https://example.com"), nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientPoints):
		default:
			t.Errorf("意外错误: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("只能成功 1 次，实际 %d", succeeded)
	}
	if store.user(u.UserID).Points != 0 || store.codeCount() != 1 {
		t.Errorf("期望余额 0、活码 1 个，实际 %d / %d", store.user(u.UserID).Points, store.codeCount())
	}
}

// 插入时撞上唯一约束：事务回滚后重试，只扣一次费
func TestCreate_ShortCodeCollisionRetried(t *testing.T) {
	svc, store, _ := newTestCodeService(nil)
	owner := store.seedUser(model.User{Points: 0})
	store.seedCode(model.DynamicCode{UserID: owner.UserID, ShortCode: "AAAAAA", Type: model.CodeTypeLink, TargetContent: "https://a", Active: true})
	u := store.seedUser(model.User{Points: 20})

	svc.shortCodes = &CodeAllocator{kind: "test", gen: seqGen("AAAAAA", "AAAAAA", "BBBBBB"), logger: testLogger()}
	store.staleShortChecks = 1

	resp, err := svc.Create(context.Background(), u.UserID, linkReq("https://example.com"), nil)
	if err != nil {
		t.Fatalf("碰撞后应重试成功: %v", err)
	}
	if resp.Code.ShortCode != "BBBBBB" {
		t.Errorf("期望短码 BBBBBB，实际 %s", resp.Code.ShortCode)
	}
	if got := store.user(u.UserID).Points; got != 10 {
		t.Errorf("只应扣费一次，实际余额 %d", got)
	}
}

// 预占大部分码空间后并发创建，短码仍全部唯一
func TestCreate_UniqueUnderForcedCollision(t *testing.T) {
	svc, store, _ := newTestCodeService(nil)
	// 4^3 = 64 个码，预占 32 个
	svc.shortCodes = NewCodeAllocator("test", "0123", 3, testLogger())
	owner := store.seedUser(model.User{})
	for i := 0; i < 32; i++ {
		code := fmt.Sprintf("%d%d%d", i/16%4, i/4%4, i%4)
		store.seedCode(model.DynamicCode{UserID: owner.UserID, ShortCode: code, Type: model.CodeTypeLink, TargetContent: "x", Active: true})
	}

	const n = 24
	users := make([]string, n)
	for i := range users {
		users[i] = store.seedUser(model.User{Points: 10}).UserID
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]bool{}
	for _, id := range users {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			resp, err := svc.Create(context.Background(), id, linkReq("https://example.com"), nil)
			if err != nil {
				t.Errorf("创建失败: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[resp.Code.ShortCode] {
				t.Errorf("短码重复: %s", resp.Code.ShortCode)
			}
			seen[resp.Code.ShortCode] = true
		}(id)
	}
	wg.Wait()

	if len(seen) != n || store.codeCount() != 32+n {
		t.Errorf("期望新增 %d 个唯一短码，实际 %d（总数 %d）", n, len(seen), store.codeCount())
	}
}

func TestUpdate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := redis.NewClient(&config.RedisConfig{Addr: mr.Addr()}, testLogger())
	if err != nil {
		t.Fatalf("连接 miniredis 失败: %v", err)
	}
	defer rdb.Close()

	svc, store, blobs := newTestCodeService(rdb)
	owner := store.seedUser(model.User{Points: 0})
	other := store.seedUser(model.User{Points: 0})
	code := store.seedCode(model.DynamicCode{UserID: owner.UserID, ShortCode: "abc123", Type: model.CodeTypeLink, TargetContent: "https://old", Active: true})
	ctx := context.Background()

	t.Run("非本人视为不存在", func(t *testing.T) {
		_, err := svc.Update(ctx, other.UserID, code.ID, &dto.UpdateCodeRequest{Type: model.CodeTypeLink, LinkURL: "https://evil"}, nil)
		if !errors.Is(err, ErrCodeNotFound) {
			t.Errorf("期望 ErrCodeNotFound，实际 %v", err)
		}
		if _, err := svc.Get(ctx, other.UserID, code.ID); !errors.Is(err, ErrCodeNotFound) {
			t.Errorf("期望 ErrCodeNotFound，实际 %v", err)
		}
	})

	t.Run("链接切换为图片必须上传", func(t *testing.T) {
		_, err := svc.Update(ctx, owner.UserID, code.ID, &dto.UpdateCodeRequest{Type: model.CodeTypeImage}, nil)
		if !errors.Is(err, ErrImageRequired) {
			t.Errorf("期望 ErrImageRequired，实际 %v", err)
		}
	})

	t.Run("更新链接并写入新缓存", func(t *testing.T) {
		_ = rdb.SetCode(ctx, "abc123", &redis.CodeEntry{ID: code.ID, Active: true, Target: "https://old"}, time.Minute)

		resp, err := svc.Update(ctx, owner.UserID, code.ID, &dto.UpdateCodeRequest{Type: model.CodeTypeLink, LinkURL: "https://new"}, nil)
		if err != nil {
			t.Fatalf("更新失败: %v", err)
		}
		if resp.ShortCode != "abc123" || resp.TargetContent != "https://new" {
			t.Errorf("短码不应变化，目标应更新: %+v", resp)
		}
		entry, err := rdb.GetCode(ctx, "abc123")
		if err != nil || entry == nil {
			t.Fatalf("更新后缓存应写入新内容: %v %v", entry, err)
		}
		if entry.Target != "https://new" || !entry.Active {
			t.Errorf("缓存内容应为最新提交: %+v", entry)
		}
	})

	t.Run("切换为图片后保留原图", func(t *testing.T) {
		resp, err := svc.Update(ctx, owner.UserID, code.ID, &dto.UpdateCodeRequest{Type: model.CodeTypeImage}, imageUpload("a.png"))
		if err != nil {
			t.Fatalf("更新失败: %v", err)
		}
		first := resp.TargetContent

		inactive := false
		resp, err = svc.Update(ctx, owner.UserID, code.ID, &dto.UpdateCodeRequest{Type: model.CodeTypeImage, Active: &inactive}, nil)
		if err != nil {
			t.Fatalf("更新失败: %v", err)
		}
		if resp.TargetContent != first || resp.Active {
			t.Errorf("未上传新图应沿用原图并停用: %+v", resp)
		}
	})

	t.Run("替换图片删除旧文件", func(t *testing.T) {
		before := store.code(code.ID).TargetContent
		_, err := svc.Update(ctx, owner.UserID, code.ID, &dto.UpdateCodeRequest{Type: model.CodeTypeImage}, imageUpload("b.png"))
		if err != nil {
			t.Fatalf("更新失败: %v", err)
		}
		if len(blobs.deleted) == 0 || blobs.deleted[len(blobs.deleted)-1] != before {
			t.Errorf("旧图片 %s 应被删除，实际 %v", before, blobs.deleted)
		}
	})
}

func TestListMine_NewestFirst(t *testing.T) {
	svc, store, _ := newTestCodeService(nil)
	u := store.seedUser(model.User{Points: 30})
	other := store.seedUser(model.User{Points: 10})
	ctx := context.Background()

	var created []string
	for i := 0; i < 3; i++ {
		resp, err := svc.Create(ctx, u.UserID, linkReq(fmt.Sprintf("https://e/%d", i)), nil)
		if err != nil {
			t.Fatalf("创建失败: %v", err)
		}
		created = append(created, resp.Code.ID)
	}
	if _, err := svc.Create(ctx, other.UserID, linkReq("https://other"), nil); err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	list, err := svc.ListMine(ctx, u.UserID)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("期望 3 条，实际 %d", len(list))
	}
	if list[0].ID != created[2] || list[2].ID != created[0] {
		t.Error("应按创建时间倒序")
	}
}
