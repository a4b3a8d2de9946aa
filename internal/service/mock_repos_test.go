package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ns2250225/live-qrcode/config"
	"github.com/ns2250225/live-qrcode/internal/dto"
	"github.com/ns2250225/live-qrcode/internal/model"
	"github.com/ns2250225/live-qrcode/internal/repository"
	pkgerrors "github.com/ns2250225/live-qrcode/pkg/errors"
	"github.com/ns2250225/live-qrcode/pkg/jwt"
	"github.com/ns2250225/live-qrcode/pkg/storage"
)

// ── 内存存储 ──
// 唯一约束、条件扣减与事务回滚的语义与数据库一致，供 service 单测使用

type memStore struct {
	mu    sync.Mutex
	seq   int
	users map[string]*model.User
	codes map[string]*model.DynamicCode

	// 以下字段用于注入故障
	staleReferralChecks int   // 查重返回「未占用」的次数，用于制造插入时的唯一约束冲突
	staleShortChecks    int   // 同上，作用于短码
	failIncrement       error // IncrementVisits 返回的错误
	failCodeCreate      error // DynamicCode.Create 返回的错误
	failAddPoints       error // AddPoints 返回的错误
	incrementCalls      int
	setRoleCalls        int
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[string]*model.User),
		codes: make(map[string]*model.DynamicCode),
	}
}

func (s *memStore) nextTime() time.Time {
	s.seq++
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Second)
}

type memSnapshot struct {
	users map[string]model.User
	codes map[string]model.DynamicCode
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		users: make(map[string]model.User, len(s.users)),
		codes: make(map[string]model.DynamicCode, len(s.codes)),
	}
	for k, v := range s.users {
		snap.users[k] = *v
	}
	for k, v := range s.codes {
		snap.codes[k] = *v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]*model.User, len(snap.users))
	for k, v := range snap.users {
		u := v
		s.users[k] = &u
	}
	s.codes = make(map[string]*model.DynamicCode, len(snap.codes))
	for k, v := range snap.codes {
		c := v
		s.codes[k] = &c
	}
}

// user 按 ID 读取副本（测试断言用）
func (s *memStore) user(id string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return *u
	}
	return model.User{}
}

func (s *memStore) userByEmail(email string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return *u
		}
	}
	return model.User{}
}

func (s *memStore) codeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

func (s *memStore) code(id string) model.DynamicCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.codes[id]; ok {
		return *c
	}
	return model.DynamicCode{}
}

// seedUser 直接写入用户
func (s *memStore) seedUser(u model.User) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.UserID == "" {
		u.UserID = fmt.Sprintf("user-%d", len(s.users)+1)
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	if u.ReferralCode == "" {
		u.ReferralCode = fmt.Sprintf("SEED%02d", len(s.users)+1)
	}
	u.CreatedAt = s.nextTime()
	s.users[u.UserID] = &u
	out := u
	return &out
}

func (s *memStore) seedCode(c model.DynamicCode) *model.DynamicCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = fmt.Sprintf("code-%d", len(s.codes)+1)
	}
	c.CreatedAt = s.nextTime()
	s.codes[c.ID] = &c
	out := c
	return &out
}

// ── Mock UserRepository ──

type mockUserRepo struct {
	s *memStore
}

func (m *mockUserRepo) Create(_ context.Context, user *model.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Email == user.Email || u.ReferralCode == user.ReferralCode ||
			(u.IPAddress != nil && user.IPAddress != nil && *u.IPAddress == *user.IPAddress) {
			return pkgerrors.ErrDuplicateKey
		}
	}
	if user.UserID == "" {
		user.UserID = fmt.Sprintf("user-%d", len(m.s.users)+1)
	}
	user.CreatedAt = m.s.nextTime()
	u := *user
	m.s.users[u.UserID] = &u
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.UserID == id })
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Email == email })
}

func (m *mockUserRepo) GetByReferralCode(_ context.Context, code string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.ReferralCode == code })
}

func (m *mockUserRepo) find(match func(u *model.User) bool) (*model.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if match(u) {
			out := *u
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := m.GetByEmail(ctx, email)
	return err == nil, nil
}

func (m *mockUserRepo) ExistsByIP(_ context.Context, ip string) (bool, error) {
	_, err := m.find(func(u *model.User) bool { return u.IPAddress != nil && *u.IPAddress == ip })
	return err == nil, nil
}

func (m *mockUserRepo) ExistsByReferralCode(ctx context.Context, code string) (bool, error) {
	m.s.mu.Lock()
	if m.s.staleReferralChecks > 0 {
		m.s.staleReferralChecks--
		m.s.mu.Unlock()
		return false, nil
	}
	m.s.mu.Unlock()
	_, err := m.GetByReferralCode(ctx, code)
	return err == nil, nil
}

func (m *mockUserRepo) AddPoints(_ context.Context, id string, delta int) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.failAddPoints != nil {
		return m.s.failAddPoints
	}
	u, ok := m.s.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Points += delta
	return nil
}

func (m *mockUserRepo) DebitPoints(_ context.Context, id string, amount int) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok || u.Points < amount {
		return false, nil
	}
	u.Points -= amount
	return true, nil
}

func (m *mockUserRepo) SetPoints(_ context.Context, id string, points int) error {
	return m.update(id, func(u *model.User) { u.Points = points })
}

func (m *mockUserRepo) SetRole(_ context.Context, id string, role string) error {
	return m.update(id, func(u *model.User) {
		m.s.setRoleCalls++
		u.Role = role
	})
}

func (m *mockUserRepo) SetPasswordHash(_ context.Context, id string, hash string) error {
	return m.update(id, func(u *model.User) { u.PasswordHash = hash })
}

func (m *mockUserRepo) update(id string, fn func(u *model.User)) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	fn(u)
	return nil
}

func (m *mockUserRepo) ListWithStats(_ context.Context, offset, limit int) ([]model.UserWithStats, int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var all []model.UserWithStats
	for _, u := range m.s.users {
		row := model.UserWithStats{User: *u}
		for _, c := range m.s.codes {
			if c.UserID == u.UserID {
				row.CodeCount++
			}
		}
		for _, inv := range m.s.users {
			if inv.InvitedBy != nil && *inv.InvitedBy == u.UserID {
				row.InviteeCount++
			}
		}
		all = append(all, row)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	if offset > len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// ── Mock DynamicCodeRepository ──

type mockCodeRepo struct {
	s *memStore
}

func (m *mockCodeRepo) Create(_ context.Context, code *model.DynamicCode) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.failCodeCreate != nil {
		return m.s.failCodeCreate
	}
	for _, c := range m.s.codes {
		if c.ShortCode == code.ShortCode {
			return pkgerrors.ErrDuplicateKey
		}
	}
	if code.ID == "" {
		code.ID = fmt.Sprintf("code-%d", len(m.s.codes)+1)
	}
	code.CreatedAt = m.s.nextTime()
	code.UpdatedAt = code.CreatedAt
	c := *code
	m.s.codes[c.ID] = &c
	return nil
}

func (m *mockCodeRepo) GetByID(_ context.Context, id string) (*model.DynamicCode, error) {
	return m.find(func(c *model.DynamicCode) bool { return c.ID == id })
}

func (m *mockCodeRepo) GetByShortCode(_ context.Context, shortCode string) (*model.DynamicCode, error) {
	return m.find(func(c *model.DynamicCode) bool { return c.ShortCode == shortCode })
}

func (m *mockCodeRepo) find(match func(c *model.DynamicCode) bool) (*model.DynamicCode, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, c := range m.s.codes {
		if match(c) {
			out := *c
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockCodeRepo) ExistsByShortCode(ctx context.Context, shortCode string) (bool, error) {
	m.s.mu.Lock()
	if m.s.staleShortChecks > 0 {
		m.s.staleShortChecks--
		m.s.mu.Unlock()
		return false, nil
	}
	m.s.mu.Unlock()
	_, err := m.GetByShortCode(ctx, shortCode)
	return err == nil, nil
}

func (m *mockCodeRepo) ListByUser(_ context.Context, userID string) ([]model.DynamicCode, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []model.DynamicCode
	for _, c := range m.s.codes {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockCodeRepo) UpdateTarget(_ context.Context, id, codeType, target string, active bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.codes[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	c.Type = codeType
	c.TargetContent = target
	c.Active = active
	return nil
}

func (m *mockCodeRepo) IncrementVisits(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.incrementCalls++
	if m.s.failIncrement != nil {
		return m.s.failIncrement
	}
	if c, ok := m.s.codes[id]; ok {
		c.Visits++
	}
	return nil
}

// ── Mock Transactor ──
// 事务串行执行；fn 返回错误时恢复到事务开始前的快照

type memTransactor struct {
	s    *memStore
	txMu sync.Mutex
}

func (t *memTransactor) Transaction(_ context.Context, fn func(tx *repository.Repository) error) error {
	t.txMu.Lock()
	defer t.txMu.Unlock()

	snap := t.s.snapshot()
	err := fn(&repository.Repository{
		User:        &mockUserRepo{s: t.s},
		DynamicCode: &mockCodeRepo{s: t.s},
	})
	if err != nil {
		t.s.restore(snap)
	}
	return err
}

func newMockRepository() (*repository.Repository, *memStore) {
	s := newMemStore()
	return &repository.Repository{
		User:        &mockUserRepo{s: s},
		DynamicCode: &mockCodeRepo{s: s},
		Tx:          &memTransactor{s: s},
	}, s
}

// ── Mock BlobStore ──

type memBlobStore struct {
	mu      sync.Mutex
	files   map[string][]byte
	deleted []string
	failPut error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{files: make(map[string][]byte)}
}

func (b *memBlobStore) Put(_ context.Context, name, _ string, r io.Reader) (string, error) {
	if b.failPut != nil {
		return "", b.failPut
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ref := fmt.Sprintf("/uploads/%d-%s", len(b.files)+len(b.deleted)+1, name)
	b.files[ref] = data
	return ref, nil
}

func (b *memBlobStore) Open(_ context.Context, name string) (io.ReadCloser, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files["/uploads/"+name]
	if !ok {
		return nil, "", storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), storage.ContentTypeOf(name), nil
}

func (b *memBlobStore) Delete(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !strings.HasPrefix(ref, "/uploads/") {
		return storage.ErrInvalidName
	}
	delete(b.files, ref)
	b.deleted = append(b.deleted, ref)
	return nil
}

func (b *memBlobStore) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files)
}

// ── 公共测试夹具 ──

var errStoreDown = errors.New("store unavailable")

func newTestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{BaseURL: "http://localhost:8080"},
		Auth: config.AuthConfig{
			JWTSecret: "test-secret-0123456789abcdef",
			TokenTTL:  24 * time.Hour,
			Cookie:    config.CookieConfig{Name: "auth_token", SameSite: "Strict"},
		},
		Code:     config.CodeConfig{ShortCodeLength: 6, ReferralCodeLength: 6},
		Redirect: config.RedirectConfig{CacheTTL: 30 * time.Second},
	}
}

func newTestJWT(cfg *config.Config) *jwt.Manager {
	return jwt.NewManager(&cfg.Auth)
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func imageUpload(name string) *dto.Upload {
	return &dto.Upload{Name: name, ContentType: "image/png", Body: strings.NewReader("PNGDATA")}
}
