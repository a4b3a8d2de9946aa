package repository

import (
	"context"

	"gorm.io/gorm"
)

// Transactor 事务执行器
// fn 内通过 tx 访问的所有 Repository 共享同一个事务，fn 返回错误时整体回滚
type Transactor interface {
	Transaction(ctx context.Context, fn func(tx *Repository) error) error
}

// Repository 所有 Repository 的聚合入口
type Repository struct {
	User        UserRepository
	DynamicCode DynamicCodeRepository
	Tx          Transactor
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		User:        NewUserRepo(db),
		DynamicCode: NewDynamicCodeRepo(db),
		Tx:          &gormTransactor{db: db},
	}
}

// Transaction 在单个数据库事务中执行 fn
// 未配置 Transactor 时直接在当前 Repository 上执行
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	if r.Tx == nil {
		return fn(r)
	}
	return r.Tx.Transaction(ctx, fn)
}

type gormTransactor struct {
	db *gorm.DB
}

func (t *gormTransactor) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepository(tx))
	})
}
