package errors

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrDuplicateKey 唯一约束冲突（邮箱、邀请码、短码、注册地址）
var ErrDuplicateKey = errors.New("记录违反唯一约束")

// duplicateMarkers 各驱动唯一约束冲突的错误文本特征，用于未开启 TranslateError 的连接
var duplicateMarkers = []string{
	"duplicate key value violates unique constraint", // postgres
	"UNIQUE constraint failed",                       // sqlite
	"SQLSTATE 23505",
}

// IsDuplicateKey 判断存储层错误是否为唯一约束冲突
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	for _, m := range duplicateMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// NormalizeDuplicate 将驱动层唯一约束错误统一为 ErrDuplicateKey，其余错误原样返回
func NormalizeDuplicate(err error) error {
	if IsDuplicateKey(err) && !errors.Is(err, ErrDuplicateKey) {
		return errors.Join(ErrDuplicateKey, err)
	}
	return err
}
