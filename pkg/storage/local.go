package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore 本地目录存储
type LocalStore struct {
	dir    string
	prefix string
}

// NewLocalStore 创建本地存储，目录不存在时自动创建
func NewLocalStore(dir, prefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建上传目录失败: %w", err)
	}
	return &LocalStore{dir: dir, prefix: prefix}, nil
}

func (s *LocalStore) Put(_ context.Context, name, _ string, r io.Reader) (string, error) {
	stored := storedName(name)

	// 先写临时文件再改名，读取方不会看到写了一半的文件
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("写入文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("写入文件失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, stored)); err != nil {
		return "", fmt.Errorf("保存文件失败: %w", err)
	}

	return refOf(s.prefix, stored), nil
}

func (s *LocalStore) Open(_ context.Context, name string) (io.ReadCloser, string, error) {
	if !ValidName(name) {
		return nil, "", ErrInvalidName
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, "", ErrNotFound
	}
	return f, ContentTypeOf(name), nil
}

func (s *LocalStore) Delete(_ context.Context, ref string) error {
	name, ok := nameOf(s.prefix, ref)
	if !ok {
		return ErrInvalidName
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
