// Package storage 上传文件的存储后端
// 服务层只持有 Put 返回的引用路径，不关心文件内容
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ns2250225/live-qrcode/config"
)

var (
	ErrNotFound    = errors.New("文件不存在")
	ErrInvalidName = errors.New("非法文件名")
)

// BlobStore 文件存储接口
type BlobStore interface {
	// Put 保存文件并返回对外引用路径，形如 /uploads/<stored-name>
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
	// Open 按存储名读取文件，返回内容与 Content-Type
	Open(ctx context.Context, name string) (io.ReadCloser, string, error)
	// Delete 按引用路径删除文件，文件不存在时不报错
	Delete(ctx context.Context, ref string) error
}

// New 按配置选择存储后端
func New(ctx context.Context, cfg *config.StorageConfig) (BlobStore, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicPrefix)
	case "s3":
		return NewS3Store(ctx, &cfg.S3, cfg.PublicPrefix)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}

// ValidName 校验对外暴露的存储名，拒绝路径穿越
func ValidName(name string) bool {
	if name == "" || name == "." {
		return false
	}
	return !strings.Contains(name, "..") &&
		!strings.ContainsAny(name, `/\`)
}

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
}

// ContentTypeOf 按扩展名推断 Content-Type
func ContentTypeOf(name string) string {
	if ct, ok := imageTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// IsImage 判断文件名是否为支持的图片格式
func IsImage(name string) bool {
	_, ok := imageTypes[strings.ToLower(path.Ext(name))]
	return ok
}

// storedName 生成唯一存储名：<unixnano>-<rand>-<sanitised>
func storedName(original string) string {
	return fmt.Sprintf("%d-%s-%s", time.Now().UnixNano(), uuid.NewString()[:8], sanitize(original))
}

const maxNameLen = 100

func sanitize(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	clean := strings.TrimLeft(b.String(), ".")
	if clean == "" {
		clean = "file"
	}
	if len(clean) > maxNameLen {
		clean = clean[len(clean)-maxNameLen:]
	}
	return clean
}

// refOf / nameOf 在存储名与引用路径之间转换
func refOf(prefix, name string) string {
	return strings.TrimRight(prefix, "/") + "/" + name
}

func nameOf(prefix, ref string) (string, bool) {
	p := strings.TrimRight(prefix, "/") + "/"
	if !strings.HasPrefix(ref, p) {
		return "", false
	}
	name := strings.TrimPrefix(ref, p)
	return name, ValidName(name)
}
