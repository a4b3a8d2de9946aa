package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ns2250225/live-qrcode/config"
)

// S3Store S3 兼容对象存储，使用 path-style 寻址以兼容 MinIO 等自建服务
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store 创建 S3 存储
func NewS3Store(_ context.Context, cfg *config.S3Config, prefix string) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage.s3.bucket 不能为空")
	}

	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: true,
	}
	if cfg.KeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.Secret, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &S3Store{
		client: s3.New(opts),
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Put 保存对象，Content-Type 只按扩展名推断，不采信客户端声明
func (s *S3Store) Put(ctx context.Context, name, _ string, r io.Reader) (string, error) {
	stored := storedName(name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(stored),
		Body:        r,
		ContentType: aws.String(ContentTypeOf(stored)),
	})
	if err != nil {
		return "", fmt.Errorf("上传对象 %q 失败: %w", stored, err)
	}
	return refOf(s.prefix, stored), nil
}

func (s *S3Store) Open(ctx context.Context, name string) (io.ReadCloser, string, error) {
	if !ValidName(name) {
		return nil, "", ErrInvalidName
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("读取对象 %q 失败: %w", name, err)
	}

	// 与本地存储一致，忽略对象上记录的类型
	return out.Body, ContentTypeOf(name), nil
}

func (s *S3Store) Delete(ctx context.Context, ref string) error {
	name, ok := nameOf(s.prefix, ref)
	if !ok {
		return ErrInvalidName
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	return err
}
