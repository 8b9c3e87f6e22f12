package ingest

import (
	"catalog-hub/service/config"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const minioScheme = "minio://"

// ErrSourceUnavailable 源地址对应的存储未配置
var ErrSourceUnavailable = errors.New("导入源未配置")

// Source 导入文件来源
type Source interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// LocalSource 本地文件
type LocalSource struct{}

// Open 打开本地文件
func (LocalSource) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	f, err := os.Open(strings.TrimPrefix(uri, "file://"))
	if err != nil {
		return nil, fmt.Errorf("打开文件失败: %w", err)
	}
	return f, nil
}

// MinioSource MinIO/S3 对象，地址格式 minio://bucket/key
type MinioSource struct {
	client *minio.Client
}

// NewMinioSource 创建对象存储源；未配置 endpoint 时返回 nil
func NewMinioSource(cfg config.MinioConfig) (*MinioSource, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}
	return &MinioSource{client: client}, nil
}

// Open 读取对象
func (s *MinioSource) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := parseObjectURI(uri)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s 失败: %w", uri, err)
	}
	return obj, nil
}

func parseObjectURI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, minioScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("无效的对象地址 %q，应为 minio://bucket/key", uri)
	}
	return bucket, key, nil
}

// Router 按地址前缀选择来源
type Router struct {
	Local Source
	Minio Source
}

// Open 打开导入源
func (r Router) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if strings.HasPrefix(uri, minioScheme) {
		if r.Minio == nil {
			return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, uri)
		}
		return r.Minio.Open(ctx, uri)
	}
	local := r.Local
	if local == nil {
		local = LocalSource{}
	}
	return local.Open(ctx, uri)
}
