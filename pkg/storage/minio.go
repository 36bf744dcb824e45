// Package storage 负责保存梦境图片：默认内联为 data URI，配置 MinIO 后上传到对象存储。
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"dream-weaver-go/internal/config"
	"dream-weaver-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// ImagePathPrefix 是通过本服务访问对象存储图片的 URL 前缀。
const ImagePathPrefix = "/api/v1/images/"

// ImageStore 保存生成的梦境图片并返回可解析的图片地址。
type ImageStore interface {
	Put(ctx context.Context, name string, png []byte) (string, error)
}

// InlineImageStore 把图片编码为 data URI，不依赖任何外部存储。
type InlineImageStore struct{}

// Put 实现 ImageStore。
func (InlineImageStore) Put(_ context.Context, _ string, png []byte) (string, error) {
	if len(png) == 0 {
		return "", fmt.Errorf("empty image")
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}
	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := MinioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
	}
}

// MinioImageStore 把图片上传到 MinIO，返回由本服务转发的稳定地址。
type MinioImageStore struct {
	client *minio.Client
	bucket string
}

// NewMinioImageStore 创建一个新的 MinioImageStore。
func NewMinioImageStore(client *minio.Client, bucket string) *MinioImageStore {
	return &MinioImageStore{client: client, bucket: bucket}
}

// ObjectName 返回梦境图片在存储桶中的对象名。
func ObjectName(name string) string {
	return fmt.Sprintf("dreams/%s.png", name)
}

// Put 实现 ImageStore。
func (s *MinioImageStore) Put(ctx context.Context, name string, png []byte) (string, error) {
	objectName := ObjectName(name)
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(png), int64(len(png)), minio.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		log.Errorf("[MinioImageStore] 上传图片失败, object: %s, error: %v", objectName, err)
		return "", fmt.Errorf("上传图片到 MinIO 失败: %w", err)
	}
	log.Infof("[MinioImageStore] 图片上传成功, object: %s, size: %d", objectName, len(png))
	return ImagePathPrefix + objectName, nil
}

// PresignedURL 为对象生成一个限时的下载地址。
func (s *MinioImageStore) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	objectName = strings.TrimPrefix(objectName, "/")
	if !strings.HasPrefix(objectName, "dreams/") || strings.Contains(objectName, "..") {
		return "", fmt.Errorf("invalid object name: %s", objectName)
	}
	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}
