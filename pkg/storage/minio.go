// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"io"
	"time"

	"doclens-go/internal/config"
	"doclens-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store 封装对单个存储桶的读写操作。
type Store struct {
	client     *minio.Client
	bucketName string
}

// NewStore 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewStore(cfg config.MinIOConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Errorf("初始化 MinIO 客户端失败: %v", err)
		return nil, err
	}
	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Errorf("检查 MinIO 存储桶失败: %v", err)
		return nil, err
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Errorf("创建 MinIO 存储桶失败: %v", err)
			return nil, err
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
	}

	return &Store{client: client, bucketName: cfg.BucketName}, nil
}

// UploadObject 将字节内容上传到指定对象键。
func (s *Store) UploadObject(ctx context.Context, objectName string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucketName, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		log.Errorf("上传对象 '%s' 失败: %v", objectName, err)
		return err
	}
	return nil
}

// DownloadObject 读取指定对象键的全部内容。
func (s *Store) DownloadObject(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		log.Errorf("获取对象 '%s' 失败: %v", objectName, err)
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		log.Errorf("读取对象 '%s' 内容失败: %v", objectName, err)
		return nil, err
	}
	return data, nil
}

// RemoveObject 删除单个对象。
func (s *Store) RemoveObject(ctx context.Context, objectName string) error {
	if err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		log.Errorf("删除对象 '%s' 失败: %v", objectName, err)
		return err
	}
	return nil
}

// RemoveByPrefix 删除指定前缀下的所有对象，用于清理一篇文档的原文件和页面图片。
func (s *Store) RemoveByPrefix(ctx context.Context, prefix string) error {
	objectCh := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objectCh {
		if obj.Err != nil {
			log.Errorf("列举前缀 '%s' 下的对象失败: %v", prefix, obj.Err)
			return obj.Err
		}
		if err := s.client.RemoveObject(ctx, s.bucketName, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			log.Errorf("删除对象 '%s' 失败: %v", obj.Key, err)
			return err
		}
	}
	return nil
}

// GetPresignedURL generates a presigned URL for a given object.
func (s *Store) GetPresignedURL(objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := s.client.PresignedGetObject(context.Background(), s.bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}
