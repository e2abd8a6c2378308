package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"soundproof/config"
	"soundproof/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const mirrorPrefix = "ipfs/"

// ObjectMirror keeps a copy of pinned payloads keyed by CID. It only ever
// holds what was pinned to IPFS, so gated tracks are mirrored as ciphertext.
type ObjectMirror interface {
	Get(ctx context.Context, cid string) ([]byte, bool, error)
	Put(ctx context.Context, cid string, data []byte, contentType string) error
}

// Mirror is the MinIO backed ObjectMirror.
type Mirror struct {
	client *minio.Client
	bucket string
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// NewMirror connects to MinIO and makes sure the bucket exists.
func NewMirror(ctx context.Context, cfg *config.Config) (*Mirror, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("mirror bucket created", logger.String("bucket", cfg.MinioBucket))
	}

	logger.Info("mirror ready",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return &Mirror{client: client, bucket: cfg.MinioBucket}, nil
}

func objectKey(cid string) string {
	return mirrorPrefix + cid
}

// Get returns the mirrored payload, or ok=false when it is not mirrored.
func (m *Mirror) Get(ctx context.Context, cid string) ([]byte, bool, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, objectKey(cid), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("mirror get %s: %w", cid, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("mirror read %s: %w", cid, err)
	}
	return data, true, nil
}

// Put stores the payload under its CID.
func (m *Mirror) Put(ctx context.Context, cid string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := m.client.PutObject(ctx, m.bucket, objectKey(cid), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("mirror put %s: %w", cid, err)
	}
	return nil
}

// List returns mirrored objects under prefix, sorted by key.
func (m *Mirror) List(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{}
	var objects []ObjectInfo

	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, nil, fmt.Errorf("列出对象失败: %w", obj.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ContentType:  obj.ContentType,
		})
		stats.TotalObjects++
		stats.TotalSize += obj.Size
		if obj.LastModified.After(stats.LastModified) {
			stats.LastModified = obj.LastModified
		}
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, stats, nil
}

// DeletePrefix removes every object under prefix and returns how many were
// removed.
func (m *Mirror) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				logger.Warn("list during delete failed", logger.ErrorField(obj.Err))
				return
			}
			objectsCh <- obj
		}
	}()

	removed := 0
	for obj := range objectsCh {
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("删除对象 %s 失败: %w", obj.Key, err)
		}
		removed++
	}
	return removed, nil
}

// FormatSize renders a byte count for humans.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
