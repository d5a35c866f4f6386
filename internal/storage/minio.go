package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/faceads/internal/config"
)

// ErrObjectNotFound is returned by GetObject when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// TemplateBucket holds operator-provided ad templates in S3-compatible
// object storage.
type TemplateBucket struct {
	client *minio.Client
	bucket string
}

func NewTemplateBucket(cfg config.MinIOConfig) (*TemplateBucket, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &TemplateBucket{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (b *TemplateBucket) EnsureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// PutIfMissing uploads data under key unless an object already exists there.
// It reports whether an upload happened.
func (b *TemplateBucket) PutIfMissing(ctx context.Context, key string, data []byte, contentType string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return false, nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}

	_, err = b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return false, fmt.Errorf("put object %s: %w", key, err)
	}
	return true, nil
}

// GetObject retrieves an object by key.
func (b *TemplateBucket) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("get object %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Ping checks MinIO connectivity.
func (b *TemplateBucket) Ping(ctx context.Context) error {
	_, err := b.client.BucketExists(ctx, b.bucket)
	return err
}
