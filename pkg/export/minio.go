package export

import (
	"context"
	"fmt"
	"net/url"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultPresignTTL is how long returned download links stay valid.
const DefaultPresignTTL = 24 * time.Hour

// MinIO uploads to an S3-compatible bucket.
type MinIO struct {
	client     *miniogo.Client
	bucket     string
	presignTTL time.Duration
}

// MinIOConfig configures the MinIO exporter.
type MinIOConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	Bucket     string
	Region     string
	PresignTTL time.Duration
}

// NewMinIO creates a MinIO exporter.
func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	return &MinIO{
		client:     client,
		bucket:     cfg.Bucket,
		presignTTL: ttl,
	}, nil
}

// Name implements Exporter.
func (m *MinIO) Name() string {
	return "minio"
}

// EnsureBucket creates the bucket if it does not exist.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", m.bucket, err)
		}
	}
	return nil
}

// Export uploads localPath and returns a presigned download URL.
func (m *MinIO) Export(ctx context.Context, localPath, key string) (string, error) {
	_, err := m.client.FPutObject(ctx, m.bucket, key, localPath, miniogo.PutObjectOptions{
		ContentType: ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, m.presignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
