package export

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// GCS uploads to a Google Cloud Storage bucket.
type GCS struct {
	svc    *storage.Service
	bucket string
}

// GCSConfig configures the GCS exporter.
type GCSConfig struct {
	Bucket string

	// CredentialsFile is a service account JSON key. Empty uses
	// application default credentials.
	CredentialsFile string
}

// NewGCS creates a GCS exporter authenticated with OAuth2.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("export: gcs bucket required")
	}

	ts, err := tokenSource(ctx, cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}

	svc, err := storage.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create storage service: %w", err)
	}
	return NewGCSWithService(svc, cfg.Bucket), nil
}

// NewGCSWithService wraps an existing storage service.
func NewGCSWithService(svc *storage.Service, bucket string) *GCS {
	return &GCS{svc: svc, bucket: bucket}
}

func tokenSource(ctx context.Context, credentialsFile string) (oauth2.TokenSource, error) {
	if credentialsFile == "" {
		ts, err := google.DefaultTokenSource(ctx, storage.DevstorageReadWriteScope)
		if err != nil {
			return nil, fmt.Errorf("default credentials: %w", err)
		}
		return ts, nil
	}

	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, storage.DevstorageReadWriteScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return creds.TokenSource, nil
}

// Name implements Exporter.
func (g *GCS) Name() string {
	return "gcs"
}

// Export uploads localPath and returns its gs:// URI.
func (g *GCS) Export(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	obj := &storage.Object{
		Name:        key,
		ContentType: ContentType,
	}
	res, err := g.svc.Objects.Insert(g.bucket, obj).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, res.Name), nil
}
