// Package export copies finished videos to object storage.
package export

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/teslashibe/go-firewatch/internal/config"
)

// ContentType is the MIME type of exported videos.
const ContentType = "video/mp4"

// ErrUnknownBackend is returned for an unsupported backend name.
var ErrUnknownBackend = errors.New("export: unknown backend")

// Exporter uploads a local file under key and returns where it landed.
type Exporter interface {
	Export(ctx context.Context, localPath, key string) (string, error)
	Name() string
}

// Key builds the object key for a job's output.
func Key(jobID string, at time.Time) string {
	return path.Join(at.UTC().Format("2006/01/02"), jobID, "processed_video.mp4")
}

// New builds the exporter selected by cfg. It returns nil, nil when export
// is disabled.
func New(ctx context.Context, cfg config.Export) (Exporter, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "minio":
		m, err := NewMinIO(MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			UseSSL:    cfg.MinIO.UseSSL,
			Bucket:    cfg.MinIO.Bucket,
		})
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	case "gcs":
		return NewGCS(ctx, GCSConfig{
			Bucket:          cfg.GCS.Bucket,
			CredentialsFile: cfg.GCS.CredentialsFile,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
