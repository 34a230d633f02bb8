// Package config loads firewatch configuration from a TOML file and
// FIREWATCH_* environment variables.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// SampleConfig returns the commented sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// Server configures the HTTP host shell.
type Server struct {
	Addr           string `toml:"addr"`
	MaxUploadMB    int    `toml:"max_upload_mb"`
	PreviewQuality int    `toml:"preview_quality"`
	CORS           bool   `toml:"cors"`
}

// Detector configures the YOLO model.
type Detector struct {
	ModelPath    string   `toml:"model_path"`
	LabelsPath   string   `toml:"labels_path"`
	Labels       []string `toml:"labels"`
	NMSThreshold float64  `toml:"nms_threshold"`
	InputSize    int      `toml:"input_size"`
	// Classes limits reported detections to these labels. Empty keeps all.
	Classes []string `toml:"classes"`
}

// Pipeline holds the default run parameters.
type Pipeline struct {
	Confidence      float64 `toml:"confidence"`
	FrameSkip       int     `toml:"frame_skip"`
	FourCC          string  `toml:"fourcc"`
	OnDetectorError string  `toml:"on_detector_error"`
}

// Jobs configures the job manager.
type Jobs struct {
	WorkDir          string `toml:"work_dir"`
	MaxConcurrent    int    `toml:"max_concurrent"`
	ResultTTLMinutes int    `toml:"result_ttl_minutes"`
}

// ResultTTL returns how long finished outputs are kept.
func (j Jobs) ResultTTL() time.Duration {
	return time.Duration(j.ResultTTLMinutes) * time.Minute
}

// MinIO configures the S3-compatible export backend.
type MinIO struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
	Bucket    string `toml:"bucket"`
}

// GCS configures the Google Cloud Storage export backend.
type GCS struct {
	Bucket          string `toml:"bucket"`
	CredentialsFile string `toml:"credentials_file"`
}

// Export selects where finished videos are copied.
type Export struct {
	Backend string `toml:"backend"`
	MinIO   MinIO  `toml:"minio"`
	GCS     GCS    `toml:"gcs"`
}

// Config is the full configuration.
type Config struct {
	LogLevel string   `toml:"log_level"`
	Server   Server   `toml:"server"`
	Detector Detector `toml:"detector"`
	Pipeline Pipeline `toml:"pipeline"`
	Jobs     Jobs     `toml:"jobs"`
	Export   Export   `toml:"export"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: Server{
			Addr:           ":8080",
			MaxUploadMB:    512,
			PreviewQuality: 70,
			CORS:           true,
		},
		Detector: Detector{
			ModelPath:    "models/fire_detector.onnx",
			Labels:       []string{"fire", "smoke"},
			NMSThreshold: 0.45,
			InputSize:    640,
		},
		Pipeline: Pipeline{
			Confidence:      0.35,
			FrameSkip:       1,
			FourCC:          "mp4v",
			OnDetectorError: "pass",
		},
		Jobs: Jobs{
			WorkDir:          filepath.Join(os.TempDir(), "firewatch"),
			MaxConcurrent:    1,
			ResultTTLMinutes: 60,
		},
		Export: Export{
			MinIO: MinIO{
				Endpoint: "localhost:9000",
				Bucket:   "firewatch",
			},
		},
	}
}

// Load reads path (when non-empty and present), applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			decoder := toml.NewDecoder(file)
			decoder.DisallowUnknownFields()
			if err := decoder.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// WriteSample writes the sample configuration to path, refusing to overwrite.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}
