package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment overrides. Unset variables leave the file value alone.
const (
	EnvAddr            = "FIREWATCH_ADDR"
	EnvLogLevel        = "FIREWATCH_LOG_LEVEL"
	EnvModel           = "FIREWATCH_MODEL"
	EnvLabels          = "FIREWATCH_LABELS"
	EnvConfidence      = "FIREWATCH_CONFIDENCE"
	EnvFrameSkip       = "FIREWATCH_FRAME_SKIP"
	EnvWorkDir         = "FIREWATCH_WORK_DIR"
	EnvExportBackend   = "FIREWATCH_EXPORT"
	EnvMinIOAccessKey  = "MINIO_ACCESS_KEY"
	EnvMinIOSecretKey  = "MINIO_SECRET_KEY"
	EnvGCSCredentials  = "GOOGLE_APPLICATION_CREDENTIALS"
	EnvDetectorOnError = "FIREWATCH_ON_DETECTOR_ERROR"
)

// Env returns the value of key, or def if unset.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (c *Config) applyEnv() error {
	c.Server.Addr = Env(EnvAddr, c.Server.Addr)
	c.LogLevel = Env(EnvLogLevel, c.LogLevel)
	c.Detector.ModelPath = Env(EnvModel, c.Detector.ModelPath)
	c.Jobs.WorkDir = Env(EnvWorkDir, c.Jobs.WorkDir)
	c.Export.Backend = Env(EnvExportBackend, c.Export.Backend)
	c.Export.MinIO.AccessKey = Env(EnvMinIOAccessKey, c.Export.MinIO.AccessKey)
	c.Export.MinIO.SecretKey = Env(EnvMinIOSecretKey, c.Export.MinIO.SecretKey)
	c.Export.GCS.CredentialsFile = Env(EnvGCSCredentials, c.Export.GCS.CredentialsFile)
	c.Pipeline.OnDetectorError = Env(EnvDetectorOnError, c.Pipeline.OnDetectorError)

	if v := os.Getenv(EnvLabels); v != "" {
		var labels []string
		for _, l := range strings.Split(v, ",") {
			if l = strings.TrimSpace(l); l != "" {
				labels = append(labels, l)
			}
		}
		c.Detector.Labels = labels
	}

	if v := os.Getenv(EnvConfidence); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvConfidence, err)
		}
		c.Pipeline.Confidence = f
	}

	if v := os.Getenv(EnvFrameSkip); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFrameSkip, err)
		}
		c.Pipeline.FrameSkip = n
	}

	return nil
}
