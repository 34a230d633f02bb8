package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Bounds on the run parameters, matching the upload form.
const (
	MinConfidence = 0.1
	MaxConfidence = 1.0
	MinFrameSkip  = 1
	MaxFrameSkip  = 10
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDetector(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	return c.validateExport()
}

func (c *Config) validateServer() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must be set")
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be positive")
	}
	if c.Server.PreviewQuality < 1 || c.Server.PreviewQuality > 100 {
		return errors.New("server.preview_quality must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateDetector() error {
	if c.Detector.ModelPath == "" {
		return fmt.Errorf("detector.model_path is required. Set %s or edit the config file", EnvModel)
	}
	if c.Detector.LabelsPath == "" && len(c.Detector.Labels) == 0 {
		return errors.New("detector.labels or detector.labels_path must be set")
	}
	if c.Detector.NMSThreshold <= 0 || c.Detector.NMSThreshold > 1 {
		return errors.New("detector.nms_threshold must be in (0, 1]")
	}
	if c.Detector.InputSize <= 0 || c.Detector.InputSize%32 != 0 {
		return errors.New("detector.input_size must be a positive multiple of 32")
	}
	// A labels file is only read when the detector loads.
	if c.Detector.LabelsPath == "" {
		for _, cl := range c.Detector.Classes {
			if !slices.Contains(c.Detector.Labels, cl) {
				return fmt.Errorf("detector.classes: %q is not in detector.labels", cl)
			}
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.Confidence < MinConfidence || p.Confidence > MaxConfidence {
		return fmt.Errorf("pipeline.confidence must be between %.1f and %.1f", MinConfidence, MaxConfidence)
	}
	if p.FrameSkip < MinFrameSkip || p.FrameSkip > MaxFrameSkip {
		return fmt.Errorf("pipeline.frame_skip must be between %d and %d", MinFrameSkip, MaxFrameSkip)
	}
	if len(p.FourCC) != 4 {
		return errors.New("pipeline.fourcc must be exactly four characters")
	}
	switch strings.ToLower(p.OnDetectorError) {
	case "", "pass", "pass-through", "passthrough", "abort", "fail":
	default:
		return fmt.Errorf("pipeline.on_detector_error %q must be pass or abort", p.OnDetectorError)
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.WorkDir == "" {
		return errors.New("jobs.work_dir must be set")
	}
	if c.Jobs.MaxConcurrent < 1 {
		return errors.New("jobs.max_concurrent must be at least 1")
	}
	if c.Jobs.ResultTTLMinutes < 0 {
		return errors.New("jobs.result_ttl_minutes must not be negative")
	}
	return nil
}

func (c *Config) validateExport() error {
	switch c.Export.Backend {
	case "":
		return nil
	case "minio":
		if c.Export.MinIO.Endpoint == "" || c.Export.MinIO.Bucket == "" {
			return errors.New("export.minio.endpoint and export.minio.bucket are required")
		}
		if c.Export.MinIO.AccessKey == "" || c.Export.MinIO.SecretKey == "" {
			return fmt.Errorf("export.minio credentials are required. Set %s and %s", EnvMinIOAccessKey, EnvMinIOSecretKey)
		}
		return nil
	case "gcs":
		if c.Export.GCS.Bucket == "" {
			return errors.New("export.gcs.bucket is required")
		}
		return nil
	default:
		return fmt.Errorf("export.backend %q must be empty, minio or gcs", c.Export.Backend)
	}
}
