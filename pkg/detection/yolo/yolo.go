// Package yolo runs Ultralytics YOLO models exported to ONNX through the
// OpenCV DNN module.
package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-firewatch/internal/log"
	"github.com/teslashibe/go-firewatch/pkg/detection"
	"github.com/teslashibe/go-firewatch/pkg/videoio"
)

// ErrModelNotFound is returned when the model file is missing.
var ErrModelNotFound = errors.New("yolo: model file not found")

// Detector runs one loaded network. Inference is serialized so one
// instance can be shared by many runs.
type Detector struct {
	net       gocv.Net
	config    Config
	mu        sync.Mutex
	inputSize image.Point
	logger    *slog.Logger
}

// Config holds YOLO detector configuration
type Config struct {
	ModelPath   string
	Labels      []string
	NMSThresh   float32
	InputWidth  int
	InputHeight int
	Logger      *slog.Logger
}

// DefaultConfig returns production defaults for the fire model.
func DefaultConfig() Config {
	return Config{
		ModelPath:   "models/fire_detector.onnx",
		Labels:      detection.DefaultLabels,
		NMSThresh:   0.45,
		InputWidth:  640,
		InputHeight: 640,
	}
}

// New loads the model and returns a ready detector.
func New(cfg Config) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		return nil, fmt.Errorf("yolo: invalid input size %dx%d", cfg.InputWidth, cfg.InputHeight)
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = detection.DefaultLabels
	}
	if cfg.Logger == nil {
		cfg.Logger = log.L()
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &Detector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		logger:    cfg.Logger.With("component", "yolo"),
	}, nil
}

// Labels returns the class names the detector reports.
func (d *Detector) Labels() []string {
	return append([]string(nil), d.config.Labels...)
}

// Detect finds objects in the frame scoring at least threshold.
func (d *Detector) Detect(ctx context.Context, frame detection.Frame, threshold float64) ([]detection.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := videoio.ToMat(frame)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	dets, err := d.parseOutput(output, float32(frame.Width), float32(frame.Height), float32(threshold))
	if err != nil {
		return nil, err
	}

	if len(dets) > 0 {
		d.logger.Debug("objects detected", "count", len(dets))
	}

	return dets, nil
}

// parseOutput decodes a [1, 4+C, N] tensor: per candidate a center-format
// box followed by C class scores.
func (d *Detector) parseOutput(output gocv.Mat, imgW, imgH, thresh float32) ([]detection.Detection, error) {
	dims := output.Size()
	var attrs, candidates int
	switch len(dims) {
	case 3:
		attrs, candidates = dims[1], dims[2]
	case 2:
		attrs, candidates = dims[0], dims[1]
	default:
		return nil, fmt.Errorf("yolo: unexpected output shape %v", dims)
	}
	if attrs < 5 {
		return nil, fmt.Errorf("yolo: output has %d attributes, want at least 5", attrs)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("yolo: read output: %w", err)
	}
	if len(data) < attrs*candidates {
		return nil, fmt.Errorf("yolo: output buffer too small")
	}

	scaleX := imgW / float32(d.config.InputWidth)
	scaleY := imgH / float32(d.config.InputHeight)

	var boxes []image.Rectangle
	var confidences []float32
	var classIDs []int

	for i := 0; i < candidates; i++ {
		maxScore := float32(0)
		maxClassID := 0

		for c := 4; c < attrs; c++ {
			score := data[c*candidates+i]
			if score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}

		if maxScore < thresh {
			continue
		}

		cx := data[0*candidates+i]
		cy := data[1*candidates+i]
		w := data[2*candidates+i]
		h := data[3*candidates+i]

		box := image.Rect(
			int((cx-w/2)*scaleX),
			int((cy-h/2)*scaleY),
			int((cx+w/2)*scaleX),
			int((cy+h/2)*scaleY),
		).Intersect(image.Rect(0, 0, int(imgW), int(imgH)))
		if box.Empty() {
			continue
		}

		boxes = append(boxes, box)
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClassID)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	// NMSBoxes keeps scores strictly above its threshold. Every candidate
	// already scores >= thresh, so step just below it.
	indices := gocv.NMSBoxes(boxes, confidences, math.Nextafter32(thresh, 0), d.config.NMSThresh)

	dets := make([]detection.Detection, 0, len(indices))
	for _, idx := range indices {
		dets = append(dets, detection.Detection{
			Box:        boxes[idx],
			Confidence: float64(confidences[idx]),
			ClassID:    classIDs[idx],
			Label:      detection.LabelFor(d.config.Labels, classIDs[idx]),
		})
	}

	return dets, nil
}

// Close releases the detector resources
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
