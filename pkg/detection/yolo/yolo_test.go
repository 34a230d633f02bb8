package yolo

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-firewatch/internal/log"
	"github.com/teslashibe/go-firewatch/pkg/detection"
)

// findModelPath looks for the fire model relative to the test location
func findModelPath() string {
	if p := os.Getenv("FIREWATCH_TEST_MODEL"); p != "" {
		return p
	}
	candidates := []string{
		"models/fire_detector.onnx",
		"../../../models/fire_detector.onnx",
	}
	for _, c := range candidates {
		if abs, err := filepath.Abs(c); err == nil {
			if _, err := os.Stat(abs); err == nil {
				return abs
			}
		}
	}
	return ""
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ModelPath == "" {
		t.Error("DefaultConfig: ModelPath should not be empty")
	}
	if cfg.NMSThresh <= 0 || cfg.NMSThresh > 1 {
		t.Errorf("DefaultConfig: NMSThresh should be 0-1, got %f", cfg.NMSThresh)
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		t.Errorf("DefaultConfig: invalid input size %dx%d", cfg.InputWidth, cfg.InputHeight)
	}
	if len(cfg.Labels) == 0 {
		t.Error("DefaultConfig: Labels should not be empty")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "/nonexistent/path/model.onnx"

	_, err := New(cfg)
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

// outputMat builds a [1, 4+len(scores[0]), N] tensor, one column per
// candidate.
func outputMat(t *testing.T, boxes [][4]float32, scores [][]float32) gocv.Mat {
	t.Helper()
	n := len(boxes)
	attrs := 4 + len(scores[0])
	m := gocv.NewMatWithSizes([]int{1, attrs, n}, gocv.MatTypeCV32F)
	data, err := m.DataPtrFloat32()
	if err != nil {
		m.Close()
		t.Fatalf("DataPtrFloat32: %v", err)
	}
	for i := 0; i < n; i++ {
		for a := 0; a < 4; a++ {
			data[a*n+i] = boxes[i][a]
		}
		for c, s := range scores[i] {
			data[(4+c)*n+i] = s
		}
	}
	return m
}

func TestParseOutput_ThresholdIsInclusive(t *testing.T) {
	d := &Detector{config: Config{
		Labels:      []string{"fire", "smoke"},
		NMSThresh:   0.45,
		InputWidth:  640,
		InputHeight: 640,
		Logger:      log.Discard(),
	}}

	out := outputMat(t,
		[][4]float32{
			{320, 320, 100, 100},
			{100, 100, 40, 40},
			{500, 500, 60, 60},
		},
		[][]float32{
			{0.5, 0.1},
			{0.2, 0.4999},
			{0.1, 0.8},
		},
	)
	defer out.Close()

	dets, err := d.parseOutput(out, 640, 640, 0.5)
	if err != nil {
		t.Fatalf("parseOutput: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("got %d detections, want 2: %+v", len(dets), dets)
	}

	byLabel := map[string]detection.Detection{}
	for _, det := range dets {
		byLabel[det.Label] = det
	}
	fire, ok := byLabel["fire"]
	if !ok {
		t.Fatalf("box scoring exactly the threshold was dropped: %+v", dets)
	}
	if fire.Confidence != 0.5 || fire.Box != image.Rect(270, 270, 370, 370) {
		t.Errorf("fire = %+v", fire)
	}
	if smoke, ok := byLabel["smoke"]; !ok || smoke.ClassID != 1 {
		t.Errorf("smoke = %+v", smoke)
	}
}

func TestParseOutput_ScalesToFrame(t *testing.T) {
	d := &Detector{config: Config{Labels: []string{"fire"}, NMSThresh: 0.45, InputWidth: 640, InputHeight: 640}}
	out := outputMat(t, [][4]float32{{320, 320, 64, 64}}, [][]float32{{0.9}})
	defer out.Close()

	dets, err := d.parseOutput(out, 320, 160, 0.35)
	if err != nil {
		t.Fatalf("parseOutput: %v", err)
	}
	if len(dets) != 1 || dets[0].Box != image.Rect(144, 72, 176, 88) {
		t.Errorf("dets = %+v", dets)
	}
}

func TestDetect_SolidFrame(t *testing.T) {
	modelPath := findModelPath()
	if modelPath == "" {
		t.Skip("fire model not found, skipping test")
	}

	cfg := DefaultConfig()
	cfg.ModelPath = modelPath
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.Close()

	frame := detection.Frame{Width: 64, Height: 48, Channels: 3, Data: make([]byte, 64*48*3)}
	dets, err := d.Detect(context.Background(), frame, 0.5)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("expected no detections on a black frame, got %d", len(dets))
	}

	if _, err := d.Detect(context.Background(), detection.Frame{}, 0.5); !errors.Is(err, detection.ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
}
