package videoio

import (
	"bytes"
	"context"
	"errors"
	"image"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-firewatch/internal/log"
	"github.com/teslashibe/go-firewatch/pkg/detection"
	"github.com/teslashibe/go-firewatch/pkg/pipeline"
)

func solidFrame(w, h int, b, g, r byte) pipeline.Frame {
	data := make([]byte, w*h*3)
	for i := 0; i < len(data); i += 3 {
		data[i], data[i+1], data[i+2] = b, g, r
	}
	return pipeline.Frame{Width: w, Height: h, Channels: 3, Data: data}
}

func TestMatRoundTrip(t *testing.T) {
	f := solidFrame(16, 9, 10, 20, 30)
	f.Data[5] = 200

	m, err := ToMat(f)
	if err != nil {
		t.Fatalf("ToMat: %v", err)
	}
	defer m.Close()

	back, err := FromMat(m)
	if err != nil {
		t.Fatalf("FromMat: %v", err)
	}
	if back.Width != 16 || back.Height != 9 || back.Channels != 3 {
		t.Errorf("geometry %dx%dx%d", back.Width, back.Height, back.Channels)
	}
	if !bytes.Equal(back.Data, f.Data) {
		t.Error("pixel data changed in round trip")
	}
}

func TestOverlay_NoDetectionsReturnsOriginal(t *testing.T) {
	f := solidFrame(32, 24, 0, 0, 0)
	out, err := NewOverlay().Annotate(f, nil)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if !bytes.Equal(out.Data, f.Data) {
		t.Error("frame changed without detections")
	}
}

func TestOverlay_DrawsAndKeepsGeometry(t *testing.T) {
	f := solidFrame(64, 48, 0, 0, 0)
	orig := f.Clone()
	dets := []detection.Detection{
		{Box: image.Rect(10, 20, 40, 45), Confidence: 0.9, Label: "fire"},
		{Box: image.Rect(0, 0, 10, 10), Confidence: 0.5, Label: "smoke", ClassID: 1},
		{Box: image.Rect(500, 500, 600, 600), Confidence: 0.5, Label: "offscreen"},
	}

	out, err := NewOverlay().Annotate(f, dets)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if out.Width != f.Width || out.Height != f.Height || len(out.Data) != len(f.Data) {
		t.Fatalf("geometry changed: %dx%d", out.Width, out.Height)
	}
	if bytes.Equal(out.Data, f.Data) {
		t.Error("expected pixels to change")
	}
	if !bytes.Equal(f.Data, orig.Data) {
		t.Error("input frame was modified")
	}
}

func TestCaptionAndColor(t *testing.T) {
	if got := Caption(detection.Detection{Label: "fire", Confidence: 0.876}); got != "fire 0.88" {
		t.Errorf("Caption = %q", got)
	}
	if ColorFor(0) != ColorFor(len(Palette)) {
		t.Error("palette should wrap")
	}
	if ColorFor(-1) != ColorFor(1) {
		t.Error("negative class IDs should map into the palette")
	}
}

func TestEncodeJPEG(t *testing.T) {
	data, err := EncodeJPEG(solidFrame(32, 24, 0, 128, 255), 80)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Error("output is not a JPEG")
	}
}

func TestOpenReader_Missing(t *testing.T) {
	_, err := New("").OpenReader(filepath.Join(t.TempDir(), "nope.mp4"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPipelineRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.avi")
	dst := filepath.Join(dir, "dst.avi")
	vio := New("MJPG")

	w, err := vio.CreateWriter(src, pipeline.StreamInfo{Width: 64, Height: 48, FPS: 10})
	if err != nil {
		t.Skipf("OpenCV writer backend unavailable: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := w.Write(solidFrame(64, 48, byte(i*40), 0, 0)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := vio.OpenReader(src)
	if err != nil {
		t.Skipf("OpenCV reader backend unavailable: %v", err)
	}
	info := r.Info()
	r.Close()
	if info.Width != 64 || info.Height != 48 {
		t.Fatalf("info %+v", info)
	}

	det := detection.NewMock(detection.Detection{Box: image.Rect(0, 0, 10, 10), Confidence: 0.9, Label: "fire"})
	p := pipeline.New(vio, NewOverlay(), pipeline.WithLogger(log.Discard()))
	stats, err := p.Run(context.Background(), pipeline.Request{
		InputPath:           src,
		OutputPath:          dst,
		ConfidenceThreshold: 0.35,
		FrameSkipInterval:   2,
		Detector:            det,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.FramesWritten != 6 || det.CallCount() != 3 {
		t.Errorf("frames=%d detector calls=%d", stats.FramesWritten, det.CallCount())
	}

	r, err = vio.OpenReader(dst)
	if err != nil {
		t.Fatalf("reopen output: %v", err)
	}
	defer r.Close()
	n := 0
	for {
		if _, err := r.Read(); err != nil {
			break
		}
		n++
	}
	if n != 6 {
		t.Errorf("output has %d frames, want 6", n)
	}
}

func TestWriter_RejectsWrongGeometry(t *testing.T) {
	dir := t.TempDir()
	w, err := New("MJPG").CreateWriter(filepath.Join(dir, "x.avi"), pipeline.StreamInfo{Width: 32, Height: 24, FPS: 5})
	if err != nil {
		t.Skipf("OpenCV writer backend unavailable: %v", err)
	}
	defer w.Close()

	if err := w.Write(solidFrame(16, 16, 0, 0, 0)); !errors.Is(err, ErrFrameGeometry) {
		t.Errorf("expected ErrFrameGeometry, got %v", err)
	}
}
