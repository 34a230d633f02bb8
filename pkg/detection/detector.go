// Package detection provides object detection over raw video frames.
package detection

import (
	"context"
	"errors"
	"image"
)

// Sentinel errors for common conditions.
var (
	// ErrEmptyFrame is returned when a frame carries no pixel data.
	ErrEmptyFrame = errors.New("detection: empty frame")

	// ErrFrameSize is returned when a frame's buffer does not match its declared geometry.
	ErrFrameSize = errors.New("detection: frame buffer does not match width*height*channels")
)

// Frame is a raw raster image: Height rows of Width pixels, each Channels
// bytes wide (BGR for 3-channel frames), stored row-major in Data.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Data     []byte
}

// Validate checks that the frame geometry matches its buffer.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 || f.Channels <= 0 || len(f.Data) == 0 {
		return ErrEmptyFrame
	}
	if len(f.Data) != f.Width*f.Height*f.Channels {
		return ErrFrameSize
	}
	return nil
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	c := f
	c.Data = append([]byte(nil), f.Data...)
	return c
}

// Bounds returns the frame rectangle.
func (f Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Detection is a single labeled, scored bounding box in pixel coordinates.
// Box.Min is (x_min, y_min) and Box.Max is (x_max, y_max).
type Detection struct {
	Box        image.Rectangle
	Confidence float64
	ClassID    int
	Label      string
}

// Detector is the interface for detection backends.
// An empty (or nil) slice means "no detections".
type Detector interface {
	// Detect finds objects in the frame scoring at least threshold.
	Detect(ctx context.Context, frame Frame, threshold float64) ([]Detection, error)

	// Close releases resources
	Close() error
}

// FilterByLabel keeps detections whose label is one of labels.
func FilterByLabel(dets []Detection, labels ...string) []Detection {
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}

	var out []Detection
	for _, d := range dets {
		if want[d.Label] {
			out = append(out, d)
		}
	}
	return out
}

// OnlyLabels wraps d so that it reports only detections whose label is one
// of labels. With no labels d is returned unchanged.
func OnlyLabels(d Detector, labels ...string) Detector {
	if len(labels) == 0 {
		return d
	}
	return &labelFilter{Detector: d, labels: append([]string(nil), labels...)}
}

type labelFilter struct {
	Detector
	labels []string
}

func (f *labelFilter) Detect(ctx context.Context, frame Frame, threshold float64) ([]Detection, error) {
	dets, err := f.Detector.Detect(ctx, frame, threshold)
	if err != nil {
		return nil, err
	}
	return FilterByLabel(dets, f.labels...), nil
}
