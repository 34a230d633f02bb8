// Package pipeline implements the frame-sampling annotation pipeline: it
// reads a video frame by frame, submits every Nth frame to a detector,
// overlays the detections and writes every frame, annotated or not, to an
// output video of the same geometry.
package pipeline

import (
	"context"
	"time"

	"github.com/teslashibe/go-firewatch/pkg/detection"
)

// Frame is one raster image of a video stream.
type Frame = detection.Frame

// StreamInfo describes a video stream.
type StreamInfo struct {
	// FrameCount is the advertised number of frames; 0 when unknown.
	FrameCount int     `json:"frame_count"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
}

// Reader yields frames in order. Read returns io.EOF at end of stream and
// any other error for a decode failure.
type Reader interface {
	Info() StreamInfo
	Read() (Frame, error)
	Close() error
}

// Writer accepts frames in order. Close flushes the container.
type Writer interface {
	Write(Frame) error
	Close() error
}

// VideoIO opens video streams by path.
type VideoIO interface {
	OpenReader(path string) (Reader, error)
	CreateWriter(path string, info StreamInfo) (Writer, error)
}

// Detector maps a frame and threshold to zero or more detections.
type Detector interface {
	Detect(ctx context.Context, frame Frame, threshold float64) ([]detection.Detection, error)
}

// Annotator draws detections onto a copy of a frame. The result must keep
// the frame's dimensions and must not modify the input buffer.
type Annotator interface {
	Annotate(frame Frame, dets []detection.Detection) (Frame, error)
}

// AnnotatorFunc adapts a function to the Annotator interface.
type AnnotatorFunc func(frame Frame, dets []detection.Detection) (Frame, error)

// Annotate calls f.
func (f AnnotatorFunc) Annotate(frame Frame, dets []detection.Detection) (Frame, error) {
	return f(frame, dets)
}

// ErrorPolicy decides what a detector failure on one frame does to the run.
type ErrorPolicy int

const (
	// PassThrough logs the failure and writes the original frame.
	PassThrough ErrorPolicy = iota
	// Abort fails the run with a detector error.
	Abort
)

// String implements fmt.Stringer.
func (p ErrorPolicy) String() string {
	if p == Abort {
		return "abort"
	}
	return "pass"
}

// ParseErrorPolicy accepts "pass", "pass-through", "passthrough" or "abort".
func ParseErrorPolicy(s string) (ErrorPolicy, bool) {
	switch s {
	case "", "pass", "pass-through", "passthrough":
		return PassThrough, true
	case "abort", "fail":
		return Abort, true
	default:
		return PassThrough, false
	}
}

// Progress is the fraction of input frames consumed so far.
type Progress struct {
	FramesDone  int     `json:"frames_done"`
	TotalFrames int     `json:"total_frames"`
	Fraction    float64 `json:"fraction"`
	// Indeterminate is set when the input does not advertise a frame count.
	Indeterminate bool `json:"indeterminate"`
}

// Preview is emitted once per sampled frame.
type Preview struct {
	Index      int
	Frame      Frame
	Detections []detection.Detection
	Progress   Progress
}

// Request describes one run.
type Request struct {
	InputPath           string
	OutputPath          string
	ConfidenceThreshold float64
	FrameSkipInterval   int
	Detector            Detector

	// OnDetectorError defaults to PassThrough.
	OnDetectorError ErrorPolicy

	// OnProgress is called after every frame. Optional.
	OnProgress func(Progress)

	// OnPreview is called after every sampled frame is written. Optional.
	OnPreview func(Preview)
}

// Stats summarizes a completed run.
type Stats struct {
	OutputPath      string        `json:"output_path"`
	Info            StreamInfo    `json:"info"`
	FramesRead      int           `json:"frames_read"`
	FramesWritten   int           `json:"frames_written"`
	FramesSampled   int           `json:"frames_sampled"`
	FramesAnnotated int           `json:"frames_annotated"`
	Detections      int           `json:"detections"`
	DetectorErrors  int           `json:"detector_errors"`
	Duration        time.Duration `json:"duration"`
}
