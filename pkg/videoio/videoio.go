// Package videoio reads and writes video files with OpenCV and draws
// detection overlays onto frames.
package videoio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/teslashibe/go-firewatch/pkg/detection"
	"github.com/teslashibe/go-firewatch/pkg/pipeline"
	"gocv.io/x/gocv"
)

// DefaultFourCC matches the container the demo has always produced.
const DefaultFourCC = "mp4v"

var (
	// ErrNotOpened is returned when OpenCV cannot open a stream.
	ErrNotOpened = errors.New("videoio: stream not opened")

	// ErrFrameGeometry is returned when a frame does not match the stream size.
	ErrFrameGeometry = errors.New("videoio: frame size does not match stream")
)

// IO implements pipeline.VideoIO on gocv.
type IO struct {
	// FourCC selects the output codec.
	FourCC string
}

// New returns an IO writing fourcc-encoded output. Empty means DefaultFourCC.
func New(fourcc string) *IO {
	if fourcc == "" {
		fourcc = DefaultFourCC
	}
	return &IO{FourCC: fourcc}
}

// OpenReader opens a video file for frame-by-frame decoding.
func (v *IO) OpenReader(path string) (pipeline.Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotOpened, path)
	}

	info := pipeline.StreamInfo{
		FrameCount: int(vc.Get(gocv.VideoCaptureFrameCount)),
		Width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        vc.Get(gocv.VideoCaptureFPS),
	}
	if info.FrameCount < 0 {
		info.FrameCount = 0
	}
	if info.Width <= 0 || info.Height <= 0 {
		vc.Close()
		return nil, fmt.Errorf("%w: %s has no video stream", ErrNotOpened, path)
	}

	return &Reader{capture: vc, info: info, mat: gocv.NewMat()}, nil
}

// CreateWriter creates an output file with the input's geometry.
func (v *IO) CreateWriter(path string, info pipeline.StreamInfo) (pipeline.Writer, error) {
	fps := info.FPS
	if fps <= 0 {
		fps = 30
	}

	vw, err := gocv.VideoWriterFile(path, v.FourCC, fps, info.Width, info.Height, true)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("%w: %s (fourcc %s)", ErrNotOpened, path, v.FourCC)
	}

	return &Writer{writer: vw, width: info.Width, height: info.Height}, nil
}

// Reader decodes frames from a file.
type Reader struct {
	capture *gocv.VideoCapture
	info    pipeline.StreamInfo
	mat     gocv.Mat
	once    sync.Once
}

// Info returns the stream attributes reported by the container.
func (r *Reader) Info() pipeline.StreamInfo {
	return r.info
}

// Read returns the next frame, or io.EOF once the decoder stops producing them.
func (r *Reader) Read() (pipeline.Frame, error) {
	if ok := r.capture.Read(&r.mat); !ok {
		return pipeline.Frame{}, io.EOF
	}
	if r.mat.Empty() {
		return pipeline.Frame{}, detection.ErrEmptyFrame
	}
	if r.mat.Cols() != r.info.Width || r.mat.Rows() != r.info.Height {
		return pipeline.Frame{}, fmt.Errorf("%w: got %dx%d, stream is %dx%d",
			ErrFrameGeometry, r.mat.Cols(), r.mat.Rows(), r.info.Width, r.info.Height)
	}
	return FromMat(r.mat)
}

// Close releases the decoder. Safe to call more than once.
func (r *Reader) Close() error {
	var err error
	r.once.Do(func() {
		r.mat.Close()
		err = r.capture.Close()
	})
	return err
}

// Writer encodes frames to a file.
type Writer struct {
	writer *gocv.VideoWriter
	width  int
	height int
	once   sync.Once
}

// Write appends one frame.
func (w *Writer) Write(f pipeline.Frame) error {
	if f.Width != w.width || f.Height != w.height {
		return fmt.Errorf("%w: got %dx%d, stream is %dx%d", ErrFrameGeometry, f.Width, f.Height, w.width, w.height)
	}
	m, err := ToMat(f)
	if err != nil {
		return err
	}
	defer m.Close()
	return w.writer.Write(m)
}

// Close flushes and finalizes the container. Safe to call more than once.
func (w *Writer) Close() error {
	var err error
	w.once.Do(func() {
		err = w.writer.Close()
	})
	return err
}
