package videoio

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-firewatch/pkg/detection"
)

// matType maps a channel count to the 8-bit OpenCV Mat type.
func matType(channels int) (gocv.MatType, error) {
	switch channels {
	case 1:
		return gocv.MatTypeCV8UC1, nil
	case 3:
		return gocv.MatTypeCV8UC3, nil
	case 4:
		return gocv.MatTypeCV8UC4, nil
	default:
		return 0, fmt.Errorf("videoio: unsupported channel count %d", channels)
	}
}

// ToMat copies the frame into a new Mat. The caller must Close it.
func ToMat(f detection.Frame) (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.NewMat(), err
	}
	mt, err := matType(f.Channels)
	if err != nil {
		return gocv.NewMat(), err
	}
	// Mat may alias the buffer, so hand it a private copy.
	buf := append([]byte(nil), f.Data...)
	return gocv.NewMatFromBytes(f.Height, f.Width, mt, buf)
}

// FromMat copies a Mat into a Frame.
func FromMat(m gocv.Mat) (detection.Frame, error) {
	if m.Empty() {
		return detection.Frame{}, detection.ErrEmptyFrame
	}
	return detection.Frame{
		Width:    m.Cols(),
		Height:   m.Rows(),
		Channels: m.Channels(),
		Data:     m.ToBytes(),
	}, nil
}
