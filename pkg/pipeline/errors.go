package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure kind. Match with errors.Is.
var (
	// ErrInvalidRequest is returned when run parameters are out of range.
	ErrInvalidRequest = errors.New("pipeline: invalid request")

	// ErrInputOpen is returned when the input video cannot be opened or decoded.
	ErrInputOpen = errors.New("pipeline: cannot open input video")

	// ErrFrameRead is returned on a mid-stream decode failure.
	ErrFrameRead = errors.New("pipeline: frame read failed")

	// ErrDetector is returned when the detector fails and the policy is Abort.
	ErrDetector = errors.New("pipeline: detector failed")

	// ErrAnnotate is returned when drawing detections onto a frame fails.
	ErrAnnotate = errors.New("pipeline: annotation failed")

	// ErrOutputWrite is returned when the output cannot be opened, written or flushed.
	ErrOutputWrite = errors.New("pipeline: output write failed")

	// ErrCanceled is returned when the run's context is done.
	ErrCanceled = errors.New("pipeline: canceled")
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindInvalidRequest Kind = iota
	KindInputOpen
	KindFrameRead
	KindDetector
	KindAnnotate
	KindOutputWrite
	KindCanceled
)

var kindNames = map[Kind]string{
	KindInvalidRequest: "invalid_request",
	KindInputOpen:      "input_open",
	KindFrameRead:      "frame_read",
	KindDetector:       "detector",
	KindAnnotate:       "annotate",
	KindOutputWrite:    "output_write",
	KindCanceled:       "canceled",
}

var kindSentinels = map[Kind]error{
	KindInvalidRequest: ErrInvalidRequest,
	KindInputOpen:      ErrInputOpen,
	KindFrameRead:      ErrFrameRead,
	KindDetector:       ErrDetector,
	KindAnnotate:       ErrAnnotate,
	KindOutputWrite:    ErrOutputWrite,
	KindCanceled:       ErrCanceled,
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single error value a run returns.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// Path is the video file involved, if any.
	Path string

	// Frame is the zero-based frame index, or -1 when not frame specific.
	Frame int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := kindSentinels[e.Kind].Error()
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Frame >= 0 {
		msg += fmt.Sprintf(" at frame %d", e.Frame)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newError(kind Kind, path string, frame int, err error) *Error {
	return &Error{Kind: kind, Path: path, Frame: frame, Err: err}
}

// KindOf returns the kind of a pipeline error, or false if err is not one.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}
