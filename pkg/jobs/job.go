// Package jobs runs annotation pipelines in the background for uploaded
// videos and tracks their progress.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/teslashibe/go-firewatch/internal/config"
	"github.com/teslashibe/go-firewatch/pkg/pipeline"
)

var (
	// ErrInvalidParams is returned when job parameters are out of range.
	ErrInvalidParams = errors.New("jobs: invalid parameters")

	// ErrNotFound is returned for an unknown job ID.
	ErrNotFound = errors.New("jobs: job not found")

	// ErrNotReady is returned when a job's output is requested before it
	// completed.
	ErrNotReady = errors.New("jobs: job not completed")

	// ErrClosed is returned after the manager was closed.
	ErrClosed = errors.New("jobs: manager closed")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether the job will not change state again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Params are the user-tunable run parameters.
type Params struct {
	Confidence float64 `json:"confidence"`
	FrameSkip  int     `json:"frame_skip"`
}

// DefaultParams returns the parameters used when the caller sends none.
func DefaultParams() Params {
	return Params{Confidence: 0.35, FrameSkip: 1}
}

// Validate checks the parameter bounds offered by the upload form.
func (p Params) Validate() error {
	if math.IsNaN(p.Confidence) || p.Confidence < config.MinConfidence || p.Confidence > config.MaxConfidence {
		return fmt.Errorf("%w: confidence %v outside [%v, %v]",
			ErrInvalidParams, p.Confidence, config.MinConfidence, config.MaxConfidence)
	}
	if p.FrameSkip < config.MinFrameSkip || p.FrameSkip > config.MaxFrameSkip {
		return fmt.Errorf("%w: frame skip %d outside [%d, %d]",
			ErrInvalidParams, p.FrameSkip, config.MinFrameSkip, config.MaxFrameSkip)
	}
	return nil
}

// Job is the externally visible state of one annotation job.
type Job struct {
	ID         string            `json:"id"`
	Filename   string            `json:"filename"`
	Status     Status            `json:"status"`
	Params     Params            `json:"params"`
	Progress   pipeline.Progress `json:"progress"`
	Error      string            `json:"error,omitempty"`
	Stats      *pipeline.Stats   `json:"stats,omitempty"`
	ExportURL  string            `json:"export_url,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// Runner executes one pipeline request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Stats, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req pipeline.Request) (pipeline.Stats, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, req pipeline.Request) (pipeline.Stats, error) {
	return f(ctx, req)
}

// Exporter copies a finished output somewhere durable.
type Exporter interface {
	Export(ctx context.Context, localPath, key string) (string, error)
	Name() string
}

// PreviewEncoder turns an annotated frame into an image for live previews.
type PreviewEncoder func(frame pipeline.Frame) ([]byte, error)

// EventType names the kind of a job event.
type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventPreview  EventType = "preview"
)

// Event is published to subscribers of a job.
type Event struct {
	Type     EventType          `json:"type"`
	JobID    string             `json:"job_id"`
	Job      *Job               `json:"job,omitempty"`
	Progress *pipeline.Progress `json:"progress,omitempty"`

	// Preview fields are set for EventPreview.
	FrameIndex int    `json:"frame_index,omitempty"`
	Detections int    `json:"detections,omitempty"`
	Image      []byte `json:"-"`
}
