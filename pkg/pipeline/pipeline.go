package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/teslashibe/go-firewatch/internal/log"
	"github.com/teslashibe/go-firewatch/pkg/detection"
)

// Pipeline runs annotation jobs against a video backend.
// A Pipeline holds no per-run state and may be shared.
type Pipeline struct {
	io        VideoIO
	annotator Annotator
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline over the given video backend and annotator.
func New(vio VideoIO, annotator Annotator, opts ...Option) *Pipeline {
	p := &Pipeline{
		io:        vio,
		annotator: annotator,
		logger:    log.L(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (r Request) validate() error {
	switch {
	case r.InputPath == "":
		return errors.New("input path is empty")
	case r.OutputPath == "":
		return errors.New("output path is empty")
	case math.IsNaN(r.ConfidenceThreshold) || r.ConfidenceThreshold <= 0 || r.ConfidenceThreshold > 1:
		return fmt.Errorf("confidence threshold %v outside (0, 1]", r.ConfidenceThreshold)
	case r.FrameSkipInterval < 1:
		return fmt.Errorf("frame skip interval %d must be >= 1", r.FrameSkipInterval)
	case r.Detector == nil:
		return errors.New("detector is nil")
	}
	return nil
}

// Run processes req.InputPath into req.OutputPath. Every input frame is
// written exactly once, in order; frames at indices 0, N, 2N, ... go through
// the detector. Both streams are closed on every return path.
func (p *Pipeline) Run(ctx context.Context, req Request) (stats Stats, err error) {
	start := time.Now()
	logger := p.logger.With("input", req.InputPath, "output", req.OutputPath)

	defer func() {
		stats.Duration = time.Since(start)
		if err != nil {
			logger.Error("annotation failed", "error", err, "frames_written", stats.FramesWritten)
			return
		}
		logger.Info("annotation completed",
			"frames", stats.FramesWritten,
			"sampled", stats.FramesSampled,
			"annotated", stats.FramesAnnotated,
			"detections", stats.Detections,
			"duration", stats.Duration,
		)
	}()

	if err := req.validate(); err != nil {
		return stats, newError(KindInvalidRequest, "", -1, err)
	}
	if p.annotator == nil {
		return stats, newError(KindInvalidRequest, "", -1, errors.New("annotator is nil"))
	}

	in, err := p.io.OpenReader(req.InputPath)
	if err != nil {
		return stats, newError(KindInputOpen, req.InputPath, -1, err)
	}
	defer func() {
		if cerr := in.Close(); cerr != nil {
			logger.Warn("close input", "error", cerr)
		}
	}()

	info := in.Info()
	stats.OutputPath = req.OutputPath
	stats.Info = info

	out, err := p.io.CreateWriter(req.OutputPath, info)
	if err != nil {
		return stats, newError(KindOutputWrite, req.OutputPath, -1, err)
	}
	outClosed := false
	defer func() {
		if outClosed {
			return
		}
		if cerr := out.Close(); cerr != nil {
			logger.Warn("close output", "error", cerr)
		}
	}()

	logger.Info("annotation started",
		"frames", info.FrameCount,
		"width", info.Width,
		"height", info.Height,
		"fps", info.FPS,
		"threshold", req.ConfidenceThreshold,
		"frame_skip", req.FrameSkipInterval,
	)

	progress := newProgressTracker(info.FrameCount, req.OnProgress)

	for index := 0; ; index++ {
		if cerr := ctx.Err(); cerr != nil {
			return stats, newError(KindCanceled, "", index, cerr)
		}

		frame, rerr := in.Read()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return stats, newError(KindFrameRead, req.InputPath, index, rerr)
		}
		stats.FramesRead++

		sampled := index%req.FrameSkipInterval == 0
		outFrame := frame
		var dets []detection.Detection

		if sampled {
			stats.FramesSampled++
			outFrame, dets, err = p.processSampled(ctx, req, index, frame, &stats, logger)
			if err != nil {
				return stats, err
			}
		}

		if werr := out.Write(outFrame); werr != nil {
			return stats, newError(KindOutputWrite, req.OutputPath, index, werr)
		}
		stats.FramesWritten++

		if sampled && req.OnPreview != nil {
			req.OnPreview(Preview{
				Index:      index,
				Frame:      outFrame,
				Detections: dets,
				Progress:   progress.current(),
			})
		}

		progress.advance(index + 1)
	}

	outClosed = true
	if cerr := out.Close(); cerr != nil {
		return stats, newError(KindOutputWrite, req.OutputPath, -1, cerr)
	}
	progress.finish()

	return stats, nil
}

// processSampled runs detection and annotation for one sampled frame. With
// no detections the original frame is returned unchanged.
func (p *Pipeline) processSampled(
	ctx context.Context,
	req Request,
	index int,
	frame Frame,
	stats *Stats,
	logger *slog.Logger,
) (Frame, []detection.Detection, error) {
	dets, err := req.Detector.Detect(ctx, frame, req.ConfidenceThreshold)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return frame, nil, newError(KindCanceled, "", index, cerr)
		}
		stats.DetectorErrors++
		if req.OnDetectorError == Abort {
			return frame, nil, newError(KindDetector, "", index, err)
		}
		logger.Warn("detector failed, passing frame through", "frame", index, "error", err)
		return frame, nil, nil
	}

	if len(dets) == 0 {
		return frame, nil, nil
	}

	annotated, err := p.annotator.Annotate(frame, dets)
	if err != nil {
		return frame, nil, newError(KindAnnotate, "", index, err)
	}
	if annotated.Width != frame.Width || annotated.Height != frame.Height {
		return frame, nil, newError(KindAnnotate, "", index,
			fmt.Errorf("annotated frame is %dx%d, want %dx%d",
				annotated.Width, annotated.Height, frame.Width, frame.Height))
	}

	stats.FramesAnnotated++
	stats.Detections += len(dets)
	return annotated, dets, nil
}
