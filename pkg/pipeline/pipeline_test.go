package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-firewatch/internal/log"
	"github.com/teslashibe/go-firewatch/pkg/detection"
)

const (
	testW = 8
	testH = 6
)

func makeFrames(n int) []Frame {
	frames := make([]Frame, n)
	for i := range frames {
		data := make([]byte, testW*testH*3)
		for j := range data {
			data[j] = byte(i*7 + j%5)
		}
		frames[i] = Frame{Width: testW, Height: testH, Channels: 3, Data: data}
	}
	return frames
}

// markAnnotator sets every byte of the first row to 255.
var markAnnotator = AnnotatorFunc(func(f Frame, dets []detection.Detection) (Frame, error) {
	out := f.Clone()
	for i := 0; i < f.Width*f.Channels; i++ {
		out.Data[i] = 255
	}
	return out, nil
})

func fireBox() detection.Detection {
	return detection.Detection{Box: image.Rect(0, 0, 10, 10), Confidence: 0.9, Label: "fire"}
}

func newTestPipeline(frames []Frame, total int) (*Pipeline, *MemoryIO) {
	mio := NewMemoryIO()
	mio.AddInput("in.mp4", &MemoryVideo{
		Info:   StreamInfo{FrameCount: total, Width: testW, Height: testH, FPS: 30},
		Frames: frames,
	})
	return New(mio, markAnnotator, WithLogger(log.Discard())), mio
}

func baseRequest(det Detector, skip int) Request {
	return Request{
		InputPath:           "in.mp4",
		OutputPath:          "out.mp4",
		ConfidenceThreshold: 0.35,
		FrameSkipInterval:   skip,
		Detector:            det,
	}
}

func assertHandlesReleased(t *testing.T, mio *MemoryIO) {
	t.Helper()
	ro, rc, wo, wc := mio.HandleCounts()
	if ro != rc {
		t.Errorf("readers opened %d, closed %d", ro, rc)
	}
	if wo != wc {
		t.Errorf("writers opened %d, closed %d", wo, wc)
	}
}

func TestRun_FrameCountPreserved(t *testing.T) {
	for _, skip := range []int{1, 2, 3, 5, 7, 10, 25} {
		frames := makeFrames(10)
		p, mio := newTestPipeline(frames, len(frames))

		stats, err := p.Run(context.Background(), baseRequest(detection.NewMock(fireBox()), skip))
		if err != nil {
			t.Fatalf("skip=%d: Run: %v", skip, err)
		}
		out, _ := mio.Output("out.mp4")
		if len(out.Frames) != 10 || stats.FramesWritten != 10 || stats.FramesRead != 10 {
			t.Errorf("skip=%d: wrote %d frames (stats %d), want 10", skip, len(out.Frames), stats.FramesWritten)
		}
		if out.Info.Width != testW || out.Info.Height != testH || out.Info.FPS != 30 {
			t.Errorf("skip=%d: output geometry %+v", skip, out.Info)
		}
	}
}

func TestRun_SamplingIndices(t *testing.T) {
	tests := []struct {
		skip int
		want []int
	}{
		{1, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{3, []int{0, 3, 6, 9}},
		{5, []int{0, 5, 10}},
		{11, []int{0}},
		{20, []int{0}},
	}

	for _, tc := range tests {
		frames := makeFrames(11)
		p, _ := newTestPipeline(frames, len(frames))
		det := detection.NewMock()

		if _, err := p.Run(context.Background(), baseRequest(det, tc.skip)); err != nil {
			t.Fatalf("skip=%d: Run: %v", tc.skip, err)
		}

		calls := det.Calls()
		if len(calls) != len(tc.want) {
			t.Fatalf("skip=%d: %d detector calls, want %d", tc.skip, len(calls), len(tc.want))
		}
		for i, call := range calls {
			if !bytes.Equal(call.Frame.Data, frames[tc.want[i]].Data) {
				t.Errorf("skip=%d: call %d got a frame other than index %d", tc.skip, i, tc.want[i])
			}
			if call.Threshold != 0.35 {
				t.Errorf("skip=%d: threshold %v passed, want 0.35", tc.skip, call.Threshold)
			}
		}
	}
}

func TestRun_PassThroughFidelity(t *testing.T) {
	frames := makeFrames(10)
	p, mio := newTestPipeline(frames, len(frames))

	stats, err := p.Run(context.Background(), baseRequest(detection.NewMock(fireBox()), 3))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, _ := mio.Output("out.mp4")
	for i, f := range out.Frames {
		sampled := i%3 == 0
		same := bytes.Equal(f.Data, frames[i].Data)
		if sampled && same {
			t.Errorf("frame %d was sampled with a detection but not annotated", i)
		}
		if !sampled && !same {
			t.Errorf("pass-through frame %d differs from input", i)
		}
		if f.Width != testW || f.Height != testH {
			t.Errorf("frame %d dimensions changed to %dx%d", i, f.Width, f.Height)
		}
	}
	if stats.FramesAnnotated != 4 || stats.Detections != 4 {
		t.Errorf("stats: annotated=%d detections=%d, want 4/4", stats.FramesAnnotated, stats.Detections)
	}
}

func TestRun_ProgressMonotonic(t *testing.T) {
	frames := makeFrames(10)
	p, _ := newTestPipeline(frames, len(frames))

	var seen []Progress
	req := baseRequest(detection.NewMock(), 2)
	req.OnProgress = func(pr Progress) { seen = append(seen, pr) }

	if _, err := p.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(seen) != 10 {
		t.Fatalf("got %d progress reports, want 10", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Fraction < seen[i-1].Fraction {
			t.Errorf("progress decreased at %d: %v -> %v", i, seen[i-1].Fraction, seen[i].Fraction)
		}
	}
	if last := seen[len(seen)-1]; last.Fraction != 1.0 || last.Indeterminate {
		t.Errorf("final progress %+v, want 1.0", last)
	}
}

func TestRun_ProgressOverstatedCount(t *testing.T) {
	frames := makeFrames(4)
	p, _ := newTestPipeline(frames, 10)

	var seen []Progress
	req := baseRequest(detection.NewMock(), 1)
	req.OnProgress = func(pr Progress) { seen = append(seen, pr) }

	if _, err := p.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if last := seen[len(seen)-1]; last.Fraction != 1.0 {
		t.Errorf("final progress %v, want 1.0", last.Fraction)
	}
}

func TestRun_ProgressUnderstatedCount(t *testing.T) {
	frames := makeFrames(6)
	p, _ := newTestPipeline(frames, 3)

	var seen []Progress
	req := baseRequest(detection.NewMock(), 1)
	req.OnProgress = func(pr Progress) { seen = append(seen, pr) }

	if _, err := p.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, pr := range seen {
		if pr.Fraction > 1 {
			t.Errorf("fraction %v exceeds 1", pr.Fraction)
		}
	}
}

func TestRun_ProgressIndeterminate(t *testing.T) {
	frames := makeFrames(5)
	p, mio := newTestPipeline(frames, 0)

	var seen []Progress
	req := baseRequest(detection.NewMock(), 1)
	req.OnProgress = func(pr Progress) { seen = append(seen, pr) }

	stats, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.FramesWritten != 5 {
		t.Errorf("wrote %d frames, want 5", stats.FramesWritten)
	}
	for _, pr := range seen {
		if !pr.Indeterminate {
			t.Errorf("expected indeterminate progress, got %+v", pr)
		}
	}
	assertHandlesReleased(t, mio)
}

func TestRun_NoDetectionFallback(t *testing.T) {
	// 10-frame input, interval 5, detector never finds anything.
	frames := makeFrames(10)
	p, mio := newTestPipeline(frames, len(frames))

	stats, err := p.Run(context.Background(), baseRequest(detection.NewMock(), 5))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, _ := mio.Output("out.mp4")
	if len(out.Frames) != 10 {
		t.Fatalf("wrote %d frames, want 10", len(out.Frames))
	}
	for i := range frames {
		if !bytes.Equal(out.Frames[i].Data, frames[i].Data) {
			t.Errorf("frame %d differs from input", i)
		}
	}
	if stats.FramesSampled != 2 || stats.FramesAnnotated != 0 {
		t.Errorf("stats: sampled=%d annotated=%d, want 2/0", stats.FramesSampled, stats.FramesAnnotated)
	}
}

func TestRun_EveryFrameAnnotated(t *testing.T) {
	frames := makeFrames(10)
	p, mio := newTestPipeline(frames, len(frames))

	var previews []Preview
	var last Progress
	req := baseRequest(detection.NewMock(fireBox()), 1)
	req.OnPreview = func(pv Preview) { previews = append(previews, pv) }
	req.OnProgress = func(pr Progress) { last = pr }

	stats, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, _ := mio.Output("out.mp4")
	for i, f := range out.Frames {
		if f.Data[0] != 255 {
			t.Errorf("frame %d not annotated", i)
		}
	}
	if stats.FramesAnnotated != 10 || stats.FramesWritten != 10 {
		t.Errorf("stats %+v", stats)
	}
	if len(previews) != 10 {
		t.Errorf("got %d previews, want 10", len(previews))
	}
	if len(previews) > 0 && previews[0].Detections[0].Label != "fire" {
		t.Errorf("preview detections %+v", previews[0].Detections)
	}
	if last.Fraction != 1.0 {
		t.Errorf("final progress %v, want 1.0", last.Fraction)
	}
}

func TestRun_PreviewOnlyOnSampledFrames(t *testing.T) {
	frames := makeFrames(9)
	p, _ := newTestPipeline(frames, len(frames))

	var indices []int
	req := baseRequest(detection.NewMock(), 4)
	req.OnPreview = func(pv Preview) { indices = append(indices, pv.Index) }

	if _, err := p.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int{0, 4, 8}
	if len(indices) != len(want) {
		t.Fatalf("preview indices %v, want %v", indices, want)
	}
	for i := range want {
		if indices[i] != want[i] {
			t.Errorf("preview indices %v, want %v", indices, want)
		}
	}
}

func TestRun_InputMissing(t *testing.T) {
	p, mio := newTestPipeline(nil, 0)
	req := baseRequest(detection.NewMock(), 1)
	req.InputPath = "missing.mp4"

	_, err := p.Run(context.Background(), req)
	if !errors.Is(err, ErrInputOpen) {
		t.Fatalf("expected ErrInputOpen, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
	if _, ok := mio.Output("out.mp4"); ok {
		t.Error("output must not be created when the input cannot be opened")
	}
	assertHandlesReleased(t, mio)
}

func TestRun_EmptyInput(t *testing.T) {
	p, mio := newTestPipeline(nil, 0)
	det := detection.NewMock()

	stats, err := p.Run(context.Background(), baseRequest(det, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.FramesWritten != 0 {
		t.Errorf("wrote %d frames, want 0", stats.FramesWritten)
	}
	out, ok := mio.Output("out.mp4")
	if !ok || len(out.Frames) != 0 {
		t.Error("output should exist with zero frames")
	}
	if det.CallCount() != 0 {
		t.Errorf("detector called %d times on empty input", det.CallCount())
	}
	_, _, wo, wc := mio.HandleCounts()
	if wo != 1 || wc != 1 {
		t.Errorf("writer opened %d closed %d, want 1/1", wo, wc)
	}
}

func TestRun_FrameReadError(t *testing.T) {
	mio := NewMemoryIO()
	mio.AddInput("in.mp4", &MemoryVideo{
		Info:      StreamInfo{FrameCount: 10, Width: testW, Height: testH, FPS: 25},
		Frames:    makeFrames(10),
		ReadErrAt: 4,
	})
	p := New(mio, markAnnotator, WithLogger(log.Discard()))

	stats, err := p.Run(context.Background(), baseRequest(detection.NewMock(), 1))
	if !errors.Is(err, ErrFrameRead) {
		t.Fatalf("expected ErrFrameRead, got %v", err)
	}
	if k, ok := KindOf(err); !ok || k != KindFrameRead {
		t.Errorf("KindOf = %v, %v", k, ok)
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Frame != 4 {
		t.Errorf("error frame %d, want 4", pe.Frame)
	}
	// Frames written before the failure stay written.
	if stats.FramesWritten != 4 {
		t.Errorf("wrote %d frames before failure, want 4", stats.FramesWritten)
	}
	assertHandlesReleased(t, mio)
}

func TestRun_OutputErrors(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		p, mio := newTestPipeline(makeFrames(3), 3)
		mio.CreateErr = errors.New("codec not found")

		_, err := p.Run(context.Background(), baseRequest(detection.NewMock(), 1))
		if !errors.Is(err, ErrOutputWrite) {
			t.Fatalf("expected ErrOutputWrite, got %v", err)
		}
		assertHandlesReleased(t, mio)
	})

	t.Run("write", func(t *testing.T) {
		p, mio := newTestPipeline(makeFrames(5), 5)
		mio.WriteErrAt = 2

		stats, err := p.Run(context.Background(), baseRequest(detection.NewMock(), 1))
		if !errors.Is(err, ErrOutputWrite) {
			t.Fatalf("expected ErrOutputWrite, got %v", err)
		}
		if stats.FramesWritten != 2 {
			t.Errorf("wrote %d frames, want 2", stats.FramesWritten)
		}
		assertHandlesReleased(t, mio)
	})

	t.Run("flush", func(t *testing.T) {
		p, mio := newTestPipeline(makeFrames(2), 2)
		mio.CloseErr = errors.New("disk full")

		_, err := p.Run(context.Background(), baseRequest(detection.NewMock(), 1))
		if !errors.Is(err, ErrOutputWrite) {
			t.Fatalf("expected ErrOutputWrite, got %v", err)
		}
		_, _, wo, wc := mio.HandleCounts()
		if wo != 1 || wc != 1 {
			t.Errorf("writer opened %d closed %d, want exactly once", wo, wc)
		}
	})
}

func TestRun_DetectorErrorPolicy(t *testing.T) {
	failing := func() *detection.Mock {
		return &detection.Mock{
			DetectFunc: func(ctx context.Context, f detection.Frame, thr float64) ([]detection.Detection, error) {
				return nil, errors.New("tensor shape mismatch")
			},
		}
	}

	t.Run("pass through", func(t *testing.T) {
		frames := makeFrames(6)
		p, mio := newTestPipeline(frames, len(frames))

		stats, err := p.Run(context.Background(), baseRequest(failing(), 2))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if stats.DetectorErrors != 3 {
			t.Errorf("detector errors %d, want 3", stats.DetectorErrors)
		}
		out, _ := mio.Output("out.mp4")
		for i := range frames {
			if !bytes.Equal(out.Frames[i].Data, frames[i].Data) {
				t.Errorf("frame %d altered after detector failure", i)
			}
		}
		assertHandlesReleased(t, mio)
	})

	t.Run("abort", func(t *testing.T) {
		p, mio := newTestPipeline(makeFrames(6), 6)
		req := baseRequest(failing(), 2)
		req.OnDetectorError = Abort

		_, err := p.Run(context.Background(), req)
		if !errors.Is(err, ErrDetector) {
			t.Fatalf("expected ErrDetector, got %v", err)
		}
		assertHandlesReleased(t, mio)
	})
}

func TestRun_AnnotatorMustKeepDimensions(t *testing.T) {
	mio := NewMemoryIO()
	mio.AddInput("in.mp4", &MemoryVideo{
		Info:   StreamInfo{FrameCount: 2, Width: testW, Height: testH, FPS: 25},
		Frames: makeFrames(2),
	})
	shrink := AnnotatorFunc(func(f Frame, _ []detection.Detection) (Frame, error) {
		return Frame{Width: 1, Height: 1, Channels: 3, Data: []byte{0, 0, 0}}, nil
	})
	p := New(mio, shrink, WithLogger(log.Discard()))

	_, err := p.Run(context.Background(), baseRequest(detection.NewMock(fireBox()), 1))
	if !errors.Is(err, ErrAnnotate) {
		t.Fatalf("expected ErrAnnotate, got %v", err)
	}
	assertHandlesReleased(t, mio)
}

func TestRun_Canceled(t *testing.T) {
	frames := makeFrames(10)
	p, mio := newTestPipeline(frames, len(frames))

	ctx, cancel := context.WithCancel(context.Background())
	req := baseRequest(detection.NewMock(), 1)
	req.OnProgress = func(pr Progress) {
		if pr.FramesDone == 3 {
			cancel()
		}
	}

	stats, err := p.Run(ctx, req)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled cause, got %v", err)
	}
	if stats.FramesWritten != 3 {
		t.Errorf("wrote %d frames, want 3", stats.FramesWritten)
	}
	assertHandlesReleased(t, mio)
}

func TestRun_InvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"zero threshold", func(r *Request) { r.ConfidenceThreshold = 0 }},
		{"threshold above one", func(r *Request) { r.ConfidenceThreshold = 1.01 }},
		{"zero skip", func(r *Request) { r.FrameSkipInterval = 0 }},
		{"nil detector", func(r *Request) { r.Detector = nil }},
		{"empty output", func(r *Request) { r.OutputPath = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, mio := newTestPipeline(makeFrames(1), 1)
			req := baseRequest(detection.NewMock(), 1)
			tc.mutate(&req)

			_, err := p.Run(context.Background(), req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			if ro, _, _, _ := mio.HandleCounts(); ro != 0 {
				t.Error("input opened for an invalid request")
			}
		})
	}

	t.Run("threshold of one is allowed", func(t *testing.T) {
		p, _ := newTestPipeline(makeFrames(1), 1)
		req := baseRequest(detection.NewMock(), 1)
		req.ConfidenceThreshold = 1.0
		if _, err := p.Run(context.Background(), req); err != nil {
			t.Errorf("Run: %v", err)
		}
	})
}

func TestMemoryIO_WriteFiles(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.mp4")

	p, mio := newTestPipeline(makeFrames(3), 3)
	mio.WriteFiles = true
	req := baseRequest(detection.NewMock(), 1)
	req.OutputPath = out

	if _, err := p.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected output file: %v", err)
	}
}

func TestMemoryIO_CountsEveryClose(t *testing.T) {
	mio := NewMemoryIO()
	mio.AddInput("in.mp4", &MemoryVideo{Info: StreamInfo{Width: testW, Height: testH}})

	r, err := mio.OpenReader("in.mp4")
	if err != nil {
		t.Fatal(err)
	}
	w, err := mio.CreateWriter("out.mp4", r.Info())
	if err != nil {
		t.Fatal(err)
	}
	r.Close()
	r.Close()
	w.Close()
	w.Close()

	ro, rc, wo, wc := mio.HandleCounts()
	if ro != 1 || rc != 2 || wo != 1 || wc != 2 {
		t.Errorf("counts = %d/%d readers, %d/%d writers; want 1/2 and 1/2", ro, rc, wo, wc)
	}
}

func TestRun_ClosesEachHandleOnce(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		setup  func(mio *MemoryIO, v *MemoryVideo, req *Request) context.Context
		failed bool
	}{
		{"success", func(*MemoryIO, *MemoryVideo, *Request) context.Context {
			return context.Background()
		}, false},
		{"read error", func(_ *MemoryIO, v *MemoryVideo, _ *Request) context.Context {
			v.ReadErrAt = 3
			return context.Background()
		}, true},
		{"write error", func(mio *MemoryIO, _ *MemoryVideo, _ *Request) context.Context {
			mio.WriteErrAt = 2
			return context.Background()
		}, true},
		{"close error", func(mio *MemoryIO, _ *MemoryVideo, _ *Request) context.Context {
			mio.CloseErr = boom
			return context.Background()
		}, true},
		{"detector abort", func(_ *MemoryIO, _ *MemoryVideo, req *Request) context.Context {
			req.Detector = &detection.Mock{DetectFunc: func(context.Context, Frame, float64) ([]detection.Detection, error) {
				return nil, boom
			}}
			req.OnDetectorError = Abort
			return context.Background()
		}, true},
		{"canceled", func(*MemoryIO, *MemoryVideo, *Request) context.Context {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx
		}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mio := NewMemoryIO()
			v := &MemoryVideo{
				Info:   StreamInfo{FrameCount: 6, Width: testW, Height: testH, FPS: 30},
				Frames: makeFrames(6),
			}
			mio.AddInput("in.mp4", v)
			p := New(mio, markAnnotator, WithLogger(log.Discard()))
			req := baseRequest(detection.NewMock(fireBox()), 2)
			ctx := tc.setup(mio, v, &req)

			_, err := p.Run(ctx, req)
			if (err != nil) != tc.failed {
				t.Fatalf("Run error = %v, want failure %v", err, tc.failed)
			}
			ro, rc, wo, wc := mio.HandleCounts()
			if ro != 1 || rc != 1 || wo != 1 || wc != 1 {
				t.Errorf("counts = %d/%d readers, %d/%d writers; want each opened and closed once", ro, rc, wo, wc)
			}
		})
	}
}
