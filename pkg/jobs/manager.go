package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-firewatch/internal/log"
	"github.com/teslashibe/go-firewatch/pkg/export"
	"github.com/teslashibe/go-firewatch/pkg/metrics"
	"github.com/teslashibe/go-firewatch/pkg/pipeline"
)

const (
	inputName  = "input.mp4"
	outputName = "processed_video.mp4"
)

// Config configures a Manager.
type Config struct {
	WorkDir         string
	MaxConcurrent   int
	ResultTTL       time.Duration
	OnDetectorError pipeline.ErrorPolicy
}

// Manager owns the job table and runs jobs against a shared detector.
type Manager struct {
	runner   Runner
	detector pipeline.Detector
	cfg      Config
	logger   *slog.Logger
	exporter Exporter
	preview  PreviewEncoder
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*entry
	closed bool

	subMu   sync.RWMutex
	subs    map[string]map[int]func(Event)
	nextSub int
}

type entry struct {
	job    Job
	dir    string
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithExporter uploads every completed output.
func WithExporter(e Exporter) Option {
	return func(m *Manager) { m.exporter = e }
}

// WithPreviewEncoder enables preview events.
func WithPreviewEncoder(enc PreviewEncoder) Option {
	return func(m *Manager) { m.preview = enc }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager. The detector is shared by every job.
func NewManager(runner Runner, detector pipeline.Detector, cfg Config, opts ...Option) (*Manager, error) {
	if runner == nil {
		return nil, errors.New("jobs: runner is nil")
	}
	if detector == nil {
		return nil, errors.New("jobs: detector is nil")
	}
	if cfg.WorkDir == "" {
		return nil, errors.New("jobs: work dir is empty")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		runner:   runner,
		detector: detector,
		cfg:      cfg,
		logger:   log.L(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		jobs:     make(map[string]*entry),
		subs:     make(map[string]map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "jobs")
	return m, nil
}

// Submit stores upload as a new job and starts it in the background.
// ctx only bounds the upload copy; the job outlives it.
func (m *Manager) Submit(ctx context.Context, upload io.Reader, filename string, params Params) (Job, error) {
	if err := params.Validate(); err != nil {
		return Job{}, err
	}
	if !strings.EqualFold(filepath.Ext(filename), ".mp4") {
		return Job{}, fmt.Errorf("%w: only .mp4 uploads are accepted", ErrInvalidParams)
	}

	id := uuid.NewString()
	dir := filepath.Join(m.cfg.WorkDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Job{}, fmt.Errorf("create job dir: %w", err)
	}
	if err := saveUpload(ctx, filepath.Join(dir, inputName), upload); err != nil {
		os.RemoveAll(dir)
		return Job{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		os.RemoveAll(dir)
		return Job{}, ErrClosed
	}
	jobCtx, cancel := context.WithCancel(m.ctx)
	e := &entry{
		job: Job{
			ID:        id,
			Filename:  filepath.Base(filename),
			Status:    StatusQueued,
			Params:    params,
			CreatedAt: m.now(),
		},
		dir:    dir,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.jobs[id] = e
	m.wg.Add(1)
	snapshot := e.job
	m.mu.Unlock()

	m.logger.Info("job queued", "job", id, "filename", snapshot.Filename,
		"confidence", params.Confidence, "frame_skip", params.FrameSkip)

	go m.run(jobCtx, e)
	return snapshot, nil
}

func saveUpload(ctx context.Context, path string, upload io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, upload); err != nil {
		f.Close()
		return fmt.Errorf("save upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, e *entry) {
	defer m.wg.Done()
	defer close(e.done)
	defer e.cancel()

	id := e.job.ID
	input := filepath.Join(e.dir, inputName)
	output := filepath.Join(e.dir, outputName)
	defer func() {
		if err := os.Remove(input); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("remove upload", "job", id, "error", err)
		}
	}()

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		m.finish(e, nil, ctx.Err())
		return
	}
	defer func() { <-m.sem }()

	started := m.now()
	m.update(e, func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = &started
	})

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	req := pipeline.Request{
		InputPath:           input,
		OutputPath:          output,
		ConfidenceThreshold: e.job.Params.Confidence,
		FrameSkipInterval:   e.job.Params.FrameSkip,
		Detector:            m.detector,
		OnDetectorError:     m.cfg.OnDetectorError,
		OnProgress: func(p pipeline.Progress) {
			m.setProgress(e, p)
		},
		OnPreview: func(p pipeline.Preview) {
			m.publishPreview(id, p)
		},
	}

	stats, err := m.runner.Run(ctx, req)
	recordStats(stats)

	if err == nil && m.exporter != nil {
		m.export(ctx, e, output)
	}
	m.finish(e, &stats, err)
}

func recordStats(s pipeline.Stats) {
	metrics.JobDuration.Observe(s.Duration.Seconds())
	metrics.FramesTotal.WithLabelValues("sampled").Add(float64(s.FramesSampled))
	metrics.FramesTotal.WithLabelValues("passthrough").Add(float64(s.FramesWritten - s.FramesSampled))
	metrics.DetectionsTotal.Add(float64(s.Detections))
	metrics.DetectorErrorsTotal.Add(float64(s.DetectorErrors))
}

func (m *Manager) export(ctx context.Context, e *entry, output string) {
	key := export.Key(e.job.ID, m.now())
	url, err := m.exporter.Export(ctx, output, key)
	if err != nil {
		metrics.ExportsTotal.WithLabelValues("error").Inc()
		m.logger.Error("export failed", "job", e.job.ID, "backend", m.exporter.Name(), "error", err)
		return
	}
	metrics.ExportsTotal.WithLabelValues("ok").Inc()
	m.logger.Info("output exported", "job", e.job.ID, "backend", m.exporter.Name(), "url", url)
	m.mu.Lock()
	e.job.ExportURL = url
	m.mu.Unlock()
}

func (m *Manager) finish(e *entry, stats *pipeline.Stats, err error) {
	finished := m.now()
	status := StatusCompleted
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrCanceled), errors.Is(err, context.Canceled):
		status = StatusCanceled
	default:
		status = StatusFailed
	}

	m.update(e, func(j *Job) {
		j.Status = status
		j.FinishedAt = &finished
		j.Stats = stats
		if err != nil {
			j.Error = err.Error()
		}
	})
	metrics.JobsTotal.WithLabelValues(string(status)).Inc()

	if err != nil && status == StatusFailed {
		m.logger.Error("job failed", "job", e.job.ID, "error", err)
		return
	}
	m.logger.Info("job finished", "job", e.job.ID, "status", status)
}

// update mutates the job under lock and publishes a status event.
func (m *Manager) update(e *entry, fn func(*Job)) {
	m.mu.Lock()
	fn(&e.job)
	snapshot := e.job
	m.mu.Unlock()
	m.publish(Event{Type: EventStatus, JobID: snapshot.ID, Job: &snapshot})
}

func (m *Manager) setProgress(e *entry, p pipeline.Progress) {
	m.mu.Lock()
	e.job.Progress = p
	id := e.job.ID
	m.mu.Unlock()
	m.publish(Event{Type: EventProgress, JobID: id, Progress: &p})
}

func (m *Manager) publishPreview(id string, p pipeline.Preview) {
	if m.preview == nil || !m.hasSubscribers(id) {
		return
	}
	img, err := m.preview(p.Frame)
	if err != nil {
		m.logger.Warn("encode preview", "job", id, "frame", p.Index, "error", err)
		return
	}
	progress := p.Progress
	m.publish(Event{
		Type:       EventPreview,
		JobID:      id,
		Progress:   &progress,
		FrameIndex: p.Index,
		Detections: len(p.Detections),
		Image:      img,
	})
}

// Get returns a snapshot of one job.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.job, nil
}

// List returns all jobs, oldest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	out := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// OutputPath returns the annotated video of a completed job.
func (m *Manager) OutputPath(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.job.Status != StatusCompleted {
		return "", fmt.Errorf("%w: %s is %s", ErrNotReady, id, e.job.Status)
	}
	return filepath.Join(e.dir, outputName), nil
}

// Wait blocks until the job reaches a terminal status.
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.job, nil
}

// Delete cancels the job if it is still running and removes its files.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if ok {
		delete(m.jobs, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := os.RemoveAll(e.dir); err != nil {
		return fmt.Errorf("remove job files: %w", err)
	}
	m.logger.Info("job deleted", "job", id)
	return nil
}

// Sweep deletes finished jobs older than the result TTL and returns how
// many were removed. A zero TTL keeps results forever.
func (m *Manager) Sweep(now time.Time) int {
	if m.cfg.ResultTTL <= 0 {
		return 0
	}

	var expired []*entry
	m.mu.Lock()
	for id, e := range m.jobs {
		if e.job.FinishedAt != nil && now.Sub(*e.job.FinishedAt) > m.cfg.ResultTTL {
			expired = append(expired, e)
			delete(m.jobs, id)
		}
	}
	m.mu.Unlock()

	for _, e := range expired {
		if err := os.RemoveAll(e.dir); err != nil {
			m.logger.Warn("remove expired job", "job", e.job.ID, "error", err)
			continue
		}
		m.logger.Debug("expired job removed", "job", e.job.ID)
	}
	return len(expired)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(m.now()); n > 0 {
					m.logger.Info("expired jobs removed", "count", n)
				}
			}
		}
	}()
}

// Close cancels every running job and waits for them to stop.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}
