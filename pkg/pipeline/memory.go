package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// MemoryVideo is an in-memory video stream.
type MemoryVideo struct {
	Info   StreamInfo
	Frames []Frame

	// ReadErrAt makes Read fail at this zero-based index when > 0 or when
	// FailFirstRead is set.
	ReadErrAt     int
	FailFirstRead bool
}

// MemoryIO implements VideoIO over in-memory streams for tests. It counts
// every open and every Close call per stream kind, so a handle closed twice
// shows up as an extra close.
type MemoryIO struct {
	// CreateErr, when set, is returned by CreateWriter.
	CreateErr error

	// WriteErrAt makes the nth Write (zero-based) fail when > 0.
	WriteErrAt int

	// CloseErr, when set, is returned by writer Close.
	CloseErr error

	// WriteFiles makes writers create OutputPath on disk when closed.
	WriteFiles bool

	mu            sync.Mutex
	inputs        map[string]*MemoryVideo
	outputs       map[string]*MemoryVideo
	readersOpen   int
	readersClosed int
	writersOpen   int
	writersClosed int
}

// NewMemoryIO creates an empty MemoryIO.
func NewMemoryIO() *MemoryIO {
	return &MemoryIO{
		inputs:  make(map[string]*MemoryVideo),
		outputs: make(map[string]*MemoryVideo),
	}
}

// AddInput registers an input stream under path.
func (m *MemoryIO) AddInput(path string, v *MemoryVideo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs[path] = v
}

// Output returns what was written to path.
func (m *MemoryIO) Output(path string) (*MemoryVideo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.outputs[path]
	return v, ok
}

// HandleCounts reports how many readers and writers were opened, and how
// many Close calls each kind received.
func (m *MemoryIO) HandleCounts() (readersOpened, readersClosed, writersOpened, writersClosed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readersOpen, m.readersClosed, m.writersOpen, m.writersClosed
}

// OpenReader implements VideoIO.
func (m *MemoryIO) OpenReader(path string) (Reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.inputs[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	m.readersOpen++
	return &memoryReader{io: m, video: v}, nil
}

// CreateWriter implements VideoIO.
func (m *MemoryIO) CreateWriter(path string, info StreamInfo) (Writer, error) {
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &MemoryVideo{Info: info}
	m.outputs[path] = out
	m.writersOpen++
	return &memoryWriter{io: m, path: path, video: out}, nil
}

type memoryReader struct {
	io     *MemoryIO
	video  *MemoryVideo
	next   int
	closed bool
}

func (r *memoryReader) Info() StreamInfo {
	return r.video.Info
}

func (r *memoryReader) Read() (Frame, error) {
	if r.closed {
		return Frame{}, errors.New("reader closed")
	}
	if (r.video.FailFirstRead && r.next == 0) || (r.video.ReadErrAt > 0 && r.next == r.video.ReadErrAt) {
		return Frame{}, fmt.Errorf("corrupt packet at frame %d", r.next)
	}
	if r.next >= len(r.video.Frames) {
		return Frame{}, io.EOF
	}
	f := r.video.Frames[r.next].Clone()
	r.next++
	return f, nil
}

func (r *memoryReader) Close() error {
	r.io.mu.Lock()
	defer r.io.mu.Unlock()
	r.io.readersClosed++
	r.closed = true
	return nil
}

type memoryWriter struct {
	io     *MemoryIO
	path   string
	video  *MemoryVideo
	writes int
	closed bool
}

func (w *memoryWriter) Write(f Frame) error {
	if w.closed {
		return errors.New("writer closed")
	}
	if w.io.WriteErrAt > 0 && w.writes == w.io.WriteErrAt {
		return errors.New("no space left on device")
	}
	w.writes++
	w.io.mu.Lock()
	w.video.Frames = append(w.video.Frames, f.Clone())
	w.io.mu.Unlock()
	return nil
}

func (w *memoryWriter) Close() error {
	w.io.mu.Lock()
	w.io.writersClosed++
	if w.closed {
		w.io.mu.Unlock()
		return nil
	}
	w.closed = true
	n := len(w.video.Frames)
	w.io.mu.Unlock()

	if w.io.CloseErr != nil {
		return w.io.CloseErr
	}
	if w.io.WriteFiles {
		return os.WriteFile(w.path, []byte(fmt.Sprintf("frames=%d\n", n)), 0o644)
	}
	return nil
}
