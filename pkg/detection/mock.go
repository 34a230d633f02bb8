package detection

import (
	"context"
	"sync"
)

// Mock implements Detector for testing.
type Mock struct {
	// DetectFunc is called when Detect is invoked. Nil means "no detections".
	DetectFunc func(ctx context.Context, frame Frame, threshold float64) ([]Detection, error)

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu     sync.Mutex
	calls  []MockCall
	closed bool
}

// MockCall records a Detect invocation.
type MockCall struct {
	Seq       int
	Threshold float64
	Frame     Frame
}

// NewMock creates a mock that always returns dets.
func NewMock(dets ...Detection) *Mock {
	return &Mock{
		DetectFunc: func(ctx context.Context, frame Frame, threshold float64) ([]Detection, error) {
			if len(dets) == 0 {
				return nil, nil
			}
			return append([]Detection(nil), dets...), nil
		},
	}
}

// Detect records the call and delegates to DetectFunc.
func (m *Mock) Detect(ctx context.Context, frame Frame, threshold float64) ([]Detection, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Seq: len(m.calls), Threshold: threshold, Frame: frame.Clone()})
	fn := m.DetectFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(ctx, frame, threshold)
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of Detect calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
