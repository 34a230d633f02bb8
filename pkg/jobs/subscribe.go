package jobs

import "fmt"

// Subscribe registers fn for events of one job. fn runs on the job's
// goroutine and must not block. The returned func unsubscribes.
func (m *Manager) Subscribe(id string, fn func(Event)) (func(), error) {
	if _, err := m.Get(id); err != nil {
		return nil, err
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subs[id] == nil {
		m.subs[id] = make(map[int]func(Event))
	}
	key := m.nextSub
	m.nextSub++
	m.subs[id][key] = fn

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs[id], key)
		if len(m.subs[id]) == 0 {
			delete(m.subs, id)
		}
	}, nil
}

func (m *Manager) hasSubscribers(id string) bool {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subs[id]) > 0
}

func (m *Manager) publish(ev Event) {
	m.subMu.RLock()
	fns := make([]func(Event), 0, len(m.subs[ev.JobID]))
	for _, fn := range m.subs[ev.JobID] {
		fns = append(fns, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// String implements fmt.Stringer.
func (e Event) String() string {
	switch e.Type {
	case EventProgress:
		if e.Progress != nil {
			return fmt.Sprintf("%s progress %d/%d", e.JobID, e.Progress.FramesDone, e.Progress.TotalFrames)
		}
	case EventStatus:
		if e.Job != nil {
			return fmt.Sprintf("%s %s", e.JobID, e.Job.Status)
		}
	case EventPreview:
		return fmt.Sprintf("%s preview frame %d (%d bytes)", e.JobID, e.FrameIndex, len(e.Image))
	}
	return fmt.Sprintf("%s %s", e.JobID, e.Type)
}
