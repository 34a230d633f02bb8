package pipeline

// Fraction returns min(done/total, 1). ok is false when total is unknown.
func Fraction(done, total int) (frac float64, ok bool) {
	if total <= 0 {
		return 0, false
	}
	frac = float64(done) / float64(total)
	if frac > 1 {
		frac = 1
	}
	return frac, true
}

// progressTracker reports a non-decreasing progress sequence.
type progressTracker struct {
	total int
	last  Progress
	emit  func(Progress)
}

func newProgressTracker(total int, emit func(Progress)) *progressTracker {
	t := &progressTracker{total: total, emit: emit}
	t.last = t.at(0)
	return t
}

func (t *progressTracker) at(done int) Progress {
	p := Progress{FramesDone: done, TotalFrames: t.total}
	frac, ok := Fraction(done, t.total)
	p.Fraction = frac
	p.Indeterminate = !ok
	return p
}

func (t *progressTracker) current() Progress {
	return t.last
}

func (t *progressTracker) advance(done int) {
	p := t.at(done)
	if p.Fraction < t.last.Fraction {
		p.Fraction = t.last.Fraction
	}
	t.last = p
	if t.emit != nil {
		t.emit(p)
	}
}

// finish closes the sequence at 1.0 when the advertised frame count
// overstated the real one.
func (t *progressTracker) finish() {
	if t.total <= 0 || t.last.Fraction >= 1 {
		return
	}
	t.last.Fraction = 1
	if t.emit != nil {
		t.emit(t.last)
	}
}
