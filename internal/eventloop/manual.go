package eventloop

import (
	"sort"
	"time"
)

// Manual is a virtual-time Scheduler. Callbacks only run inside Advance or
// RunAll, on the caller's goroutine, ordered by due time and then by the
// order they were scheduled.
type Manual struct {
	now     time.Duration
	seq     uint64
	pending []*manualTimer
}

func NewManual() *Manual {
	return &Manual{}
}

type manualTimer struct {
	m   *Manual
	due time.Duration
	seq uint64
	f   func()
}

func (t *manualTimer) Stop() bool {
	for i, p := range t.m.pending {
		if p == t {
			t.m.pending = append(t.m.pending[:i], t.m.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{m: m, due: m.now + d, seq: m.seq, f: f}
	m.pending = append(m.pending, t)
	return t
}

// Now is the elapsed virtual time.
func (m *Manual) Now() time.Duration {
	return m.now
}

func (m *Manual) Pending() int {
	return len(m.pending)
}

// Advance moves virtual time forward by d, running every callback that
// becomes due, including ones scheduled by callbacks during the advance.
func (m *Manual) Advance(d time.Duration) int {
	end := m.now + d
	ran := 0
	for {
		t := m.next()
		if t == nil || t.due > end {
			break
		}
		m.remove(t)
		m.now = t.due
		t.f()
		ran++
	}
	m.now = end
	return ran
}

// RunAll runs callbacks until nothing is pending and returns how many ran.
func (m *Manual) RunAll() int {
	ran := 0
	for {
		t := m.next()
		if t == nil {
			return ran
		}
		m.remove(t)
		m.now = t.due
		t.f()
		ran++
	}
}

func (m *Manual) next() *manualTimer {
	if len(m.pending) == 0 {
		return nil
	}
	sort.SliceStable(m.pending, func(i, j int) bool {
		a, b := m.pending[i], m.pending[j]
		if a.due != b.due {
			return a.due < b.due
		}
		return a.seq < b.seq
	})
	return m.pending[0]
}

func (m *Manual) remove(t *manualTimer) {
	for i, p := range m.pending {
		if p == t {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}
