package mouse_telemetry

import (
	"sort"
	"time"
)

// manualScheduler fires timers only when the test advances its clock
type manualScheduler struct {
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *manualScheduler) Now() time.Time {
	return m.now
}

func (m *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	m.seq++
	t := &manualTimer{at: m.now.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward, firing due timers in order
func (m *manualScheduler) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.at
		next.fired = true
		next.f()
	}
	m.now = target
}

func (m *manualScheduler) nextDue(target time.Time) *manualTimer {
	var pending []*manualTimer
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			pending = append(pending, t)
		}
	}
	m.timers = pending

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].at.Equal(pending[j].at) {
			return pending[i].seq < pending[j].seq
		}
		return pending[i].at.Before(pending[j].at)
	})

	if len(pending) == 0 || pending[0].at.After(target) {
		return nil
	}
	return pending[0]
}

// Pending returns the number of armed timers
func (m *manualScheduler) Pending() int {
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// NextAt returns the due time of the earliest armed timer
func (m *manualScheduler) NextAt() (time.Time, bool) {
	next := m.nextDue(m.now.Add(365 * 24 * time.Hour))
	if next == nil {
		return time.Time{}, false
	}
	return next.at, true
}
