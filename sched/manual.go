package sched

import (
	"sync"
	"time"
)

// Manual is a Scheduler driven by explicit calls, for tests and offline rendering.
// Time only moves in Advance; posted functions run in RunPending and Advance.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	posted []func()
	timers []*manualTimer
}

type manualTimer struct {
	when   time.Time
	period time.Duration
	seq    int
	f      func()
	task   *Task
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Post(f func()) {
	m.mu.Lock()
	m.posted = append(m.posted, f)
	m.mu.Unlock()
}

func (m *Manual) AfterFunc(d time.Duration, f func()) *Task {
	return m.schedule(d, 0, f)
}

func (m *Manual) Every(d time.Duration, f func()) *Task {
	d = period(d)
	return m.schedule(d, d, f)
}

func (m *Manual) schedule(d, period time.Duration, f func()) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{when: m.now.Add(d), period: period, seq: m.seq, f: f, task: &Task{}}
	m.timers = append(m.timers, t)
	return t.task
}

// RunPending runs posted functions, including the ones they post, until none are left.
func (m *Manual) RunPending() {
	for {
		m.mu.Lock()
		if len(m.posted) == 0 {
			m.mu.Unlock()
			return
		}
		f := m.posted[0]
		m.posted = m.posted[1:]
		m.mu.Unlock()
		f()
	}
}

// Pending returns the number of scheduled, not cancelled timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if t.task.Active() {
			n++
		}
	}
	return n
}

// Advance moves time forward by d, firing due timers in time order.
func (m *Manual) Advance(d time.Duration) {
	m.RunPending()
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		if t.task.Active() {
			if t.period == 0 {
				t.task.finish()
			}
			t.f()
		}
		m.RunPending()
	}
	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// nextDue removes (or reschedules, for periodic timers) the earliest timer due at or before
// target and moves the clock to its deadline.
func (m *Manual) nextDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *manualTimer
	nextIdx := -1
	live := m.timers[:0]
	for _, t := range m.timers {
		if t.task.Active() {
			live = append(live, t)
		}
	}
	m.timers = live
	for i, t := range m.timers {
		if t.when.After(target) {
			continue
		}
		if next == nil || t.when.Before(next.when) || (t.when.Equal(next.when) && t.seq < next.seq) {
			next, nextIdx = t, i
		}
	}
	if next == nil {
		return nil
	}
	m.now = next.when
	if next.period > 0 {
		m.seq++
		m.timers[nextIdx] = &manualTimer{
			when:   next.when.Add(next.period),
			period: next.period,
			seq:    m.seq,
			f:      next.f,
			task:   next.task,
		}
	} else {
		m.timers = append(m.timers[:nextIdx], m.timers[nextIdx+1:]...)
	}
	return next
}
