// Package sched provides the single-threaded event loop the viewer engine runs on.
//
// All engine state is owned by one goroutine. Network completions, timers and host calls are
// posted to the loop and executed one at a time, so engine types need no locking.
package sched

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs functions on the loop, now or later.
type Scheduler interface {
	// Now returns the loop time.
	Now() time.Time
	// Post queues f to run on the loop. It may be called from any goroutine.
	Post(f func())
	// AfterFunc runs f on the loop once d has elapsed, unless the task is cancelled first.
	AfterFunc(d time.Duration, f func()) *Task
	// Every runs f on the loop every d until the task is cancelled.
	// Periods shorter than MinPeriod are raised to MinPeriod.
	Every(d time.Duration, f func()) *Task
}

// MinPeriod is the shortest period of a repeating task.
const MinPeriod = time.Millisecond

func period(d time.Duration) time.Duration {
	return max(d, MinPeriod)
}

// Task is a cancellation token for a scheduled function.
// A cancelled task never runs again, even if its timer already fired.
type Task struct {
	mu        sync.Mutex
	cancelled bool
	stop      func()
}

// Cancel stops the task. It is safe to call on a nil or already cancelled task.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	if t.stop != nil {
		t.stop()
	}
}

// Active reports whether the task may still run.
func (t *Task) Active() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.cancelled
}

func (t *Task) finish() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

// Loop is a Scheduler backed by real time and one goroutine running Run.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
}

func NewLoop() *Loop {
	return &Loop{notify: make(chan struct{}, 1)}
}

// Run executes posted functions until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.notify:
		}
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			f := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			f()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

func (l *Loop) Post(f func()) {
	l.mu.Lock()
	l.queue = append(l.queue, f)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *Loop) AfterFunc(d time.Duration, f func()) *Task {
	task := &Task{}
	timer := time.AfterFunc(d, func() {
		l.Post(func() {
			if task.Active() {
				task.finish()
				f()
			}
		})
	})
	task.stop = func() { timer.Stop() }
	return task
}

func (l *Loop) Every(d time.Duration, f func()) *Task {
	task := &Task{}
	ticker := time.NewTicker(period(d))
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				l.Post(func() {
					if task.Active() {
						f()
					}
				})
			}
		}
	}()
	task.stop = func() {
		ticker.Stop()
		close(done)
	}
	return task
}
