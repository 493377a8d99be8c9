// Package sched provides a cancelable one-shot timer abstraction so that
// reconnect and settle delays can be deterministically driven in tests and
// canceled on teardown.
package sched

import (
	"sort"
	"sync"
	"time"
)

// Handle is a scheduled callback that can be canceled before it fires.
type Handle interface {
	Cancel()
}

// Scheduler schedules one-shot callbacks.
type Scheduler interface {
	After(d time.Duration, fn func()) Handle
}

// New returns a Scheduler backed by real timers.
func New() Scheduler {
	return realScheduler{}
}

type realScheduler struct{}

func (realScheduler) After(d time.Duration, fn func()) Handle {
	return timerHandle{t: time.AfterFunc(d, fn)}
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Cancel() {
	h.t.Stop()
}

// Manual is a Scheduler driven by explicit Advance calls, for tests.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*manualTask
}

type manualTask struct {
	at       time.Duration
	fn       func()
	canceled bool
}

// NewManual creates a manual scheduler starting at time zero.
func NewManual() *Manual {
	return &Manual{}
}

// After registers fn to run once the manual clock has advanced by d.
func (m *Manual) After(d time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTask{at: m.now + d, fn: fn}
	m.tasks = append(m.tasks, t)
	return t
}

// Cancel marks the task as canceled; it will not run on Advance.
func (t *manualTask) Cancel() {
	t.canceled = true
}

// Advance moves the clock forward and runs due, non-canceled tasks in
// scheduling order. Callbacks run without the scheduler lock held, so they
// may schedule further tasks.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	var due []*manualTask
	var rest []*manualTask
	for _, t := range m.tasks {
		if !t.canceled && t.at <= m.now {
			due = append(due, t)
		} else if !t.canceled {
			rest = append(rest, t)
		}
	}
	m.tasks = rest
	m.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of tasks still scheduled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.canceled {
			n++
		}
	}
	return n
}
