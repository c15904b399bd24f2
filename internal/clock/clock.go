// Package clock provides an injectable monotonic time source for the
// conductor and its device adapters, so tests can drive the engine without
// sleeping on a wall clock.
package clock

import (
	"sync"
	"time"
)

// Clock is the single time source threaded through the engine. Now returns
// milliseconds since the Unix epoch, matching the resolution every timeline
// object and device state timestamp is expressed in.
type Clock interface {
	Now() int64
}

// System is the production Clock, backed by time.Now().
type System struct{}

// NewSystem returns a Clock backed by the real wall clock.
func NewSystem() System {
	return System{}
}

func (System) Now() int64 {
	return time.Now().UnixMilli()
}

// AfterFunc schedules fn to run once real wall-clock time reaches atMs,
// satisfying the Scheduler interface doontime.Queue depends on.
func (s System) AfterFunc(atMs int64, fn func()) (cancel func()) {
	d := time.Duration(atMs-s.Now()) * time.Millisecond
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

// Scheduler is the capability DoOnTime queues need from a clock: reading
// the current time and registering a one-shot future callback. System
// backs it with a real timer; Mock backs it with the deterministic
// AfterFunc/Advance primitives below.
type Scheduler interface {
	Clock
	AfterFunc(atMs int64, fn func()) (cancel func())
}

// dueTimer is a callback registered via Mock.AfterFunc, fired once the mock
// clock advances past its deadline.
type dueTimer struct {
	at int64
	fn func()
	id uint64
}

// Mock is a deterministic Clock for tests. Advance moves the clock forward
// and flushes (synchronously, in deadline order) any timers registered via
// AfterFunc whose deadline has been reached, mirroring how the real
// DoOnTime queue's internal ticker would fire them.
type Mock struct {
	mu      sync.Mutex
	now     int64
	timers  []dueTimer
	nextID  uint64
}

// NewMock creates a Mock clock starting at startMs.
func NewMock(startMs int64) *Mock {
	return &Mock{now: startMs}
}

func (m *Mock) Now() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set jumps the clock to an absolute time without flushing timers. Used by
// tests that want to simulate a clock skip without exercising scheduling.
func (m *Mock) Set(ms int64) {
	m.mu.Lock()
	m.now = ms
	m.mu.Unlock()
}

// AfterFunc registers fn to run once the mock clock reaches atMs or later.
// Returns a cancel function.
func (m *Mock) AfterFunc(atMs int64, fn func()) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.timers = append(m.timers, dueTimer{at: atMs, fn: fn, id: id})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, t := range m.timers {
			if t.id == id {
				m.timers = append(m.timers[:i], m.timers[i+1:]...)
				return
			}
		}
	}
}

// Advance moves the clock forward by delta and fires, in ascending deadline
// order, every timer whose deadline now lies at or before the new time.
// This is the deterministic "tick" primitive tests rely on: it both
// advances the clock and flushes due timers in one step.
func (m *Mock) Advance(delta int64) {
	m.mu.Lock()
	m.now += delta
	due := m.dueLocked()
	m.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// Tick is an alias for Advance kept for readability at call sites that are
// nudging the clock rather than performing a large time jump.
func (m *Mock) Tick(delta int64) {
	m.Advance(delta)
}

func (m *Mock) dueLocked() []dueTimer {
	now := m.now
	var due []dueTimer
	var remaining []dueTimer
	for _, t := range m.timers {
		if t.at <= now {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	m.timers = remaining

	// Ascending deadline, ties broken by registration order (id).
	for i := 1; i < len(due); i++ {
		for j := i; j > 0 && (due[j].at < due[j-1].at || (due[j].at == due[j-1].at && due[j].id < due[j-1].id)); j-- {
			due[j], due[j-1] = due[j-1], due[j]
		}
	}
	return due
}
