// Package doontime is the per-device timed dispatch queue: it accepts
// (executeAt, payload, handler) and guarantees handler(payload) fires as
// close to executeAt as possible, in non-decreasing time order per
// send-mode.
//
// Grounded on internal/scheduler.JobRunner's poll/claim/execute loop
// (internal/scheduler/runner.go) — the same "hold a set of due-at items,
// fire the ones whose time has come, keep the rest" shape, generalized
// from "poll a SQLite jobs table every 10s" to "fire entries as a mock or
// real clock reaches their time", and using its exponential-backoff retry
// posture for nothing: handler errors never retry automatically — only the
// *command itself* gets retried by an outer layer if the caller wants that.
package doontime

import (
	"context"
	"sort"
	"sync"

	"github.com/strefethen/playout-conductor/internal/clock"
	"github.com/strefethen/playout-conductor/internal/eventbus"
)

// SendMode selects how due entries are fired.
type SendMode int

const (
	// Burst fires every due entry in one pass, in ascending (time,
	// insertion order), without the slowCommand check. Handlers are called
	// one after another on the firing goroutine, so a slow handler delays
	// the entries after it; sends do not overlap.
	Burst SendMode = iota
	// InOrder serializes firing: each handler completes before the next
	// fires, so a slow command cannot be overtaken.
	InOrder
)

// Handler is invoked with an entry's payload at (as close as possible to)
// its scheduled time. Its error is caught and published on the bus; it
// never blocks the queue's bookkeeping.
type Handler func(ctx context.Context, payload any) error

// Token identifies a queued entry for later inspection or removal.
type Token uint64

type entry struct {
	token      Token
	time       int64
	queueGroup string
	handler    Handler
	payload    any
	order      uint64
}

// Entry is the read-only view GetQueue returns.
type Entry struct {
	Token      Token
	Time       int64
	QueueGroup string
	Payload    any
}

// Queue is one device's DoOnTime queue.
type Queue struct {
	mu       sync.Mutex
	sched    clock.Scheduler
	mode     SendMode
	bus      *eventbus.Bus
	deviceID string

	slowThresholdMs int64

	entries   []entry
	nextOrder uint64
	nextToken Token

	timerCancel func()
	disposed    bool
}

// New creates a Queue. sched provides the clock the queue fires against
// (clock.System in production, a *clock.Mock in tests); bus receives error
// and slowCommand events; deviceID tags those events.
func New(sched clock.Scheduler, mode SendMode, bus *eventbus.Bus, deviceID string, slowThresholdMs int64) *Queue {
	return &Queue{
		sched:           sched,
		mode:            mode,
		bus:             bus,
		deviceID:        deviceID,
		slowThresholdMs: slowThresholdMs,
	}
}

// Queue enqueues handler(payload) to fire at time, tagged with queueGroup
// (used only for diagnostics/GetQueue filtering). Returns a token usable
// with ClearQueueAfter's siblings or direct removal.
func (q *Queue) Queue(time int64, queueGroup string, handler Handler, payload any) Token {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return 0
	}

	q.nextToken++
	tok := q.nextToken
	q.nextOrder++
	e := entry{
		token:      tok,
		time:       time,
		queueGroup: queueGroup,
		handler:    handler,
		payload:    payload,
		order:      q.nextOrder,
	}
	q.entries = insertSorted(q.entries, e)
	q.rescheduleTimerLocked()
	return tok
}

func insertSorted(entries []entry, e entry) []entry {
	i := sort.Search(len(entries), func(i int) bool {
		if entries[i].time != e.time {
			return entries[i].time > e.time
		}
		return entries[i].order > e.order
	})
	entries = append(entries, entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}

// ClearQueueAfter removes every entry with time strictly after t.
func (q *Queue) ClearQueueAfter(t int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.filterLocked(func(e entry) bool { return e.time <= t })
}

// ClearQueueNowAndAfter removes every entry with time >= t.
func (q *Queue) ClearQueueNowAndAfter(t int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.filterLocked(func(e entry) bool { return e.time < t })
}

func (q *Queue) filterLocked(keep func(entry) bool) {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if keep(e) {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	q.rescheduleTimerLocked()
}

// GetQueue returns a stable, time-ordered snapshot of pending entries.
func (q *Queue) GetQueue() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = Entry{Token: e.token, Time: e.time, QueueGroup: e.queueGroup, Payload: e.payload}
	}
	return out
}

// Remove drops a single entry by token, if still pending. Reports whether
// it was found.
func (q *Queue) Remove(tok Token) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.token == tok {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.rescheduleTimerLocked()
			return true
		}
	}
	return false
}

// Dispose suppresses all future firings and cancels the pending timer.
func (q *Queue) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.disposed = true
	q.entries = nil
	if q.timerCancel != nil {
		q.timerCancel()
		q.timerCancel = nil
	}
}

// Advance is an external nudge — used by tests driving a *clock.Mock, and
// harmless to call in production since it just re-evaluates due entries
// against the current clock reading.
func (q *Queue) Advance() {
	q.fireDue()
}

// rescheduleTimerLocked arms a one-shot timer for the earliest pending
// entry. Must be called with q.mu held.
func (q *Queue) rescheduleTimerLocked() {
	if q.timerCancel != nil {
		q.timerCancel()
		q.timerCancel = nil
	}
	if q.disposed || len(q.entries) == 0 {
		return
	}
	next := q.entries[0].time
	q.timerCancel = q.sched.AfterFunc(next, q.fireDue)
}

// fireDue pulls every entry due at or before now and dispatches it
// according to the queue's send mode.
func (q *Queue) fireDue() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	now := q.sched.Now()

	var due []entry
	remaining := q.entries[:0]
	for _, e := range q.entries {
		if e.time <= now {
			due = append(due, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	q.entries = remaining
	q.rescheduleTimerLocked()
	mode := q.mode
	q.mu.Unlock()

	switch mode {
	case Burst:
		for _, e := range due {
			q.dispatch(e)
		}
	case InOrder:
		for _, e := range due {
			q.dispatchInOrder(e, now)
		}
	}
}

func (q *Queue) dispatch(e entry) {
	if err := e.handler(context.Background(), e.payload); err != nil {
		q.emitError(e, err)
	}
}

// dispatchInOrder runs e.handler synchronously (the caller is the only
// goroutine ever pumping this queue, a single-threaded cooperative model)
// and emits slowCommand if the entry waited longer than the configured
// threshold for its predecessor to be picked up.
func (q *Queue) dispatchInOrder(e entry, now int64) {
	if q.slowThresholdMs > 0 && now-e.time > q.slowThresholdMs {
		q.emitSlow(e, now-e.time)
	}
	if err := e.handler(context.Background(), e.payload); err != nil {
		q.emitError(e, err)
	}
}

func (q *Queue) emitError(e entry, err error) {
	if q.bus == nil {
		return
	}
	q.bus.Emit(eventbus.Event{
		Topic:    eventbus.TopicError,
		DeviceID: q.deviceID,
		Message:  err.Error(),
		Data:     e.queueGroup,
	})
}

func (q *Queue) emitSlow(e entry, lateMs int64) {
	if q.bus == nil {
		return
	}
	q.bus.Emit(eventbus.Event{
		Topic:    eventbus.TopicSlowCommand,
		DeviceID: q.deviceID,
		Message:  "command fired late",
		Data:     lateMs,
	})
}
