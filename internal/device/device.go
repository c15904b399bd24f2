// Package device defines the adapter contract every concrete device
// (internal/device/videoplayout, and future ATEM/Hyperdeck-style adapters)
// implements, plus the shared, generic handleState driver. Concrete
// adapters supply only the two pure functions that make them
// device-specific — Convert and Diff — and get history tracking, pruning,
// and timed dispatch for free from Core.
//
// Grounded on internal/devices/service.go's Service (topology RWMutex,
// discovery-in-flight dedup) generalized with a type parameter so the same
// "own a mutex-guarded time-indexed snapshot, expose it to callers" shape
// serves any device-specific state type.
package device

import (
	"context"
	"sort"
	"sync"

	"github.com/strefethen/playout-conductor/internal/clock"
	"github.com/strefethen/playout-conductor/internal/doontime"
	"github.com/strefethen/playout-conductor/internal/eventbus"
	"github.com/strefethen/playout-conductor/internal/resolver"
)

// StatusCode is the health classification GetStatus reports, ordered from
// best to worst so aggregation can just take the max.
type StatusCode int

const (
	StatusGood StatusCode = iota
	StatusWarningMinor
	StatusWarningMajor
	StatusBad
)

func (c StatusCode) String() string {
	switch c {
	case StatusGood:
		return "GOOD"
	case StatusWarningMinor:
		return "WARNING_MINOR"
	case StatusWarningMajor:
		return "WARNING_MAJOR"
	case StatusBad:
		return "BAD"
	default:
		return "UNKNOWN"
	}
}

// Status is returned by GetStatus.
type Status struct {
	Code     StatusCode
	Messages []string
}

// Worse returns the more severe of two statuses, concatenating messages
// when equally severe so the Conductor's aggregation never drops detail.
func (s Status) Worse(other Status) Status {
	if other.Code > s.Code {
		return other
	}
	if other.Code < s.Code {
		return s
	}
	return Status{Code: s.Code, Messages: append(append([]string{}, s.Messages...), other.Messages...)}
}

// CommandContext is the diagnostic payload attached to every dispatched
// command: either an explicit old/new value pair, or a
// free-form explanation of why the command was emitted.
type CommandContext struct {
	OldValue any
	NewValue any
	Reason   string
}

// Command is a command-with-context. Inner holds the
// device-specific command payload; ExecuteAt is the wall-clock instant the
// DoOnTime queue should fire it at. A zero ExecuteAt means "the snapshot
// that produced this command" — Core fills it in with that snapshot's Time;
// adapters only set ExecuteAt explicitly for the documented exceptions:
// transition/lookahead exit commands on non-scheduling devices, which must
// fire at their own future wall-clock instant rather than now.
type Command struct {
	Layer         string
	ExecuteAt     int64
	Inner         any
	Context       CommandContext
	TimelineObjID string
}

// CommandReceiver is the injectable seam adapters call to actually send a
// command: (time, command, context, timelineObjId) -> error. Production
// adapters supply one that speaks the device's wire protocol; tests inject
// a recording stub.
type CommandReceiver func(ctx context.Context, time int64, command any, cmdContext CommandContext, timelineObjID string) error

// Options are the per-device configuration options. Host and Port are
// universal; the scheduling/timecode/recording fields are only meaningful
// to adapters that use them. Extra carries any additional adapter-specific
// keys; Init is responsible for rejecting unknown ones.
type Options struct {
	Host               string
	Port               int
	UseScheduling      bool
	TimeBaseFPS        int
	MinRecordingTimeMs int64
	CommandReceiver    CommandReceiver
	InitializeAsClear  bool
	Extra              map[string]any
}

// Adapter is the contract the Conductor depends on.
type Adapter interface {
	Init(ctx context.Context, opts Options) error
	Terminate(ctx context.Context) error
	MakeReady(ctx context.Context, force bool) error

	// HandleState drives the device across every discrete resolved
	// snapshot the Conductor collected for this tick's look-ahead window,
	// states[0] being the current evaluation instant and the rest being
	// future change-points within the horizon. Adapters
	// that have no use for look-ahead simply process states[0].
	HandleState(ctx context.Context, states []resolver.State) error

	ClearFuture(t int64)
	GetStatus() Status

	DeviceType() string
	DeviceName() string
	DeviceID() string
	CanConnect() bool
	Connected() bool
	Queue() *doontime.Queue
	On(topic eventbus.Topic, handler eventbus.Handler) (unsubscribe func())
}

// Core is the generic state-machine-with-history every adapter embeds. S is
// the adapter's device-specific state shape.
type Core[S any] struct {
	mu          sync.Mutex
	clock       clock.Clock
	queue       *doontime.Queue
	bus         *eventbus.Bus
	deviceID    string
	history     map[int64]S
	order       []int64 // ascending keys present in history, kept sorted
	retentionMs int64
	defaultFn   func() S
}

// NewCore constructs a Core. retentionMs bounds how far into the past
// history is kept once the clock advances past it: entries older than the
// newest retained entry at or before now-retentionMs are pruned, keeping
// always at least one entry so stateBefore never needs a synthetic default
// after startup.
func NewCore[S any](clk clock.Clock, queue *doontime.Queue, bus *eventbus.Bus, deviceID string, retentionMs int64, defaultFn func() S) *Core[S] {
	return &Core[S]{
		clock:       clk,
		queue:       queue,
		bus:         bus,
		deviceID:    deviceID,
		history:     make(map[int64]S),
		retentionMs: retentionMs,
		defaultFn:   defaultFn,
	}
}

// StateBefore returns the greatest recorded entry with key <= t, or the
// adapter's default state if history is empty or t precedes every entry
//.
func (c *Core[S]) StateBefore(t int64) S {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := sort.Search(len(c.order), func(i int) bool { return c.order[i] > t })
	if idx == 0 {
		return c.defaultFn()
	}
	return c.history[c.order[idx-1]]
}

// SetState records newState at time t and prunes entries older than the
// retention window.
func (c *Core[S]) SetState(newState S, t int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.history[t]; !exists {
		c.order = insertSortedInt64(c.order, t)
	}
	c.history[t] = newState

	cutoff := t - c.retentionMs
	// Keep the newest entry at or before cutoff so StateBefore(cutoff)
	// still resolves; everything older is pruned.
	keepFrom := sort.Search(len(c.order), func(i int) bool { return c.order[i] > cutoff }) - 1
	if keepFrom > 0 {
		for _, k := range c.order[:keepFrom] {
			delete(c.history, k)
		}
		c.order = append(c.order[:0], c.order[keepFrom:]...)
	}
}

func insertSortedInt64(xs []int64, v int64) []int64 {
	i := sort.Search(len(xs), func(i int) bool { return xs[i] >= v })
	if i < len(xs) && xs[i] == v {
		return xs
	}
	xs = append(xs, 0)
	copy(xs[i+1:], xs[i:])
	xs[i] = v
	return xs
}

// Dispatch runs the diff-and-enqueue half of handleState for one snapshot,
// given the already-converted newState and the command list the adapter's
// Diff produced. t is max(now, snapshotTime).
func (c *Core[S]) Dispatch(ctx context.Context, t, snapshotTime int64, newState S, cmds []Command, receiver CommandReceiver) {
	c.queue.ClearQueueNowAndAfter(t)
	for _, cmd := range cmds {
		execAt := cmd.ExecuteAt
		if execAt == 0 {
			execAt = snapshotTime
		}
		cmd := cmd
		c.queue.Queue(execAt, cmd.Layer, func(ctx context.Context, payload any) error {
			command := payload.(Command)
			if receiver == nil {
				return nil
			}
			if err := receiver(ctx, execAt, command.Inner, command.Context, command.TimelineObjID); err != nil {
				if c.bus != nil {
					c.bus.Emit(eventbus.Event{
						Topic:    eventbus.TopicCommandError,
						DeviceID: c.deviceID,
						Message:  err.Error(),
						Data:     command,
					})
				}
				return err
			}
			return nil
		}, cmd)
	}
	c.SetState(newState, snapshotTime)
}

// Now returns the current clock reading.
func (c *Core[S]) Now() int64 { return c.clock.Now() }

// Bus returns the shared event bus.
func (c *Core[S]) Bus() *eventbus.Bus { return c.bus }

// Queue returns the device's DoOnTime queue.
func (c *Core[S]) Queue() *doontime.Queue { return c.queue }
