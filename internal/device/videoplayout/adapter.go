package videoplayout

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/strefethen/playout-conductor/internal/apperrors"
	"github.com/strefethen/playout-conductor/internal/audit"
	"github.com/strefethen/playout-conductor/internal/clock"
	"github.com/strefethen/playout-conductor/internal/device"
	"github.com/strefethen/playout-conductor/internal/doontime"
	"github.com/strefethen/playout-conductor/internal/eventbus"
	"github.com/strefethen/playout-conductor/internal/mapping"
	"github.com/strefethen/playout-conductor/internal/resolver"
)

// Adapter is the videoplayout device.Adapter implementation: a
// scheduling-aware CasparCG/AMCP-flavored video playout server.
//
// Grounded on internal/sonos/play.go's PlayService layered over
// internal/devices/service.go's mutex-guarded, lazily (re)connected
// transport.
type Adapter struct {
	core     *device.Core[State]
	client   *Client
	tracker  *scheduleTracker
	trail    *audit.Trail
	table    mapping.Table
	tableMu  sync.RWMutex
	logger   *log.Logger
	deviceID string

	optsMu sync.Mutex
	opts   device.Options

	connMu    sync.Mutex
	connected bool

	statusMu sync.Mutex
	status   device.Status
}

// NewAdapter constructs a disconnected Adapter bound to deviceID. table is
// the mapping.Table snapshot used to project resolver states into this
// device's layers; the conductor calls SetMapping on change.
func NewAdapter(deviceID string, clk clock.Clock, bus *eventbus.Bus, sched clock.Scheduler, table mapping.Table, logger *log.Logger, slowThresholdMs int64) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	queue := doontime.New(sched, doontime.InOrder, bus, deviceID, slowThresholdMs)
	return &Adapter{
		core:     device.NewCore[State](clk, queue, bus, deviceID, 0, DefaultState),
		tracker:  newScheduleTracker(),
		table:    table,
		logger:   logger,
		deviceID: deviceID,
		status:   device.Status{Code: device.StatusGood},
	}
}

// SetAuditTrail attaches a command audit trail. Recording failures are only
// logged over the event bus; they never block dispatch (see
// audit.Trail.Record).
func (a *Adapter) SetAuditTrail(trail *audit.Trail) {
	a.trail = trail
}

// SetMapping swaps the mapping table this adapter projects against: a
// mapping change invalidates every device's resolved view.
func (a *Adapter) SetMapping(t mapping.Table) {
	a.tableMu.Lock()
	a.table = t
	a.tableMu.Unlock()
}

func (a *Adapter) mapping() mapping.Table {
	a.tableMu.RLock()
	defer a.tableMu.RUnlock()
	return a.table
}

// Init validates Options and opens the transport connection. Unknown
// Extra keys are rejected at init.
func (a *Adapter) Init(ctx context.Context, opts device.Options) error {
	for k := range opts.Extra {
		return apperrors.NewUnknownConfigKeyError(k)
	}
	if opts.TimeBaseFPS <= 0 {
		return apperrors.NewConfigError("videoplayout: timeBaseFPS must be positive", nil)
	}

	a.optsMu.Lock()
	a.opts = opts
	a.optsMu.Unlock()

	timeout := 5 * time.Second
	a.client = NewClient(opts.Host, opts.Port, timeout)

	if err := a.client.Connect(ctx); err != nil {
		a.setConnected(false)
		a.setStatus(device.Status{Code: device.StatusBad, Messages: []string{err.Error()}})
		return nil // connection failures are recoverable events, not init errors
	}
	a.setConnected(true)

	if opts.InitializeAsClear {
		a.core.SetState(DefaultState(), a.core.Now())
	}
	return nil
}

// Terminate disposes the queue, best-effort retracts every still-tracked
// on-device schedule with a ScheduleRemove (send errors are ignored), and
// closes the transport connection.
func (a *Adapter) Terminate(ctx context.Context) error {
	a.core.Queue().Dispose()
	if a.client != nil {
		for _, p := range a.tracker.pending {
			if line, err := encodeCommand(ScheduleRemoveCmd{Token: p.token}); err == nil {
				_, _ = a.client.Send(ctx, line)
			}
		}
		return a.client.Close()
	}
	return nil
}

// MakeReady reconnects (or, if force, forcibly reconnects) the transport.
func (a *Adapter) MakeReady(ctx context.Context, force bool) error {
	if a.Connected() && !force {
		return nil
	}
	if force && a.client != nil {
		_ = a.client.Close()
	}
	if err := a.client.Connect(ctx); err != nil {
		a.setConnected(false)
		a.core.Bus().Errorf(a.deviceID, "reconnect failed: %v", err)
		return nil
	}
	a.setConnected(true)
	return nil
}

// HandleState implements the generalized Adapter contract (device.go):
// states[0] is "now", the rest are future change-points within the
// conductor's look-ahead horizon, letting Convert peek
// forward for lookahead pairing without Diff itself needing a clock.
func (a *Adapter) HandleState(ctx context.Context, states []resolver.State) error {
	if len(states) == 0 {
		return nil
	}
	now := a.core.Now()
	snapshotTime := states[0].Time
	t := snapshotTime
	if now > t {
		t = now
	}

	table := a.mapping()
	a.optsMu.Lock()
	opts := a.opts
	a.optsMu.Unlock()

	oldState := a.core.StateBefore(t)
	newState := Convert(states, 0, table, a.deviceID, snapshotTime, opts.TimeBaseFPS)

	cmds := Diff(oldState, newState)
	cmds = a.tracker.wrapAndTrack(cmds, oldState, newState, t, opts.UseScheduling, opts.TimeBaseFPS)

	a.core.Dispatch(ctx, t, snapshotTime, newState, cmds, a.sendCommand)
	return nil
}

// sendCommand is the device.CommandReceiver this adapter feeds its Core:
// encode the command and send it over the TCP transport.
func (a *Adapter) sendCommand(ctx context.Context, execAt int64, command any, cmdCtx device.CommandContext, timelineObjID string) error {
	line, err := encodeCommand(command)
	if err != nil {
		return apperrors.NewInternalError(err.Error())
	}
	a.recordAudit(ctx, execAt, command, cmdCtx, timelineObjID)

	if _, err := a.client.Send(ctx, line); err != nil {
		a.setConnected(false)
		return err
	}
	return nil
}

// recordAudit best-effort writes a dispatched command to the audit trail.
// A nil trail (none attached) records nothing; a write failure is only
// surfaced as a warning on the event bus, never returned to the dispatch
// path.
func (a *Adapter) recordAudit(ctx context.Context, execAt int64, command any, cmdCtx device.CommandContext, timelineObjID string) {
	if a.trail == nil {
		return
	}
	layer := ""
	kind := "UNKNOWN"
	if k, ok := command.(Kinded); ok {
		kind = string(k.Kind())
	}
	layer = layerFromCommand(command)

	entry := audit.Entry{
		DeviceID:      a.deviceID,
		Layer:         layer,
		TimelineObjID: timelineObjID,
		ExecuteAtMs:   execAt,
		Kind:          kind,
		Reason:        cmdCtx.Reason,
		Payload:       command,
	}
	if err := a.trail.Record(ctx, entry); err != nil {
		a.core.Bus().Warnf(a.deviceID, "audit record failed: %v", err)
	}
}

// layerFromCommand extracts the targeted ChannelLayer's string form from
// any videoplayout command, falling back to "" for types with no single
// target layer (ScheduleRemoveCmd, which carries only a token, and any
// unrecognized type).
func layerFromCommand(command any) string {
	switch c := command.(type) {
	case PlayCmd:
		return c.ChannelLayer.String()
	case ClearCmd:
		return c.ChannelLayer.String()
	case LoadBackgroundCmd:
		return c.ChannelLayer.String()
	case ScheduleSetCmd:
		return layerFromCommand(c.Inner)
	case ScheduleRemoveCmd:
		return ""
	default:
		return ""
	}
}

// ClearFuture drops every queued command strictly after t without sending
// it: the conductor calls it on mapping change to invalidate stale future
// commands.
func (a *Adapter) ClearFuture(t int64) {
	a.core.Queue().ClearQueueAfter(t)
}

// GetStatus reports this adapter's current health.
func (a *Adapter) GetStatus() device.Status {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	return a.status
}

func (a *Adapter) setStatus(s device.Status) {
	a.statusMu.Lock()
	a.status = s
	a.statusMu.Unlock()
}

func (a *Adapter) DeviceType() string { return deviceTypeTag }
func (a *Adapter) DeviceName() string { return a.deviceID }
func (a *Adapter) DeviceID() string   { return a.deviceID }

// CanConnect reports whether this adapter has ever been initialized with
// connection details.
func (a *Adapter) CanConnect() bool { return a.client != nil }

func (a *Adapter) Connected() bool {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	return a.connected
}

func (a *Adapter) setConnected(v bool) {
	a.connMu.Lock()
	wasConnected := a.connected
	a.connected = v
	a.connMu.Unlock()

	if wasConnected != v {
		a.core.Bus().Emit(eventbus.Event{
			Topic:    eventbus.TopicConnectionChanged,
			DeviceID: a.deviceID,
			Data:     v,
		})
	}
}

func (a *Adapter) Queue() *doontime.Queue { return a.core.Queue() }

func (a *Adapter) On(topic eventbus.Topic, handler eventbus.Handler) (unsubscribe func()) {
	return a.core.Bus().On(topic, handler)
}
