// Package conductor owns the clock, mapping table, device registry, and
// current timeline, and drives the resolve/dispatch tick that fans
// resolved state out to every device.
//
// Grounded on internal/devices/service.go's Service (RWMutex-guarded
// topology, swap-the-whole-thing-atomically on change) generalized from
// "one discovered Sonos topology" to "one conductor's worth of devices,
// mapping, and timeline", and on internal/scheduler/service.go's
// Start/Stop-with-stopChan lifecycle for the tick goroutine.
package conductor

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/playout-conductor/internal/apperrors"
	"github.com/strefethen/playout-conductor/internal/clock"
	"github.com/strefethen/playout-conductor/internal/device"
	"github.com/strefethen/playout-conductor/internal/eventbus"
	"github.com/strefethen/playout-conductor/internal/mapping"
	"github.com/strefethen/playout-conductor/internal/resolver"
	"github.com/strefethen/playout-conductor/internal/timeline"
)

// Options configures a Conductor.
type Options struct {
	LookaheadMs       int64
	TickIntervalMs    int64
	InitializeAsClear bool

	// ReconcileCron is a standard 5-field cron expression for the
	// housekeeping reconcile job: an independent, slower-cadence pass
	// that attempts to reconnect any device currently reporting
	// disconnected, separate from the per-tick resolve/dispatch loop.
	// Empty disables it.
	ReconcileCron string
}

// Conductor drives the resolve/dispatch tick loop.
type Conductor struct {
	clk      clock.Clock
	resolver resolver.Resolver
	bus      *eventbus.Bus
	logger   *log.Logger
	opts     Options

	mu       sync.RWMutex
	devices  map[string]device.Adapter
	table    mapping.Table
	timeline timeline.Timeline

	reconcileSchedule cron.Schedule

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Conductor. An empty mapping table and an empty timeline
// are the starting state; call SetMapping and SetTimeline to load them.
func New(clk clock.Clock, res resolver.Resolver, bus *eventbus.Bus, logger *log.Logger, opts Options) *Conductor {
	if logger == nil {
		logger = log.Default()
	}
	if opts.LookaheadMs <= 0 {
		opts.LookaheadMs = 2000
	}
	if opts.TickIntervalMs <= 0 {
		opts.TickIntervalMs = 250
	}

	var schedule cron.Schedule
	if opts.ReconcileCron != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		s, err := parser.Parse(opts.ReconcileCron)
		if err != nil {
			logger.Printf("conductor: invalid ReconcileCron %q, housekeeping disabled: %v", opts.ReconcileCron, err)
		} else {
			schedule = s
		}
	}

	return &Conductor{
		clk:               clk,
		resolver:          res,
		bus:               bus,
		logger:            logger,
		opts:              opts,
		devices:           make(map[string]device.Adapter),
		table:             mapping.Table{},
		reconcileSchedule: schedule,
	}
}

// AddDevice registers and initializes an adapter. A failed Init is a
// Configuration error: fatal for this device, reported to the caller, and
// never affects any other device.
func (c *Conductor) AddDevice(ctx context.Context, adapter device.Adapter, opts device.Options) error {
	if err := adapter.Init(ctx, opts); err != nil {
		return apperrors.EnsureAppError(err)
	}

	c.mu.Lock()
	c.devices[adapter.DeviceID()] = adapter
	c.mu.Unlock()

	c.tickOnce(ctx)
	return nil
}

// RemoveDevice terminates and unregisters deviceID's adapter. Outstanding
// scheduled-on-device commands are best-effort retracted by Terminate.
func (c *Conductor) RemoveDevice(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	adapter, ok := c.devices[deviceID]
	if ok {
		delete(c.devices, deviceID)
	}
	c.mu.Unlock()

	if !ok {
		return apperrors.NewDeviceNotFoundError(deviceID)
	}
	return adapter.Terminate(ctx)
}

// SetMapping installs a new mapping table:
// a full resolve invalidation. Every device that accepts a table (has a
// SetMapping(mapping.Table) method) receives the new one, and every device
// clears its future queue at the current instant so stale commands for
// layers that no longer route to it are retracted, then an immediate tick
// re-establishes the correct state.
func (c *Conductor) SetMapping(ctx context.Context, t mapping.Table) {
	c.mu.Lock()
	c.table = t
	devices := c.snapshotDevicesLocked()
	c.mu.Unlock()

	now := c.clk.Now()
	for _, d := range devices {
		if m, ok := d.(interface{ SetMapping(mapping.Table) }); ok {
			m.SetMapping(t)
		}
		d.ClearFuture(now)
	}
	c.tickOnce(ctx)
}

// SetTimeline installs a new timeline and ticks immediately: devices' own
// clearQueueNowAndAfter (invoked inside Core.Dispatch) retracts superseded
// commands.
func (c *Conductor) SetTimeline(ctx context.Context, tl timeline.Timeline) {
	c.mu.Lock()
	c.timeline = tl
	c.mu.Unlock()
	c.tickOnce(ctx)
}

// Start begins the periodic tick loop. Call Stop to end it.
func (c *Conductor) Start(ctx context.Context) {
	c.mu.Lock()
	c.stopChan = make(chan struct{})
	stop := c.stopChan
	c.mu.Unlock()

	if c.opts.InitializeAsClear {
		c.initializeAsClear(ctx)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		interval := time.Duration(c.opts.TickIntervalMs) * time.Millisecond
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var nextReconcile time.Time
		if c.reconcileSchedule != nil {
			nextReconcile = c.reconcileSchedule.Next(time.Now())
		}

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.tickOnce(ctx)
				if c.reconcileSchedule != nil && !time.Now().Before(nextReconcile) {
					c.reconcile(ctx)
					nextReconcile = c.reconcileSchedule.Next(time.Now())
				}
			}
		}
	}()
}

// reconcile is the housekeeping job the ReconcileCron schedule drives: a
// slower-cadence sweep attempting MakeReady on every device currently
// reporting disconnected, independent of the per-tick resolve/dispatch
// loop which never itself retries a dead transport.
func (c *Conductor) reconcile(ctx context.Context) {
	c.mu.RLock()
	devices := c.snapshotDevicesLocked()
	c.mu.RUnlock()

	for id, d := range devices {
		if d.Connected() {
			continue
		}
		if err := d.MakeReady(ctx, false); err != nil {
			c.bus.Errorf(id, "reconcile: MakeReady failed: %v", err)
		}
	}
}

// Stop ends the tick loop and waits for it to exit.
func (c *Conductor) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		stop := c.stopChan
		c.mu.Unlock()
		if stop != nil {
			close(stop)
		}
	})
	c.wg.Wait()
}

// initializeAsClear instructs every device to assume its default state at
// startup, by running one tick over an
// empty timeline regardless of what SetTimeline later installs.
func (c *Conductor) initializeAsClear(ctx context.Context) {
	c.mu.RLock()
	devices := c.snapshotDevicesLocked()
	c.mu.RUnlock()

	now := c.clk.Now()
	empty := resolver.State{Time: now, Layers: map[string]resolver.ResolvedObject{}}
	for _, d := range devices {
		if err := d.HandleState(ctx, []resolver.State{empty}); err != nil {
			c.bus.Errorf(d.DeviceID(), "initializeAsClear: %v", err)
		}
	}
}

// tickOnce runs one resolve/dispatch pass over the look-ahead horizon
//: resolve at every change-point in
// [now, now+lookahead], then hand every device its device-scoped slice of
// each snapshot.
func (c *Conductor) tickOnce(ctx context.Context) {
	c.mu.RLock()
	tl := c.timeline
	table := c.table
	devices := c.snapshotDevicesLocked()
	c.mu.RUnlock()

	now := c.clk.Now()
	horizon := now + c.opts.LookaheadMs

	changePoints, err := c.resolver.ChangePoints(tl, now-1, horizon)
	if err != nil {
		c.bus.Errorf("", "resolver changePoints failed: %v", err)
		return
	}

	times := append([]int64{now}, changePoints...)
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	states := make([]resolver.State, 0, len(times))
	for _, at := range times {
		st, err := c.resolver.Resolve(tl, at)
		if err != nil {
			c.bus.Errorf("", "resolver resolve(%d) failed: %v", at, err)
			return
		}
		states = append(states, st)
	}

	byDevice := make(map[string][]resolver.State, len(devices))
	for deviceID := range devices {
		byDevice[deviceID] = make([]resolver.State, len(states))
	}
	for i, st := range states {
		for deviceID := range devices {
			byDevice[deviceID][i] = projectState(st, table, deviceID)
		}
	}

	for deviceID, d := range devices {
		slice := byDevice[deviceID]
		if err := d.HandleState(ctx, slice); err != nil {
			c.bus.Errorf(deviceID, "handleState failed: %v", err)
		}
	}
}

// projectState filters a resolved state down to the layers whose mapping
// routes to deviceID.
func projectState(st resolver.State, table mapping.Table, deviceID string) resolver.State {
	out := resolver.State{Time: st.Time, Layers: make(map[string]resolver.ResolvedObject)}
	for layerName, obj := range st.Layers {
		route, ok := table[layerName]
		if !ok || route.DeviceID != deviceID {
			continue
		}
		out.Layers[layerName] = obj
	}
	return out
}

func (c *Conductor) snapshotDevicesLocked() map[string]device.Adapter {
	out := make(map[string]device.Adapter, len(c.devices))
	for id, d := range c.devices {
		out[id] = d
	}
	return out
}

// Status aggregates every device's health: overall code is the worst of
// any child.
func (c *Conductor) Status() device.Status {
	c.mu.RLock()
	devices := c.snapshotDevicesLocked()
	c.mu.RUnlock()

	overall := device.Status{Code: device.StatusGood}
	for _, d := range devices {
		overall = overall.Worse(d.GetStatus())
	}
	return overall
}

// DeviceIDs returns every registered device's ID, sorted.
func (c *Conductor) DeviceIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.devices))
	for id := range c.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Device returns a registered adapter by ID.
func (c *Conductor) Device(deviceID string) (device.Adapter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[deviceID]
	return d, ok
}
