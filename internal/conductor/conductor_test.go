package conductor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/playout-conductor/internal/clock"
	"github.com/strefethen/playout-conductor/internal/device"
	"github.com/strefethen/playout-conductor/internal/doontime"
	"github.com/strefethen/playout-conductor/internal/eventbus"
	"github.com/strefethen/playout-conductor/internal/mapping"
	"github.com/strefethen/playout-conductor/internal/resolver"
	"github.com/strefethen/playout-conductor/internal/timeline"
)

// fakeAdapter is a minimal device.Adapter recording every HandleState call,
// standing in for a real protocol adapter in conductor-level tests.
type fakeAdapter struct {
	id    string
	mu    sync.Mutex
	calls [][]resolver.State
	queue *doontime.Queue
	bus   *eventbus.Bus

	connected     bool
	makeReadyHits int
}

func newFakeAdapter(id string, bus *eventbus.Bus, sched clock.Scheduler) *fakeAdapter {
	return &fakeAdapter{id: id, bus: bus, queue: doontime.New(sched, doontime.Burst, bus, id, 1000), connected: true}
}

func (f *fakeAdapter) Init(ctx context.Context, opts device.Options) error { return nil }
func (f *fakeAdapter) Terminate(ctx context.Context) error                 { f.queue.Dispose(); return nil }
func (f *fakeAdapter) MakeReady(ctx context.Context, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makeReadyHits++
	f.connected = true
	return nil
}
func (f *fakeAdapter) ClearFuture(t int64)                            { f.queue.ClearQueueAfter(t) }
func (f *fakeAdapter) GetStatus() device.Status                       { return device.Status{Code: device.StatusGood} }
func (f *fakeAdapter) DeviceType() string                             { return "fake" }
func (f *fakeAdapter) DeviceName() string                             { return f.id }
func (f *fakeAdapter) DeviceID() string                               { return f.id }
func (f *fakeAdapter) CanConnect() bool                               { return true }
func (f *fakeAdapter) Queue() *doontime.Queue                         { return f.queue }
func (f *fakeAdapter) On(t eventbus.Topic, h eventbus.Handler) func() { return f.bus.On(t, h) }

func (f *fakeAdapter) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeAdapter) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeAdapter) makeReadyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.makeReadyHits
}

func (f *fakeAdapter) HandleState(ctx context.Context, states []resolver.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, states)
	return nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAdapter) lastCall() []resolver.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func TestTickProjectsOnlyMappedLayersPerDevice(t *testing.T) {
	clk := clock.NewMock(10000)
	bus := eventbus.New()
	c := New(clk, resolver.NewReference(), bus, nil, Options{LookaheadMs: 2000})
	c.SetMapping(context.Background(), mapping.Table{
		"layerA": {DeviceID: "dev1"},
		"layerB": {DeviceID: "dev2"},
	})

	devA := newFakeAdapter("dev1", bus, clk)
	devB := newFakeAdapter("dev2", bus, clk)
	require.NoError(t, c.AddDevice(context.Background(), devA, device.Options{}))
	require.NoError(t, c.AddDevice(context.Background(), devB, device.Options{}))

	tl := timeline.Timeline{
		{ID: "o1", Layer: "layerA", Enable: timeline.Enable{Start: 9000}, Content: timeline.Content{DeviceType: "x"}},
		{ID: "o2", Layer: "layerB", Enable: timeline.Enable{Start: 9000}, Content: timeline.Content{DeviceType: "x"}},
	}
	c.SetTimeline(context.Background(), tl)

	require.GreaterOrEqual(t, devA.callCount(), 1)
	require.GreaterOrEqual(t, devB.callCount(), 1)

	lastA := devA.lastCall()
	_, hasB := lastA[0].Layers["layerB"]
	assert.False(t, hasB, "dev1 must not see layerB, which is routed to dev2")
	_, hasA := lastA[0].Layers["layerA"]
	assert.True(t, hasA)
}

func TestStatusIsWorstOfChildren(t *testing.T) {
	clk := clock.NewMock(0)
	bus := eventbus.New()
	c := New(clk, resolver.NewReference(), bus, nil, Options{})

	good := newFakeAdapter("good", bus, clk)
	require.NoError(t, c.AddDevice(context.Background(), good, device.Options{}))
	assert.Equal(t, device.StatusGood, c.Status().Code)

	bad := badAdapter{newFakeAdapter("bad", bus, clk)}
	require.NoError(t, c.AddDevice(context.Background(), bad, device.Options{}))
	assert.Equal(t, device.StatusBad, c.Status().Code)
}

// badAdapter is a fakeAdapter that always reports StatusBad.
type badAdapter struct{ *fakeAdapter }

func (badAdapter) GetStatus() device.Status {
	return device.Status{Code: device.StatusBad, Messages: []string{"down"}}
}

func TestRemoveDeviceUnknownIDReturnsError(t *testing.T) {
	clk := clock.NewMock(0)
	bus := eventbus.New()
	c := New(clk, resolver.NewReference(), bus, nil, Options{})
	err := c.RemoveDevice(context.Background(), "missing")
	assert.Error(t, err)
}

func TestMappingChangeClearsDeviceFutureQueue(t *testing.T) {
	clk := clock.NewMock(5000)
	bus := eventbus.New()
	c := New(clk, resolver.NewReference(), bus, nil, Options{})
	dev := newFakeAdapter("dev1", bus, clk)
	require.NoError(t, c.AddDevice(context.Background(), dev, device.Options{}))

	dev.queue.Queue(6000, "layerA", func(ctx context.Context, payload any) error { return nil }, nil)
	require.Len(t, dev.queue.GetQueue(), 1)

	c.SetMapping(context.Background(), mapping.Table{})
	assert.Empty(t, dev.queue.GetQueue())
}

func TestReconcileCallsMakeReadyOnlyOnDisconnectedDevices(t *testing.T) {
	clk := clock.NewMock(0)
	bus := eventbus.New()
	c := New(clk, resolver.NewReference(), bus, nil, Options{ReconcileCron: "* * * * *"})

	up := newFakeAdapter("up", bus, clk)
	down := newFakeAdapter("down", bus, clk)
	down.setConnected(false)

	require.NoError(t, c.AddDevice(context.Background(), up, device.Options{}))
	require.NoError(t, c.AddDevice(context.Background(), down, device.Options{}))

	c.reconcile(context.Background())

	assert.Equal(t, 0, up.makeReadyCount())
	assert.Equal(t, 1, down.makeReadyCount())
	assert.True(t, down.Connected())
}

func TestInvalidReconcileCronDisablesHousekeeping(t *testing.T) {
	clk := clock.NewMock(0)
	bus := eventbus.New()
	c := New(clk, resolver.NewReference(), bus, nil, Options{ReconcileCron: "not a cron expression"})
	assert.Nil(t, c.reconcileSchedule)
}
