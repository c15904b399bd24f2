package doontime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/playout-conductor/internal/clock"
	"github.com/strefethen/playout-conductor/internal/eventbus"
)

func TestBurstFiresAscendingTimeTieBrokenByInsertion(t *testing.T) {
	mock := clock.NewMock(10000)
	q := New(mock, Burst, nil, "dev1", 0)

	var fired []string
	q.Queue(10200, "g", func(ctx context.Context, p any) error { fired = append(fired, p.(string)); return nil }, "b")
	q.Queue(10100, "g", func(ctx context.Context, p any) error { fired = append(fired, p.(string)); return nil }, "a")
	q.Queue(10100, "g", func(ctx context.Context, p any) error { fired = append(fired, p.(string)); return nil }, "a2")

	mock.Advance(300)

	assert.Equal(t, []string{"a", "a2", "b"}, fired)
	assert.Empty(t, q.GetQueue())
}

func TestClearQueueNowAndAfterRemovesAtOrAfter(t *testing.T) {
	mock := clock.NewMock(0)
	q := New(mock, Burst, nil, "dev1", 0)

	q.Queue(100, "g", func(context.Context, any) error { return nil }, "a")
	q.Queue(200, "g", func(context.Context, any) error { return nil }, "b")
	q.Queue(300, "g", func(context.Context, any) error { return nil }, "c")

	q.ClearQueueNowAndAfter(200)

	got := q.GetQueue()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Payload)
}

func TestClearQueueAfterKeepsEntryAtT(t *testing.T) {
	mock := clock.NewMock(0)
	q := New(mock, Burst, nil, "dev1", 0)

	q.Queue(100, "g", func(context.Context, any) error { return nil }, "a")
	q.Queue(200, "g", func(context.Context, any) error { return nil }, "b")

	q.ClearQueueAfter(100)

	got := q.GetQueue()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Payload)
}

func TestHandlerErrorEmitsErrorEventAndDoesNotBlockQueue(t *testing.T) {
	mock := clock.NewMock(0)
	bus := eventbus.New()
	var errs []eventbus.Event
	bus.On(eventbus.TopicError, func(e eventbus.Event) { errs = append(errs, e) })

	q := New(mock, Burst, bus, "dev1", 0)

	var secondFired bool
	q.Queue(100, "g", func(context.Context, any) error { return assertError{} }, "a")
	q.Queue(100, "g", func(context.Context, any) error { secondFired = true; return nil }, "b")

	mock.Advance(200)

	assert.True(t, secondFired)
	require.Len(t, errs, 1)
	assert.Equal(t, "dev1", errs[0].DeviceID)
}

func TestInOrderEmitsSlowCommandWhenLate(t *testing.T) {
	mock := clock.NewMock(0)
	bus := eventbus.New()
	var slow []eventbus.Event
	bus.On(eventbus.TopicSlowCommand, func(e eventbus.Event) { slow = append(slow, e) })

	q := New(mock, InOrder, bus, "dev1", 50)
	q.Queue(100, "g", func(context.Context, any) error { return nil }, "a")

	mock.Advance(300) // fires at now=300, scheduled for 100 => 200ms late, over the 50ms threshold

	require.Len(t, slow, 1)
}

func TestDisposeSuppressesFutureFirings(t *testing.T) {
	mock := clock.NewMock(0)
	q := New(mock, Burst, nil, "dev1", 0)

	var fired bool
	q.Queue(100, "g", func(context.Context, any) error { fired = true; return nil }, "a")
	q.Dispose()

	mock.Advance(200)

	assert.False(t, fired)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
