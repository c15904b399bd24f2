package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockAdvanceFiresDueTimersInOrder(t *testing.T) {
	c := NewMock(10000)

	var fired []string
	c.AfterFunc(10200, func() { fired = append(fired, "a") })
	c.AfterFunc(10100, func() { fired = append(fired, "b") })
	c.AfterFunc(10500, func() { fired = append(fired, "c") })

	c.Advance(300)

	require.Equal(t, int64(10300), c.Now())
	assert.Equal(t, []string{"b", "a"}, fired)
}

func TestMockAfterFuncCancel(t *testing.T) {
	c := NewMock(0)

	fired := false
	cancel := c.AfterFunc(100, func() { fired = true })
	cancel()

	c.Advance(200)
	assert.False(t, fired)
}

func TestMockSetDoesNotFlushTimers(t *testing.T) {
	c := NewMock(0)

	fired := false
	c.AfterFunc(50, func() { fired = true })
	c.Set(1000)

	assert.False(t, fired)
	assert.Equal(t, int64(1000), c.Now())
}
