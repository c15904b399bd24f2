package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTrail(t *testing.T) *Trail {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	trail, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })
	return trail
}

func TestRecordInsertsRow(t *testing.T) {
	trail := setupTrail(t)

	err := trail.Record(context.Background(), Entry{
		DeviceID:      "caspar1",
		Layer:         "ch1-layer10",
		TimelineObjID: "obj1",
		ExecuteAtMs:   12345,
		Kind:          "PLAY",
		Reason:        "enter",
		Payload:       map[string]any{"clip": "AMB"},
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, trail.db.QueryRow("SELECT COUNT(*) FROM dispatched_commands").Scan(&count))
	require.Equal(t, 1, count)

	var deviceID, kind, payload string
	require.NoError(t, trail.db.QueryRow(
		"SELECT device_id, kind, payload FROM dispatched_commands LIMIT 1",
	).Scan(&deviceID, &kind, &payload))
	require.Equal(t, "caspar1", deviceID)
	require.Equal(t, "PLAY", kind)
	require.Contains(t, payload, "AMB")
}

func TestRecordMultipleRowsAreIndependent(t *testing.T) {
	trail := setupTrail(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, trail.Record(ctx, Entry{
			DeviceID:    "caspar1",
			Layer:       "ch1-layer10",
			ExecuteAtMs: int64(i),
			Kind:        "CLEAR",
		}))
	}

	var count int
	require.NoError(t, trail.db.QueryRow("SELECT COUNT(*) FROM dispatched_commands").Scan(&count))
	require.Equal(t, 3, count)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
