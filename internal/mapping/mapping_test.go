package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayersForDeviceSortedLexicographically(t *testing.T) {
	table := Table{
		"studio2": {DeviceType: "videoplayout", DeviceID: "ccg0"},
		"studio1": {DeviceType: "videoplayout", DeviceID: "ccg0"},
		"clock":   {DeviceType: "videoplayout", DeviceID: "ccg1"},
	}

	assert.Equal(t, []string{"studio1", "studio2"}, table.LayersForDevice("ccg0"))
	assert.Equal(t, []string{"clock"}, table.LayersForDevice("ccg1"))
}

func TestDeviceIDsSortedAndDeduped(t *testing.T) {
	table := Table{
		"a": {DeviceID: "ccg1"},
		"b": {DeviceID: "ccg0"},
		"c": {DeviceID: "ccg1"},
	}
	assert.Equal(t, []string{"ccg0", "ccg1"}, table.DeviceIDs())
}

func TestStoreSetNotifiesSubscribers(t *testing.T) {
	store := NewStore(nil)

	var seen Table
	store.OnChange(func(t Table) { seen = t })

	next := Table{"studio1": {DeviceID: "ccg0"}}
	store.Set(next)

	assert.Equal(t, next, seen)
	assert.Equal(t, next, store.Get())
}

func TestLoadFileParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.yaml")
	content := "studio1:\n  deviceType: videoplayout\n  deviceId: ccg0\n  channel: 1\n  layer: 10\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	table, err := LoadFile(path)
	require.NoError(t, err)
	require.Contains(t, table, "studio1")
	assert.Equal(t, "videoplayout", table["studio1"].DeviceType)
	assert.Equal(t, "ccg0", table["studio1"].DeviceID)
	assert.Equal(t, 1, table["studio1"].Channel)
	assert.Equal(t, 10, table["studio1"].MixerLayer)
}
