// Package mapping owns the process-wide layer->device routing table:
// layerName -> { deviceType, deviceId, ...device-specific routing }. It is
// authoritative; changes cause a full re-resolve.
//
// Grounded on internal/devices/service.go's topology mutex (RWMutex guarding
// a cached *DeviceTopology, swapped atomically on rescan) — the same shape,
// generalized from "one discovered Sonos topology" to "one authored mapping
// table", and on internal/openapi/routes.go's use of gopkg.in/yaml.v3 for
// loading a declarative file from disk.
package mapping

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Route is one layer's device-specific routing. Channel/Layer follow the
// channel+layer convention of a video mixer; adapters that don't need them
// ignore them.
type Route struct {
	DeviceType string `yaml:"deviceType"`
	DeviceID   string `yaml:"deviceId"`
	Channel    int    `yaml:"channel,omitempty"`
	MixerLayer int    `yaml:"layer,omitempty"`
}

// Table is layerName -> Route.
type Table map[string]Route

// DeviceIDs returns the distinct device IDs referenced by the table, sorted
// for deterministic iteration.
func (t Table) DeviceIDs() []string {
	seen := make(map[string]struct{}, len(t))
	for _, r := range t {
		seen[r.DeviceID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LayersForDevice returns the layers routed to deviceID, lexicographically
// sorted for deterministic diffing.
func (t Table) LayersForDevice(deviceID string) []string {
	var layers []string
	for layer, route := range t {
		if route.DeviceID == deviceID {
			layers = append(layers, layer)
		}
	}
	sort.Strings(layers)
	return layers
}

// fileDocument is the on-disk YAML shape: a flat map keyed by layer name.
type fileDocument map[string]Route

// Store holds the current mapping table and notifies subscribers on
// change. Reads and the swap-in of a new table never interleave with a
// conductor tick — callers serialize through the same goroutine that
// drives the tick loop.
type Store struct {
	mu      sync.RWMutex
	table   Table
	onEach  []func(Table)
}

// NewStore creates a Store with an initial (possibly empty) table.
func NewStore(initial Table) *Store {
	if initial == nil {
		initial = Table{}
	}
	return &Store{table: initial}
}

// LoadFile reads a YAML mapping file from disk and returns its Table.
func LoadFile(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file %s: %w", path, err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse mapping file %s: %w", path, err)
	}
	return Table(doc), nil
}

// Get returns the current table.
func (s *Store) Get() Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Set replaces the table and notifies subscribers. A mapping change is a
// full resolve invalidation.
func (s *Store) Set(t Table) {
	s.mu.Lock()
	s.table = t
	subs := append([]func(Table){}, s.onEach...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(t)
	}
}

// OnChange registers fn to run every time Set is called.
func (s *Store) OnChange(fn func(Table)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEach = append(s.onEach, fn)
}

// ReloadFromFile re-reads path and calls Set with the result, treating a
// mapping-file edit identically to a runtime SetMapping call.
func (s *Store) ReloadFromFile(path string) error {
	table, err := LoadFile(path)
	if err != nil {
		return err
	}
	s.Set(table)
	return nil
}
