// Package eventbus is the typed publish channel: error, warning, info,
// debug, commandError, connectionChanged, resetResolver and slowCommand
// notifications fan out from the conductor and its device adapters to any
// number of subscribers (logging, the control-plane websocket stream,
// tests).
//
// Grounded on internal/sonos/events.Manager's SID-keyed subscriber map and
// dispatch loop, generalized here from "one UPnP subscription per SID" to
// "any number of handlers per topic".
package eventbus

import (
	"fmt"
	"sync"
)

// Topic names the kind of event published on the bus.
type Topic string

const (
	TopicError             Topic = "error"
	TopicWarning           Topic = "warning"
	TopicInfo              Topic = "info"
	TopicDebug             Topic = "debug"
	TopicCommandError      Topic = "commandError"
	TopicConnectionChanged Topic = "connectionChanged"
	TopicResetResolver     Topic = "resetResolver"
	TopicSlowCommand       Topic = "slowCommand"
)

// Event is the payload delivered to subscribers. DeviceID is empty for
// conductor-level events (e.g. resolver errors).
type Event struct {
	Topic    Topic
	DeviceID string
	Message  string
	Data     any
}

// Handler receives events published on a topic it subscribed to.
type Handler func(Event)

// Bus is an in-memory, single-process pub/sub channel. Handlers run
// synchronously on the publishing goroutine, so Emit returns only after
// every handler has, and a slow handler delays the publisher. The handler
// table is guarded by a mutex, so On and Emit may be called from any
// goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Topic][]Handler)}
}

// On registers handler to be called for every Event published on topic.
// Returns an unsubscribe function.
func (b *Bus) On(topic Topic, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[topic] = append(b.handlers[topic], handler)
	idx := len(b.handlers[topic]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[topic]
		if idx < 0 || idx >= len(hs) {
			return
		}
		b.handlers[topic] = append(hs[:idx], hs[idx+1:]...)
	}
}

// Emit publishes ev on ev.Topic to every current subscriber.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.Topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Errorf is a convenience wrapper for the common "deviceID, formatted
// message" publish shape used throughout the device adapters.
func (b *Bus) Errorf(deviceID, format string, args ...any) {
	b.Emit(Event{Topic: TopicError, DeviceID: deviceID, Message: sprintf(format, args...)})
}

func (b *Bus) Warnf(deviceID, format string, args ...any) {
	b.Emit(Event{Topic: TopicWarning, DeviceID: deviceID, Message: sprintf(format, args...)})
}

func (b *Bus) Infof(deviceID, format string, args ...any) {
	b.Emit(Event{Topic: TopicInfo, DeviceID: deviceID, Message: sprintf(format, args...)})
}

func (b *Bus) Debugf(deviceID, format string, args ...any) {
	b.Emit(Event{Topic: TopicDebug, DeviceID: deviceID, Message: sprintf(format, args...)})
}

func sprintf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
