// Package wsstream fans the conductor's eventbus.Bus out to any number of
// connected operator dashboards over a read-only websocket stream. It
// never receives commands from the client side — the wire is
// one-directional, engine state out only.
//
// Grounded on internal/spotifysearch/connection_manager.go's
// mutex-guarded *websocket.Conn with a ping loop, generalized from "one
// extension connection" to "any number of dashboard subscribers", and on
// internal/spotifysearch/routes.go's upgrader/HandleFunc wiring.
package wsstream

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/strefethen/playout-conductor/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const pingInterval = 30 * time.Second

// wireEvent is the JSON shape pushed to every subscriber.
type wireEvent struct {
	Topic    string `json:"topic"`
	DeviceID string `json:"deviceId,omitempty"`
	Message  string `json:"message,omitempty"`
	Data     any    `json:"data,omitempty"`
}

type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscriber) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub fans eventbus events out to every connected subscriber.
type Hub struct {
	bus *eventbus.Bus

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New creates a Hub bound to bus. Forwarding to a subscriber stops when its
// connection drops.
func New(bus *eventbus.Bus) *Hub {
	return &Hub{bus: bus, subs: make(map[*subscriber]struct{})}
}

// Handler upgrades the request to a websocket and registers it as a
// subscriber until the connection drops.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.serve(conn)
	}
}

func (h *Hub) serve(conn *websocket.Conn) {
	sub := &subscriber{conn: conn}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	unsubscribeAll := h.forwardAll(sub)

	defer func() {
		unsubscribeAll()
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		conn.Close()
	}()

	stopPing := make(chan struct{})
	go h.pingLoop(sub, stopPing)
	defer close(stopPing)

	// The stream is one-directional; we still need to read so the
	// websocket library notices a close/error and this goroutine returns.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// forwardAll subscribes sub to every topic the bus emits, returning a
// single unsubscribe func that tears down all of them.
func (h *Hub) forwardAll(sub *subscriber) func() {
	topics := []eventbus.Topic{
		eventbus.TopicError,
		eventbus.TopicWarning,
		eventbus.TopicInfo,
		eventbus.TopicDebug,
		eventbus.TopicCommandError,
		eventbus.TopicConnectionChanged,
		eventbus.TopicResetResolver,
		eventbus.TopicSlowCommand,
	}
	unsubscribes := make([]func(), 0, len(topics))
	for _, topic := range topics {
		t := topic
		unsubscribes = append(unsubscribes, h.bus.On(t, func(ev eventbus.Event) {
			if err := sub.writeJSON(wireEvent{
				Topic:    string(t),
				DeviceID: ev.DeviceID,
				Message:  ev.Message,
				Data:     ev.Data,
			}); err != nil {
				log.Printf("wsstream: write failed, dropping subscriber: %v", err)
			}
		}))
	}
	return func() {
		for _, u := range unsubscribes {
			u()
		}
	}
}

func (h *Hub) pingLoop(sub *subscriber, stop chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sub.writeJSON(map[string]string{"type": "ping"}); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// SubscriberCount reports how many dashboards are currently connected.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
