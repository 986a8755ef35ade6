package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emberforge/beaconfield-sim/core"
	"github.com/emberforge/beaconfield-sim/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API server fronts a local simulation; origin policy belongs
	// to the deployment proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wireEvent is the JSON envelope pushed to websocket clients.
type wireEvent struct {
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// EventHub fans simulation events out to websocket subscribers. It
// consumes a ChannelSink so a slow client can never stall the
// simulation loop: the sink drops when its buffer fills, and the hub
// drops clients whose writes fail.
type EventHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	sink *core.ChannelSink
	log  logging.Logger
}

// NewEventHub creates a hub backed by a buffered event sink.
func NewEventHub(buffer int, log logging.Logger) *EventHub {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logging.Noop()
	}
	return &EventHub{
		clients: make(map[*websocket.Conn]struct{}),
		sink:    core.NewChannelSink(buffer),
		log:     log,
	}
}

// Sink exposes the hub's event sink for engine wiring.
func (h *EventHub) Sink() core.EventSink { return h.sink }

// Run pumps events to clients until the context is cancelled.
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.sink.C:
			h.broadcast(ev)
		}
	}
}

// HandleWebSocket upgrades the request and keeps the connection
// registered until the peer goes away.
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug(r.Context(), "websocket client connected", logging.Int("clients", n))

	// Reads are discarded; the socket is push-only. The read loop
	// exists to notice disconnects promptly.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *EventHub) broadcast(ev core.Event) {
	msg, err := json.Marshal(wireEvent{Kind: string(ev.Kind), At: ev.At, Payload: ev.Payload})
	if err != nil {
		h.log.Warn(context.Background(), "event marshal failed", logging.String("kind", string(ev.Kind)))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *EventHub) drop(conn *websocket.Conn) {
	conn.Close()
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

func (h *EventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// ClientCount reports the number of connected subscribers.
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
