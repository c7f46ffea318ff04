// Package eventhub is a buffered WebSocket broadcast of daemon lifecycle
// events for local introspection tooling. It never carries event/metric
// payload contents, only metadata about daemon behavior.
package eventhub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// EventType names the lifecycle events the hub fans out.
type EventType string

const (
	DumpCompleted    EventType = "DumpCompleted"
	DumpRejected     EventType = "DumpRejected"
	ReportFinished   EventType = "ReportFinished"
	StorageEmpty     EventType = "StorageEmpty"
	EntryRateLimited EventType = "EntryRateLimited"
	EntryOversized   EventType = "EntryOversized"
	ClockJumped      EventType = "ClockJumped"
)

// Event is one lifecycle notification broadcast to connected clients.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type client struct {
	send chan []byte
}

// Hub is a buffered WebSocket broadcast hub: published events queue in a
// channel, and Run fans each one out to the per-client send channels as it
// drains them. There is no flush ticker; buffers are sized small since
// lifecycle events are rare compared to raw telemetry.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}

	events chan Event

	onConnectionChange func(count int)
}

// NewHub creates a Hub. onConnectionChange, if non-nil, is invoked whenever
// the connected-client count changes (wired to self-telemetry's active
// connections gauge).
func NewHub(onConnectionChange func(count int)) *Hub {
	return &Hub{
		clients:            make(map[*client]struct{}),
		events:             make(chan Event, 256),
		onConnectionChange: onConnectionChange,
	}
}

// Run drains the event channel and fans each event out to all connected
// clients until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

// Publish enqueues an event of type t for broadcast. Never blocks; drops the event if the
// internal channel is saturated.
func (h *Hub) Publish(t EventType) {
	select {
	case h.events <- Event{Type: t, Timestamp: time.Now()}:
	default:
		slog.Warn("eventhub: event channel full, dropping event", "type", t)
	}
}

func (h *Hub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// HandleWebSocket upgrades the connection and streams lifecycle events to
// it until the client disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Error("eventhub: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	c := &client{send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	if h.onConnectionChange != nil {
		h.onConnectionChange(count)
	}

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		count := len(h.clients)
		h.mu.Unlock()
		if h.onConnectionChange != nil {
			h.onConnectionChange(count)
		}
	}()

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-disconnected:
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
