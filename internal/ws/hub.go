// Package ws streams live pipeline output to websocket clients: count
// updates, worker status changes and optionally the annotated frames
// themselves.
package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"lintas/internal/bus"
	"lintas/internal/counting"
)

// client is one connected subscriber. All writes go through the send
// channel so the write pump is the only goroutine touching the
// connection.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected clients and fans messages out to them. It
// implements bus.Handler, so subscribing the hub to the event bus is
// all the wiring the live feed needs.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	lastCounts []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// register adds a connection and replays the latest count snapshot so a
// late joiner does not start from a blank dashboard.
func (h *Hub) register(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	if h.lastCounts != nil {
		c.send <- h.lastCounts
	}
	log.Printf("[WS] client registered (total: %d)", len(h.clients))
	return c
}

// unregister removes a connection. Safe to call from both pumps; only
// the first call closes the send channel.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		log.Printf("[WS] client unregistered (total: %d)", len(h.clients))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a raw message for every client. A client whose send
// buffer is full misses this message; the connection stays up and the
// next message may still land.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- message:
		default:
		}
	}
}

// BroadcastCounts sends a count update and keeps it as the replay
// snapshot for future clients.
func (h *Hub) BroadcastCounts(counts counting.Counts, newEvents []counting.CountEvent) {
	data, err := json.Marshal(NewCountUpdateMessage(counts, newEvents))
	if err != nil {
		log.Printf("[WS] error marshaling count update: %v", err)
		return
	}

	h.mu.Lock()
	h.lastCounts = data
	h.mu.Unlock()

	h.Broadcast(data)
}

// BroadcastFrame sends an annotated frame. Skips the base64 work when
// nobody is listening.
func (h *Hub) BroadcastFrame(seq int, jpeg []byte) {
	if h.ClientCount() == 0 {
		return
	}

	data, err := json.Marshal(NewFrameMessage(seq, jpeg))
	if err != nil {
		log.Printf("[WS] error marshaling frame message: %v", err)
		return
	}
	h.Broadcast(data)
}

// BroadcastStatus sends a worker lifecycle change.
func (h *Hub) BroadcastStatus(status, errMsg string) {
	data, err := json.Marshal(NewStatusMessage(status, errMsg))
	if err != nil {
		log.Printf("[WS] error marshaling status message: %v", err)
		return
	}
	h.Broadcast(data)
}

// OnPipelineEvent implements bus.Handler.
func (h *Hub) OnPipelineEvent(event *bus.Event) {
	switch event.Kind {
	case bus.KindCounts:
		h.BroadcastCounts(event.Counts, event.NewEvents)
	case bus.KindFrame:
		h.BroadcastFrame(event.Seq, event.Frame)
	case bus.KindStatus:
		h.BroadcastStatus(event.Status, event.Err)
	}
}

var _ bus.Handler = (*Hub)(nil)
