package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	clientSendBuffer   = 256
	clientSendTimeout  = 5 * time.Second
	clientWriteTimeout = 15 * time.Second
)

var (
	errClientGone     = errors.New("client disconnected")
	errClientBackedUp = errors.New("client send queue full")
)

// Event is the server-to-client WebSocket frame.
type Event struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventForwarder sees every broadcast after the local clients do.
type EventForwarder interface {
	BroadcastEvent(event Event)
}

// Hub tracks connected clients. Broadcasts go to everyone; Send addresses
// one client, which is how terminal output reaches only its owner.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*client
	forwarders []EventForwarder
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

func (h *Hub) AddForwarder(f EventForwarder) {
	h.mu.Lock()
	h.forwarders = append(h.forwarders, f)
	h.mu.Unlock()
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues event for every client without blocking. A client whose
// queue is full is disconnected rather than allowed to stall the others.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	metricBroadcasts.WithLabelValues(event.Type).Inc()

	h.mu.RLock()
	var slow []*client
	for _, c := range h.clients {
		if !c.enqueue(event) {
			slow = append(slow, c)
		}
	}
	forwarders := slices.Clone(h.forwarders)
	h.mu.RUnlock()

	for _, c := range slow {
		metricDroppedClients.Inc()
		h.removeClient(c)
	}
	for _, f := range forwarders {
		f.BroadcastEvent(event)
	}
}

// Send queues event on one client's terminal queue, waiting up to
// clientSendTimeout for room.
func (h *Hub) Send(clientID string, event Event) error {
	h.mu.RLock()
	c := h.clients[clientID]
	h.mu.RUnlock()
	if c == nil {
		return errClientGone
	}
	return c.deliver(event)
}

func (h *Hub) register(id string, conn wsConn) *client {
	c := &client{
		id:       id,
		conn:     conn,
		send:     make(chan Event, clientSendBuffer),
		terminal: make(chan Event, clientSendBuffer),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	metricClients.Inc()
	return c
}

// removeClient drops c if it is still registered and stops its write loop.
// Calling it twice is harmless.
func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
		metricClients.Dec()
	}
	h.mu.Unlock()
	c.stop()
}

// wsConn is the part of *websocket.Conn the hub uses.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// client has two queues. send carries broadcasts and evicts the client when
// full; terminal carries the owner's shell output and applies backpressure
// instead, so shell output never counts against broadcasts.
type client struct {
	id       string
	conn     wsConn
	send     chan Event
	terminal chan Event
	done     chan struct{}
	stopOnce sync.Once
}

// Send lets a terminal session write straight into its owner's queue.
func (c *client) Send(eventType string, payload any) error {
	return c.deliver(Event{Type: eventType, Payload: payload, Timestamp: time.Now()})
}

// enqueue reports false only when the queue is full. A stopped client
// swallows the event.
func (c *client) enqueue(event Event) bool {
	if c.stopped() {
		return true
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *client) deliver(event Event) error {
	if c.stopped() {
		return errClientGone
	}
	select {
	case c.terminal <- event:
		return nil
	default:
	}

	timer := time.NewTimer(clientSendTimeout)
	defer timer.Stop()
	select {
	case c.terminal <- event:
		return nil
	case <-c.done:
		return errClientGone
	case <-timer.C:
		return errClientBackedUp
	}
}

func (c *client) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *client) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// writeLoop writes queued events to the socket until the client is stopped,
// ctx ends, or a write fails. Each queue is written in FIFO order.
func (c *client) writeLoop(ctx context.Context) error {
	for {
		var event Event
		select {
		case event = <-c.send:
		case event = <-c.terminal:
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, clientWriteTimeout)
		err = c.conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return err
		}
	}
}

func (c *client) close(code websocket.StatusCode, reason string) {
	_ = c.conn.Close(code, reason)
}
