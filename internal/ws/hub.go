package ws

import (
	"context"
	"sync"
)

// Hub is the registry of authenticated connections. There is one shared
// chat room, so the hub holds a flat set; private delivery is routed by
// the user id bound to each connection. A user may appear more than once
// (one connection per device).
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	conns   *ConnManager
}

// NewHub creates a new Hub.
func NewHub(opts ...ConnManagerOption) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		conns:   NewConnManager(opts...),
	}
}

// ConnMgr returns the connection manager for this hub.
func (h *Hub) ConnMgr() *ConnManager {
	return h.conns
}

// Add registers an authenticated client and starts its write pump.
// The returned context is cancelled when the client is removed. A
// client refused by the connection manager is never registered and
// gets an already-cancelled context.
func (h *Hub) Add(c *Client) context.Context {
	ctx := h.conns.Add(c)
	select {
	case <-ctx.Done():
		return ctx
	default:
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return ctx
}

// Remove unregisters a client and stops its write pump. Removing a
// client twice is a no-op.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		h.conns.Remove(c)
	}
}

// snapshot copies the current member set so fan-out happens without
// holding the lock, and concurrent connects or disconnects cannot race
// a broadcast into a half-closed connection.
func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	return targets
}

// Broadcast queues an event for every connected client.
func (h *Hub) Broadcast(data []byte) {
	for _, c := range h.snapshot() {
		h.conns.Send(c, data)
	}
}

// BroadcastExcept queues an event for every client other than skip.
func (h *Hub) BroadcastExcept(skip *Client, data []byte) {
	for _, c := range h.snapshot() {
		if c != skip {
			h.conns.Send(c, data)
		}
	}
}

// SendToUser queues an event for every connection held by the user.
// Returns the number of connections the event was queued on.
func (h *Hub) SendToUser(userID int64, data []byte) int {
	n := 0
	for _, c := range h.snapshot() {
		if c.userID == userID && h.conns.Send(c, data) {
			n++
		}
	}
	return n
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and stops the connection manager.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()
	h.conns.Shutdown()
}
