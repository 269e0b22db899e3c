package ws

import (
	"context"
	"sync"
)

// Subscriber abstracts a streaming client. Send must not block; a client that
// cannot accept a message returns an error and is dropped.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages provisioning stream subscriptions by project ID.
type Hub struct {
	mu        sync.RWMutex
	clients   map[int64]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
}

// message couples payload with project identifier.
type message struct {
	projectID int64
	payload   []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	projectID int64
	client    Subscriber
}

// NewHub creates a Hub whose loop runs until ctx is cancelled.
func NewHub(ctx context.Context) *Hub {
	h := &Hub{
		clients:   make(map[int64]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		done:      make(chan struct{}),
	}
	go h.run(ctx)
	return h
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for projectID, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
				delete(h.clients, projectID)
			}
			h.mu.Unlock()
			return
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.projectID]; !ok {
				h.clients[sub.projectID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.projectID][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			if clients, ok := h.clients[sub.projectID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.projectID)
				}
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver sends outside the lock so Subscribers never waits on a client.
// Only run mutates clients, so the snapshot stays valid until it returns.
func (h *Hub) deliver(msg message) {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.clients[msg.projectID]))
	for c := range h.clients[msg.projectID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var failed []Subscriber
	for _, c := range targets {
		if err := c.Send(msg.payload); err != nil {
			c.Close()
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.clients[msg.projectID]
	for _, c := range failed {
		delete(clients, c)
	}
	if len(clients) == 0 {
		delete(h.clients, msg.projectID)
	}
}

// Register adds a client to a project stream.
func (h *Hub) Register(projectID int64, client Subscriber) {
	select {
	case h.register <- subscription{projectID: projectID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(projectID int64, client Subscriber) {
	select {
	case h.unreg <- subscription{projectID: projectID, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for all project clients without blocking. Payloads for projects
// without subscribers, or arriving while the queue is full, are dropped.
func (h *Hub) Broadcast(projectID int64, payload []byte) {
	if h.Subscribers(projectID) == 0 {
		return
	}
	select {
	case h.broadcast <- message{projectID: projectID, payload: payload}:
	case <-h.done:
	default:
	}
}

// Subscribers reports the number of clients following a project.
func (h *Hub) Subscribers(projectID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[projectID])
}
