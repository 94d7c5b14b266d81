// Package streaming broadcasts import progress to SSE clients. Each import
// session gets its own broadcaster; the hub routes clients and events to the
// right one and tears broadcasters down when the session ends or the last
// client leaves.
package streaming

import (
	"context"
	"log"
	"sync"
	"time"
)

// Client represents a connected SSE client
type Client struct {
	Events chan SSEEvent
}

// NewClient creates a new SSE client
func NewClient() *Client {
	return &Client{
		Events: make(chan SSEEvent, 10),
	}
}

// SessionBroadcaster fans events out to the clients watching one import
// session.
type SessionBroadcaster struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	events   chan SSEEvent
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  bool
}

// NewSessionBroadcaster creates a broadcaster bound to ctx.
func NewSessionBroadcaster(ctx context.Context) *SessionBroadcaster {
	ctx, cancel := context.WithCancel(ctx)
	return &SessionBroadcaster{
		clients: make(map[*Client]bool),
		events:  make(chan SSEEvent, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a client to the broadcaster
func (b *SessionBroadcaster) Register(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
	log.Printf("INFO: client registered, total clients: %d", len(b.clients))
}

// Unregister removes a client from the broadcaster
func (b *SessionBroadcaster) Unregister(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		// Stop() already closes all client channels
		if !b.stopped {
			close(client.Events)
		}
		log.Printf("INFO: client unregistered, total clients: %d", len(b.clients))
	}
}

// ClientCount returns the number of connected clients
func (b *SessionBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast queues an event for delivery. Terminal events (complete, error)
// get a delivery timeout; other events are dropped when the channel is full.
func (b *SessionBroadcaster) Broadcast(event SSEEvent) {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	if event.Type == EventTypeComplete || event.Type == EventTypeError {
		select {
		case b.events <- event:
			return
		case <-b.ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
			log.Printf("ERROR: failed to send terminal event %s, clients may hang", event.Type)
		}
		return
	}

	select {
	case b.events <- event:
	case <-b.ctx.Done():
	default:
		log.Printf("WARN: event channel full, dropping event type %s", event.Type)
	}
}

// Stop stops the broadcaster and cleans up resources
func (b *SessionBroadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		for client := range b.clients {
			close(client.Events)
			delete(b.clients, client)
		}
		b.mu.Unlock()
		b.cancel()
		close(b.events)
	})
}

// Start begins delivering queued events to clients. The broadcaster stops
// itself shortly after a terminal event so handlers can flush it first.
func (b *SessionBroadcaster) Start() {
	go func() {
		defer b.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case event, ok := <-b.events:
				if !ok {
					return
				}
				b.deliver(event)

				if event.Type == EventTypeComplete || event.Type == EventTypeError {
					time.Sleep(100 * time.Millisecond)
					return
				}
			}
		}
	}()
}

func (b *SessionBroadcaster) deliver(event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		if event.Type == EventTypeComplete || event.Type == EventTypeError {
			select {
			case client.Events <- event:
			case <-time.After(50 * time.Millisecond):
				log.Printf("ERROR: failed to send terminal event %s to client", event.Type)
			}
			continue
		}

		select {
		case client.Events <- event:
		default:
			log.Printf("WARN: client channel full, skipping event type %s", event.Type)
		}
	}
}

// Hub manages broadcasters for concurrent import sessions.
type Hub struct {
	mu           sync.RWMutex
	broadcasters map[string]*SessionBroadcaster
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		broadcasters: make(map[string]*SessionBroadcaster),
	}
}

// Register subscribes a new client to an import session, creating the
// session's broadcaster on first use.
func (h *Hub) Register(ctx context.Context, sessionID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	client := NewClient()

	broadcaster, exists := h.broadcasters[sessionID]
	if !exists {
		broadcaster = NewSessionBroadcaster(ctx)
		h.broadcasters[sessionID] = broadcaster
		broadcaster.Start()
		log.Printf("INFO: created broadcaster for import session %s", sessionID)
	}

	broadcaster.Register(client)
	return client
}

// Unregister removes a client, tearing the broadcaster down when it was the
// last one.
func (h *Hub) Unregister(sessionID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	broadcaster, exists := h.broadcasters[sessionID]
	if !exists {
		return
	}

	broadcaster.Unregister(client)

	if broadcaster.ClientCount() == 0 {
		broadcaster.Stop()
		delete(h.broadcasters, sessionID)
		log.Printf("INFO: broadcaster for import session %s cleaned up", sessionID)
	}
}

// Broadcast sends an event to all clients of an import session.
func (h *Hub) Broadcast(sessionID string, event SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	broadcaster, exists := h.broadcasters[sessionID]
	if !exists {
		return
	}
	broadcaster.Broadcast(event)
}

// IsRunning reports whether a session broadcaster exists.
func (h *Hub) IsRunning(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.broadcasters[sessionID]
	return exists
}
