// Package notifications fans debounced engagement updates out to connected
// websocket clients, with Redis pub/sub bridging processes.
package notifications

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"ripple/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

// Hub is a websocket hub that maps target keys to the clients watching them.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{} // userID -> clients
	targets    map[string]map[*Client]struct{} // targetKey -> clients
	totalConns int
	shutdown   chan struct{}
	done       chan struct{}
	viewers    *ViewerManager
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "engagement hub" }

// NewHub creates a new Hub instance for engagement update delivery.
func NewHub(redisClients ...*redis.Client) *Hub {
	var redisClient *redis.Client
	if len(redisClients) > 0 {
		redisClient = redisClients[0]
	}

	viewers := NewViewerManager(redisClient, ViewerManagerConfig{})

	return &Hub{
		conns:    make(map[string]map[*Client]struct{}),
		targets:  make(map[string]map[*Client]struct{}),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		viewers:  viewers,
	}
}

// SetViewerCallbacks wires the first-viewer/last-viewer transitions, used to
// open and close upstream document watches on demand.
func (h *Hub) SetViewerCallbacks(onActive, onIdle func(targetKey string)) {
	if h.viewers == nil {
		return
	}
	h.viewers.SetCallbacks(onActive, onIdle)
}

// Register a connection for a given userID. Returns the Client or error if limits exceeded.
func (h *Hub) Register(userID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()

	if h.totalConns >= maxTotalConns {
		h.mu.Unlock()
		return nil, errors.New("server connection limit reached")
	}

	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}

	if len(m) >= maxConnsPerUser {
		h.mu.Unlock()
		return nil, errors.New("user connection limit reached")
	}

	client := NewClient(h, conn, userID)
	m[client] = struct{}{}
	h.totalConns++
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.Inc()
	return client, nil
}

// UnregisterClient removes a connection and releases all of its target
// subscriptions.
func (h *Hub) UnregisterClient(client *Client) {
	targetKeys := client.Targets()

	h.mu.Lock()
	removedClient := false
	if m, ok := h.conns[client.UserID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.totalConns--
			removedClient = true
		}
		if len(m) == 0 {
			delete(h.conns, client.UserID)
		}
	}
	for _, key := range targetKeys {
		h.detachTargetLocked(client, key)
	}
	h.mu.Unlock()

	if removedClient {
		observability.WebSocketConnectionsTotal.Dec()
		if h.viewers != nil {
			for _, key := range targetKeys {
				h.viewers.Release(context.Background(), key)
			}
		}
	}
}

// Subscribe attaches a client to a target's update stream.
func (h *Hub) Subscribe(client *Client, targetKey string) {
	h.mu.Lock()
	m, ok := h.targets[targetKey]
	if !ok {
		m = make(map[*Client]struct{})
		h.targets[targetKey] = m
	}
	_, already := m[client]
	m[client] = struct{}{}
	h.mu.Unlock()

	if already {
		return
	}
	client.AddTarget(targetKey)
	if h.viewers != nil {
		h.viewers.Acquire(context.Background(), targetKey)
	}
}

// Unsubscribe detaches a client from a target's update stream.
func (h *Hub) Unsubscribe(client *Client, targetKey string) {
	if !client.WatchesTarget(targetKey) {
		return
	}
	client.RemoveTarget(targetKey)

	h.mu.Lock()
	h.detachTargetLocked(client, targetKey)
	h.mu.Unlock()

	if h.viewers != nil {
		h.viewers.Release(context.Background(), targetKey)
	}
}

func (h *Hub) detachTargetLocked(client *Client, targetKey string) {
	if m, ok := h.targets[targetKey]; ok {
		delete(m, client)
		if len(m) == 0 {
			delete(h.targets, targetKey)
		}
	}
}

// BroadcastTarget sends message to every client watching targetKey.
func (h *Hub) BroadcastTarget(targetKey string, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.targets[targetKey]; ok {
		data := []byte(message)
		for c := range clients {
			c.TrySend(data)
		}
	}
}

// BroadcastUser sends message to all connections for userID.
func (h *Hub) BroadcastUser(userID string, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.conns[userID]; ok {
		data := []byte(message)
		for c := range clients {
			c.TrySend(data)
		}
	}
}

// WatcherCount reports how many local clients watch targetKey.
func (h *Hub) WatcherCount(targetKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.targets[targetKey])
}

// StartWiring connects the Notifier to this hub: it subscribes to the Redis
// engagement pattern and forwards updates to the watching connections.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPatternSubscriber(ctx, func(channel, payload string) {
		targetKey, ok := strings.CutPrefix(channel, targetChannelPrefix)
		if !ok {
			log.Printf("invalid engagement channel: %s", channel)
			return
		}
		h.BroadcastTarget(targetKey, payload)
	})
}

// Shutdown gracefully closes all websocket connections
func (h *Hub) Shutdown(_ context.Context) error {
	close(h.shutdown)

	if h.viewers != nil {
		h.viewers.Stop()
	}

	// Close all connections gracefully
	h.mu.Lock()
	for userID, userConns := range h.conns {
		for client := range userConns {
			if client.Conn == nil {
				continue
			}
			// Send close message to client
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				log.Printf("failed to write close message for user %s: %v", userID, err)
			}
			// Close the connection
			if err := client.Conn.Close(); err != nil {
				log.Printf("failed to close websocket for user %s: %v", userID, err)
			}
		}
	}
	// Clear all connections
	h.conns = make(map[string]map[*Client]struct{})
	h.targets = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	// Signal completion
	close(h.done)

	return nil
}
