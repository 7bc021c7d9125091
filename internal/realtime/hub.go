package realtime

import (
	"sync"

	"go.uber.org/zap"
)

type Hub struct {
	mu sync.RWMutex

	// room mapping: device -> clients
	rooms map[string]map[*Client]bool

	// reverse mapping: client -> subscribed devices
	clientSubs map[*Client]map[string]bool
	logger     *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		clientSubs: make(map[*Client]map[string]bool),
		logger:     logger,
	}
}

// Register tracks a client with no subscriptions yet
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientSubs[c] == nil {
		h.clientSubs[c] = make(map[string]bool)
	}
}

func (h *Hub) Subscribe(deviceID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[deviceID] == nil {
		h.rooms[deviceID] = make(map[*Client]bool)
	}
	h.rooms[deviceID][c] = true

	if h.clientSubs[c] == nil {
		h.clientSubs[c] = make(map[string]bool)
	}
	h.clientSubs[c][deviceID] = true
}

// UnsubscribeDevice drops a single device subscription
func (h *Hub) UnsubscribeDevice(deviceID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.rooms[deviceID], c)
	if len(h.rooms[deviceID]) == 0 {
		delete(h.rooms, deviceID)
	}
	delete(h.clientSubs[c], deviceID)
}

// Unsubscribe removes the client from every room
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.clientSubs[c]
	for deviceID := range subs {
		delete(h.rooms[deviceID], c)
		if len(h.rooms[deviceID]) == 0 {
			delete(h.rooms, deviceID)
		}
	}

	delete(h.clientSubs, c)
}

func (h *Hub) BroadcastTo(deviceID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.rooms[deviceID]
	if clients == nil {
		return
	}

	for client := range clients {
		select {
		case client.send <- msg:
			// delivered
		default:
			// slow client -> skip
			h.logger.Debugw("dropping message for slow client", "user", client.userID, "device", deviceID)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientSubs)
}
