package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/bridge"
	"maunium.net/go/mautrix/id"
)

// ConnectFunc opens a bridge session on behalf of an authenticated user.
type ConnectFunc func(userID id.UserID) bridge.Client

type Hub struct {
	connect ConnectFunc

	// Session tracking
	clients     map[*Client]struct{}
	userClients map[id.UserID][]*Client
	mu          sync.RWMutex

	// Hub lifecycle
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	stats   HubStats
	statsMu sync.RWMutex

	// Cleanup
	cleanupTicker     *time.Ticker
	inactiveThreshold time.Duration
}

type HubStats struct {
	ActiveSessions   int       `json:"active_sessions"`
	ActiveUsers      int       `json:"active_users"`
	TotalConnections int64     `json:"total_connections"`
	Requests         int64     `json:"requests"`
	LastReset        time.Time `json:"last_reset"`
}

func NewHub(connect ConnectFunc) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		connect:     connect,
		clients:     make(map[*Client]struct{}),
		userClients: make(map[id.UserID][]*Client),
		ctx:         ctx,
		cancel:      cancel,
		stats: HubStats{
			LastReset: time.Now(),
		},
		cleanupTicker:     time.NewTicker(1 * time.Minute),
		inactiveThreshold: 2 * pongWait,
	}

	// Start cleanup routine
	go hub.cleanupRoutine()

	return hub
}

// Register opens the bridge session for the client and starts its pumps.
func (h *Hub) Register(client *Client) {
	client.bridge = h.connect(client.UserID)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.userClients[client.UserID] = append(h.userClients[client.UserID], client)
	sessions := len(h.clients)
	h.mu.Unlock()

	h.updateStats(func(stats *HubStats) {
		stats.TotalConnections++
	})

	client.Start(h)

	log.Info().Str("clientID", client.ID).Str("userID", client.UserID.String()).Int("sessions", sessions).Msg("ws: bridge session registered")
}

// Unregister closes the session and forgets it.
func (h *Hub) Unregister(client *Client) {
	client.Close()

	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)

	userClients := h.userClients[client.UserID]
	for i, c := range userClients {
		if c == client {
			h.userClients[client.UserID] = append(userClients[:i:i], userClients[i+1:]...)
			break
		}
	}
	if len(h.userClients[client.UserID]) == 0 {
		delete(h.userClients, client.UserID)
	}
	h.mu.Unlock()

	log.Info().Str("clientID", client.ID).Str("userID", client.UserID.String()).Msg("ws: bridge session unregistered")
}

// GetUserClients returns all active sessions of a user
func (h *Hub) GetUserClients(userID id.UserID) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var activeClients []*Client
	for _, client := range h.userClients[userID] {
		if client.IsClientActive() {
			activeClients = append(activeClients, client)
		}
	}
	return activeClients
}

// DisconnectUser closes every session of userID and reports how many there
// were.
func (h *Hub) DisconnectUser(userID id.UserID, reason string) int {
	clients := h.GetUserClients(userID)
	for _, client := range clients {
		client.Close()
	}
	log.Info().Str("userID", userID.String()).Str("reason", reason).Int("sessions", len(clients)).Msg("ws: user disconnected")
	return len(clients)
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetHubStats returns overall hub statistics
func (h *Hub) GetHubStats() HubStats {
	h.mu.RLock()
	active := 0
	for client := range h.clients {
		if client.IsClientActive() {
			active++
		}
	}
	users := len(h.userClients)
	h.mu.RUnlock()

	h.statsMu.RLock()
	defer h.statsMu.RUnlock()
	stats := h.stats
	stats.ActiveSessions = active
	stats.ActiveUsers = users
	return stats
}

func (h *Hub) updateStats(fn func(*HubStats)) {
	h.statsMu.Lock()
	fn(&h.stats)
	h.statsMu.Unlock()
}

func (h *Hub) cleanupRoutine() {
	defer h.cleanupTicker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.cleanupTicker.C:
			h.performCleanup(time.Now())
		}
	}
}

func (h *Hub) performCleanup(now time.Time) int {
	var toRemove []*Client

	h.mu.RLock()
	for client := range h.clients {
		if !client.IsClientActive() || now.Sub(client.GetLastSeen()) > h.inactiveThreshold {
			toRemove = append(toRemove, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range toRemove {
		log.Info().Str("clientID", client.ID).Str("userID", client.UserID.String()).Msg("ws: cleaning up inactive session")
		h.Unregister(client)
	}

	log.Debug().Int("cleaned", len(toRemove)).Msg("ws: cleanup routine completed")
	return len(toRemove)
}

// Close gracefully shuts down the hub
func (h *Hub) Close() {
	log.Info().Msg("ws: shutting down hub")

	h.cancel()

	h.mu.RLock()
	allClients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		allClients = append(allClients, client)
	}
	h.mu.RUnlock()

	for _, client := range allClients {
		h.Unregister(client)
	}

	log.Info().Int("clients", len(allClients)).Msg("ws: hub shutdown completed")
}
