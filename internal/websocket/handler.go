package websocket

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// bridge peers are programs, not browsers
	CheckOrigin: func(r *http.Request) bool { return true },
}

type RateLimitConfig struct {
	Enabled          bool
	ConnectionsPerIP int
	// RequestsPerSecond and Burst bound each session's request rate.
	RequestsPerSecond float64
	Burst             int
}

// WebSocketHandler upgrades authenticated requests into bridge sessions.
type WebSocketHandler struct {
	hub            *Hub
	authenticator  AuthenticatorFunc
	MaxConnections int
	RateLimit      RateLimitConfig

	connMu      sync.Mutex
	connections map[string]int
}

func NewWebSocketHandler(hub *Hub, authenticator AuthenticatorFunc) *WebSocketHandler {
	return &WebSocketHandler{
		hub:            hub,
		authenticator:  authenticator,
		MaxConnections: 1000,
		RateLimit: RateLimitConfig{
			Enabled:           true,
			ConnectionsPerIP:  20,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		connections: make(map[string]int),
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.MaxConnections > 0 && h.hub.SessionCount() >= h.MaxConnections {
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return
	}

	clientIP := h.getClientIP(r)
	if !h.checkRateLimit(clientIP) {
		log.Warn().Str("ip", clientIP).Msg("ws: connection limit reached")
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	userID, err := h.authenticateConnection(r)
	if err != nil {
		log.Warn().Err(err).Str("ip", clientIP).Msg("ws: authentication failed")
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws: upgrade failed")
		return
	}

	var limiter *rate.Limiter
	if h.RateLimit.Enabled && h.RateLimit.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.RateLimit.RequestsPerSecond), h.RateLimit.Burst)
	}

	h.updateConnectionCount(clientIP, 1)
	client := NewClient(conn, userID, clientIP, limiter)
	client.onClose = func() { h.updateConnectionCount(clientIP, -1) }

	h.hub.Register(client)
}
