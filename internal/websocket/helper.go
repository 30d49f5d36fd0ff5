package websocket

import (
	"net"
	"net/http"
	"strings"

	"maunium.net/go/mautrix/id"
)

func (h *WebSocketHandler) authenticateConnection(r *http.Request) (id.UserID, error) {
	if h.authenticator == nil {
		// Development fallback: trust the user_id query parameter
		userID := id.UserID(r.URL.Query().Get("user_id"))
		if userID == "" {
			return "", &AuthError{Message: "user_id is required"}
		}
		if _, _, err := userID.Parse(); err != nil {
			return "", &AuthError{Message: "user_id is not a valid user id"}
		}
		return userID, nil
	}

	return h.authenticator(r)
}

func (h *WebSocketHandler) getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *WebSocketHandler) checkRateLimit(clientIP string) bool {
	if !h.RateLimit.Enabled || h.RateLimit.ConnectionsPerIP <= 0 {
		return true
	}

	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.connections[clientIP] < h.RateLimit.ConnectionsPerIP
}

func (h *WebSocketHandler) updateConnectionCount(clientIP string, delta int) {
	h.connMu.Lock()
	defer h.connMu.Unlock()

	h.connections[clientIP] += delta
	if h.connections[clientIP] <= 0 {
		delete(h.connections, clientIP)
	}
}
