package hub_handler

import (
	"crypto/rsa"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xenn00/room-sync/internal/dtos/timeline_dto"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/handlers"
	"github.com/xenn00/room-sync/internal/utils"
	"github.com/xenn00/room-sync/internal/websocket"
	"maunium.net/go/mautrix/id"
)

const devTokenTTL = 24 * time.Hour

type HubHandler struct {
	Hub        *websocket.Hub
	PrivateKey *rsa.PrivateKey
	Validate   *validator.Validate
}

func NewHubHandler(hub *websocket.Hub, privateKey *rsa.PrivateKey) *HubHandler {
	return &HubHandler{
		Hub:        hub,
		PrivateKey: privateKey,
		Validate:   validator.New(),
	}
}

func (h *HubHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	handlers.Respond(w, r, http.StatusOK, "ok", map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "bridge-server",
	})
}

func (h *HubHandler) HandleGetStats(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	handlers.Respond(w, r, http.StatusOK, "get bridge stats", h.Hub.GetHubStats())
	return nil
}

func (h *HubHandler) HandleGetUserConnections(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	userID, appErr := handlers.PathParam(r, "userId")
	if appErr != nil {
		return appErr
	}
	clients := h.Hub.GetUserClients(id.UserID(userID))

	type ConnectionInfo struct {
		ClientID    string    `json:"client_id"`
		RemoteIP    string    `json:"remote_ip"`
		ConnectedAt time.Time `json:"connected_at"`
		LastSeen    time.Time `json:"last_seen"`
		IsActive    bool      `json:"is_active"`
	}

	connections := make([]ConnectionInfo, 0, len(clients))
	for _, client := range clients {
		connections = append(connections, ConnectionInfo{
			ClientID:    client.ID,
			RemoteIP:    client.RemoteIP,
			ConnectedAt: client.ConnectedAt,
			LastSeen:    client.GetLastSeen(),
			IsActive:    client.IsClientActive(),
		})
	}

	handlers.Respond(w, r, http.StatusOK, "successfully get user connection", map[string]any{
		"user_id":     userID,
		"count":       len(connections),
		"connections": connections,
	})
	return nil
}

func (h *HubHandler) HandleDisconnectUser(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	userID, appErr := handlers.PathParam(r, "userId")
	if appErr != nil {
		return appErr
	}

	var payload struct {
		Reason string `json:"reason" validate:"max=256"`
	}
	if r.ContentLength > 0 {
		if appErr := handlers.DecodeBody(r, h.Validate, &payload); appErr != nil {
			return appErr
		}
	}

	disconnected := h.Hub.DisconnectUser(id.UserID(userID), payload.Reason)
	handlers.Respond(w, r, http.StatusOK, "successfully disconnect user", map[string]any{
		"status":               "success",
		"disconnected_clients": disconnected,
		"user_id":              userID,
		"reason":               payload.Reason,
	})
	return nil
}

// HandleIssueToken mints a bridge token for any user. Development only.
func (h *HubHandler) HandleIssueToken(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	if h.PrivateKey == nil {
		return app_error.NewAppError(http.StatusNotImplemented, "no signing key configured", "auth")
	}

	var req timeline_dto.IssueTokenRequest
	if appErr := handlers.DecodeBody(r, h.Validate, &req); appErr != nil {
		return appErr
	}
	if _, _, err := id.UserID(req.UserID).Parse(); err != nil {
		return app_error.Invalid("user_id is not a valid user id", "user_id")
	}

	token, err := utils.IssueToken(req.UserID, req.Username, devTokenTTL, h.PrivateKey)
	if err != nil {
		return app_error.From(err)
	}
	handlers.Respond(w, r, http.StatusCreated, "token issued", timeline_dto.TokenResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(devTokenTTL),
	})
	return nil
}
