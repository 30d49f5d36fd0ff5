package room_handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/dtos/timeline_dto"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/grouping"
	"github.com/xenn00/room-sync/internal/handlers"
	"github.com/xenn00/room-sync/internal/middleware"
	timeline_service "github.com/xenn00/room-sync/internal/use-case/timeline-case"
	"maunium.net/go/mautrix/id"
)

// RoomHandler exposes one engine session to the local UI. Every request
// must be authenticated as the session's user.
type RoomHandler struct {
	Service  timeline_service.TimelineServiceContract
	Validate *validator.Validate

	// observations outlive the request that opened them
	ctx     context.Context
	mu      sync.Mutex
	handles map[string]*timeline_service.Observation
}

func NewRoomHandler(ctx context.Context, service timeline_service.TimelineServiceContract) *RoomHandler {
	return &RoomHandler{
		Service:  service,
		Validate: validator.New(),
		ctx:      ctx,
		handles:  make(map[string]*timeline_service.Observation),
	}
}

// RequireSessionUser rejects tokens issued to anyone but the engine's user.
func (h *RoomHandler) RequireSessionUser(next http.Handler) http.Handler {
	return handlers.WrapHandler(func(w http.ResponseWriter, r *http.Request) *app_error.AppError {
		userID, ok := middleware.UserFromContext(r.Context())
		if !ok {
			return app_error.NewAppError(http.StatusUnauthorized, "user id is not found in context", "context")
		}
		if userID != h.Service.UserID() {
			return app_error.NewAppError(http.StatusForbidden, "token does not belong to this session", "auth")
		}
		next.ServeHTTP(w, r)
		return nil
	})
}

func roomParam(r *http.Request) (id.RoomID, *app_error.AppError) {
	raw, appErr := handlers.PathParam(r, "roomId")
	if appErr != nil {
		return "", appErr
	}
	return id.RoomID(raw), nil
}

func eventParam(r *http.Request) (id.EventID, *app_error.AppError) {
	raw, appErr := handlers.PathParam(r, "eventId")
	if appErr != nil {
		return "", appErr
	}
	return id.EventID(raw), nil
}

func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	handlers.Respond(w, r, http.StatusOK, "rooms fetched successfully", h.Service.RankedRooms())
	return nil
}

func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	room, appErr := h.Service.Room(roomID)
	if appErr != nil {
		return appErr
	}
	handlers.Respond(w, r, http.StatusOK, "room fetched successfully", room)
	return nil
}

func (h *RoomHandler) GetMembers(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	members, appErr := h.Service.Members(roomID)
	if appErr != nil {
		return appErr
	}
	handlers.Respond(w, r, http.StatusOK, "members fetched successfully", members)
	return nil
}

func (h *RoomHandler) GetTimeline(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	dir := grouping.Direction(r.URL.Query().Get("dir"))
	view, appErr := h.Service.Timeline(roomID, dir)
	if appErr != nil {
		return appErr
	}
	handlers.Respond(w, r, http.StatusOK, "timeline fetched successfully", timeline_dto.NewTimelineResponse(view))
	return nil
}

func (h *RoomHandler) Paginate(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	res, appErr := h.Service.Paginate(r.Context(), roomID)
	if appErr != nil {
		return appErr
	}
	handlers.Respond(w, r, http.StatusOK, "history page loaded", timeline_dto.NewPaginationResponse(res))
	return nil
}

func (h *RoomHandler) GetPermissions(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	decisions, appErr := h.Service.Permissions(roomID)
	if appErr != nil {
		return appErr
	}
	handlers.Respond(w, r, http.StatusOK, "permissions fetched successfully", decisions)
	return nil
}

func (h *RoomHandler) RefreshPermissions(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	if err := h.Service.RefreshPermissions(r.Context(), roomID); err != nil {
		return app_error.From(err)
	}
	return h.GetPermissions(w, r)
}

// Observe opens a live subscription and returns a handle the caller must
// release with Release.
func (h *RoomHandler) Observe(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	obs, appErr := h.Service.Observe(h.ctx, roomID)
	if appErr != nil {
		return appErr
	}

	handleID := uuid.NewString()
	h.mu.Lock()
	h.handles[handleID] = obs
	h.mu.Unlock()

	log.Debug().Str("roomID", string(roomID)).Str("handleID", handleID).Msg("room observed")
	handlers.Respond(w, r, http.StatusCreated, "room observed", timeline_dto.ObserveResponse{HandleID: handleID, RoomID: roomID})
	return nil
}

func (h *RoomHandler) Release(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	handleID, appErr := handlers.PathParam(r, "handleId")
	if appErr != nil {
		return appErr
	}

	h.mu.Lock()
	obs, ok := h.handles[handleID]
	if ok && obs.RoomID == roomID {
		delete(h.handles, handleID)
	}
	h.mu.Unlock()
	if !ok || obs.RoomID != roomID {
		return app_error.NotFound("observation", "handle_id")
	}

	obs.Close()
	handlers.Respond(w, r, http.StatusOK, "observation released", map[string]any{"handle_id": handleID})
	return nil
}

func (h *RoomHandler) SendMessage(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	var req timeline_dto.SendMessageRequest
	if appErr := handlers.DecodeBody(r, h.Validate, &req); appErr != nil {
		return appErr
	}
	content, err := req.Content()
	if err != nil {
		return app_error.Invalid(err.Error(), "kind")
	}

	res, appErr := h.Service.SendMessage(r.Context(), roomID, content, req.RepliedEventID())
	if appErr != nil {
		return appErr
	}
	handlers.Respond(w, r, http.StatusCreated, "message sent successfully", timeline_dto.NewSendMessageResponse(res))
	return nil
}

func (h *RoomHandler) SendDirectMessage(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	userID, appErr := handlers.PathParam(r, "userId")
	if appErr != nil {
		return appErr
	}
	var req timeline_dto.SendMessageRequest
	if appErr := handlers.DecodeBody(r, h.Validate, &req); appErr != nil {
		return appErr
	}
	content, err := req.Content()
	if err != nil {
		return app_error.Invalid(err.Error(), "kind")
	}

	res, appErr := h.Service.SendDirectMessage(r.Context(), id.UserID(userID), content, req.RepliedEventID())
	if appErr != nil {
		return appErr
	}
	handlers.Respond(w, r, http.StatusCreated, "direct message sent successfully", timeline_dto.NewSendMessageResponse(res))
	return nil
}

func (h *RoomHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	eventID, appErr := eventParam(r)
	if appErr != nil {
		return appErr
	}
	var req timeline_dto.DeleteMessageRequest
	if r.ContentLength > 0 {
		if appErr := handlers.DecodeBody(r, h.Validate, &req); appErr != nil {
			return appErr
		}
	}

	if appErr := h.Service.DeleteMessage(r.Context(), roomID, eventID, req.Reason); appErr != nil {
		return appErr
	}
	handlers.Respond(w, r, http.StatusOK, "message deleted successfully", map[string]any{"event_id": eventID})
	return nil
}

func (h *RoomHandler) EditMessage(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	eventID, appErr := eventParam(r)
	if appErr != nil {
		return appErr
	}
	var req timeline_dto.EditMessageRequest
	if appErr := handlers.DecodeBody(r, h.Validate, &req); appErr != nil {
		return appErr
	}

	res, appErr := h.Service.EditMessage(r.Context(), roomID, eventID, req.Body)
	if appErr != nil {
		return appErr
	}
	handlers.Respond(w, r, http.StatusOK, "message edited successfully", timeline_dto.NewSendMessageResponse(res))
	return nil
}

func (h *RoomHandler) ResolveReply(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	eventID, appErr := eventParam(r)
	if appErr != nil {
		return appErr
	}
	res, appErr := h.Service.ResolveReply(r.Context(), roomID, eventID)
	if appErr != nil {
		return appErr
	}
	handlers.Respond(w, r, http.StatusOK, "reply resolved", res)
	return nil
}

func (h *RoomHandler) SetPowerLevel(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	var req timeline_dto.SetPowerLevelRequest
	if appErr := handlers.DecodeBody(r, h.Validate, &req); appErr != nil {
		return appErr
	}

	if appErr := h.Service.SetPowerLevel(r.Context(), roomID, id.UserID(req.UserID), req.Level); appErr != nil {
		return appErr
	}
	handlers.Respond(w, r, http.StatusOK, "power level updated", req)
	return nil
}

func (h *RoomHandler) InviteUser(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	var req timeline_dto.InviteRequest
	if appErr := handlers.DecodeBody(r, h.Validate, &req); appErr != nil {
		return appErr
	}

	if appErr := h.Service.InviteUser(r.Context(), roomID, id.UserID(req.UserID)); appErr != nil {
		return appErr
	}
	handlers.Respond(w, r, http.StatusOK, "user invited", req)
	return nil
}

func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}
	if appErr := h.Service.JoinRoom(r.Context(), roomID); appErr != nil {
		return appErr
	}
	return h.GetRoom(w, r)
}

// ForgetRoom drops local state only; it does not leave the room.
func (h *RoomHandler) ForgetRoom(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	roomID, appErr := roomParam(r)
	if appErr != nil {
		return appErr
	}

	var stale []*timeline_service.Observation
	h.mu.Lock()
	for handleID, obs := range h.handles {
		if obs.RoomID == roomID {
			stale = append(stale, obs)
			delete(h.handles, handleID)
		}
	}
	h.mu.Unlock()

	h.Service.ForgetRoom(roomID)
	// the subscription is already gone; this only detaches the handles
	for _, obs := range stale {
		obs.Close()
	}
	handlers.Respond(w, r, http.StatusOK, "room forgotten", map[string]any{"room_id": roomID})
	return nil
}
