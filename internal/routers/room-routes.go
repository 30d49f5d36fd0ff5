package routers

import (
	"github.com/go-chi/chi/v5"
	"github.com/xenn00/room-sync/internal/handlers"
	room_handler "github.com/xenn00/room-sync/internal/handlers/room-handler"
	"github.com/xenn00/room-sync/internal/middleware"
	timeline_service "github.com/xenn00/room-sync/internal/use-case/timeline-case"
	"github.com/xenn00/room-sync/state"
)

func RoomRouter(r chi.Router, state *state.AppState, service timeline_service.TimelineServiceContract) {
	roomHandler := room_handler.NewRoomHandler(state.Ctx, service)
	limiter := middleware.NewRateLimiter(state.Conf.Api.RatePerSecond, state.Conf.Api.Burst)

	r.Group(func(protected chi.Router) {
		protected.Use(middleware.JWTAuth(state.JwtSecret.Public))
		protected.Use(roomHandler.RequireSessionUser)
		protected.Use(limiter.Handler)

		protected.Get("/api/v1/rooms", handlers.WrapHandler(roomHandler.ListRooms))
		protected.Post("/api/v1/direct/{userId}/messages", handlers.WrapHandler(roomHandler.SendDirectMessage))

		protected.Route("/api/v1/rooms/{roomId}", func(room chi.Router) {
			room.Get("/", handlers.WrapHandler(roomHandler.GetRoom))
			room.Delete("/", handlers.WrapHandler(roomHandler.ForgetRoom))
			room.Get("/members", handlers.WrapHandler(roomHandler.GetMembers))
			room.Get("/timeline", handlers.WrapHandler(roomHandler.GetTimeline)) // query param dir=asc|desc
			room.Post("/paginate", handlers.WrapHandler(roomHandler.Paginate))
			room.Get("/permissions", handlers.WrapHandler(roomHandler.GetPermissions))
			room.Post("/permissions/refresh", handlers.WrapHandler(roomHandler.RefreshPermissions))
			room.Post("/observe", handlers.WrapHandler(roomHandler.Observe))
			room.Delete("/observe/{handleId}", handlers.WrapHandler(roomHandler.Release))
			room.Post("/messages", handlers.WrapHandler(roomHandler.SendMessage))
			room.Put("/messages/{eventId}", handlers.WrapHandler(roomHandler.EditMessage))
			room.Delete("/messages/{eventId}", handlers.WrapHandler(roomHandler.DeleteMessage))
			room.Get("/messages/{eventId}/reply", handlers.WrapHandler(roomHandler.ResolveReply))
			room.Post("/power-levels", handlers.WrapHandler(roomHandler.SetPowerLevel))
			room.Post("/invites", handlers.WrapHandler(roomHandler.InviteUser))
			room.Post("/join", handlers.WrapHandler(roomHandler.JoinRoom))
		})
	})
}
