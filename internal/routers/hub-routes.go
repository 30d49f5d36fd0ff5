package routers

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xenn00/room-sync/internal/handlers"
	hub_handler "github.com/xenn00/room-sync/internal/handlers/hub-handler"
	"github.com/xenn00/room-sync/internal/middleware"
	"github.com/xenn00/room-sync/internal/websocket"
)

// NewBridgeRouter serves a bridge over websocket plus its admin routes.
// privateKey may be nil, which disables the dev token endpoint.
func NewBridgeRouter(wsHub *websocket.Hub, wsHandler *websocket.WebSocketHandler, publicKey *rsa.PublicKey, privateKey *rsa.PrivateKey, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.WithRequestId)
	r.Use(chimw.Recoverer)
	SystemRouter(r, registry)
	HubRouter(r, wsHub, wsHandler, publicKey, privateKey)
	return r
}

func HubRouter(r chi.Router, wsHub *websocket.Hub, wsHandler *websocket.WebSocketHandler, publicKey *rsa.PublicKey, privateKey *rsa.PrivateKey) {
	hubHandler := hub_handler.NewHubHandler(wsHub, privateKey)

	r.Handle("/bridge", wsHandler)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", hubHandler.HandleHealth)
		r.Post("/dev/token", handlers.WrapHandler(hubHandler.HandleIssueToken))

		r.Group(func(protected chi.Router) {
			protected.Use(middleware.JWTAuth(publicKey))
			protected.Get("/stats", handlers.WrapHandler(hubHandler.HandleGetStats))
			protected.Route("/users/{userId}", func(r chi.Router) {
				r.Get("/connections", handlers.WrapHandler(hubHandler.HandleGetUserConnections))
				r.Post("/disconnect", handlers.WrapHandler(hubHandler.HandleDisconnectUser))
			})
		})
	})
}
