package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xenn00/room-sync/internal/handlers"
	job_handler "github.com/xenn00/room-sync/internal/handlers/job-handler"
	"github.com/xenn00/room-sync/internal/middleware"
	timeline_service "github.com/xenn00/room-sync/internal/use-case/timeline-case"
	"github.com/xenn00/room-sync/state"
)

// NewRouter builds the local API of one engine session. jobs may be nil
// when no Redis is configured.
func NewRouter(state *state.AppState, service timeline_service.TimelineServiceContract, jobs job_handler.DeadJobStore) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.WithRequestId)
	r.Use(chimw.Recoverer)
	SystemRouter(r, state.Registry)
	RoomRouter(r, state, service)
	if jobs != nil {
		JobRouter(r, state, jobs)
	}
	return r
}

// SystemRouter serves liveness and the Prometheus scrape endpoint.
func SystemRouter(r chi.Router, registry *prometheus.Registry) {
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		handlers.Respond(w, req, http.StatusOK, "ok", map[string]string{"status": "healthy"})
	})
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
}
