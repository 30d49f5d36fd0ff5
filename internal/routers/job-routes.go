package routers

import (
	"github.com/go-chi/chi/v5"
	"github.com/xenn00/room-sync/internal/handlers"
	job_handler "github.com/xenn00/room-sync/internal/handlers/job-handler"
	"github.com/xenn00/room-sync/internal/middleware"
	"github.com/xenn00/room-sync/state"
)

func JobRouter(r chi.Router, state *state.AppState, jobs job_handler.DeadJobStore) {
	jobHandler := job_handler.NewJobHandler(jobs)
	r.Group(func(protected chi.Router) {
		protected.Use(middleware.JWTAuth(state.JwtSecret.Public))
		protected.Get("/api/v1/jobs/dead", handlers.WrapHandler(jobHandler.ListDeadJobs))
		protected.Get("/api/v1/jobs/dead/stats", handlers.WrapHandler(jobHandler.GetStats))
		protected.Post("/api/v1/jobs/dead/{jobId}/retry", handlers.WrapHandler(jobHandler.RetryDeadJob))
	})
}
