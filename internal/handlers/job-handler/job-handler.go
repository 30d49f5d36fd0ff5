package job_handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/xenn00/room-sync/internal/entity"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/handlers"
	"github.com/xenn00/room-sync/internal/queue"
	"github.com/xenn00/room-sync/internal/worker"
)

// DeadJobStore is the part of the worker pool the admin routes use.
type DeadJobStore interface {
	ListDeadJobs(ctx context.Context) ([]entity.DeadJob, error)
	GetDLQStats(ctx context.Context) (map[string]int64, error)
	RetryDeadJob(ctx context.Context, jobID string) (*queue.Job, error)
}

type JobHandler struct {
	Jobs DeadJobStore
}

func NewJobHandler(jobs DeadJobStore) *JobHandler {
	return &JobHandler{Jobs: jobs}
}

func (h *JobHandler) ListDeadJobs(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	jobs, err := h.Jobs.ListDeadJobs(r.Context())
	if err != nil {
		return app_error.Transient("list dead jobs", err)
	}
	handlers.Respond(w, r, http.StatusOK, "dead jobs fetched successfully", jobs)
	return nil
}

func (h *JobHandler) GetStats(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	stats, err := h.Jobs.GetDLQStats(r.Context())
	if err != nil {
		return app_error.Transient("dead job stats", err)
	}
	handlers.Respond(w, r, http.StatusOK, "dead job stats fetched successfully", stats)
	return nil
}

func (h *JobHandler) RetryDeadJob(w http.ResponseWriter, r *http.Request) *app_error.AppError {
	jobID, appErr := handlers.PathParam(r, "jobId")
	if appErr != nil {
		return appErr
	}

	job, err := h.Jobs.RetryDeadJob(r.Context(), jobID)
	if errors.Is(err, worker.ErrDeadJobNotFound) {
		return app_error.NotFound("dead job", "job_id")
	} else if err != nil {
		return app_error.Transient("retry dead job", err)
	}
	handlers.Respond(w, r, http.StatusAccepted, "job requeued", job)
	return nil
}
