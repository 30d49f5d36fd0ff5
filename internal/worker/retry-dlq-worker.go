package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/entity"
	"github.com/xenn00/room-sync/internal/queue"
)

var ErrDeadJobNotFound = errors.New("dead job not found")

const retriedJobTTL = time.Hour

// RetryDeadJob puts an archived job back on the queue with a fresh retry
// budget and removes it from the archive.
func (wp *WorkerPool) RetryDeadJob(ctx context.Context, jobID string) (*queue.Job, error) {
	raw, err := wp.Redis.HGet(ctx, queue.DeadJobsKey, jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDeadJobNotFound
	} else if err != nil {
		return nil, err
	}

	var dead entity.DeadJob
	if err := json.Unmarshal([]byte(raw), &dead); err != nil {
		return nil, err
	}

	maxRetry := dead.Retries
	if maxRetry < 1 {
		maxRetry = 1
	}
	job := queue.NewJob(dead.Type, dead.Payload, 0, maxRetry, retriedJobTTL)

	if err := queue.NewProducer(wp.Redis).Enqueue(ctx, job); err != nil {
		return nil, err
	}
	if err := wp.Redis.HDel(ctx, queue.DeadJobsKey, jobID).Err(); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to drop retried dead job")
	}

	log.Info().Str("job_id", jobID).Str("new_job_id", job.ID).Msg("Dead job re-enqueued")
	return &job, nil
}
