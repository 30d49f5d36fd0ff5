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

const dlqBlockTimeout = 10 * time.Second

// StartDLQWorker moves dead jobs from the DLQ list into the dead_jobs audit
// hash, keyed by job id.
func (wp *WorkerPool) StartDLQWorker(ctx context.Context) {
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()

		log.Info().Msg("DLQ worker started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("DLQ worker stopping")
				return
			default:
			}

			result, err := wp.Redis.BLPop(ctx, dlqBlockTimeout, queue.DLQKey).Result()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("DLQWorker pop failed")
					time.Sleep(wp.PollInterval)
				}
				continue
			}

			if err := wp.archive(ctx, result[1]); err != nil {
				log.Error().Err(err).Msg("Failed to persist DLQ job, putting it back")
				wp.Redis.RPush(ctx, queue.DLQKey, result[1])
			}
		}
	}()
}

func (wp *WorkerPool) archive(ctx context.Context, payload string) error {
	var job queue.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		log.Warn().Err(err).Msg("DLQWorker invalid job payload")
		return nil
	}

	log.Error().
		Str("job_id", job.ID).
		Str("type", job.Type).
		Str("error", job.ErrorMsg).
		Msg("DLQ Job detected")

	dead := entity.DeadJob{
		JobID:    job.ID,
		Type:     job.Type,
		Payload:  []byte(job.Payload),
		ErrorMsg: job.ErrorMsg,
		Retries:  job.Retry,
		FailedAt: wp.now().UTC(),
	}
	raw, err := json.Marshal(dead)
	if err != nil {
		return err
	}
	if err := wp.Redis.HSet(ctx, queue.DeadJobsKey, job.ID, raw).Err(); err != nil {
		return err
	}

	log.Info().Str("job_id", job.ID).Msg("DLQ job persisted")
	return nil
}

func (wp *WorkerPool) ListDeadJobs(ctx context.Context) ([]entity.DeadJob, error) {
	values, err := wp.Redis.HVals(ctx, queue.DeadJobsKey).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]entity.DeadJob, 0, len(values))
	for _, v := range values {
		var dead entity.DeadJob
		if err := json.Unmarshal([]byte(v), &dead); err != nil {
			log.Warn().Err(err).Msg("skipping unreadable dead job")
			continue
		}
		jobs = append(jobs, dead)
	}
	return jobs, nil
}

// GetDLQStats counts archived dead jobs per type.
func (wp *WorkerPool) GetDLQStats(ctx context.Context) (map[string]int64, error) {
	jobs, err := wp.ListDeadJobs(ctx)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int64)
	for _, job := range jobs {
		stats[job.Type]++
	}
	return stats, nil
}
