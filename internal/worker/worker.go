package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/internal/queue"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type WorkerPool struct {
	Redis        redis.Cmdable
	WorkerNum    int
	JobChannel   chan string
	PollInterval time.Duration
	wg           sync.WaitGroup
	handler      JobHandler
	now          func() time.Time
}

func NewWorkerPool(redis redis.Cmdable, workerNum int, handler JobHandler) *WorkerPool {
	return &WorkerPool{
		Redis:        redis,
		WorkerNum:    workerNum,
		JobChannel:   make(chan string, 100), // Buffered channel to hold jobs
		PollInterval: time.Second,
		handler:      handler,
		now:          time.Now,
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	log.Info().Msgf("Starting worker pool with %d workers", wp.WorkerNum)

	for i := 0; i < wp.WorkerNum; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}

	go func() {
		defer close(wp.JobChannel)
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Stopping worker pool")
				return
			default:
			}

			payload, ok := wp.claimDue(ctx)
			if !ok {
				select {
				case <-ctx.Done():
				case <-time.After(wp.PollInterval):
				}
				continue
			}

			select {
			case wp.JobChannel <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// claimDue removes one due job from the queue. Only the caller whose ZREM
// succeeds owns the job.
func (wp *WorkerPool) claimDue(ctx context.Context) (string, bool) {
	now := float64(wp.now().Unix())
	result, err := wp.Redis.ZRangeByScore(ctx, queue.QueueKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%f", now),
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Worker: failed to pop job")
		}
		return "", false
	}
	if len(result) == 0 {
		return "", false
	}

	removed, err := wp.Redis.ZRem(ctx, queue.QueueKey, result[0]).Result()
	if err != nil || removed == 0 {
		return "", false
	}
	return result[0], true
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	log.Info().Msgf("Worker %d started", id)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("Worker %d stopping", id)
			return
		case payload, ok := <-wp.JobChannel:
			if !ok {
				return
			}

			var job queue.Job
			if err := json.Unmarshal([]byte(payload), &job); err != nil {
				log.Warn().Err(err).Msgf("Worker %d: Failed to unmarshal job payload", id)
				continue
			}
			wp.process(ctx, job)
		}
	}
}

// process runs one job and schedules its retry or dead letter on failure.
func (wp *WorkerPool) process(ctx context.Context, job queue.Job) {
	err := HandleJob(ctx, job, wp.handler)
	if err == nil {
		log.Debug().Str("job_id", job.ID).Str("type", job.Type).Msg("Job done")
		return
	}

	job.Retry++
	job.ErrorMsg = err.Error()

	now := wp.now()
	if job.Retry >= job.MaxRetry || now.Unix() > job.ExpireAt {
		log.Error().Str("job_id", job.ID).Msg("Job moved to DLQ")
		dlqBytes, _ := json.Marshal(job)
		wp.Redis.RPush(ctx, queue.DLQKey, dlqBytes)

		// Dead Letter Alert
		sendDLA(job)
		return
	}

	// retry with backoff
	delay := time.Duration(5*(1<<job.Retry)) * time.Second // exponential backoff
	job.RunAt = now.Add(delay).Unix()

	jobBytes, _ := json.Marshal(job)
	wp.Redis.ZAdd(ctx, queue.QueueKey, redis.Z{
		Score:  job.Score(),
		Member: jobBytes,
	})
	log.Warn().Str("job_id", job.ID).Msgf("Retrying in %v seconds (%d/%d)", delay.Seconds(), job.Retry, job.MaxRetry)
}

var dlaCache = make(map[string]time.Time)
var dlaMu sync.Mutex

func sendDLA(job queue.Job) {
	dlaMu.Lock()
	defer dlaMu.Unlock()

	now := time.Now()
	lastAlert, ok := dlaCache[job.Type]
	if ok && now.Sub(lastAlert) < 10*time.Minute {
		return
	}

	log.Error().Str("job_id", job.ID).Str("type", job.Type).Str("error", job.ErrorMsg).Msg("Dead Letter Alert: Job failed permanently")

	dlaCache[job.Type] = now
}

func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
	log.Info().Msg("All workers have stopped")
}
