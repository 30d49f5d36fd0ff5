package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var ErrJobExpired = errors.New("job expired before it was enqueued")

type Producer interface {
	Enqueue(ctx context.Context, job Job) error
}

// RedisProducer adds jobs to the priority sorted set the worker pool polls.
type RedisProducer struct {
	Redis redis.Cmdable
	now   func() time.Time
}

func NewProducer(redis redis.Cmdable) Producer {
	return &RedisProducer{Redis: redis, now: time.Now}
}

func (p *RedisProducer) Enqueue(ctx context.Context, job Job) error {
	if job.ExpireAt > 0 && job.ExpireAt <= p.now().Unix() {
		return ErrJobExpired
	}

	member, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := p.Redis.ZAdd(ctx, QueueKey, redis.Z{Score: job.Score(), Member: member}).Err(); err != nil {
		return err
	}

	log.Debug().Str("job_id", job.ID).Str("type", job.Type).Int("priority", job.Priority).Msg("job enqueued")
	return nil
}

// Pending counts queued jobs, due or not.
func Pending(ctx context.Context, rdb redis.Cmdable) (int64, error) {
	return rdb.ZCard(ctx, QueueKey).Result()
}
