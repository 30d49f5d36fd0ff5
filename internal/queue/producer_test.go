package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"
)

func TestRedisProducer_Enqueue(t *testing.T) {
	mockRedis := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mockRedis.Addr()})
	defer rdb.Close()

	producer := NewProducer(rdb)
	job := NewJob(JobSyncPowerLevel, PowerLevelPayload{RoomID: "!r:local", UserID: "@bob:local", Level: 50}, 1, 3, time.Hour)

	require.NoError(t, producer.Enqueue(context.Background(), job))

	members, err := rdb.ZRange(context.Background(), QueueKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)

	var stored Job
	require.NoError(t, json.Unmarshal([]byte(members[0]), &stored))
	assert.Equal(t, job.ID, stored.ID)

	payload, err := Decode[PowerLevelPayload](stored)
	require.NoError(t, err)
	assert.Equal(t, id.UserID("@bob:local"), payload.UserID)
	assert.Equal(t, 50, payload.Level)
}

func TestJob_ScorePrefersPriorityWithinSecond(t *testing.T) {
	low := Job{RunAt: 100, Priority: 0}
	high := Job{RunAt: 100, Priority: 5}
	later := Job{RunAt: 101, Priority: 9}

	assert.Less(t, high.Score(), low.Score())
	assert.Less(t, low.Score(), later.Score())
}

func TestRedisProducer_RejectsExpiredJob(t *testing.T) {
	mockRedis := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mockRedis.Addr()})
	defer rdb.Close()

	producer := NewProducer(rdb)
	job := NewJob(JobRefreshMembers, RefreshMembersPayload{RoomID: "!r:local"}, 0, 1, -time.Second)

	assert.ErrorIs(t, producer.Enqueue(context.Background(), job), ErrJobExpired)
	pending, err := Pending(context.Background(), rdb)
	require.NoError(t, err)
	assert.Zero(t, pending)
}
