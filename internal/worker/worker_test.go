package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xenn00/room-sync/internal/queue"
	"maunium.net/go/mautrix/id"
)

type handlerMock struct {
	mock.Mock
}

func (m *handlerMock) VerifyPowerLevel(ctx context.Context, roomID id.RoomID, userID id.UserID, level int) error {
	return m.Called(roomID, userID, level).Error(0)
}

func (m *handlerMock) RefreshPermissions(ctx context.Context, roomID id.RoomID) error {
	return m.Called(roomID).Error(0)
}

func newPool(t *testing.T, handler JobHandler) (*WorkerPool, *redis.Client, time.Time) {
	mockRedis := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mockRedis.Addr()})
	t.Cleanup(func() { rdb.Close() })

	fixed := time.Unix(1_700_000_000, 0)
	wp := NewWorkerPool(rdb, 1, handler)
	wp.now = func() time.Time { return fixed }
	return wp, rdb, fixed
}

func powerJob(maxRetry int) queue.Job {
	return queue.NewJob(queue.JobSyncPowerLevel, queue.PowerLevelPayload{RoomID: "!r:local", UserID: "@bob:local", Level: 50}, 0, maxRetry, time.Hour)
}

func TestHandleJob_Dispatch(t *testing.T) {
	h := &handlerMock{}
	h.On("VerifyPowerLevel", id.RoomID("!r:local"), id.UserID("@bob:local"), 50).Return(nil).Once()
	h.On("RefreshPermissions", id.RoomID("!r:local")).Return(nil).Once()

	require.NoError(t, HandleJob(context.Background(), powerJob(3), h))

	refresh := queue.NewJob(queue.JobRefreshMembers, queue.RefreshMembersPayload{RoomID: "!r:local"}, 0, 3, time.Hour)
	require.NoError(t, HandleJob(context.Background(), refresh, h))

	err := HandleJob(context.Background(), queue.Job{Type: "bogus"}, h)
	assert.ErrorContains(t, err, "unknown job type")

	h.AssertExpectations(t)
}

func TestWorkerPool_RetryWithBackoff(t *testing.T) {
	h := &handlerMock{}
	h.On("VerifyPowerLevel", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("not yet"))

	wp, rdb, now := newPool(t, h)
	ctx := context.Background()

	wp.process(ctx, powerJob(3))

	members, err := rdb.ZRangeWithScores(ctx, queue.QueueKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.InDelta(t, float64(now.Add(10*time.Second).Unix()), members[0].Score, 0.01, "first retry waits 5*2^1 seconds")

	var retried queue.Job
	require.NoError(t, json.Unmarshal([]byte(members[0].Member.(string)), &retried))
	assert.Equal(t, 1, retried.Retry)
	assert.Equal(t, "not yet", retried.ErrorMsg)

	_, ok := wp.claimDue(ctx)
	assert.False(t, ok, "retry is not due yet")
}

func TestWorkerPool_DeadLetterArchiveAndRetry(t *testing.T) {
	h := &handlerMock{}
	h.On("VerifyPowerLevel", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("server disagrees"))

	wp, rdb, _ := newPool(t, h)
	ctx := context.Background()

	job := powerJob(1)
	wp.process(ctx, job)

	n, err := rdb.LLen(ctx, queue.DLQKey).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	raw, err := rdb.LPop(ctx, queue.DLQKey).Result()
	require.NoError(t, err)
	require.NoError(t, wp.archive(ctx, raw))

	dead, err := wp.ListDeadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].JobID)
	assert.Equal(t, "server disagrees", dead[0].ErrorMsg)

	stats, err := wp.GetDLQStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats[queue.JobSyncPowerLevel])

	again, err := wp.RetryDeadJob(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, again.ID)

	exists, err := rdb.HExists(ctx, queue.DeadJobsKey, job.ID).Result()
	require.NoError(t, err)
	assert.False(t, exists)

	count, err := rdb.ZCard(ctx, queue.QueueKey).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	_, err = wp.RetryDeadJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrDeadJobNotFound)
}

func TestWorkerPool_StartRunsDueJobs(t *testing.T) {
	done := make(chan struct{})
	h := &handlerMock{}
	h.On("RefreshPermissions", id.RoomID("!r:local")).Return(nil).Run(func(mock.Arguments) { close(done) }).Once()

	mockRedis := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mockRedis.Addr()})
	defer rdb.Close()

	wp := NewWorkerPool(rdb, 2, h)
	wp.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := queue.NewJob(queue.JobRefreshMembers, queue.RefreshMembersPayload{RoomID: "!r:local"}, 0, 3, time.Hour)
	require.NoError(t, queue.NewProducer(rdb).Enqueue(ctx, job))

	wp.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}

	cancel()
	wp.Wait()
	h.AssertExpectations(t)
}
