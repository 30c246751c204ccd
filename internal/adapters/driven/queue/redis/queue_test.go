package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewQueue(context.Background(), client, "test-worker")
	require.NoError(t, err)
	return q, mr
}

func TestNewQueue_GroupIsIdempotent(t *testing.T) {
	q, mr := newTestQueue(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewQueue(context.Background(), client, "")
	require.NoError(t, err)
	assert.Equal(t, "test-worker", q.consumer)
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first := domain.NewRunKonnectorTask("job-1", 10)
	second := domain.NewInstallKonnectorTask("io.cozy.konnectors/bank", "bank", "registry://bank")
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.PendingCount)

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "job-1", got.Get("job_id"))

	require.NoError(t, q.Ack(ctx, got.ID))

	stored, err := q.GetTask(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.PendingCount)
	assert.EqualValues(t, 1, stats.CompletedCount)
}

func TestQueue_EmptyDoesNotBlock(t *testing.T) {
	q, _ := newTestQueue(t)

	start := time.Now()
	task, err := q.DequeueWithTimeout(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.Less(t, time.Since(start), time.Second)
}

func TestQueue_NackRetriesLater(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	task := domain.NewInstallKonnectorTask("io.cozy.konnectors/bank", "bank", "registry://bank")
	require.NoError(t, q.Enqueue(ctx, task))
	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, q.Nack(ctx, got.ID, "registry unavailable"))

	stored, err := q.GetTask(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.Equal(t, "registry unavailable", stored.Error)
	assert.True(t, stored.ScheduledFor.After(time.Now()))

	members, err := mr.ZMembers(delayedTasks)
	require.NoError(t, err)
	assert.Equal(t, []string{got.ID}, members)

	again, err := q.DequeueWithTimeout(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, again, "retry must wait for its backoff")
}

func TestQueue_NackExhaustedFails(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, domain.NewRunKonnectorTask("job-1", 0)))
	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, q.Nack(ctx, got.ID, "boom"))

	stored, _ := q.GetTask(ctx, got.ID)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.FailedCount)
	assert.EqualValues(t, 0, stats.PendingCount)
}

func TestQueue_DelayedTaskIsPromoted(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task := domain.NewRunKonnectorTask("job-1", 0)
	task.ScheduledFor = time.Now().Add(50 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.DequeueWithTimeout(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, got)

	time.Sleep(100 * time.Millisecond)
	got, err = q.DequeueWithTimeout(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
}

func TestQueue_UnknownTasks(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task, err := q.GetTask(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, task)

	assert.ErrorIs(t, q.Ack(ctx, "missing"), domain.ErrNotFound)
	assert.ErrorIs(t, q.Nack(ctx, "missing", "x"), domain.ErrNotFound)
}

func TestQueue_Ping(t *testing.T) {
	q, _ := newTestQueue(t)
	assert.NoError(t, q.Ping(context.Background()))
	assert.NoError(t, q.Close())
}
