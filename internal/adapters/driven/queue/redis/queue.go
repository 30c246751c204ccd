package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

const (
	taskStream   = "collect:tasks"
	taskGroup    = "collect:workers"
	delayedTasks = "collect:tasks:delayed"

	taskKeyPrefix   = "collect:task:"
	statsKeyPrefix  = "collect:tasks:stats:"
	messageKeySuffix = ":msg"

	// taskTTL bounds how long task records outlive their processing
	taskTTL = 24 * time.Hour

	// claimAfter is how long a delivered task may stay unacked before
	// another worker takes it over.
	claimAfter = 10 * time.Minute
)

var _ driven.TaskQueue = (*Queue)(nil)

// Queue implements TaskQueue with a Redis stream and consumer group.
// Task records live in plain keys; future tasks wait in a sorted set and
// are moved to the stream when due.
type Queue struct {
	client   redis.UniversalClient
	consumer string
}

// NewQueue creates the consumer group if needed. consumer must be unique
// per worker process; an empty name is generated.
func NewQueue(ctx context.Context, client redis.UniversalClient, consumer string) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if consumer == "" {
		consumer = "worker-" + uuid.NewString()[:8]
	}
	err := client.XGroupCreateMkStream(ctx, taskStream, taskGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &Queue{client: client, consumer: consumer}, nil
}

func taskKey(id string) string { return taskKeyPrefix + id }

func (q *Queue) saveTask(ctx context.Context, pipe redis.Pipeliner, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	pipe.Set(ctx, taskKey(task.ID), data, taskTTL)
	return nil
}

func streamEntry(task *domain.Task) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: taskStream,
		Values: map[string]any{"task_id": task.ID, "type": string(task.Type)},
	}
}

// Enqueue stores the task and publishes it, or delays it until ScheduledFor.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := q.saveTask(ctx, pipe, task); err != nil {
			return err
		}
		if task.ScheduledFor.After(time.Now()) {
			pipe.ZAdd(ctx, delayedTasks, redis.Z{Score: float64(task.ScheduledFor.UnixMilli()), Member: task.ID})
		} else {
			pipe.XAdd(ctx, streamEntry(task))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// DequeueWithTimeout delivers the next task to this consumer. A timeout of
// zero or less does not block.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}
	if task, err := q.claimStale(ctx); err == nil && task != nil {
		return task, nil
	}

	block := time.Duration(-1)
	if timeout > 0 {
		block = time.Duration(timeout) * time.Second
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    taskGroup,
		Consumer: q.consumer,
		Streams:  []string{taskStream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		return nil, fmt.Errorf("read task stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return q.deliver(ctx, streams[0].Messages[0])
}

// deliver loads the task behind a stream message and marks it processing.
// Messages without a live task record are dropped.
func (q *Queue) deliver(ctx context.Context, msg redis.XMessage) (*domain.Task, error) {
	id, _ := msg.Values["task_id"].(string)
	task, err := q.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		q.client.XAck(ctx, taskStream, taskGroup, msg.ID)
		q.client.XDel(ctx, taskStream, msg.ID)
		return nil, nil
	}

	task.MarkProcessing()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := q.saveTask(ctx, pipe, task); err != nil {
			return err
		}
		pipe.Set(ctx, taskKey(task.ID)+messageKeySuffix, msg.ID, taskTTL)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark task %s processing: %w", task.ID, err)
	}
	return task, nil
}

// promoteDue moves delayed tasks whose time has come to the stream. ZREM
// decides which worker promotes a given task.
func (q *Queue) promoteDue(ctx context.Context) error {
	ids, err := q.client.ZRangeByScore(ctx, delayedTasks, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("list delayed tasks: %w", err)
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, delayedTasks, id).Result()
		if err != nil {
			return fmt.Errorf("promote task %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: taskStream,
			Values: map[string]any{"task_id": id},
		}).Err(); err != nil {
			return fmt.Errorf("promote task %s: %w", id, err)
		}
	}
	return nil
}

// claimStale takes over one message left unacked by a crashed worker.
func (q *Queue) claimStale(ctx context.Context) (*domain.Task, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   taskStream,
		Group:    taskGroup,
		Consumer: q.consumer,
		MinIdle:  claimAfter,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return q.deliver(ctx, msgs[0])
}

// finish acknowledges the stream message of a task and stores its new state.
func (q *Queue) finish(ctx context.Context, task *domain.Task, requeue bool) error {
	msgKey := taskKey(task.ID) + messageKeySuffix
	msgID, err := q.client.Get(ctx, msgKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get message of task %s: %w", task.ID, err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if msgID != "" {
			pipe.XAck(ctx, taskStream, taskGroup, msgID)
			pipe.XDel(ctx, taskStream, msgID)
		}
		pipe.Del(ctx, msgKey)
		if err := q.saveTask(ctx, pipe, task); err != nil {
			return err
		}
		if requeue {
			pipe.ZAdd(ctx, delayedTasks, redis.Z{Score: float64(task.ScheduledFor.UnixMilli()), Member: task.ID})
		} else {
			pipe.Incr(ctx, statsKeyPrefix+string(task.Status))
		}
		return nil
	})
	return err
}

// Ack marks a task completed.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	task.MarkCompleted()
	if err := q.finish(ctx, task, false); err != nil {
		return fmt.Errorf("ack task %s: %w", taskID, err)
	}
	return nil
}

// Nack delays a retry with backoff, or fails the task once its attempts
// are exhausted.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	retry := task.CanRetry()
	if retry {
		task.Retry(reason)
	} else {
		task.MarkFailed(reason)
	}
	if err := q.finish(ctx, task, retry); err != nil {
		return fmt.Errorf("nack task %s: %w", taskID, err)
	}
	return nil
}

// GetTask returns nil, nil for unknown or expired tasks.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := q.client.Get(ctx, taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", taskID, err)
	}
	return &task, nil
}

// Stats reports waiting and delivered messages and the finished counters.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	length, err := q.client.XLen(ctx, taskStream).Result()
	if err != nil {
		return nil, fmt.Errorf("stream length: %w", err)
	}
	delayed, err := q.client.ZCard(ctx, delayedTasks).Result()
	if err != nil {
		return nil, fmt.Errorf("delayed count: %w", err)
	}
	var processing int64
	if pending, err := q.client.XPending(ctx, taskStream, taskGroup).Result(); err == nil {
		processing = pending.Count
	}
	counters, err := q.client.MGet(ctx,
		statsKeyPrefix+string(domain.TaskStatusCompleted),
		statsKeyPrefix+string(domain.TaskStatusFailed),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("task counters: %w", err)
	}
	return &driven.QueueStats{
		PendingCount:    length - processing + delayed,
		ProcessingCount: processing,
		CompletedCount:  counterValue(counters[0]),
		FailedCount:     counterValue(counters[1]),
	}, nil
}

func counterValue(v any) int64 {
	s, _ := v.(string)
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the client is shared.
func (q *Queue) Close() error {
	return nil
}
