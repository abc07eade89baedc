package queue

import (
	"context"
	"time"

	redisqueue "vnforms.dev/queue/redis"
)

// defaultQueueName is the single named queue object-created events travel
// over; C3's Redis backend does not need per-event routing.
const defaultQueueName = "storage-events"

// RedisEventBus adapts the generic redisqueue.Queue job envelope to the
// {bucket,key} StorageEvent contract, mirroring RabbitMQEventBus's shape.
type RedisEventBus struct {
	queue *redisqueue.Queue
}

// NewRedisEventBus wraps an already-connected Redis queue client.
func NewRedisEventBus(queue *redisqueue.Queue) *RedisEventBus {
	return &RedisEventBus{queue: queue}
}

// Publish enqueues a StorageEvent as a redisqueue.Job on the default queue.
func (r *RedisEventBus) Publish(ctx context.Context, event StorageEvent) error {
	return r.queue.Enqueue(ctx, redisqueue.Job{
		Bucket:     event.Bucket,
		Key:        event.Key,
		QueueName:  defaultQueueName,
		EnqueuedAt: time.Now(),
	})
}

// Close releases the underlying Redis connection.
func (r *RedisEventBus) Close() error {
	return r.queue.Close()
}

// Consume blocks, repeatedly dequeuing jobs and invoking handler, until ctx
// is cancelled. Delivery is at-least-once: a handler error re-enqueues the
// job with an incremented retry count, mirroring RabbitMQEventBus.Consume.
func (r *RedisEventBus) Consume(ctx context.Context, pollTimeout time.Duration, handler func(StorageEvent) error) error {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := r.queue.Dequeue(defaultQueueName, pollTimeout)
		if err != nil {
			return err
		}
		if job == nil {
			continue
		}

		jobID := job.Bucket + "/" + job.Key
		deadline := time.Now().Add(pollTimeout)
		if err := r.queue.MarkProcessing(ctx, jobID, deadline); err != nil {
			continue
		}

		event := StorageEvent{Bucket: job.Bucket, Key: job.Key}
		if err := handler(event); err != nil {
			r.queue.FailJob(ctx, *job, true)
			continue
		}
		r.queue.CompleteJob(ctx, jobID)
	}
}
