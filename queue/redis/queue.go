// Package redis provides a Redis-backed implementation of the event bus (C3)
// using a blocking list for delivery and a sorted set that records in-flight
// jobs with their visibility deadline. Nothing in this package re-enqueues a
// job whose deadline has passed; a job goes back on the list only through
// FailJob with requeue set.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job wraps one StorageEvent with queue bookkeeping.
type Job struct {
	Bucket     string    `json:"bucket"`
	Key        string    `json:"key"`
	QueueName  string    `json:"queueName"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	RetryCount int       `json:"retryCount"`
}

// Config configures the Redis queue.
type Config struct {
	RedisURL  string
	KeyPrefix string // defaults to "events:"
}

// Queue implements at-least-once delivery over Redis lists.
type Queue struct {
	client *redis.Client
	prefix string
}

// NewQueue creates a new Redis-backed queue client.
func NewQueue(ctx context.Context, cfg Config) (*Queue, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "events:"
	}
	return &Queue{client: client, prefix: prefix}, nil
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue pushes a job onto its named queue.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.RPush(ctx, q.prefix+job.QueueName, body).Err()
}

// Dequeue blocks up to timeout for the next job on queueName.
func (q *Queue) Dequeue(queueName string, timeout time.Duration) (*Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := q.client.BLPop(ctx, timeout, q.prefix+queueName).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// MarkProcessing records a job as in-flight with a visibility deadline.
func (q *Queue) MarkProcessing(ctx context.Context, jobID string, deadline time.Time) error {
	return q.client.ZAdd(ctx, q.prefix+"processing", redis.Z{Score: float64(deadline.Unix()), Member: jobID}).Err()
}

// CompleteJob removes a job from the in-flight set.
func (q *Queue) CompleteJob(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, q.prefix+"processing", jobID).Err()
}

// FailJob removes a job from the in-flight set and, if requeue is set,
// re-enqueues it with an incremented retry count.
func (q *Queue) FailJob(ctx context.Context, job Job, requeue bool) error {
	jobID := job.Bucket + "/" + job.Key
	if err := q.CompleteJob(ctx, jobID); err != nil {
		return err
	}
	if requeue {
		job.RetryCount++
		job.EnqueuedAt = time.Now()
		return q.Enqueue(ctx, job)
	}
	return nil
}

// QueueDepth returns the number of pending jobs on queueName.
func (q *Queue) QueueDepth(ctx context.Context, queueName string) (int, error) {
	depth, err := q.client.LLen(ctx, q.prefix+queueName).Result()
	return int(depth), err
}
