package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	redisqueue "vnforms.dev/queue/redis"
)

func newTestRedisBus(t *testing.T) *RedisEventBus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q, err := redisqueue.NewQueue(context.Background(), redisqueue.Config{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	return NewRedisEventBus(q)
}

func TestRedisEventBus_PublishThenConsume(t *testing.T) {
	bus := newTestRedisBus(t)

	err := bus.Publish(context.Background(), StorageEvent{Bucket: "forms", Key: "raw/a-1.pdf"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan StorageEvent, 1)

	go func() {
		bus.Consume(ctx, 200*time.Millisecond, func(e StorageEvent) error {
			received <- e
			cancel()
			return nil
		})
	}()

	select {
	case e := <-received:
		require.Equal(t, "forms", e.Bucket)
		require.Equal(t, "raw/a-1.pdf", e.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for consumed event")
	}
}

func TestRedisEventBus_HandlerErrorRequeuesJob(t *testing.T) {
	bus := newTestRedisBus(t)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, StorageEvent{Bucket: "forms", Key: "raw/b-1.pdf"}))

	attempts := 0
	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go bus.Consume(consumeCtx, 200*time.Millisecond, func(e StorageEvent) error {
		attempts++
		if attempts == 1 {
			return context.DeadlineExceeded
		}
		cancel()
		return nil
	})

	time.Sleep(1500 * time.Millisecond)
	require.GreaterOrEqual(t, attempts, 2)
}
