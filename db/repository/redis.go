package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionRepository implements SessionRepository. The entire
// FillingSession is stored as one serialized blob under a TTL'd key; every
// turn is a full read-modify-write, and every read refreshes the TTL so an
// active session never expires mid-conversation.
type RedisSessionRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionRepository connects to Redis and verifies the connection.
func NewRedisSessionRepository(url, keyPrefix string) (*RedisSessionRepository, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	if keyPrefix == "" {
		keyPrefix = "session:"
	}
	return &RedisSessionRepository{client: client, prefix: keyPrefix}, nil
}

// Close releases the Redis connection.
func (r *RedisSessionRepository) Close() error {
	return r.client.Close()
}

func (r *RedisSessionRepository) key(sessionID string) string {
	return r.prefix + sessionID
}

// SaveSession writes the full session blob and (re)sets its TTL.
func (r *RedisSessionRepository) SaveSession(ctx context.Context, sessionID string, blob []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(sessionID), blob, ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	return nil
}

// GetSession reads the session blob and refreshes its TTL if found.
func (r *RedisSessionRepository) GetSession(ctx context.Context, sessionID string, refreshTTL time.Duration) ([]byte, error) {
	key := r.key(sessionID)
	blob, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	r.client.Expire(ctx, key, refreshTTL)
	return blob, nil
}

// DeleteSession removes a session immediately.
func (r *RedisSessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.key(sessionID)).Err()
}
