package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	syncpkg "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync"
)

// DefaultHistorySize is how many notifications RedisNotifier keeps.
const DefaultHistorySize = 50

// RedisNotifier publishes notifications on a Redis channel and keeps a
// capped history list so a reconnecting UI can replay recent ones.
type RedisNotifier struct {
	client      *redis.Client
	channel     string
	historyKey  string
	historySize int64
}

// NewRedisNotifier connects to redisURL and verifies the connection.
func NewRedisNotifier(redisURL, channel string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisNotifierWithClient(client, channel), nil
}

// NewRedisNotifierWithClient creates a notifier from an existing client.
func NewRedisNotifierWithClient(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{
		client:      client,
		channel:     channel,
		historyKey:  channel + ":history",
		historySize: DefaultHistorySize,
	}
}

// Notify publishes n and records it in the history list atomically.
func (r *RedisNotifier) Notify(ctx context.Context, n syncpkg.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Publish(ctx, r.channel, payload)
	pipe.LPush(ctx, r.historyKey, payload)
	pipe.LTrim(ctx, r.historyKey, 0, r.historySize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// History returns up to limit recent notifications, newest first.
func (r *RedisNotifier) History(ctx context.Context, limit int) ([]syncpkg.Notification, error) {
	if limit <= 0 || int64(limit) > r.historySize {
		limit = int(r.historySize)
	}
	raw, err := r.client.LRange(ctx, r.historyKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read notification history: %w", err)
	}

	out := make([]syncpkg.Notification, 0, len(raw))
	for _, item := range raw {
		var n syncpkg.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Ping checks the Redis connection.
func (r *RedisNotifier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
