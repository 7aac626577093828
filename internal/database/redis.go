package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/notifykit/notifykit/internal/config"
	"github.com/notifykit/notifykit/internal/notification"
)

const preferenceCacheTTL = time.Hour

// RedisClient wraps redis.Client for caching and real-time fan-out.
type RedisClient struct {
	*redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{Client: rdb}, nil
}

func preferenceKey(userID, category string) string {
	return fmt.Sprintf("notification_preferences:%s:%s", userID, category)
}

// CachePreference caches a preference row for the resolver.
func (r *RedisClient) CachePreference(ctx context.Context, p *notification.Preference) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal preference: %w", err)
	}
	return r.Set(ctx, preferenceKey(p.UserID, p.Category), data, preferenceCacheTTL).Err()
}

// GetPreference retrieves a cached preference row. A cache miss returns
// (nil, nil); callers fall through to the database.
func (r *RedisClient) GetPreference(ctx context.Context, userID, category string) (*notification.Preference, error) {
	data, err := r.Get(ctx, preferenceKey(userID, category)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p notification.Preference
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached preference: %w", err)
	}
	return &p, nil
}

// InvalidatePreference drops the cached rows for a user after a write.
func (r *RedisClient) InvalidatePreference(ctx context.Context, userID, category string) error {
	return r.Del(ctx, preferenceKey(userID, category)).Err()
}

// PublishInApp publishes a notification payload to the recipient's pub/sub
// channel so connected clients receive it in real time.
func (r *RedisClient) PublishInApp(ctx context.Context, userID string, payload []byte) error {
	channel := fmt.Sprintf("notifications:user:%s", userID)
	return r.Publish(ctx, channel, payload).Err()
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.Client.Close()
}
