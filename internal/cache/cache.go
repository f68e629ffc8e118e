package cache

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding/decoding
	"errors"        // Error matching
	"time"          // Time durations

	"github.com/redis/go-redis/v9" // Redis client
)

// KV is the subset of the Redis client used for caching. *redis.Client satisfies it.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// GetJSON retrieves a value from Redis and unmarshals it into dest
func GetJSON(ctx context.Context, kv KV, key string, dest any) (bool, error) {
	val, err := kv.Get(ctx, key).Result() // Get value from Redis
	if errors.Is(err, redis.Nil) {
		return false, nil // Key does not exist
	} else if err != nil {
		return false, err // Other Redis error
	}
	return true, json.Unmarshal([]byte(val), dest) // Unmarshal JSON into dest
}

// SetJSON stores a value in Redis as JSON with a TTL
func SetJSON(ctx context.Context, kv KV, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value) // Marshal value to JSON
	if err != nil {
		return err // Return error if marshaling fails
	}
	return kv.Set(ctx, key, b, ttl).Err() // Set value in Redis with TTL
}

// Delete removes keys from Redis
func Delete(ctx context.Context, kv KV, keys ...string) error {
	return kv.Del(ctx, keys...).Err() // Delete keys from Redis
}
