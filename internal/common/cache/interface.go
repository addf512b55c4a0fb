package cache

import (
	"context"
	"time"
)

// Cache defines the unified interface for cache operations.
// Business code depends on this interface so tests can run against miniredis
// or a hand-written fake instead of a live server.
type Cache interface {
	BasicOps
	HashOps
	ZSetOps
	ScriptOps
	PubSubOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key
	// Returns "" and a nil error when the key does not exist
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist (atomic operation)
	// Returns true if the key was set, false if it already existed
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists checks if one or more keys exist
	// Returns the number of keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)
}

// HashOps defines hash (map) operations
type HashOps interface {
	// HSet sets field in the hash stored at key to value
	HSet(ctx context.Context, key, field string, value interface{}) error

	// HGetAll returns all fields and values of the hash stored at key
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// ZSetOps defines sorted set operations
type ZSetOps interface {
	// ZIncrBy increments the score of a member in a sorted set
	ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error)

	// ZRevRangeWithScores returns members with scores in descending order
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)
}

// ScriptOps runs server-side scripts so multi-key updates apply atomically.
type ScriptOps interface {
	// Eval runs a Lua script, preferring EVALSHA and falling back to EVAL
	Eval(ctx context.Context, script *Script, keys []string, args ...interface{}) (interface{}, error)
}

// PubSubOps defines publish/subscribe operations
type PubSubOps interface {
	// Publish posts a message to a channel
	// Returns the number of subscribers that received it
	Publish(ctx context.Context, channel string, message interface{}) (int64, error)

	// Subscribe listens on the given channels until the subscription is closed
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// Subscription delivers channel messages until Close is called.
type Subscription interface {
	// Messages returns the delivery channel; it is closed after Close
	Messages() <-chan PubSubMessage

	// Close releases the underlying connection
	Close() error
}

// PubSubMessage is one payload received on a channel.
type PubSubMessage struct {
	Channel string
	Payload string
}

// ZMember represents a member in a sorted set with its score
type ZMember struct {
	Score  float64
	Member string
}
