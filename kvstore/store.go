package kvstore

import (
	"context"
	"errors"
	"time"
)

// Well-known store errors
var (
	// ErrNotFound indicates the key (or member) does not exist
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrEmpty indicates a pop operation found nothing to pop
	ErrEmpty = errors.New("kvstore: empty")
)

// ScoredMember pairs a sorted-set member with its score
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is the durable key-value contract consumed by the messaging core.
// All operations are atomic per call.
type Store interface {
	// String operations
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string, amount int64) (int64, error)

	// List operations
	LPush(ctx context.Context, key string, values ...string) error
	RPop(ctx context.Context, key string) (string, error)
	RPopLPush(ctx context.Context, source, destination string) (string, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	LRem(ctx context.Context, key string, count int64, value string) (int64, error)

	// Set operations
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)
	SPop(ctx context.Context, key string) (string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Sorted-set operations
	ZAdd(ctx context.Context, key string, members ...ScoredMember) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
	ZScore(ctx context.Context, key, member string) (float64, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// Hash operations
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, amount int64) (int64, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// Close releases the underlying connection
	Close() error
}
