package kvstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store over a Redis connection using go-redis.
// Every key is namespaced with the configured prefix so multiple
// deployments can share one Redis instance.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// KeyPrefix namespaces every key written by this deployment
	KeyPrefix string `json:"key_prefix"`
}

// Validate checks the Redis configuration
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("redis: addr is required")
	}
	if c.KeyPrefix == "" {
		return errors.New("redis: key_prefix is required")
	}
	return nil
}

// NewRedisStore creates a Store backed by the given Redis server
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client, mainly for tests and
// for callers that manage their own connection pooling.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Ping verifies connectivity to the Redis server
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisStore) k(key string) string {
	return s.prefix + ":" + key
}

// Get retrieves a string value
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.k(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores a string value without expiry
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.k(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// SetWithTTL stores a string value that expires after ttl
func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.k(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis setex %s: %w", key, err)
	}
	return nil
}

// Delete removes a key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.k(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a key is present
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.k(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Expire sets a TTL on an existing key
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.k(key), ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// Incr atomically increments a counter
func (s *RedisStore) Incr(ctx context.Context, key string, amount int64) (int64, error) {
	val, err := s.client.IncrBy(ctx, s.k(key), amount).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incrby %s: %w", key, err)
	}
	return val, nil
}

// LPush prepends values to a list
func (s *RedisStore) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := s.client.LPush(ctx, s.k(key), args...).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", key, err)
	}
	return nil
}

// RPop pops the tail of a list
func (s *RedisStore) RPop(ctx context.Context, key string) (string, error) {
	val, err := s.client.RPop(ctx, s.k(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("redis rpop %s: %w", key, err)
	}
	return val, nil
}

// RPopLPush atomically moves the tail of source to the head of destination
func (s *RedisStore) RPopLPush(ctx context.Context, source, destination string) (string, error) {
	val, err := s.client.RPopLPush(ctx, s.k(source), s.k(destination)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("redis rpoplpush %s -> %s: %w", source, destination, err)
	}
	return val, nil
}

// LRange returns a slice of the list
func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.client.LRange(ctx, s.k(key), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	return vals, nil
}

// LLen returns the length of a list
func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, s.k(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen %s: %w", key, err)
	}
	return n, nil
}

// LRem removes occurrences of value from a list
func (s *RedisStore) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	n, err := s.client.LRem(ctx, s.k(key), count, value).Result()
	if err != nil {
		return 0, fmt.Errorf("redis lrem %s: %w", key, err)
	}
	return n, nil
}

// SAdd adds members to a set
func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SAdd(ctx, s.k(key), args...).Err(); err != nil {
		return fmt.Errorf("redis sadd %s: %w", key, err)
	}
	return nil
}

// SRem removes members from a set, returning how many were removed
func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := s.client.SRem(ctx, s.k(key), args...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis srem %s: %w", key, err)
	}
	return n, nil
}

// SMembers returns all members of a set
func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.k(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", key, err)
	}
	return members, nil
}

// SCard returns the cardinality of a set
func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, s.k(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard %s: %w", key, err)
	}
	return n, nil
}

// SPop removes and returns an arbitrary member of a set
func (s *RedisStore) SPop(ctx context.Context, key string) (string, error) {
	val, err := s.client.SPop(ctx, s.k(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("redis spop %s: %w", key, err)
	}
	return val, nil
}

// SIsMember reports set membership
func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.k(key), member).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember %s: %w", key, err)
	}
	return ok, nil
}

// ZAdd adds scored members to a sorted set
func (s *RedisStore) ZAdd(ctx context.Context, key string, members ...ScoredMember) error {
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	if err := s.client.ZAdd(ctx, s.k(key), zs...).Err(); err != nil {
		return fmt.Errorf("redis zadd %s: %w", key, err)
	}
	return nil
}

// ZRange returns members by rank, ascending by score
func (s *RedisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := s.client.ZRange(ctx, s.k(key), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange %s: %w", key, err)
	}
	return members, nil
}

// ZRangeWithScores returns members and scores by rank
func (s *RedisStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.k(key), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange %s: %w", key, err)
	}
	members := make([]ScoredMember, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		members[i] = ScoredMember{Member: member, Score: z.Score}
	}
	return members, nil
}

// ZRangeByScore returns members with scores in [min, max]
func (s *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	members, err := s.client.ZRangeByScore(ctx, s.k(key), &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore %s: %w", key, err)
	}
	return members, nil
}

// ZRem removes members from a sorted set
func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.ZRem(ctx, s.k(key), args...).Err(); err != nil {
		return fmt.Errorf("redis zrem %s: %w", key, err)
	}
	return nil
}

// ZScore returns the score of a member
func (s *RedisStore) ZScore(ctx context.Context, key, member string) (float64, error) {
	score, err := s.client.ZScore(ctx, s.k(key), member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis zscore %s: %w", key, err)
	}
	return score, nil
}

// ZCard returns the cardinality of a sorted set
func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, s.k(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard %s: %w", key, err)
	}
	return n, nil
}

// HSet sets hash fields
func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	if err := s.client.HSet(ctx, s.k(key), args...).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

// HGet retrieves a single hash field
func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := s.client.HGet(ctx, s.k(key), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis hget %s.%s: %w", key, field, err)
	}
	return val, nil
}

// HGetAll retrieves all fields of a hash
func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, s.k(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	return fields, nil
}

// HIncrBy atomically increments a hash field
func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, amount int64) (int64, error) {
	val, err := s.client.HIncrBy(ctx, s.k(key), field, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hincrby %s.%s: %w", key, field, err)
	}
	return val, nil
}

// HDel removes hash fields
func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if err := s.client.HDel(ctx, s.k(key), fields...).Err(); err != nil {
		return fmt.Errorf("redis hdel %s: %w", key, err)
	}
	return nil
}

// Close releases the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func formatScore(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// Interface guard
var _ Store = (*RedisStore)(nil)
