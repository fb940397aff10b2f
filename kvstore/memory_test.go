package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreStrings(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", "v"))
	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	require.NoError(t, store.SetWithTTL(ctx, "short", "v", 10*time.Second))

	val, err := store.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	// Advance past the TTL
	now = now.Add(11 * time.Second)
	_, err = store.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreIncr(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	n, err := store.Incr(ctx, "counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Incr(ctx, "counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestMemoryStoreListFIFO(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// LPUSH head + RPOP tail gives FIFO order
	require.NoError(t, store.LPush(ctx, "q", "a"))
	require.NoError(t, store.LPush(ctx, "q", "b"))
	require.NoError(t, store.LPush(ctx, "q", "c"))

	n, err := store.LLen(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, want := range []string{"a", "b", "c"} {
		got, err := store.RPop(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = store.RPop(ctx, "q")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMemoryStoreRPopLPush(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.LPush(ctx, "waiting", "k1"))
	require.NoError(t, store.LPush(ctx, "waiting", "k2"))

	val, err := store.RPopLPush(ctx, "waiting", "flight")
	require.NoError(t, err)
	assert.Equal(t, "k1", val)

	flight, err := store.LRange(ctx, "flight", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, flight)

	waiting, err := store.LLen(ctx, "waiting")
	require.NoError(t, err)
	assert.Equal(t, int64(1), waiting)

	_, err = store.RPopLPush(ctx, "does-not-exist", "flight")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMemoryStoreLRem(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.LPush(ctx, "l", "x", "y", "x"))
	removed, err := store.LRem(ctx, "l", 0, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	rest, err := store.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, rest)
}

func TestMemoryStoreSets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.SAdd(ctx, "s", "a", "b"))
	require.NoError(t, store.SAdd(ctx, "s", "b", "c"))

	n, err := store.SCard(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	ok, err := store.SIsMember(ctx, "s", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	members, err := store.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	removed, err := store.SRem(ctx, "s", "a", "z")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// SPop drains the set one arbitrary member at a time
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		m, err := store.SPop(ctx, "s")
		require.NoError(t, err)
		seen[m] = true
	}
	assert.Len(t, seen, 2)

	_, err = store.SPop(ctx, "s")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMemoryStoreSortedSets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.ZAdd(ctx, "z",
		ScoredMember{Member: "late", Score: 300},
		ScoredMember{Member: "early", Score: 100},
		ScoredMember{Member: "mid", Score: 200},
	))

	members, err := store.ZRange(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "mid", "late"}, members)

	head, err := store.ZRangeWithScores(ctx, "z", 0, 0)
	require.NoError(t, err)
	require.Len(t, head, 1)
	assert.Equal(t, "early", head[0].Member)
	assert.Equal(t, float64(100), head[0].Score)

	due, err := store.ZRangeByScore(ctx, "z", 0, 250)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "mid"}, due)

	score, err := store.ZScore(ctx, "z", "mid")
	require.NoError(t, err)
	assert.Equal(t, float64(200), score)

	require.NoError(t, store.ZRem(ctx, "z", "early"))
	n, err := store.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = store.ZScore(ctx, "z", "early")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreHashes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.HSet(ctx, "h", map[string]string{
		"message": "{}",
		"reason":  "timeout",
	}))

	val, err := store.HGet(ctx, "h", "reason")
	require.NoError(t, err)
	assert.Equal(t, "timeout", val)

	_, err = store.HGet(ctx, "h", "absent")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := store.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := store.HIncrBy(ctx, "h", "retries", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = store.HIncrBy(ctx, "h", "retries", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, store.HDel(ctx, "h", "reason"))
	_, err = store.HGet(ctx, "h", "reason")
	assert.ErrorIs(t, err, ErrNotFound)
}
