package kvstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process use.
// It mirrors Redis semantics closely enough for the core: per-call atomicity
// (one mutex), lazy TTL expiry, and sorted sets ordered by (score, member).
type MemoryStore struct {
	mu      sync.Mutex
	strings map[string]string
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	hashes  map[string]map[string]string
	expiry  map[string]time.Time

	// now is swappable so expiry behaviour can be tested deterministically
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		lists:   make(map[string][]string),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string]map[string]float64),
		hashes:  make(map[string]map[string]string),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock replaces the store's time source. Test helper.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// reap removes a key from every keyspace if its TTL has lapsed.
// Callers must hold the mutex.
func (s *MemoryStore) reap(key string) {
	deadline, ok := s.expiry[key]
	if !ok || s.now().Before(deadline) {
		return
	}
	delete(s.expiry, key)
	delete(s.strings, key)
	delete(s.lists, key)
	delete(s.sets, key)
	delete(s.zsets, key)
	delete(s.hashes, key)
}

// Get retrieves a string value
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reap(key)
	val, ok := s.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

// Set stores a string value without expiry
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	delete(s.expiry, key)
	return nil
}

// SetWithTTL stores a string value that expires after ttl
func (s *MemoryStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	s.expiry[key] = s.now().Add(ttl)
	return nil
}

// Delete removes a key from every keyspace
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strings, key)
	delete(s.lists, key)
	delete(s.sets, key)
	delete(s.zsets, key)
	delete(s.hashes, key)
	delete(s.expiry, key)
	return nil
}

// Exists reports whether a key is present in any keyspace
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reap(key)
	if _, ok := s.strings[key]; ok {
		return true, nil
	}
	if _, ok := s.lists[key]; ok {
		return true, nil
	}
	if _, ok := s.sets[key]; ok {
		return true, nil
	}
	if _, ok := s.zsets[key]; ok {
		return true, nil
	}
	if _, ok := s.hashes[key]; ok {
		return true, nil
	}
	return false, nil
}

// Expire sets a TTL on an existing key
func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiry[key] = s.now().Add(ttl)
	return nil
}

// Incr atomically increments a counter stored as a string
func (s *MemoryStore) Incr(_ context.Context, key string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reap(key)
	current, _ := strconv.ParseInt(s.strings[key], 10, 64)
	current += amount
	s.strings[key] = strconv.FormatInt(current, 10)
	return current, nil
}

// LPush prepends values to a list
func (s *MemoryStore) LPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	// LPUSH pushes each value onto the head in argument order
	for _, v := range values {
		list = append([]string{v}, list...)
	}
	s.lists[key] = list
	return nil
}

// RPop pops the tail of a list
func (s *MemoryStore) RPop(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpopLocked(key)
}

func (s *MemoryStore) rpopLocked(key string) (string, error) {
	list := s.lists[key]
	if len(list) == 0 {
		return "", ErrEmpty
	}
	val := list[len(list)-1]
	list = list[:len(list)-1]
	if len(list) == 0 {
		delete(s.lists, key)
	} else {
		s.lists[key] = list
	}
	return val, nil
}

// RPopLPush atomically moves the tail of source to the head of destination
func (s *MemoryStore) RPopLPush(_ context.Context, source, destination string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, err := s.rpopLocked(source)
	if err != nil {
		return "", err
	}
	s.lists[destination] = append([]string{val}, s.lists[destination]...)
	return val, nil
}

// LRange returns a slice of the list using Redis index semantics
func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

// LLen returns the length of a list
func (s *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

// LRem removes occurrences of value from a list. Only count >= 0 is
// supported, matching how the core uses it.
func (s *MemoryStore) LRem(_ context.Context, key string, count int64, value string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	removed := int64(0)
	out := list[:0]
	for _, v := range list {
		if v == value && (count == 0 || removed < count) {
			removed++
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		delete(s.lists, key)
	} else {
		s.lists[key] = out
	}
	return removed, nil
}

// SAdd adds members to a set
func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	if set == nil {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

// SRem removes members from a set
func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	removed := int64(0)
	for _, m := range members {
		if _, ok := set[m]; ok {
			delete(set, m)
			removed++
		}
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return removed, nil
}

// SMembers returns all members of a set in unspecified order
func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

// SCard returns the cardinality of a set
func (s *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

// SPop removes and returns an arbitrary member of a set
func (s *MemoryStore) SPop(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	for m := range set {
		delete(set, m)
		if len(set) == 0 {
			delete(s.sets, key)
		}
		return m, nil
	}
	return "", ErrEmpty
}

// SIsMember reports set membership
func (s *MemoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[key][member]
	return ok, nil
}

// ZAdd adds scored members to a sorted set
func (s *MemoryStore) ZAdd(_ context.Context, key string, members ...ScoredMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	zset := s.zsets[key]
	if zset == nil {
		zset = make(map[string]float64)
		s.zsets[key] = zset
	}
	for _, m := range members {
		zset[m.Member] = m.Score
	}
	return nil
}

// sortedLocked returns the zset members ordered by (score, member)
func (s *MemoryStore) sortedLocked(key string) []ScoredMember {
	zset := s.zsets[key]
	members := make([]ScoredMember, 0, len(zset))
	for m, score := range zset {
		members = append(members, ScoredMember{Member: m, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})
	return members
}

// ZRange returns members by rank, ascending by score
func (s *MemoryStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	withScores, err := s.ZRangeWithScores(ctx, key, start, stop)
	if err != nil {
		return nil, err
	}
	members := make([]string, len(withScores))
	for i, m := range withScores {
		members[i] = m.Member
	}
	return members, nil
}

// ZRangeWithScores returns members and scores by rank
func (s *MemoryStore) ZRangeWithScores(_ context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := s.sortedLocked(key)
	n := int64(len(sorted))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return []ScoredMember{}, nil
	}
	return sorted[start : stop+1], nil
}

// ZRangeByScore returns members with scores in [min, max]
func (s *MemoryStore) ZRangeByScore(_ context.Context, key string, min, max float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var members []string
	for _, m := range s.sortedLocked(key) {
		if m.Score >= min && m.Score <= max {
			members = append(members, m.Member)
		}
	}
	return members, nil
}

// ZRem removes members from a sorted set
func (s *MemoryStore) ZRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	zset := s.zsets[key]
	for _, m := range members {
		delete(zset, m)
	}
	if len(zset) == 0 {
		delete(s.zsets, key)
	}
	return nil
}

// ZScore returns the score of a member
func (s *MemoryStore) ZScore(_ context.Context, key, member string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.zsets[key][member]
	if !ok {
		return 0, ErrNotFound
	}
	return score, nil
}

// ZCard returns the cardinality of a sorted set
func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[key])), nil
}

// HSet sets hash fields
func (s *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := s.hashes[key]
	if hash == nil {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	for f, v := range fields {
		hash[f] = v
	}
	return nil
}

// HGet retrieves a single hash field
func (s *MemoryStore) HGet(_ context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reap(key)
	val, ok := s.hashes[key][field]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

// HGetAll retrieves all fields of a hash
func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reap(key)
	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out, nil
}

// HIncrBy atomically increments a hash field
func (s *MemoryStore) HIncrBy(_ context.Context, key, field string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := s.hashes[key]
	if hash == nil {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	current, _ := strconv.ParseInt(hash[field], 10, 64)
	current += amount
	hash[field] = strconv.FormatInt(current, 10)
	return current, nil
}

// HDel removes hash fields
func (s *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := s.hashes[key]
	for _, f := range fields {
		delete(hash, f)
	}
	if len(hash) == 0 {
		delete(s.hashes, key)
	}
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

// Interface guard
var _ Store = (*MemoryStore)(nil)
