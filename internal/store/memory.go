package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process CoordinationStore for tests and embedded
// single-process use. It mirrors the Redis semantics the core depends on,
// including per-key TTLs with lazy expiry.
type MemoryStore struct {
	mu      sync.Mutex
	sets    map[string]map[string]struct{}
	sorted  map[string]map[string]float64
	strings map[string]string
	expiry  map[string]time.Time

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sets:    make(map[string]map[string]struct{}),
		sorted:  make(map[string]map[string]float64),
		strings: make(map[string]string),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// expireLocked drops a key in any keyspace if its TTL has lapsed.
func (s *MemoryStore) expireLocked(key string) {
	deadline, ok := s.expiry[key]
	if !ok || s.now().Before(deadline) {
		return
	}
	delete(s.sets, key)
	delete(s.sorted, key)
	delete(s.strings, key)
	delete(s.expiry, key)
}

func (s *MemoryStore) setTTLLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		s.expiry[key] = s.now().Add(ttl)
	} else {
		delete(s.expiry, key)
	}
}

func (s *MemoryStore) SetAdd(ctx context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	var added int64
	for _, m := range members {
		if _, exists := set[m]; !exists {
			set[m] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (s *MemoryStore) SetRemove(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	for _, m := range members {
		delete(s.sets[key], m)
	}
	return nil
}

func (s *MemoryStore) SetCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	return int64(len(s.sets[key])), nil
}

func (s *MemoryStore) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	_, ok := s.sets[key][member]
	return ok, nil
}

func (s *MemoryStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func (s *MemoryStore) SortedAdd(ctx context.Context, key string, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	zset, ok := s.sorted[key]
	if !ok {
		zset = make(map[string]float64)
		s.sorted[key] = zset
	}
	// Add-if-absent: a retried append keeps the original score.
	if _, exists := zset[member]; !exists {
		zset[member] = score
	}
	return nil
}

func (s *MemoryStore) SortedRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	zset := s.sorted[key]
	members := make([]ScoredMember, 0, len(zset))
	for m, sc := range zset {
		members = append(members, ScoredMember{Member: m, Score: sc})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})

	n := int64(len(members))
	if start < 0 {
		start = n + start
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop = n + stop
	}
	if start >= n || stop < start {
		return []string{}, nil
	}
	if stop >= n {
		stop = n - 1
	}

	out := make([]string, 0, stop-start+1)
	for _, m := range members[start : stop+1] {
		out = append(out, m.Member)
	}
	return out, nil
}

func (s *MemoryStore) SortedCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	return int64(len(s.sorted[key])), nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	v, ok := s.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	s.setTTLLocked(key, ttl)
	return nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	if _, exists := s.strings[key]; exists {
		return false, nil
	}
	s.strings[key] = value
	s.setTTLLocked(key, ttl)
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.sets, key)
		delete(s.sorted, key)
		delete(s.strings, key)
		delete(s.expiry, key)
	}
	return nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	s.setTTLLocked(key, ttl)
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)

	if _, ok := s.strings[key]; ok {
		return true, nil
	}
	if set, ok := s.sets[key]; ok && len(set) > 0 {
		return true, nil
	}
	if zset, ok := s.sorted[key]; ok && len(zset) > 0 {
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
