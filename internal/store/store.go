// Package store provides the shared coordination store that holds all
// authoritative crawl state. No other package keeps state in memory;
// mutual exclusion between workers is expressed entirely as atomic
// operations against this store.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a string key does not exist.
var ErrNotFound = errors.New("store: key not found")

// ScoredMember is a member of a sorted set together with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// CoordinationStore is the contract between the crawl core and the shared
// key-value store. The Redis implementation is the production one; an
// in-memory implementation backs tests and embedded single-process use.
//
// Semantics the core relies on:
//   - SetAdd returns the number of members that were newly added, which is
//     how claim exclusivity is decided under concurrency.
//   - SetNX is a single-winner gate: exactly one concurrent caller gets true.
//   - A zero ttl means "no expiry" wherever a ttl is accepted.
type CoordinationStore interface {
	// Set operations.
	SetAdd(ctx context.Context, key string, members ...string) (int64, error)
	SetRemove(ctx context.Context, key string, members ...string) error
	SetCard(ctx context.Context, key string) (int64, error)
	SetIsMember(ctx context.Context, key, member string) (bool, error)
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Sorted-set operations. SortedAdd is add-if-absent (ZADD NX): an
	// existing member keeps its original score, so retried appends never
	// reorder the sequence.
	SortedAdd(ctx context.Context, key string, member string, score float64) error
	SortedRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	SortedCard(ctx context.Context, key string) (int64, error)

	// String operations.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Key management.
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)

	Ping(ctx context.Context) error
}
