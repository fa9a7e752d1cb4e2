package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAddReturnsNewlyAddedCount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	added, err := s.SetAdd(ctx, "k", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), added)

	added, err = s.SetAdd(ctx, "k", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), added)

	card, err := s.SetCard(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), card)
}

func TestSetNXSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	won, err := s.SetNX(ctx, "gate", "1", 0)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.SetNX(ctx, "gate", "1", 0)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, s.Delete(ctx, "gate"))

	won, err = s.SetNX(ctx, "gate", "1", 0)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestTTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	// Expire refreshes an existing key's TTL.
	now = time.Now()
	_, err = s.SetAdd(ctx, "set", "a")
	require.NoError(t, err)
	require.NoError(t, s.Expire(ctx, "set", time.Minute))

	now = now.Add(30 * time.Second)
	require.NoError(t, s.Expire(ctx, "set", time.Minute))

	now = now.Add(45 * time.Second)
	card, err := s.SetCard(ctx, "set")
	require.NoError(t, err)
	assert.Equal(t, int64(1), card, "TTL refresh should have kept the set alive")
}

func TestSortedAddKeepsOriginalScore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SortedAdd(ctx, "z", "a", 10))
	require.NoError(t, s.SortedAdd(ctx, "z", "b", 20))

	// A retried add must not re-score the member.
	require.NoError(t, s.SortedAdd(ctx, "z", "a", 30))

	all, err := s.SortedRange(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, all)
}

func TestSortedRangeOrdersByScore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SortedAdd(ctx, "z", "third", 30))
	require.NoError(t, s.SortedAdd(ctx, "z", "first", 10))
	require.NoError(t, s.SortedAdd(ctx, "z", "second", 20))

	all, err := s.SortedRange(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, all)

	head, err := s.SortedRange(ctx, "z", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, head)

	tail, err := s.SortedRange(ctx, "z", 1, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "third"}, tail)

	empty, err := s.SortedRange(ctx, "z", 5, 9)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetMissingKey(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
