package frontier

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlplane/crawlplane/internal/crawl"
	"github.com/crawlplane/crawlplane/internal/store"
)

func TestTryClaimExclusivity(t *testing.T) {
	f := New(store.NewMemoryStore())
	ctx := context.Background()
	policy := &crawl.CrawlerPolicy{Limit: 100}

	won, err := f.TryClaim(ctx, "c", "https://example.com/page", policy)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = f.TryClaim(ctx, "c", "https://example.com/page", policy)
	require.NoError(t, err)
	assert.False(t, won, "second claim of the same URL must lose")

	// A different URL is independent.
	won, err = f.TryClaim(ctx, "c", "https://example.com/other", policy)
	require.NoError(t, err)
	assert.True(t, won)

	// Same URL under a different crawl id is independent too.
	won, err = f.TryClaim(ctx, "c2", "https://example.com/page", policy)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestTryClaimConcurrent(t *testing.T) {
	f := New(store.NewMemoryStore())
	ctx := context.Background()
	policy := &crawl.CrawlerPolicy{Limit: 100}

	const racers = 32
	var wg sync.WaitGroup
	winners := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := f.TryClaim(ctx, "c", "https://example.com/contended", policy)
			if err != nil {
				t.Error(err)
				return
			}
			if won {
				winners <- true
			}
		}()
	}
	wg.Wait()
	close(winners)

	assert.Equal(t, 1, len(winners), "exactly one concurrent claim may win")
}

func TestTryClaimDedupMode(t *testing.T) {
	f := New(store.NewMemoryStore())
	ctx := context.Background()
	policy := &crawl.CrawlerPolicy{Limit: 10, DedupSimilarURLs: true}

	// All three are permutations of one canonical page: only the first
	// claim wins, and the unique count is 1.
	variants := []string{
		"https://example.com/",
		"https://www.example.com/",
		"http://example.com/index.html",
	}
	var wins int
	for _, v := range variants {
		won, err := f.TryClaim(ctx, "c", v, policy)
		require.NoError(t, err)
		if won {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	unique, err := f.UniqueCount(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unique)
}

func TestTryClaimWithoutDedup(t *testing.T) {
	f := New(store.NewMemoryStore())
	ctx := context.Background()
	policy := &crawl.CrawlerPolicy{Limit: 10}

	won, err := f.TryClaim(ctx, "c", "https://example.com/", policy)
	require.NoError(t, err)
	assert.True(t, won)

	// Without dedup the www variant is a distinct URL.
	won, err = f.TryClaim(ctx, "c", "https://www.example.com/", policy)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestLimitInvariant(t *testing.T) {
	f := New(store.NewMemoryStore())
	ctx := context.Background()
	policy := &crawl.CrawlerPolicy{Limit: 3}

	var wins int
	for i := 0; i < 10; i++ {
		won, err := f.TryClaim(ctx, "c", fmt.Sprintf("https://example.com/p%d", i), policy)
		require.NoError(t, err)
		if won {
			wins++
		}
	}
	assert.Equal(t, 3, wins)

	unique, err := f.UniqueCount(ctx, "c")
	require.NoError(t, err)
	assert.LessOrEqual(t, unique, int64(policy.Limit))

	remaining, err := f.RemainingCapacity(ctx, "c", policy)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)
}

func TestTryClaimRejectsMalformed(t *testing.T) {
	f := New(store.NewMemoryStore())
	won, err := f.TryClaim(context.Background(), "c", "not a url", &crawl.CrawlerPolicy{Limit: 5})
	require.NoError(t, err)
	assert.False(t, won)
}

func TestTryClaimBatch(t *testing.T) {
	f := New(store.NewMemoryStore())
	ctx := context.Background()
	policy := &crawl.CrawlerPolicy{Limit: 100}

	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}
	allNew, err := f.TryClaimBatch(ctx, "c", urls, policy)
	require.NoError(t, err)
	assert.True(t, allNew)

	// Re-claiming a batch that overlaps is not all-new.
	allNew, err = f.TryClaimBatch(ctx, "c", []string{"https://example.com/c", "https://example.com/d"}, policy)
	require.NoError(t, err)
	assert.False(t, allNew)

	unique, err := f.UniqueCount(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(4), unique)

	visited, err := f.IsVisited(ctx, "c", "https://example.com/d", policy)
	require.NoError(t, err)
	assert.True(t, visited)
}

func TestBatchDedupCountsOneUniquePerClass(t *testing.T) {
	f := New(store.NewMemoryStore())
	ctx := context.Background()
	policy := &crawl.CrawlerPolicy{Limit: 100, DedupSimilarURLs: true}

	_, err := f.TryClaimBatch(ctx, "c", []string{
		"https://example.com/page",
		"https://www.example.com/page",
		"http://example.com/page/",
	}, policy)
	require.NoError(t, err)

	unique, err := f.UniqueCount(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unique)
}

func TestQueryStripping(t *testing.T) {
	f := New(store.NewMemoryStore())
	ctx := context.Background()
	policy := &crawl.CrawlerPolicy{Limit: 10, IgnoreQueryParams: true}

	won, err := f.TryClaim(ctx, "c", "https://example.com/page?utm=1", policy)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = f.TryClaim(ctx, "c", "https://example.com/page?utm=2", policy)
	require.NoError(t, err)
	assert.False(t, won, "query variants collapse when queries are ignored")
}
