// Package frontier implements claim semantics over the URL frontier:
// atomic "try to claim this URL" operations that prevent two workers from
// scheduling the same page, with permutation-based deduplication and
// link-limit enforcement.
package frontier

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/crawlplane/crawlplane/internal/crawl"
	"github.com/crawlplane/crawlplane/internal/metrics"
	"github.com/crawlplane/crawlplane/internal/store"
	"github.com/crawlplane/crawlplane/internal/urlutil"
)

// Frontier coordinates URL claims for all crawls through the shared store.
type Frontier struct {
	store store.CoordinationStore
}

// New creates a Frontier over the given store.
func New(s store.CoordinationStore) *Frontier {
	return &Frontier{store: s}
}

// claimKey maps a URL to the member stored in the visited set. With
// similar-URL dedup enabled only the canonical representative of the
// URL's permutation class is stored, so claiming any member of the class
// blocks every other member.
func claimKey(normalised string, policy *crawl.CrawlerPolicy) string {
	if policy != nil && policy.DedupSimilarURLs {
		return urlutil.Representative(normalised)
	}
	return normalised
}

func stripQuery(policy *crawl.CrawlerPolicy) bool {
	return policy != nil && policy.IgnoreQueryParams
}

// TryClaim attempts to claim a single URL for a crawl. It returns true
// iff the caller now owns the URL and should schedule a fetch; false
// means someone else owns it, the URL is malformed, or the crawl's link
// limit is reached. Of any set of concurrent callers claiming the same
// URL (or, in dedup mode, members of one permutation class), exactly one
// wins.
func (f *Frontier) TryClaim(ctx context.Context, crawlID, rawURL string, policy *crawl.CrawlerPolicy) (bool, error) {
	normalised, err := urlutil.Normalise(rawURL, stripQuery(policy))
	if err != nil {
		log.Debug().Str("url", rawURL).Err(err).Msg("Refusing claim of unparseable URL")
		return false, nil
	}

	atLimit, err := f.atLimit(ctx, crawlID, policy, 1)
	if err != nil {
		return false, err
	}
	if atLimit {
		metrics.ClaimsOverLimit.Inc()
		return false, nil
	}

	added, err := f.store.SetAdd(ctx, crawl.KeyVisited(crawlID), claimKey(normalised, policy))
	if err != nil {
		return false, fmt.Errorf("failed to claim URL: %w", err)
	}
	if added == 0 {
		metrics.ClaimsLost.Inc()
		return false, nil
	}

	if err := f.recordUnique(ctx, crawlID, normalised); err != nil {
		return false, err
	}
	metrics.ClaimsWon.Inc()
	return true, nil
}

// TryClaimBatch claims many URLs in one pass, for callers such as sitemap
// ingestion that have already pre-filtered against the link limit. It
// returns true iff every URL in the batch was newly claimed.
func (f *Frontier) TryClaimBatch(ctx context.Context, crawlID string, rawURLs []string, policy *crawl.CrawlerPolicy) (bool, error) {
	won, err := f.ClaimAll(ctx, crawlID, rawURLs, policy)
	if err != nil {
		return false, err
	}
	return len(won) == len(rawURLs), nil
}

// ClaimAll claims many URLs in one pass and returns the subset that was
// newly admitted, in input order. Callers schedule fetches only for the
// returned URLs.
func (f *Frontier) ClaimAll(ctx context.Context, crawlID string, rawURLs []string, policy *crawl.CrawlerPolicy) ([]string, error) {
	if len(rawURLs) == 0 {
		return nil, nil
	}

	// Claims are made per key so we know exactly which URLs were newly
	// admitted: only those may be recorded in the unique-visited set.
	won := make([]string, 0, len(rawURLs))
	uniques := make([]string, 0, len(rawURLs))
	for _, raw := range rawURLs {
		normalised, err := urlutil.Normalise(raw, stripQuery(policy))
		if err != nil {
			log.Debug().Str("url", raw).Err(err).Msg("Skipping unparseable URL in batch claim")
			continue
		}
		added, err := f.store.SetAdd(ctx, crawl.KeyVisited(crawlID), claimKey(normalised, policy))
		if err != nil {
			return nil, fmt.Errorf("failed to batch-claim URLs: %w", err)
		}
		if added > 0 {
			won = append(won, raw)
			uniques = append(uniques, normalised)
			metrics.ClaimsWon.Inc()
		} else {
			metrics.ClaimsLost.Inc()
		}
	}

	if err := f.recordUnique(ctx, crawlID, uniques...); err != nil {
		return nil, err
	}

	return won, nil
}

// recordUnique adds claimed URLs to the unique-visited structure used for
// limit accounting, and refreshes TTLs on both frontier sets.
func (f *Frontier) recordUnique(ctx context.Context, crawlID string, normalised ...string) error {
	if len(normalised) > 0 {
		if _, err := f.store.SetAdd(ctx, crawl.KeyVisitedUnique(crawlID), normalised...); err != nil {
			return fmt.Errorf("failed to record unique visit: %w", err)
		}
	}
	for _, key := range []string{crawl.KeyVisited(crawlID), crawl.KeyVisitedUnique(crawlID)} {
		if err := f.store.Expire(ctx, key, crawl.RecordTTL); err != nil {
			return fmt.Errorf("failed to refresh frontier TTL: %w", err)
		}
	}
	return nil
}

// atLimit reports whether admitting extra more URLs would exceed the
// crawl's link limit.
func (f *Frontier) atLimit(ctx context.Context, crawlID string, policy *crawl.CrawlerPolicy, extra int64) (bool, error) {
	if policy == nil || policy.Limit <= 0 {
		return false, nil
	}
	unique, err := f.store.SetCard(ctx, crawl.KeyVisitedUnique(crawlID))
	if err != nil {
		return false, fmt.Errorf("failed to count unique visits: %w", err)
	}
	return unique+extra > int64(policy.Limit), nil
}

// RemainingCapacity returns how many more distinct pages the crawl may
// claim, or -1 for unlimited.
func (f *Frontier) RemainingCapacity(ctx context.Context, crawlID string, policy *crawl.CrawlerPolicy) (int64, error) {
	if policy == nil || policy.Limit <= 0 {
		return -1, nil
	}
	unique, err := f.store.SetCard(ctx, crawl.KeyVisitedUnique(crawlID))
	if err != nil {
		return 0, fmt.Errorf("failed to count unique visits: %w", err)
	}
	remaining := int64(policy.Limit) - unique
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// IsVisited reports whether a URL (or its permutation class, in dedup
// mode) has already been claimed.
func (f *Frontier) IsVisited(ctx context.Context, crawlID, rawURL string, policy *crawl.CrawlerPolicy) (bool, error) {
	normalised, err := urlutil.Normalise(rawURL, stripQuery(policy))
	if err != nil {
		return false, nil
	}
	return f.store.SetIsMember(ctx, crawl.KeyVisited(crawlID), claimKey(normalised, policy))
}

// VisitedCount returns how many claim keys exist, counting every
// permutation-class representative and raw claim alike.
func (f *Frontier) VisitedCount(ctx context.Context, crawlID string) (int64, error) {
	return f.store.SetCard(ctx, crawl.KeyVisited(crawlID))
}

// UniqueCount returns how many logically distinct pages have been claimed.
func (f *Frontier) UniqueCount(ctx context.Context, crawlID string) (int64, error) {
	return f.store.SetCard(ctx, crawl.KeyVisitedUnique(crawlID))
}

// VisitedURLs returns the claimed key space, used by the completion
// reconciler to diff against historical URLs.
func (f *Frontier) VisitedURLs(ctx context.Context, crawlID string) ([]string, error) {
	return f.store.SetMembers(ctx, crawl.KeyVisited(crawlID))
}
