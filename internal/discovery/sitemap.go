package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crawlplane/crawlplane/internal/crawl"
	"github.com/crawlplane/crawlplane/internal/metrics"
	"github.com/crawlplane/crawlplane/internal/urlutil"
)

const (
	// maxSitemapsPerCrawl bounds recursive sitemap traversal. Visited
	// sitemap URLs live in the store, so the cap holds across workers.
	maxSitemapsPerCrawl = 20

	// sitemapBatchSize is how many page URLs are claimed and emitted at
	// a time while a sitemap streams.
	sitemapBatchSize = 100

	sitemapFetchTimeout = 15 * time.Second
	maxSitemapBytes     = 10 << 20
)

type sitemapIndexXML struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type urlSetXML struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapLoc `xml:"url"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// EmitFunc receives newly claimed page URLs as a sitemap streams. The
// walk stops on the first emit error.
type EmitFunc func(ctx context.Context, urls []string) error

// sitemapWalk is the in-flight state of one traversal: the batch being
// accumulated, a per-traversal page dedup, and running totals. The
// cross-worker guards (visited sitemaps, URL claims) live in the store.
type sitemapWalk struct {
	rec    *crawl.Record
	filter *LinkFilter
	emit   EmitFunc

	seen    map[string]struct{}
	batch   []string
	denied  []crawl.DeniedURL
	pages   int
	claimed int
}

// DiscoverFromSitemaps traverses the origin's sitemaps, streaming page
// URLs through the policy filter and the frontier's batch claim, and
// handing each claimed batch to emit. It returns how many page URLs the
// sitemaps yielded (nested indexes are traversal structure, not pages)
// and the denial verdicts collected along the way.
func (e *Engine) DiscoverFromSitemaps(ctx context.Context, rec *crawl.Record, filter *LinkFilter, emit EmitFunc) (int, []crawl.DeniedURL, error) {
	declared, conventional := SitemapCandidates(rec.OriginURL, rec.RobotsTxt)
	roots := append(declared, e.probeSitemaps(ctx, conventional)...)
	if len(roots) == 0 {
		return 0, nil, nil
	}

	w := &sitemapWalk{
		rec:    rec,
		filter: filter,
		emit:   emit,
		seen:   make(map[string]struct{}),
	}
	for _, root := range roots {
		if err := e.walkSitemap(ctx, w, root); err != nil {
			return w.pages, w.denied, err
		}
	}
	if err := e.flushBatch(ctx, w); err != nil {
		return w.pages, w.denied, err
	}

	log.Info().
		Str("crawl_id", rec.ID).
		Int("pages", w.pages).
		Int("claimed", w.claimed).
		Int("denied", len(w.denied)).
		Msg("Sitemap traversal complete")
	return w.pages, w.denied, nil
}

// walkSitemap fetches and parses one sitemap, recursing into nested
// indexes. Each sitemap URL is traversed at most once per crawl.
func (e *Engine) walkSitemap(ctx context.Context, w *sitemapWalk, loc string) error {
	added, err := e.store.SetAdd(ctx, crawl.KeySitemapsVisited(w.rec.ID), loc)
	if err != nil {
		return fmt.Errorf("failed to mark sitemap visited: %w", err)
	}
	if added == 0 {
		return nil
	}
	visited, err := e.store.SetCard(ctx, crawl.KeySitemapsVisited(w.rec.ID))
	if err != nil {
		return fmt.Errorf("failed to count visited sitemaps: %w", err)
	}
	if visited > maxSitemapsPerCrawl {
		log.Warn().Str("crawl_id", w.rec.ID).Str("sitemap", loc).Msg("Sitemap cap reached, skipping")
		return nil
	}

	body, err := e.fetchSitemap(ctx, loc)
	if err != nil {
		// A broken sitemap never fails the crawl.
		log.Warn().Str("crawl_id", w.rec.ID).Str("sitemap", loc).Err(err).Msg("Failed to fetch sitemap")
		return nil
	}

	var index sitemapIndexXML
	if xml.Unmarshal(body, &index) == nil && len(index.Sitemaps) > 0 {
		for _, child := range index.Sitemaps {
			if err := e.walkSitemap(ctx, w, strings.TrimSpace(child.Loc)); err != nil {
				return err
			}
		}
		return nil
	}

	var set urlSetXML
	if err := xml.Unmarshal(body, &set); err != nil {
		log.Warn().Str("sitemap", loc).Err(err).Msg("Unparseable sitemap")
		return nil
	}
	for _, entry := range set.URLs {
		pageURL := strings.TrimSpace(entry.Loc)
		if pageURL == "" {
			continue
		}
		// Some sites list child sitemaps inside a urlset.
		if strings.HasSuffix(strings.ToLower(pageURL), ".xml") {
			if err := e.walkSitemap(ctx, w, pageURL); err != nil {
				return err
			}
			continue
		}
		if err := e.appendPage(ctx, w, pageURL); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) appendPage(ctx context.Context, w *sitemapWalk, pageURL string) error {
	if _, ok := w.seen[pageURL]; ok {
		return nil
	}
	w.seen[pageURL] = struct{}{}
	w.pages++
	metrics.SitemapPages.Inc()

	d := w.filter.FilterURL(pageURL, w.rec.OriginURL)
	if !d.Allowed {
		w.denied = append(w.denied, crawl.DeniedURL{URL: pageURL, Reason: string(d.Reason)})
		return nil
	}
	if w.rec.Crawler != nil && w.rec.Crawler.MaxDepth > 0 {
		if urlutil.Depth(d.URL) > w.rec.Crawler.MaxDepth {
			w.denied = append(w.denied, crawl.DeniedURL{URL: pageURL, Reason: string(DenyDepthLimit)})
			metrics.LinksDenied.WithLabelValues(string(DenyDepthLimit)).Inc()
			return nil
		}
	}

	w.batch = append(w.batch, d.URL)
	if len(w.batch) >= sitemapBatchSize {
		return e.flushBatch(ctx, w)
	}
	return nil
}

// flushBatch claims the accumulated batch and hands the winners
// downstream. Claims respect the crawl's link limit, so the batch is
// truncated to the remaining capacity first.
func (e *Engine) flushBatch(ctx context.Context, w *sitemapWalk) error {
	if len(w.batch) == 0 {
		return nil
	}
	batch := w.batch
	w.batch = nil

	remaining, err := e.frontier.RemainingCapacity(ctx, w.rec.ID, w.rec.Crawler)
	if err != nil {
		return err
	}
	if remaining == 0 {
		log.Debug().
			Str("crawl_id", w.rec.ID).
			Int("dropped", len(batch)).
			Msg("Link limit reached, dropping sitemap batch")
		return nil
	}
	if remaining > 0 && int64(len(batch)) > remaining {
		log.Debug().
			Str("crawl_id", w.rec.ID).
			Int("dropped", len(batch) - int(remaining)).
			Msg("Link limit reached, truncating sitemap batch")
		batch = batch[:remaining]
	}

	won, err := e.frontier.ClaimAll(ctx, w.rec.ID, batch, w.rec.Crawler)
	if err != nil {
		return err
	}
	if len(won) == 0 {
		return nil
	}
	w.claimed += len(won)
	return w.emit(ctx, won)
}

func (e *Engine) fetchSitemap(ctx context.Context, loc string) ([]byte, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build sitemap request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sitemap: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read sitemap body: %w", err)
	}
	return body, nil
}
