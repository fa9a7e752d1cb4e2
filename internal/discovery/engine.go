package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/crawlplane/crawlplane/internal/crawl"
	"github.com/crawlplane/crawlplane/internal/frontier"
	"github.com/crawlplane/crawlplane/internal/store"
	"github.com/crawlplane/crawlplane/internal/urlutil"
)

// Stage is where a crawl currently is in its discovery lifecycle.
type Stage string

const (
	StageSeeding     Stage = "SEEDING"
	StageSitemapScan Stage = "SITEMAP_SCAN"
	StageHTMLCrawl   Stage = "HTML_CRAWL"
	StageDone        Stage = "DONE"
)

func keyStage(crawlID string) string { return "crawl:" + crawlID + ":stage" }

// Engine discovers candidate URLs for a crawl from sitemaps and fetched
// HTML, and pushes them through the frontier's claim path.
type Engine struct {
	store     store.CoordinationStore
	frontier  *frontier.Frontier
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewEngine wires a discovery engine. A nil client gets sane fetch
// defaults; the limiter caps sitemap fetches across all crawls served by
// this process.
func NewEngine(s store.CoordinationStore, f *frontier.Frontier, client *http.Client, userAgent string) *Engine {
	if client == nil {
		client = &http.Client{Timeout: sitemapFetchTimeout}
	}
	return &Engine{
		store:     s,
		frontier:  f,
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(4), 8),
		userAgent: userAgent,
	}
}

// SetStage records the crawl's current discovery stage.
func (e *Engine) SetStage(ctx context.Context, crawlID string, stage Stage) error {
	if err := e.store.Set(ctx, keyStage(crawlID), string(stage), crawl.RecordTTL); err != nil {
		return fmt.Errorf("failed to set crawl stage: %w", err)
	}
	log.Debug().Str("crawl_id", crawlID).Str("stage", string(stage)).Msg("Crawl stage transition")
	return nil
}

// GetStage returns the crawl's discovery stage, defaulting to SEEDING
// when none has been recorded yet.
func (e *Engine) GetStage(ctx context.Context, crawlID string) (Stage, error) {
	raw, err := e.store.Get(ctx, keyStage(crawlID))
	if errors.Is(err, store.ErrNotFound) {
		return StageSeeding, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read crawl stage: %w", err)
	}
	return Stage(raw), nil
}

// SitemapCandidates lists the sitemap URLs worth trying for an origin:
// the Sitemap directives in robots.txt, which the site itself
// advertised, and the two conventional locations, which need probing.
func SitemapCandidates(originURL, robotsTxt string) (declared, conventional []string) {
	origin, err := urlutil.Origin(originURL)
	if err != nil {
		return nil, nil
	}

	seen := make(map[string]struct{})
	add := func(dst *[]string, u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		*dst = append(*dst, u)
	}

	for _, line := range strings.Split(robotsTxt, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 8 || !strings.EqualFold(line[:8], "sitemap:") {
			continue
		}
		loc := strings.TrimSpace(line[8:])
		if loc != "" {
			add(&declared, loc)
		}
	}

	add(&conventional, origin+"/sitemap.xml")
	add(&conventional, origin+"/sitemap_index.xml")
	return declared, conventional
}

// probeSitemaps HEADs candidate locations concurrently and returns the
// ones that exist.
func (e *Engine) probeSitemaps(ctx context.Context, candidates []string) []string {
	exists := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range candidates {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodHead, candidates[i], nil)
			if err != nil {
				return nil
			}
			req.Header.Set("User-Agent", e.userAgent)
			resp, err := e.client.Do(req)
			if err != nil {
				return nil
			}
			resp.Body.Close()
			exists[i] = resp.StatusCode >= 200 && resp.StatusCode < 300
			return nil
		})
	}
	g.Wait()

	var out []string
	for i, ok := range exists {
		if ok {
			out = append(out, candidates[i])
		}
	}
	return out
}
