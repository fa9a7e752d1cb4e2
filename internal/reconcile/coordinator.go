// Package reconcile ties the crawl core together: it kicks crawls off,
// feeds discovered links through the frontier, and decides when a crawl
// is truly finished. External fetch workers sit on the far side of the
// fetch queue; everything here is coordination, not fetching.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crawlplane/crawlplane/internal/crawl"
	"github.com/crawlplane/crawlplane/internal/discovery"
	"github.com/crawlplane/crawlplane/internal/frontier"
	"github.com/crawlplane/crawlplane/internal/history"
	"github.com/crawlplane/crawlplane/internal/queue"
	"github.com/crawlplane/crawlplane/internal/robots"
	"github.com/crawlplane/crawlplane/internal/store"
	"github.com/crawlplane/crawlplane/internal/urlutil"
)

// Coordinator drives crawls end to end: kickoff, link admission, job
// accounting, and completion reconciliation.
type Coordinator struct {
	store    store.CoordinationStore
	crawls   *crawl.Manager
	frontier *frontier.Frontier
	engine   *discovery.Engine
	robots   *robots.Checker
	queue    queue.FetchQueue
	// history is optional; nil disables the straggler check.
	history history.Store
	agents  []string
}

// Options configures a Coordinator.
type Options struct {
	Store   store.CoordinationStore
	Queue   queue.FetchQueue
	Robots  *robots.Checker
	Engine  *discovery.Engine
	History history.Store
	// Agents are the user-agent aliases matched against robots.txt
	// groups, most specific first.
	Agents []string
}

func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{
		store:    opts.Store,
		crawls:   crawl.NewManager(opts.Store),
		frontier: frontier.New(opts.Store),
		engine:   opts.Engine,
		robots:   opts.Robots,
		queue:    opts.Queue,
		history:  opts.History,
		agents:   opts.Agents,
	}
}

// KickoffRequest describes a crawl to start.
type KickoffRequest struct {
	CrawlID           string
	OriginURL         string
	TeamID            string
	Crawler           *crawl.CrawlerPolicy
	Scrape            json.RawMessage
	ZeroDataRetention bool
}

// Kickoff creates the crawl record, claims and enqueues the seed URL,
// walks the origin's sitemaps when enabled, and then marks kickoff
// finished so completion accounting can begin.
func (c *Coordinator) Kickoff(ctx context.Context, req KickoffRequest) (*crawl.Record, error) {
	span := sentry.StartSpan(ctx, "reconcile.kickoff")
	defer span.Finish()

	rec := &crawl.Record{
		ID:                req.CrawlID,
		OriginURL:         req.OriginURL,
		TeamID:            req.TeamID,
		Crawler:           req.Crawler,
		Scrape:            req.Scrape,
		ZeroDataRetention: req.ZeroDataRetention,
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	if err := c.engine.SetStage(ctx, rec.ID, discovery.StageSeeding); err != nil {
		return nil, err
	}

	if rec.Crawler == nil || !rec.Crawler.IgnoreRobots {
		origin, err := urlutil.Origin(rec.OriginURL)
		if err != nil {
			return nil, fmt.Errorf("invalid origin URL: %w", err)
		}
		robotsTxt, err := c.robots.Fetch(ctx, origin)
		if err != nil {
			// Unreachable robots.txt fails open.
			log.Warn().Str("crawl_id", rec.ID).Str("origin", origin).Err(err).Msg("Failed to fetch robots.txt")
		}
		rec.RobotsTxt = robotsTxt
	}

	if err := c.crawls.SaveRecord(ctx, rec); err != nil {
		return nil, err
	}

	won, err := c.frontier.TryClaim(ctx, rec.ID, rec.OriginURL, rec.Crawler)
	if err != nil {
		return nil, err
	}
	if won {
		if err := c.enqueue(ctx, rec, 0, rec.OriginURL); err != nil {
			return nil, err
		}
	}

	if rec.Crawler != nil && !rec.Crawler.IgnoreSitemap {
		if err := c.engine.SetStage(ctx, rec.ID, discovery.StageSitemapScan); err != nil {
			return nil, err
		}
		if err := c.walkSitemaps(ctx, rec); err != nil {
			// Sitemap trouble degrades discovery, never kills the crawl.
			log.Warn().Str("crawl_id", rec.ID).Err(err).Msg("Sitemap discovery failed")
		}
	}

	if err := c.engine.SetStage(ctx, rec.ID, discovery.StageHTMLCrawl); err != nil {
		return nil, err
	}
	if err := c.crawls.MarkKickoffFinished(ctx, rec.ID); err != nil {
		return nil, err
	}

	log.Info().
		Str("crawl_id", rec.ID).
		Str("origin", rec.OriginURL).
		Str("team_id", rec.TeamID).
		Msg("Crawl kicked off")
	return rec, nil
}

func (c *Coordinator) walkSitemaps(ctx context.Context, rec *crawl.Record) error {
	filter := discovery.NewLinkFilter(rec, c.agents)
	_, denied, err := c.engine.DiscoverFromSitemaps(ctx, rec, filter, func(ctx context.Context, urls []string) error {
		return c.enqueue(ctx, rec, 0, urls...)
	})
	if derr := c.recordDenied(ctx, rec, denied); derr != nil {
		log.Warn().Str("crawl_id", rec.ID).Err(derr).Msg("Failed to record denied URLs")
	}
	return err
}

// DiscoverFromPage processes the HTML of a fetched page: extract links,
// filter them under the crawl's policy, claim the survivors, and enqueue
// fetch jobs for the winners. generation is the fetched page's discovery
// generation; enqueued links carry generation+1.
func (c *Coordinator) DiscoverFromPage(ctx context.Context, crawlID, pageURL, html string, generation int) (int, error) {
	span := sentry.StartSpan(ctx, "reconcile.discover_from_page")
	defer span.Finish()

	rec, err := c.crawls.GetRecord(ctx, crawlID)
	if err != nil {
		return 0, err
	}
	if rec.Cancelled {
		return 0, nil
	}

	links, base, err := discovery.ExtractLinks(html, pageURL)
	if err != nil {
		return 0, err
	}

	filter := discovery.NewLinkFilter(rec, c.agents)
	var candidates []string
	var denied []crawl.DeniedURL
	for _, href := range links {
		d := filter.FilterURL(href, base)
		if !d.Allowed {
			denied = append(denied, crawl.DeniedURL{URL: href, Reason: string(d.Reason)})
			continue
		}
		candidates = append(candidates, d.URL)
	}

	remaining, err := c.frontier.RemainingCapacity(ctx, crawlID, rec.Crawler)
	if err != nil {
		return 0, err
	}
	maxDepth := 0
	if rec.Crawler != nil {
		maxDepth = rec.Crawler.MaxDepth
	}
	allowed, depthDenied := filter.FilterLinks(candidates, int(remaining), maxDepth, generation+1)
	denied = append(denied, depthDenied...)

	if err := c.recordDenied(ctx, rec, denied); err != nil {
		log.Warn().Str("crawl_id", crawlID).Err(err).Msg("Failed to record denied URLs")
	}

	won, err := c.frontier.ClaimAll(ctx, crawlID, allowed, rec.Crawler)
	if err != nil {
		return 0, err
	}
	if len(won) == 0 {
		return 0, nil
	}
	if err := c.enqueue(ctx, rec, generation+1, won...); err != nil {
		return 0, err
	}

	log.Debug().
		Str("crawl_id", crawlID).
		Str("page", pageURL).
		Int("links", len(links)).
		Int("enqueued", len(won)).
		Msg("Processed page links")
	return len(won), nil
}

// MarkJobDone records one fetch job's completion and runs the
// completion reconciler.
func (c *Coordinator) MarkJobDone(ctx context.Context, crawlID, jobID string, success bool) error {
	span := sentry.StartSpan(ctx, "reconcile.mark_job_done")
	defer span.Finish()

	if err := c.crawls.MarkDone(ctx, crawlID, jobID, success); err != nil {
		return err
	}
	if err := c.crawls.Touch(ctx, crawlID); err != nil {
		return err
	}
	return c.ReconcileAfterDone(ctx, crawlID)
}

// enqueue creates fetch jobs for claimed URLs and registers them with
// the crawl's membership sets.
func (c *Coordinator) enqueue(ctx context.Context, rec *crawl.Record, generation int, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	jobs := make([]queue.Job, 0, len(urls))
	jobIDs := make([]string, 0, len(urls))
	for _, u := range urls {
		job := queue.Job{
			ID:         uuid.New().String(),
			CrawlID:    rec.ID,
			URL:        u,
			Generation: generation,
			Scrape:     rec.Scrape,
		}
		jobs = append(jobs, job)
		jobIDs = append(jobIDs, job.ID)
	}
	// Membership first: a crash between the two leaves a job the
	// reconciler waits on, never a completion the accounting missed.
	if err := c.crawls.AddJobs(ctx, rec.ID, jobIDs...); err != nil {
		return err
	}
	if err := c.queue.Enqueue(ctx, jobs...); err != nil {
		sentry.CaptureException(err)
		return err
	}
	return nil
}

func (c *Coordinator) recordDenied(ctx context.Context, rec *crawl.Record, denied []crawl.DeniedURL) error {
	// Zero-data-retention crawls keep no denial report.
	if rec.ZeroDataRetention || len(denied) == 0 {
		return nil
	}
	return c.crawls.RecordDenied(ctx, rec.ID, denied...)
}

// Cancel flags a crawl as cancelled. Status queries and the reconciler
// report cancelled from then on.
func (c *Coordinator) Cancel(ctx context.Context, crawlID string) error {
	return c.crawls.Cancel(ctx, crawlID)
}

// GetCrawlRecord returns the stored crawl record.
func (c *Coordinator) GetCrawlRecord(ctx context.Context, crawlID string) (*crawl.Record, error) {
	return c.crawls.GetRecord(ctx, crawlID)
}

// CompletionCount returns how many jobs finished successfully.
func (c *Coordinator) CompletionCount(ctx context.Context, crawlID string) (int64, error) {
	return c.crawls.CompletionCount(ctx, crawlID)
}

// GetOrderedCompletedIDs pages through successful job IDs in completion
// order.
func (c *Coordinator) GetOrderedCompletedIDs(ctx context.Context, crawlID string, start, end int64) ([]string, error) {
	return c.crawls.OrderedCompletedIDs(ctx, crawlID, start, end)
}

// IsFinished reports whether the crawl reached its terminal state.
func (c *Coordinator) IsFinished(ctx context.Context, crawlID string) (bool, error) {
	return c.crawls.IsFinished(ctx, crawlID)
}

// GetDeniedURLs returns the crawl's denial report.
func (c *Coordinator) GetDeniedURLs(ctx context.Context, crawlID string) ([]crawl.DeniedURL, error) {
	return c.crawls.DeniedURLs(ctx, crawlID)
}
