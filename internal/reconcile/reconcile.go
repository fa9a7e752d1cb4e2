package reconcile

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/crawlplane/crawlplane/internal/crawl"
	"github.com/crawlplane/crawlplane/internal/discovery"
	"github.com/crawlplane/crawlplane/internal/metrics"
)

// ReconcileAfterDone decides whether a crawl whose job just completed is
// truly finished. Only one caller at a time may perform the finishing
// sequence; the pre-finish gate arbitrates. A crawl that looks done may
// still be re-opened when the history diff turns up straggler pages, so
// finishing is a protocol, not a flag flip.
func (c *Coordinator) ReconcileAfterDone(ctx context.Context, crawlID string) error {
	span := sentry.StartSpan(ctx, "reconcile.after_done")
	defer span.Finish()

	rec, err := c.crawls.GetRecord(ctx, crawlID)
	if err != nil {
		return err
	}
	if rec.Cancelled {
		// Cancelled crawls never run finish side effects; status
		// queries report cancelled.
		return nil
	}

	done, err := c.crawls.IsFullyDone(ctx, crawlID)
	if err != nil {
		return err
	}
	if !done {
		return nil
	}

	won, err := c.crawls.TryPreFinish(ctx, crawlID)
	if err != nil {
		return err
	}
	if !won {
		// Another worker is already finishing this crawl.
		return nil
	}

	// Batch jobs have a fixed URL list; there is nothing to diff.
	if !rec.IsBatch() && c.history != nil {
		reopened, err := c.reopenForStragglers(ctx, rec)
		if err != nil {
			sentry.CaptureException(err)
			// Fall through and finish: a failed straggler check must
			// not wedge the crawl in pre-finished.
			log.Warn().Str("crawl_id", crawlID).Err(err).Msg("Straggler check failed")
		} else if reopened {
			return nil
		}
	}

	return c.finish(ctx, rec)
}

// reopenForStragglers diffs the crawl's claimed URLs against history,
// filters the leftovers under the crawl's policy, and re-opens the crawl
// when any of them win a claim. Returns true when the crawl was
// re-opened.
func (c *Coordinator) reopenForStragglers(ctx context.Context, rec *crawl.Record) (bool, error) {
	prior, err := c.history.PriorVisitedURLs(ctx, rec.OriginURL)
	if err != nil {
		return false, err
	}
	if len(prior) == 0 {
		return false, nil
	}

	var missed []string
	for _, u := range prior {
		visited, err := c.frontier.IsVisited(ctx, rec.ID, u, rec.Crawler)
		if err != nil {
			return false, err
		}
		if !visited {
			missed = append(missed, u)
		}
	}
	if len(missed) == 0 {
		return false, nil
	}

	remaining, err := c.frontier.RemainingCapacity(ctx, rec.ID, rec.Crawler)
	if err != nil {
		return false, err
	}
	maxDepth := 0
	if rec.Crawler != nil {
		maxDepth = rec.Crawler.MaxDepth
	}
	filter := discovery.NewLinkFilter(rec, c.agents)
	allowed, denied := filter.FilterLinks(missed, int(remaining), maxDepth, 0)
	if err := c.recordDenied(ctx, rec, denied); err != nil {
		log.Warn().Str("crawl_id", rec.ID).Err(err).Msg("Failed to record denied URLs")
	}

	// Claims are individual: any single winner is enough to re-open.
	var won []string
	for _, u := range allowed {
		claimed, err := c.frontier.TryClaim(ctx, rec.ID, u, rec.Crawler)
		if err != nil {
			return false, err
		}
		if claimed {
			won = append(won, u)
		}
	}
	if len(won) == 0 {
		return false, nil
	}

	if err := c.enqueue(ctx, rec, 0, won...); err != nil {
		return false, err
	}
	if err := c.crawls.UndoPreFinish(ctx, rec.ID); err != nil {
		return false, err
	}
	metrics.CrawlsReopened.Inc()

	log.Info().
		Str("crawl_id", rec.ID).
		Int("stragglers", len(won)).
		Msg("Re-opened crawl for straggler pages")
	return true, nil
}

// finish runs the terminal sequence: mark finished, retire the team
// index entry, and emit final accounting.
func (c *Coordinator) finish(ctx context.Context, rec *crawl.Record) error {
	if err := c.crawls.MarkFinished(ctx, rec.ID); err != nil {
		return err
	}
	if err := c.engine.SetStage(ctx, rec.ID, discovery.StageDone); err != nil {
		return err
	}
	if err := c.crawls.RemoveFromTeamIndex(ctx, rec); err != nil {
		log.Warn().Str("crawl_id", rec.ID).Err(err).Msg("Failed to retire team index entry")
	}
	metrics.CrawlsFinished.Inc()

	jobs, err := c.crawls.JobCount(ctx, rec.ID)
	if err != nil {
		return err
	}
	completed, err := c.crawls.CompletionCount(ctx, rec.ID)
	if err != nil {
		return err
	}
	unique, err := c.frontier.UniqueCount(ctx, rec.ID)
	if err != nil {
		return err
	}
	log.Info().
		Str("crawl_id", rec.ID).
		Str("origin", rec.OriginURL).
		Int64("jobs", jobs).
		Int64("completed", completed).
		Int64("unique_urls", unique).
		Msg("Crawl finished")
	return nil
}
