package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crawlplane/crawlplane/internal/queue"
)

// Run consumes fetch-worker results until the context is cancelled. A
// successful result first flows the page's links through discovery, then
// the job is marked done so the completion reconciler sees the new jobs
// before it counts.
func (c *Coordinator) Run(ctx context.Context, results queue.ResultSource) {
	log.Info().Msg("Result consumer started")
	for {
		if ctx.Err() != nil {
			log.Info().Msg("Result consumer stopped")
			return
		}

		res, err := results.NextResult(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Result consumer stopped")
				return
			}
			log.Error().Err(err).Msg("Failed to read fetch result")
			time.Sleep(time.Second)
			continue
		}
		if res == nil {
			continue
		}

		c.processResult(ctx, res)
	}
}

func (c *Coordinator) processResult(ctx context.Context, res *queue.Result) {
	if res.Success && res.HTML != "" {
		if _, err := c.DiscoverFromPage(ctx, res.CrawlID, res.PageURL, res.HTML, res.Generation); err != nil {
			log.Error().
				Str("crawl_id", res.CrawlID).
				Str("job_id", res.JobID).
				Err(err).
				Msg("Failed to process page links")
		}
	}

	if err := c.MarkJobDone(ctx, res.CrawlID, res.JobID, res.Success); err != nil {
		log.Error().
			Str("crawl_id", res.CrawlID).
			Str("job_id", res.JobID).
			Err(err).
			Msg("Failed to record job completion")
	}
}
