package crawl

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

// AddJobs registers job ids with a crawl, in both the full membership set
// and the qualified set that counts toward the link limit.
func (m *Manager) AddJobs(ctx context.Context, crawlID string, jobIDs ...string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	if _, err := m.store.SetAdd(ctx, KeyJobs(crawlID), jobIDs...); err != nil {
		return fmt.Errorf("failed to add jobs: %w", err)
	}
	if _, err := m.store.SetAdd(ctx, KeyJobsQualified(crawlID), jobIDs...); err != nil {
		return fmt.Errorf("failed to add qualified jobs: %w", err)
	}
	for _, key := range []string{KeyJobs(crawlID), KeyJobsQualified(crawlID)} {
		if err := m.store.Expire(ctx, key, RecordTTL); err != nil {
			return fmt.Errorf("failed to refresh job set TTL: %w", err)
		}
	}

	log.Debug().Str("crawl_id", crawlID).Int("count", len(jobIDs)).Msg("Registered jobs with crawl")
	return nil
}

// AddUnqualifiedJobs registers auxiliary jobs that belong to the crawl
// but do not count toward its link limit.
func (m *Manager) AddUnqualifiedJobs(ctx context.Context, crawlID string, jobIDs ...string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	if _, err := m.store.SetAdd(ctx, KeyJobs(crawlID), jobIDs...); err != nil {
		return fmt.Errorf("failed to add jobs: %w", err)
	}
	return m.store.Expire(ctx, KeyJobs(crawlID), RecordTTL)
}

// MarkDone records a finished job. Every finished job lands in the done
// set; only successful ones are appended to the ordered-completion
// sequence, scored by completion time so pagination cursors stay stable
// even when later jobs fail.
func (m *Manager) MarkDone(ctx context.Context, crawlID, jobID string, success bool) error {
	span := sentry.StartSpan(ctx, "crawl.mark_done")
	defer span.Finish()

	if _, err := m.store.SetAdd(ctx, KeyJobsDone(crawlID), jobID); err != nil {
		return fmt.Errorf("failed to mark job done: %w", err)
	}
	if err := m.store.Expire(ctx, KeyJobsDone(crawlID), RecordTTL); err != nil {
		return fmt.Errorf("failed to refresh done set TTL: %w", err)
	}

	if success {
		score := float64(time.Now().UnixNano())
		if err := m.store.SortedAdd(ctx, KeyJobsDoneOrdered(crawlID), jobID, score); err != nil {
			return fmt.Errorf("failed to append to completion order: %w", err)
		}
		if err := m.store.Expire(ctx, KeyJobsDoneOrdered(crawlID), RecordTTL); err != nil {
			return fmt.Errorf("failed to refresh completion order TTL: %w", err)
		}
	}

	log.Debug().
		Str("crawl_id", crawlID).
		Str("job_id", jobID).
		Bool("success", success).
		Msg("Marked job done")
	return nil
}

// IsFullyDone reports whether every currently known job has finished.
// Kickoff must have finished first: while initial seeding or sitemap
// enumeration is still running, the job set is still growing and a
// momentary |done| == |all| says nothing.
func (m *Manager) IsFullyDone(ctx context.Context, crawlID string) (bool, error) {
	kickedOff, err := m.IsKickoffFinished(ctx, crawlID)
	if err != nil {
		return false, err
	}
	if !kickedOff {
		return false, nil
	}

	total, err := m.store.SetCard(ctx, KeyJobs(crawlID))
	if err != nil {
		return false, fmt.Errorf("failed to count jobs: %w", err)
	}
	done, err := m.store.SetCard(ctx, KeyJobsDone(crawlID))
	if err != nil {
		return false, fmt.Errorf("failed to count done jobs: %w", err)
	}
	return done == total, nil
}

// JobCount returns the size of the full membership set.
func (m *Manager) JobCount(ctx context.Context, crawlID string) (int64, error) {
	return m.store.SetCard(ctx, KeyJobs(crawlID))
}

// DoneCount returns how many jobs have finished, successfully or not.
func (m *Manager) DoneCount(ctx context.Context, crawlID string) (int64, error) {
	return m.store.SetCard(ctx, KeyJobsDone(crawlID))
}

// CompletionCount returns how many jobs completed successfully.
func (m *Manager) CompletionCount(ctx context.Context, crawlID string) (int64, error) {
	return m.store.SortedCard(ctx, KeyJobsDoneOrdered(crawlID))
}

// OrderedCompletedIDs returns successfully completed job ids in completion
// order, inclusive of both cursor positions. The sequence is append-only:
// repeated calls never reorder or drop previously returned ids.
func (m *Manager) OrderedCompletedIDs(ctx context.Context, crawlID string, start, end int64) ([]string, error) {
	return m.store.SortedRange(ctx, KeyJobsDoneOrdered(crawlID), start, end)
}

// JobIDs returns every job id ever registered with the crawl.
func (m *Manager) JobIDs(ctx context.Context, crawlID string) ([]string, error) {
	return m.store.SetMembers(ctx, KeyJobs(crawlID))
}
