// Package queue is the hand-off point between the crawl core and the
// external fetch workers. The core enqueues fetch jobs; workers pop
// them, fetch, and call back into the orchestrator with the result.
package queue

import (
	"context"
	"encoding/json"
)

// Job is one fetch task for an external worker.
type Job struct {
	ID      string          `json:"id"`
	CrawlID string          `json:"crawl_id"`
	URL     string          `json:"url"`
	// Generation counts how many discovery rounds produced this URL.
	// Links found on the fetched page carry Generation+1.
	Generation int             `json:"generation"`
	Scrape     json.RawMessage `json:"scrape,omitempty"`
}

// JobState is a worker-reported lifecycle state.
type JobState string

const (
	JobStateUnknown JobState = "unknown"
	JobStatePending JobState = "pending"
	JobStateDone    JobState = "done"
)

// Result is what a fetch worker reports back after handling a Job. HTML
// is present on success so the core can discover the page's links.
type Result struct {
	JobID      string `json:"job_id"`
	CrawlID    string `json:"crawl_id"`
	PageURL    string `json:"page_url"`
	Generation int    `json:"generation"`
	Success    bool   `json:"success"`
	HTML       string `json:"html,omitempty"`
}

// ResultSource yields worker results. NextResult blocks up to an
// implementation-defined poll interval and returns (nil, nil) when no
// result arrived in time.
type ResultSource interface {
	NextResult(ctx context.Context) (*Result, error)
}

// FetchQueue is the transport the core pushes fetch jobs onto.
type FetchQueue interface {
	Enqueue(ctx context.Context, jobs ...Job) error
	// JobState reports where a job is in its lifecycle. Queues that do
	// not track state return JobStateUnknown.
	JobState(ctx context.Context, jobID string) (JobState, error)
	// Len reports the number of jobs waiting, for status reporting.
	Len(ctx context.Context) (int64, error)
}
