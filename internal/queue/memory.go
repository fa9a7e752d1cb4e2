package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process FetchQueue for tests and single-node
// runs.
type MemoryQueue struct {
	mu      sync.Mutex
	jobs    []Job
	results []Result
	states  map[string]JobState
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{states: make(map[string]JobState)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobs ...Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, jobs...)
	for _, job := range jobs {
		q.states[job.ID] = JobStatePending
	}
	return nil
}

func (q *MemoryQueue) JobState(_ context.Context, jobID string) (JobState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if state, ok := q.states[jobID]; ok {
		return state, nil
	}
	return JobStateUnknown, nil
}

// SetJobState mimics a worker reporting progress.
func (q *MemoryQueue) SetJobState(jobID string, state JobState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.states[jobID] = state
}

// PushResult mimics a worker reporting a finished fetch.
func (q *MemoryQueue) PushResult(res Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, res)
}

func (q *MemoryQueue) NextResult(_ context.Context) (*Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.results) == 0 {
		return nil, nil
	}
	res := q.results[0]
	q.results = q.results[1:]
	return &res, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}

// Drain pops and returns every queued job in FIFO order.
func (q *MemoryQueue) Drain() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.jobs
	q.jobs = nil
	return out
}
