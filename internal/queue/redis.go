package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultQueueKey   = "crawlplane:fetch_queue"
	defaultResultsKey = "crawlplane:fetch_results"
	jobStateTTL       = 24 * time.Hour
	resultPollTimeout = 5 * time.Second
)

func keyJobState(jobID string) string { return "job:" + jobID + ":state" }

// RedisQueue pushes fetch jobs onto a Redis list. Workers consume with
// BRPOP, so the list behaves FIFO.
type RedisQueue struct {
	client     *redis.Client
	key        string
	resultsKey string
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, key: defaultQueueKey, resultsKey: defaultResultsKey}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}
	payloads := make([]interface{}, 0, len(jobs))
	for _, job := range jobs {
		raw, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal fetch job: %w", err)
		}
		payloads = append(payloads, raw)
	}
	if err := q.client.LPush(ctx, q.key, payloads...).Err(); err != nil {
		return fmt.Errorf("failed to enqueue fetch jobs: %w", err)
	}
	for _, job := range jobs {
		if err := q.client.Set(ctx, keyJobState(job.ID), string(JobStatePending), jobStateTTL).Err(); err != nil {
			return fmt.Errorf("failed to record job state: %w", err)
		}
	}
	return nil
}

// JobState reads the worker-maintained per-job state key. Workers set it
// to done when they finish a fetch.
func (q *RedisQueue) JobState(ctx context.Context, jobID string) (JobState, error) {
	raw, err := q.client.Get(ctx, keyJobState(jobID)).Result()
	if err == redis.Nil {
		return JobStateUnknown, nil
	}
	if err != nil {
		return JobStateUnknown, fmt.Errorf("failed to read job state: %w", err)
	}
	return JobState(raw), nil
}

// NextResult pops one worker result, blocking up to the poll timeout.
// No result within the window returns (nil, nil).
func (q *RedisQueue) NextResult(ctx context.Context) (*Result, error) {
	vals, err := q.client.BRPop(ctx, resultPollTimeout, q.resultsKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop fetch result: %w", err)
	}
	// BRPOP returns [key, value].
	var res Result
	if err := json.Unmarshal([]byte(vals[1]), &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fetch result: %w", err)
	}
	return &res, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}
