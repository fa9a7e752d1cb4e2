package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore implements CoordinationStore against a Redis server.
//
// Transient failures are retried with capped exponential backoff. No core
// invariant depends on exactly-once delivery of an individual operation
// (claims and done-marks are idempotent or monotonic), so retrying a
// timed-out call is always safe.
type RedisStore struct {
	client     *redis.Client
	maxRetries int
	maxElapsed time.Duration
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	s := &RedisStore{
		client:     client,
		maxRetries: 3,
		maxElapsed: 10 * time.Second,
	}

	if err := s.Ping(ctx); err != nil {
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to coordination store")
	return s, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying Redis client for adapters that share the
// connection, such as the fetch queue.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// retry runs op with capped exponential backoff, giving up immediately on
// context cancellation.
func retry[T any](ctx context.Context, s *RedisStore, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(s.maxRetries)),
		backoff.WithMaxElapsedTime(s.maxElapsed),
	)
}

// retryable reports whether an error is worth retrying. Redis value errors
// (wrong type, nil reply) are not; network-level errors are.
func retryable(err error) bool {
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func (s *RedisStore) SetAdd(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return retry(ctx, s, func() (int64, error) {
		return s.client.SAdd(ctx, key, args...).Result()
	})
}

func (s *RedisStore) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	_, err := retry(ctx, s, func() (int64, error) {
		return s.client.SRem(ctx, key, args...).Result()
	})
	return err
}

func (s *RedisStore) SetCard(ctx context.Context, key string) (int64, error) {
	return retry(ctx, s, func() (int64, error) {
		return s.client.SCard(ctx, key).Result()
	})
}

func (s *RedisStore) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	return retry(ctx, s, func() (bool, error) {
		return s.client.SIsMember(ctx, key, member).Result()
	})
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	return retry(ctx, s, func() ([]string, error) {
		return s.client.SMembers(ctx, key).Result()
	})
}

func (s *RedisStore) SortedAdd(ctx context.Context, key string, member string, score float64) error {
	_, err := retry(ctx, s, func() (int64, error) {
		return s.client.ZAddNX(ctx, key, redis.Z{Score: score, Member: member}).Result()
	})
	return err
}

func (s *RedisStore) SortedRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return retry(ctx, s, func() ([]string, error) {
		return s.client.ZRange(ctx, key, start, stop).Result()
	})
}

func (s *RedisStore) SortedCard(ctx context.Context, key string) (int64, error) {
	return retry(ctx, s, func() (int64, error) {
		return s.client.ZCard(ctx, key).Result()
	})
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := retry(ctx, s, func() (string, error) {
		return s.client.Get(ctx, key).Result()
	})
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := retry(ctx, s, func() (string, error) {
		return s.client.Set(ctx, key, value, ttl).Result()
	})
	return err
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return retry(ctx, s, func() (bool, error) {
		return s.client.SetNX(ctx, key, value, ttl).Result()
	})
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := retry(ctx, s, func() (int64, error) {
		return s.client.Del(ctx, keys...).Result()
	})
	return err
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := retry(ctx, s, func() (bool, error) {
		return s.client.Expire(ctx, key, ttl).Result()
	})
	return err
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := retry(ctx, s, func() (int64, error) {
		return s.client.Exists(ctx, key).Result()
	})
	return n > 0, err
}

func (s *RedisStore) Ping(ctx context.Context) error {
	_, err := s.client.Ping(ctx).Result()
	return err
}
