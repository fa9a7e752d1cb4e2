// Package history reads URLs recorded by previous crawls of an origin.
// The completion reconciler diffs this set against the live frontier to
// find straggler pages a finishing crawl never visited.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Store yields the URLs past crawls of an origin actually visited.
type Store interface {
	PriorVisitedURLs(ctx context.Context, originURL string) ([]string, error)
}

// Querier is the slice of pgxpool.Pool the store needs. pgxmock
// satisfies it in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// retention bounds how far back the straggler diff looks. Older pages
// have usually churned off the site.
const retention = 90 * 24 * time.Hour

// PGStore reads crawl history out of Postgres.
type PGStore struct {
	db Querier
}

func NewPGStore(db Querier) *PGStore {
	return &PGStore{db: db}
}

// PriorVisitedURLs returns the distinct URLs recorded for an origin
// within the retention window.
func (s *PGStore) PriorVisitedURLs(ctx context.Context, originURL string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT url
		FROM crawled_pages
		WHERE origin_url = $1
		  AND crawled_at > $2
	`, originURL, time.Now().Add(-retention))
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl history: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read crawl history: %w", err)
	}
	return urls, nil
}
