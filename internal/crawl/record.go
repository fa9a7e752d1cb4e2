package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/crawlplane/crawlplane/internal/store"
)

// ErrNotFound is returned when a crawl id has no record (never created,
// expired, or already finished and cleaned up).
var ErrNotFound = errors.New("crawl: record not found")

// Manager is the crawl-state manager. It owns the crawl record lifecycle,
// job membership sets, and the finish-state machine, all persisted in the
// coordination store.
type Manager struct {
	store store.CoordinationStore
}

// NewManager creates a Manager over the given store.
func NewManager(s store.CoordinationStore) *Manager {
	return &Manager{store: s}
}

// SaveRecord persists a crawl record with the standard TTL and registers
// it in its team's crawl index.
func (m *Manager) SaveRecord(ctx context.Context, rec *Record) error {
	span := sentry.StartSpan(ctx, "crawl.save_record")
	defer span.Finish()

	if rec.ID == "" {
		return fmt.Errorf("crawl record requires an id")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal crawl record: %w", err)
	}

	if err := m.store.Set(ctx, KeyRecord(rec.ID), string(payload), RecordTTL); err != nil {
		return fmt.Errorf("failed to save crawl record: %w", err)
	}

	if rec.TeamID != "" {
		if _, err := m.store.SetAdd(ctx, KeyTeamCrawls(rec.TeamID), rec.ID); err != nil {
			return fmt.Errorf("failed to index crawl for team: %w", err)
		}
	}

	log.Debug().Str("crawl_id", rec.ID).Str("team_id", rec.TeamID).Msg("Saved crawl record")
	return nil
}

// GetRecord loads a crawl record.
func (m *Manager) GetRecord(ctx context.Context, id string) (*Record, error) {
	raw, err := m.store.Get(ctx, KeyRecord(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load crawl record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal crawl record: %w", err)
	}
	return &rec, nil
}

// Touch renews the TTL on a crawl's record and bookkeeping structures.
// Every worker interaction and status query goes through here so an
// active crawl never expires mid-flight.
func (m *Manager) Touch(ctx context.Context, id string) error {
	for _, key := range []string{
		KeyRecord(id),
		KeyJobs(id),
		KeyJobsQualified(id),
		KeyJobsDone(id),
		KeyJobsDoneOrdered(id),
		KeyVisited(id),
		KeyVisitedUnique(id),
	} {
		if err := m.store.Expire(ctx, key, RecordTTL); err != nil {
			return fmt.Errorf("failed to renew TTL on %s: %w", key, err)
		}
	}
	return nil
}

// Cancel sets the advisory cancelled flag. The transition is monotonic;
// cancelling an already-cancelled crawl is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	rec, err := m.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Cancelled {
		return nil
	}
	rec.Cancelled = true
	if err := m.SaveRecord(ctx, rec); err != nil {
		return err
	}

	log.Info().Str("crawl_id", id).Msg("Cancelled crawl")
	return nil
}

// RemoveFromTeamIndex drops a finished crawl from its team index. The
// per-crawl keys themselves are left to TTL expiry.
func (m *Manager) RemoveFromTeamIndex(ctx context.Context, rec *Record) error {
	if rec.TeamID == "" {
		return nil
	}
	if err := m.store.SetRemove(ctx, KeyTeamCrawls(rec.TeamID), rec.ID); err != nil {
		return fmt.Errorf("failed to remove crawl from team index: %w", err)
	}
	return nil
}
