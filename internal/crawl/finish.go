package crawl

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/crawlplane/crawlplane/internal/store"
)

// FinishState is the explicit finish protocol state of a crawl.
type FinishState int

const (
	// Open means the crawl is still producing or processing jobs.
	Open FinishState = iota
	// PreFinished means a worker observed all known jobs done and is
	// checking for stragglers. This state can revert to Open.
	PreFinished
	// Finished is terminal.
	Finished
)

func (s FinishState) String() string {
	switch s {
	case PreFinished:
		return "prefinished"
	case Finished:
		return "finished"
	default:
		return "open"
	}
}

// MarkKickoffFinished records that initial seeding (seed URL plus sitemap
// enumeration) is complete and the job set will no longer grow from
// kickoff. Set once by whichever component performed the discovery.
func (m *Manager) MarkKickoffFinished(ctx context.Context, crawlID string) error {
	if err := m.store.Set(ctx, KeyKickoffFinished(crawlID), "1", RecordTTL); err != nil {
		return fmt.Errorf("failed to mark kickoff finished: %w", err)
	}
	log.Debug().Str("crawl_id", crawlID).Msg("Kickoff finished")
	return nil
}

// IsKickoffFinished reports whether initial discovery has completed.
func (m *Manager) IsKickoffFinished(ctx context.Context, crawlID string) (bool, error) {
	_, err := m.store.Get(ctx, KeyKickoffFinished(crawlID))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read kickoff flag: %w", err)
	}
	return true, nil
}

// TryPreFinish attempts the single-winner transition Open -> PreFinished.
// Exactly one of any set of concurrent callers gets true. The gate
// carries a short TTL so a winner that crashes mid-reconciliation cannot
// wedge the crawl: once it lapses, the next finished job retries.
func (m *Manager) TryPreFinish(ctx context.Context, crawlID string) (bool, error) {
	won, err := m.store.SetNX(ctx, KeyPreFinished(crawlID), "1", PreFinishTTL)
	if err != nil {
		return false, fmt.Errorf("failed to acquire pre-finish gate: %w", err)
	}
	if won {
		log.Debug().Str("crawl_id", crawlID).Msg("Won pre-finish gate")
	}
	return won, nil
}

// UndoPreFinish reverts PreFinished -> Open after stragglers were found
// and queued. This is the protocol's only non-monotonic transition.
func (m *Manager) UndoPreFinish(ctx context.Context, crawlID string) error {
	if err := m.store.Delete(ctx, KeyPreFinished(crawlID)); err != nil {
		return fmt.Errorf("failed to revert pre-finish gate: %w", err)
	}
	log.Debug().Str("crawl_id", crawlID).Msg("Reverted pre-finish gate, crawl re-opened")
	return nil
}

// MarkFinished performs the terminal transition. It is set at most once;
// the caller must hold the pre-finish gate.
func (m *Manager) MarkFinished(ctx context.Context, crawlID string) error {
	if err := m.store.Set(ctx, KeyFinished(crawlID), "1", RecordTTL); err != nil {
		return fmt.Errorf("failed to mark finished: %w", err)
	}
	log.Info().Str("crawl_id", crawlID).Msg("Crawl finished")
	return nil
}

// IsFinished reports whether the crawl reached its terminal state.
func (m *Manager) IsFinished(ctx context.Context, crawlID string) (bool, error) {
	_, err := m.store.Get(ctx, KeyFinished(crawlID))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read finished flag: %w", err)
	}
	return true, nil
}

// State reports the crawl's current finish state.
func (m *Manager) State(ctx context.Context, crawlID string) (FinishState, error) {
	finished, err := m.IsFinished(ctx, crawlID)
	if err != nil {
		return Open, err
	}
	if finished {
		return Finished, nil
	}
	_, err = m.store.Get(ctx, KeyPreFinished(crawlID))
	if errors.Is(err, store.ErrNotFound) {
		return Open, nil
	}
	if err != nil {
		return Open, fmt.Errorf("failed to read pre-finished flag: %w", err)
	}
	return PreFinished, nil
}
