package crawl

import (
	"context"
	"encoding/json"
	"fmt"
)

// DeniedURL is a URL the discovery engine refused, together with the
// machine-readable reason. Kept per crawl so operators can answer "why
// didn't you crawl X".
type DeniedURL struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// RecordDenied stores denial verdicts for later reporting. Callers skip
// this for zero-data-retention crawls.
func (m *Manager) RecordDenied(ctx context.Context, crawlID string, denied ...DeniedURL) error {
	if len(denied) == 0 {
		return nil
	}
	members := make([]string, 0, len(denied))
	for _, d := range denied {
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal denied URL: %w", err)
		}
		members = append(members, string(payload))
	}
	if _, err := m.store.SetAdd(ctx, KeyDenied(crawlID), members...); err != nil {
		return fmt.Errorf("failed to record denied URLs: %w", err)
	}
	return m.store.Expire(ctx, KeyDenied(crawlID), RecordTTL)
}

// DeniedURLs returns every recorded denial for a crawl.
func (m *Manager) DeniedURLs(ctx context.Context, crawlID string) ([]DeniedURL, error) {
	members, err := m.store.SetMembers(ctx, KeyDenied(crawlID))
	if err != nil {
		return nil, fmt.Errorf("failed to read denied URLs: %w", err)
	}
	out := make([]DeniedURL, 0, len(members))
	for _, raw := range members {
		var d DeniedURL
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			// Skip malformed entries rather than failing the report.
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
