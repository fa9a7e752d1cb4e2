// Package crawl owns the persistent crawl-state machine: the crawl
// record, job membership bookkeeping, and the multi-stage finish
// protocol. All state lives in the coordination store; the structs here
// are serialised snapshots, never authoritative in-memory copies.
package crawl

import (
	"encoding/json"
	"time"
)

// RecordTTL is how long crawl state survives after its last touch.
const RecordTTL = 24 * time.Hour

// PreFinishTTL bounds how long the pre-finished gate can wedge if the
// worker that won it crashes mid-reconciliation. After expiry the next
// completed job re-runs the finish check.
const PreFinishTTL = 2 * time.Minute

// CrawlerPolicy controls which URLs a crawl will admit.
type CrawlerPolicy struct {
	// Limit caps how many logically distinct pages the crawl may visit.
	// Zero or negative means unlimited.
	Limit int `json:"limit"`

	// MaxDepth caps URL path depth (path segment count).
	MaxDepth int `json:"maxDepth"`

	// MaxDiscoveryDepth caps how many rounds of link-following occur,
	// independent of path depth. Zero means unbounded.
	MaxDiscoveryDepth int `json:"maxDiscoveryDepth,omitempty"`

	// Includes and Excludes are regex patterns; a non-empty Includes list
	// admits only matching URLs, Excludes always rejects.
	Includes []string `json:"includes,omitempty"`
	Excludes []string `json:"excludes,omitempty"`

	// RegexOnFullURL matches include/exclude patterns against the full
	// URL rather than just the path.
	RegexOnFullURL bool `json:"regexOnFullURL,omitempty"`

	AllowBackwardCrawl bool `json:"allowBackwardCrawl,omitempty"`
	AllowSubdomains    bool `json:"allowSubdomains,omitempty"`
	AllowExternalLinks bool `json:"allowExternalLinks,omitempty"`
	IgnoreRobots       bool `json:"ignoreRobots,omitempty"`
	IgnoreSitemap      bool `json:"ignoreSitemap,omitempty"`

	// DedupSimilarURLs claims a whole permutation class (www/scheme/index
	// variants) when any member is claimed.
	DedupSimilarURLs bool `json:"dedupSimilarURLs,omitempty"`

	// IgnoreQueryParams strips query strings during normalisation.
	IgnoreQueryParams bool `json:"ignoreQueryParams,omitempty"`
}

// Record is the durable description of one crawl or batch operation.
// A nil Crawler policy marks a pure batch job with no link discovery.
type Record struct {
	ID        string         `json:"id"`
	OriginURL string         `json:"originUrl,omitempty"`
	TeamID    string         `json:"teamId"`
	Crawler   *CrawlerPolicy `json:"crawlerPolicy,omitempty"`

	// Scrape is passed through to fetch workers untouched.
	Scrape json.RawMessage `json:"scrapePolicy,omitempty"`

	// RobotsTxt is the snapshot fetched at kickoff so every worker
	// filters against the same rules.
	RobotsTxt string `json:"robotsTxt,omitempty"`

	Cancelled         bool      `json:"cancelled,omitempty"`
	ZeroDataRetention bool      `json:"zeroDataRetention,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// IsBatch reports whether this record describes a pure batch job, which
// skips the straggler check in the finish protocol.
func (r *Record) IsBatch() bool {
	return r.Crawler == nil
}
