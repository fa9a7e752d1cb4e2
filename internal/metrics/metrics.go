// Package metrics defines the Prometheus instruments for the crawl core.
// Everything registers on the default registry; cmd/app exposes /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClaimsWon counts URL claims that succeeded (URL newly admitted).
	ClaimsWon = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crawlplane",
		Subsystem: "frontier",
		Name:      "claims_won_total",
		Help:      "URL claims that admitted a new URL to the frontier.",
	})

	// ClaimsLost counts claims that lost to a prior or concurrent claim.
	ClaimsLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crawlplane",
		Subsystem: "frontier",
		Name:      "claims_lost_total",
		Help:      "URL claims rejected because the URL was already claimed.",
	})

	// ClaimsOverLimit counts claims rejected by the crawl's link limit.
	ClaimsOverLimit = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crawlplane",
		Subsystem: "frontier",
		Name:      "claims_over_limit_total",
		Help:      "URL claims rejected because the crawl reached its link limit.",
	})

	// LinksDenied counts discovery-time denials by reason.
	LinksDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crawlplane",
		Subsystem: "discovery",
		Name:      "links_denied_total",
		Help:      "Candidate links denied during discovery, by reason.",
	}, []string{"reason"})

	// SitemapPages counts pages streamed out of sitemap traversal.
	SitemapPages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crawlplane",
		Subsystem: "discovery",
		Name:      "sitemap_pages_total",
		Help:      "Page URLs yielded by sitemap traversal.",
	})

	// CrawlsFinished counts terminal finish transitions.
	CrawlsFinished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crawlplane",
		Subsystem: "reconcile",
		Name:      "crawls_finished_total",
		Help:      "Crawls that reached the terminal finished state.",
	})

	// CrawlsReopened counts pre-finished crawls re-opened by stragglers.
	CrawlsReopened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crawlplane",
		Subsystem: "reconcile",
		Name:      "crawls_reopened_total",
		Help:      "Pre-finished crawls re-opened after stragglers were found.",
	})
)
