package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlplane/crawlplane/internal/crawl"
)

var testAgents = []string{"CrawlPlane", "crawlplane"}

func newTestFilter(policy *crawl.CrawlerPolicy, robotsTxt string) *LinkFilter {
	if policy == nil {
		policy = &crawl.CrawlerPolicy{}
	}
	return NewLinkFilter(&crawl.Record{
		ID:        "c1",
		OriginURL: "https://example.com/blog",
		Crawler:   policy,
		RobotsTxt: robotsTxt,
	}, testAgents)
}

func TestFilterURLSameSite(t *testing.T) {
	lf := newTestFilter(&crawl.CrawlerPolicy{AllowBackwardCrawl: true}, "")

	d := lf.FilterURL("/blog/post-1", "https://example.com/blog")
	require.True(t, d.Allowed)
	assert.Equal(t, "https://example.com/blog/post-1", d.URL)

	// Relative hrefs resolve against the page they were found on.
	d = lf.FilterURL("post-2", "https://example.com/blog/")
	require.True(t, d.Allowed)
	assert.Equal(t, "https://example.com/blog/post-2", d.URL)
}

func TestFilterURLDenials(t *testing.T) {
	tests := []struct {
		name   string
		policy *crawl.CrawlerPolicy
		robots string
		href   string
		reason DenialReason
	}{
		{
			name:   "section anchor",
			href:   "#pricing",
			reason: DenySectionAnchor,
		},
		{
			name:   "mailto",
			href:   "mailto:hello@example.com",
			reason: DenySocialMedia,
		},
		{
			name:   "javascript scheme",
			href:   "javascript:void(0)",
			reason: DenyURLParseError,
		},
		{
			name:   "stylesheet",
			href:   "/blog/theme.css",
			reason: DenyFileType,
			policy: &crawl.CrawlerPolicy{AllowBackwardCrawl: true},
		},
		{
			name:   "exclude pattern",
			href:   "/blog/drafts/wip",
			reason: DenyExcludePattern,
			policy: &crawl.CrawlerPolicy{Excludes: []string{"/drafts/"}, AllowBackwardCrawl: true},
		},
		{
			name:   "include pattern miss",
			href:   "/blog/about",
			reason: DenyIncludePattern,
			policy: &crawl.CrawlerPolicy{Includes: []string{"/posts/"}, AllowBackwardCrawl: true},
		},
		{
			name:   "backward crawl",
			href:   "https://example.com/careers",
			reason: DenyBackwardCrawl,
		},
		{
			name:   "robots disallow",
			href:   "/blog/private/report",
			robots: "User-agent: *\nDisallow: /blog/private/",
			reason: DenyRobots,
			policy: &crawl.CrawlerPolicy{AllowBackwardCrawl: true},
		},
		{
			name:   "social host",
			href:   "https://twitter.com/example/status/1",
			reason: DenySocialMedia,
			policy: &crawl.CrawlerPolicy{AllowExternalLinks: true},
		},
		{
			name:   "external disabled",
			href:   "https://other.org/article",
			reason: DenyExternalLink,
		},
		{
			name:   "external with no path is noise",
			href:   "https://other.org/",
			reason: DenyExternalLink,
			policy: &crawl.CrawlerPolicy{AllowExternalLinks: true},
		},
		{
			name:   "subdomain without opt-in is external",
			href:   "https://docs.example.com/guide",
			reason: DenyExternalLink,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lf := newTestFilter(tt.policy, tt.robots)
			d := lf.FilterURL(tt.href, "https://example.com/blog")
			require.False(t, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestFilterURLSubdomainOptIn(t *testing.T) {
	lf := newTestFilter(&crawl.CrawlerPolicy{AllowSubdomains: true, AllowBackwardCrawl: true}, "")
	d := lf.FilterURL("https://docs.example.com/guide", "https://example.com/blog")
	require.True(t, d.Allowed)
	assert.Equal(t, "https://docs.example.com/guide", d.URL)
}

func TestFilterURLExternalAllowed(t *testing.T) {
	lf := newTestFilter(&crawl.CrawlerPolicy{AllowExternalLinks: true}, "")
	d := lf.FilterURL("https://other.org/article", "https://example.com/blog")
	require.True(t, d.Allowed)
}

func TestFilterURLRegexOnFullURL(t *testing.T) {
	// The exclude targets the query string, which only matches when the
	// pattern runs against the whole URL.
	policy := &crawl.CrawlerPolicy{
		Excludes:           []string{`\?page=`},
		AllowBackwardCrawl: true,
	}

	lf := newTestFilter(policy, "")
	d := lf.FilterURL("/blog/list?page=2", "https://example.com/blog")
	assert.True(t, d.Allowed, "path-only matching must not see the query")

	policy.RegexOnFullURL = true
	lf = newTestFilter(policy, "")
	d = lf.FilterURL("/blog/list?page=2", "https://example.com/blog")
	require.False(t, d.Allowed)
	assert.Equal(t, DenyExcludePattern, d.Reason)
}

func TestFilterURLInvalidPatternSkipped(t *testing.T) {
	lf := newTestFilter(&crawl.CrawlerPolicy{
		Excludes:           []string{"[broken", "/drafts/"},
		AllowBackwardCrawl: true,
	}, "")
	d := lf.FilterURL("/blog/drafts/wip", "https://example.com/blog")
	require.False(t, d.Allowed)
	assert.Equal(t, DenyExcludePattern, d.Reason)
}

func TestFilterLinksDepthLimit(t *testing.T) {
	lf := newTestFilter(&crawl.CrawlerPolicy{AllowBackwardCrawl: true}, "")

	allowed, denied := lf.FilterLinks([]string{
		"https://example.com/blog",
		"https://example.com/blog/2024/06/post",
	}, -1, 2, 0)

	assert.Equal(t, []string{"https://example.com/blog"}, allowed)
	require.Len(t, denied, 1)
	assert.Equal(t, string(DenyDepthLimit), denied[0].Reason)
}

func TestFilterLinksDiscoveryGenerationCap(t *testing.T) {
	lf := newTestFilter(&crawl.CrawlerPolicy{MaxDiscoveryDepth: 2, AllowBackwardCrawl: true}, "")

	allowed, denied := lf.FilterLinks([]string{"https://example.com/blog/a"}, -1, 0, 1)
	assert.Len(t, allowed, 1)
	assert.Empty(t, denied)

	allowed, denied = lf.FilterLinks([]string{"https://example.com/blog/a", "https://example.com/blog/b"}, -1, 0, 2)
	assert.Empty(t, allowed)
	require.Len(t, denied, 2)
	assert.Equal(t, string(DenyDiscoveryDepth), denied[0].Reason)
}

func TestFilterLinksLimitTruncation(t *testing.T) {
	lf := newTestFilter(&crawl.CrawlerPolicy{AllowBackwardCrawl: true}, "")

	links := []string{
		"https://example.com/blog/a",
		"https://example.com/blog/b",
		"https://example.com/blog/c",
		"https://example.com/blog/d",
	}
	allowed, _ := lf.FilterLinks(links, 2, 0, 0)
	assert.Equal(t, links[:2], allowed)

	allowed, _ = lf.FilterLinks(links, 0, 0, 0)
	assert.Empty(t, allowed)
}
