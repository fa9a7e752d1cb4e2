// Package discovery implements the link-discovery engine: sitemap
// traversal, HTML link extraction, and the filter that decides which
// candidate URLs a crawl will admit. Every denial carries a
// machine-readable reason so operators can see why a URL was skipped.
package discovery

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/crawlplane/crawlplane/internal/crawl"
	"github.com/crawlplane/crawlplane/internal/metrics"
	"github.com/crawlplane/crawlplane/internal/robots"
	"github.com/crawlplane/crawlplane/internal/urlutil"
)

// DenialReason classifies why a candidate link was refused.
type DenialReason string

const (
	DenyURLParseError  DenialReason = "URL_PARSE_ERROR"
	DenyDepthLimit     DenialReason = "DEPTH_LIMIT"
	DenyDiscoveryDepth DenialReason = "DISCOVERY_DEPTH"
	DenyExcludePattern DenialReason = "EXCLUDE_PATTERN"
	DenyIncludePattern DenialReason = "INCLUDE_PATTERN"
	DenyBackwardCrawl  DenialReason = "BACKWARD_CRAWLING"
	DenyRobots         DenialReason = "ROBOTS_TXT"
	DenyFileType       DenialReason = "FILE_TYPE"
	DenySectionAnchor  DenialReason = "SECTION_ANCHOR"
	DenySocialMedia    DenialReason = "SOCIAL_MEDIA"
	DenyExternalLink   DenialReason = "EXTERNAL_LINK"
)

// Decision is the outcome of filtering one candidate link.
type Decision struct {
	Allowed bool
	// URL is the resolved absolute URL when allowed.
	URL string
	// Reason explains a denial.
	Reason DenialReason
}

func allow(u string) Decision { return Decision{Allowed: true, URL: u} }

func deny(r DenialReason) Decision {
	metrics.LinksDenied.WithLabelValues(string(r)).Inc()
	return Decision{Reason: r}
}

// fileExtensions that are never crawlable pages.
var fileExtensions = []string{
	".css", ".js", ".ico", ".svg", ".tiff", ".zip", ".exe", ".dmg",
	".mp4", ".mp3", ".wav", ".pptx", ".xlsx", ".avi", ".flv",
	".woff", ".ttf", ".woff2", ".webp", ".inc",
}

// socialMediaHosts are external hosts treated as noise rather than
// crawlable content.
var socialMediaHosts = []string{
	"facebook.com", "twitter.com", "x.com", "linkedin.com",
	"instagram.com", "pinterest.com", "tiktok.com", "youtube.com",
	"reddit.com",
}

// LinkFilter applies one crawl's policy to candidate links.
type LinkFilter struct {
	policy    *crawl.CrawlerPolicy
	originURL string
	robotsTxt string
	agents    []string
	includes  []*regexp.Regexp
	excludes  []*regexp.Regexp
}

// NewLinkFilter builds a filter from a crawl record. Invalid include or
// exclude patterns are skipped, not fatal: the rest of the policy still
// applies.
func NewLinkFilter(rec *crawl.Record, agents []string) *LinkFilter {
	lf := &LinkFilter{
		policy:    rec.Crawler,
		originURL: rec.OriginURL,
		robotsTxt: rec.RobotsTxt,
		agents:    agents,
	}
	if rec.Crawler != nil {
		lf.includes = compilePatterns(rec.Crawler.Includes)
		lf.excludes = compilePatterns(rec.Crawler.Excludes)
	}
	return lf
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warn().Str("pattern", p).Err(err).Msg("Skipping invalid URL pattern")
			continue
		}
		out = append(out, re)
	}
	return out
}

// FilterURL resolves href against pageURL and classifies it under the
// crawl's policy. Depth rules are applied by FilterLinks; this method
// covers the per-link site, pattern, robots, and noise rules.
func (lf *LinkFilter) FilterURL(href, pageURL string) Decision {
	href = strings.TrimSpace(href)
	if href == "" {
		return deny(DenyURLParseError)
	}
	if strings.HasPrefix(href, "#") {
		return deny(DenySectionAnchor)
	}
	if strings.HasPrefix(strings.ToLower(href), "mailto:") || strings.HasPrefix(strings.ToLower(href), "tel:") {
		return deny(DenySocialMedia)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return deny(DenyURLParseError)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return deny(DenyURLParseError)
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return deny(DenyURLParseError)
	}
	target := resolved.String()

	if isFile(resolved) {
		return deny(DenyFileType)
	}

	if urlutil.SameSite(target, lf.originURL) {
		return lf.filterSameSite(resolved, target)
	}

	if lf.policy != nil && lf.policy.AllowSubdomains && urlutil.IsSubdomainOf(target, lf.originURL) {
		return lf.filterSameSite(resolved, target)
	}

	return lf.filterExternal(resolved, target)
}

// filterSameSite applies pattern, backward-crawl, and robots rules to a
// target on the crawl's own site.
func (lf *LinkFilter) filterSameSite(resolved *url.URL, target string) Decision {
	if d := lf.checkPatterns(resolved, target); !d.Allowed {
		return d
	}

	if lf.policy != nil && !lf.policy.AllowBackwardCrawl {
		origin, err := url.Parse(lf.originURL)
		if err == nil && !strings.HasPrefix(resolved.Path, origin.Path) {
			return deny(DenyBackwardCrawl)
		}
	}

	if lf.policy == nil || !lf.policy.IgnoreRobots {
		if !robots.IsAllowed(lf.robotsTxt, target, lf.agents) {
			return deny(DenyRobots)
		}
	}

	return allow(target)
}

// filterExternal applies the cross-site rules: external content links
// must be enabled, bare top-level pages are noise, and social hosts are
// always denied.
func (lf *LinkFilter) filterExternal(resolved *url.URL, target string) Decision {
	host := strings.TrimPrefix(strings.ToLower(resolved.Hostname()), "www.")
	for _, social := range socialMediaHosts {
		if host == social || strings.HasSuffix(host, "."+social) {
			return deny(DenySocialMedia)
		}
	}

	if lf.policy == nil || !lf.policy.AllowExternalLinks {
		return deny(DenyExternalLink)
	}

	// External links with no path segments are almost always chrome
	// (logos, "powered by" footers), not content.
	if urlutil.Depth(target) == 0 {
		return deny(DenyExternalLink)
	}

	if d := lf.checkPatterns(resolved, target); !d.Allowed {
		return d
	}
	return allow(target)
}

// checkPatterns applies the include/exclude regex lists against the path
// or the full URL, per policy.
func (lf *LinkFilter) checkPatterns(resolved *url.URL, target string) Decision {
	subject := resolved.Path
	if lf.policy != nil && lf.policy.RegexOnFullURL {
		subject = target
	}

	for _, re := range lf.excludes {
		if re.MatchString(subject) {
			return deny(DenyExcludePattern)
		}
	}
	if len(lf.includes) > 0 {
		matched := false
		for _, re := range lf.includes {
			if re.MatchString(subject) {
				matched = true
				break
			}
		}
		if !matched {
			return deny(DenyIncludePattern)
		}
	}
	return allow(target)
}

// FilterLinks applies depth and per-link rules in bulk, truncating the
// admitted list to limit. A negative limit means unlimited.
//
// generation is the crawl's discovery-generation counter: how many rounds
// of link-following produced these candidates. Once it reaches the
// policy's MaxDiscoveryDepth every link is denied, bounding the number of
// discovery rounds independently of URL path depth.
func (lf *LinkFilter) FilterLinks(links []string, limit int, maxDepth int, generation int) ([]string, []crawl.DeniedURL) {
	var denied []crawl.DeniedURL

	if limit == 0 {
		return nil, denied
	}

	if lf.policy != nil && lf.policy.MaxDiscoveryDepth > 0 && generation >= lf.policy.MaxDiscoveryDepth {
		for _, link := range links {
			metrics.LinksDenied.WithLabelValues(string(DenyDiscoveryDepth)).Inc()
			denied = append(denied, crawl.DeniedURL{URL: link, Reason: string(DenyDiscoveryDepth)})
		}
		return nil, denied
	}

	base := lf.originURL
	var allowed []string
	for _, link := range links {
		if limit > 0 && len(allowed) >= limit {
			break
		}

		if maxDepth > 0 && urlutil.Depth(link) > maxDepth {
			metrics.LinksDenied.WithLabelValues(string(DenyDepthLimit)).Inc()
			denied = append(denied, crawl.DeniedURL{URL: link, Reason: string(DenyDepthLimit)})
			continue
		}

		d := lf.FilterURL(link, base)
		if !d.Allowed {
			denied = append(denied, crawl.DeniedURL{URL: link, Reason: string(d.Reason)})
			continue
		}
		allowed = append(allowed, d.URL)
	}
	return allowed, denied
}

// isFile reports whether a URL points at a non-page asset by extension.
func isFile(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for _, ext := range fileExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
