// Package robots fetches and evaluates robots.txt policies.
//
// Verdicts fail open: an unreachable or unparseable robots.txt never
// blocks a crawl, it only removes restrictions.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

// maxRobotsSize caps robots.txt reads to guard against memory exhaustion.
const maxRobotsSize = 1 * 1024 * 1024

// Checker fetches robots.txt files and answers allow/deny questions.
type Checker struct {
	client    *http.Client
	userAgent string
}

// NewChecker creates a Checker that fetches with the given user agent.
// A nil client gets a default with sane timeouts and a redirect cap.
func NewChecker(client *http.Client, userAgent string) *Checker {
	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}
	return &Checker{client: client, userAgent: userAgent}
}

// Fetch retrieves <origin>/robots.txt and returns its text.
//
// A 404, or a response whose content type is HTML/JSON/XML (a soft-404
// page pretending to be robots.txt), yields an empty ruleset rather than
// an error. Network failures are returned to the caller, who should treat
// them as fully allowed.
func (c *Checker) Fetch(ctx context.Context, origin string) (string, error) {
	robotsURL := strings.TrimSuffix(origin, "/") + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create robots.txt request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		log.Debug().Str("origin", origin).Msg("No robots.txt found, no restrictions apply")
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("robots.txt returned status %d", resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	for _, soft := range []string{"text/html", "application/json", "text/xml", "application/xml"} {
		if strings.Contains(contentType, soft) {
			log.Debug().
				Str("origin", origin).
				Str("content_type", contentType).
				Msg("robots.txt has non-text content type, treating as absent")
			return "", nil
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		return "", fmt.Errorf("failed to read robots.txt: %w", err)
	}
	if len(body) == maxRobotsSize {
		log.Warn().Str("origin", origin).Int("size_bytes", len(body)).Msg("robots.txt truncated at 1MB limit")
	}

	return string(body), nil
}

// IsAllowed evaluates a URL against robots.txt text for a list of agent
// names in priority order.
//
// Beyond the plain matcher verdict, a URL without a trailing slash is also
// checked with the slash appended: if the bare form is allowed but the
// slashed form is explicitly disallowed, the verdict flips to disallowed.
// This catches path-prefix Disallow rules such as "Disallow: /private/"
// against the URL "/private".
func IsAllowed(robotsTxt, rawURL string, agents []string) bool {
	if strings.TrimSpace(robotsTxt) == "" {
		return true
	}

	data, err := robotstxt.FromString(robotsTxt)
	if err != nil {
		// Unparseable rules never block.
		log.Debug().Err(err).Msg("Failed to parse robots.txt, allowing")
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	if !allowedByAny(data, path, agents) {
		return false
	}

	// Trailing-slash fallback.
	if !strings.HasSuffix(u.EscapedPath(), "/") {
		slashed := u.EscapedPath() + "/"
		if u.RawQuery != "" {
			slashed += "?" + u.RawQuery
		}
		if !allowedByAny(data, slashed, agents) {
			return false
		}
	}

	return true
}

// allowedByAny evaluates the agents in priority order. FindGroup always
// resolves, falling back to the wildcard group, so a fallback match is
// detected by comparing against the wildcard group itself: the first
// agent with its own named group decides, and only when no agent has one
// does the wildcard verdict apply.
func allowedByAny(data *robotstxt.RobotsData, path string, agents []string) bool {
	wildcard := data.FindGroup("*")
	for _, agent := range agents {
		group := data.FindGroup(agent)
		if group == nil || group == wildcard {
			continue
		}
		return group.Test(path)
	}
	if wildcard == nil {
		return true
	}
	return wildcard.Test(path)
}
