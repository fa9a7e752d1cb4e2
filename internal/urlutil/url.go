// Package urlutil contains the pure URL canonicalisation functions the
// frontier and discovery engine are built on.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalise produces the comparable form of a URL: scheme and host are
// lowercased, the fragment is stripped unless it denotes an SPA-style hash
// route, and the query string is stripped when stripQuery is set.
// It is deterministic and total for syntactically valid URLs.
func Normalise(raw string, stripQuery bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URL")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL %q missing scheme or host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if !isSPARoute(u.Fragment) {
		u.Fragment = ""
		u.RawFragment = ""
	}
	if stripQuery {
		u.RawQuery = ""
	}

	return u.String(), nil
}

// isSPARoute reports whether a fragment looks like a hash-router path
// ("#/settings/profile") rather than a section anchor ("#pricing").
// Hash routes identify distinct pages and must survive normalisation.
func isSPARoute(fragment string) bool {
	return len(fragment) > 1 && strings.HasPrefix(fragment, "/")
}

// Permute returns every URL variant considered equivalent to raw for
// deduplication: {www, non-www} x {http, https} x {bare path, explicit
// slash, /index.html, /index.php}. The result is deduplicated and in a
// canonical order, so the first element is a stable representative of the
// whole permutation class regardless of which member it was derived from.
//
// For an unparseable input the input itself is returned, keeping the
// result non-empty.
func Permute(raw string) []string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return []string{raw}
	}

	host := strings.ToLower(u.Host)
	bareHost := strings.TrimPrefix(host, "www.")

	// Trim the slash on both sides of the index trims so that
	// "/docs/index.php/" and "/docs/index.php" reduce to the same base
	// and land in the same class.
	basePath := u.EscapedPath()
	basePath = strings.TrimSuffix(basePath, "/")
	basePath = strings.TrimSuffix(basePath, "/index.html")
	basePath = strings.TrimSuffix(basePath, "/index.php")
	basePath = strings.TrimSuffix(basePath, "/")

	suffix := ""
	if u.RawQuery != "" {
		suffix = "?" + u.RawQuery
	}

	var out []string
	seen := make(map[string]struct{})
	for _, scheme := range []string{"https", "http"} {
		for _, h := range []string{bareHost, "www." + bareHost} {
			for _, p := range []string{basePath + "/", basePath, basePath + "/index.html", basePath + "/index.php"} {
				v := scheme + "://" + h + p + suffix
				if _, dup := seen[v]; dup {
					continue
				}
				seen[v] = struct{}{}
				out = append(out, v)
			}
		}
	}
	return out
}

// Representative returns the canonical member of a URL's permutation
// class, which is what the frontier stores when similar-URL
// deduplication is enabled.
func Representative(raw string) string {
	return Permute(raw)[0]
}

// Depth counts the non-empty path segments of a URL, ignoring index.html
// and index.php segments. "https://example.com/blog/post" has depth 2;
// "https://example.com/index.html" has depth 0.
func Depth(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	depth := 0
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == "" || seg == "index.html" || seg == "index.php" {
			continue
		}
		depth++
	}
	return depth
}

// Origin returns the scheme://host portion of a URL.
func Origin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL %q missing scheme or host", raw)
	}
	return u.Scheme + "://" + strings.ToLower(u.Host), nil
}

// Hostname returns the lowercased host of a URL without any www prefix or
// port, or "" if the URL cannot be parsed.
func Hostname(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// SameSite reports whether two URLs share a hostname, treating www and
// non-www as the same site.
func SameSite(a, b string) bool {
	ha, hb := Hostname(a), Hostname(b)
	return ha != "" && ha == hb
}

// IsSubdomainOf reports whether candidate's host is a subdomain of base's
// host (and not the same host).
func IsSubdomainOf(candidate, base string) bool {
	hc, hb := Hostname(candidate), Hostname(base)
	if hc == "" || hb == "" || hc == hb {
		return false
	}
	return strings.HasSuffix(hc, "."+hb)
}
