package discovery

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// srcdoc iframes can nest, but real pages rarely go deep. The cap stops
// adversarial nesting.
const maxSrcdocDepth = 3

// ExtractLinks pulls candidate hrefs out of an HTML document, including
// anchors inside inline iframe srcdoc documents. Hrefs are returned raw
// and in document order, deduplicated; resolution against the page URL
// happens in the filter.
//
// A <base href> in the document shifts relative resolution, so the
// effective base URL is returned alongside the links.
func ExtractLinks(html, pageURL string) ([]string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, pageURL, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved := resolveBase(pageURL, href); resolved != "" {
			base = resolved
		}
	}

	seen := make(map[string]struct{})
	var links []string
	collectLinks(doc.Selection, seen, &links, 0)
	return links, base, nil
}

func collectLinks(sel *goquery.Selection, seen map[string]struct{}, links *[]string, depth int) {
	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		*links = append(*links, href)
	})

	if depth >= maxSrcdocDepth {
		return
	}
	sel.Find("iframe[srcdoc]").Each(func(_ int, frame *goquery.Selection) {
		srcdoc, ok := frame.Attr("srcdoc")
		if !ok || srcdoc == "" {
			return
		}
		inner, err := goquery.NewDocumentFromReader(strings.NewReader(srcdoc))
		if err != nil {
			return
		}
		collectLinks(inner.Selection, seen, links, depth+1)
	})
}

func resolveBase(pageURL, href string) string {
	page, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return page.ResolveReference(ref).String()
}
