package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlplane/crawlplane/internal/crawl"
	"github.com/crawlplane/crawlplane/internal/frontier"
	"github.com/crawlplane/crawlplane/internal/store"
)

// sitemapSite serves a root urlset with five pages plus a nested
// sitemap index that resolves to three more pages.
func sitemapSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/page-1</loc></url>
  <url><loc>%[1]s/page-2</loc></url>
  <url><loc>%[1]s/page-3</loc></url>
  <url><loc>%[1]s/page-4</loc></url>
  <url><loc>%[1]s/page-5</loc></url>
  <url><loc>%[1]s/nested.xml</loc></url>
</urlset>`, server.URL)
	})
	mux.HandleFunc("/nested.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/child.xml</loc></sitemap>
</sitemapindex>`, server.URL)
	})
	mux.HandleFunc("/child.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/page-6</loc></url>
  <url><loc>%[1]s/page-7</loc></url>
  <url><loc>%[1]s/page-8</loc></url>
</urlset>`, server.URL)
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newSitemapTest(t *testing.T, origin string, policy *crawl.CrawlerPolicy) (*Engine, *crawl.Record, *LinkFilter) {
	t.Helper()
	s := store.NewMemoryStore()
	rec := &crawl.Record{
		ID:        "c1",
		OriginURL: origin,
		Crawler:   policy,
		RobotsTxt: "Sitemap: " + origin + "/sitemap.xml\n",
	}
	engine := NewEngine(s, frontier.New(s), nil, "CrawlPlane/1.0")
	return engine, rec, NewLinkFilter(rec, testAgents)
}

func TestDiscoverFromSitemapsCountsPagesNotSitemaps(t *testing.T) {
	server := sitemapSite(t)
	engine, rec, filter := newSitemapTest(t, server.URL, &crawl.CrawlerPolicy{AllowBackwardCrawl: true})
	ctx := context.Background()

	var emitted []string
	pages, denied, err := engine.DiscoverFromSitemaps(ctx, rec, filter, func(_ context.Context, urls []string) error {
		emitted = append(emitted, urls...)
		return nil
	})
	require.NoError(t, err)

	// Eight pages: the nested sitemap entries are traversal structure,
	// not discovered pages.
	assert.Equal(t, 8, pages)
	assert.Len(t, emitted, 8)
	assert.Empty(t, denied)
}

func TestDiscoverFromSitemapsSkipsAlreadyClaimed(t *testing.T) {
	server := sitemapSite(t)
	policy := &crawl.CrawlerPolicy{AllowBackwardCrawl: true}
	engine, rec, filter := newSitemapTest(t, server.URL, policy)
	ctx := context.Background()

	// The seed page was claimed at kickoff; the sitemap lists it too.
	won, err := engine.frontier.TryClaim(ctx, rec.ID, server.URL+"/page-1", policy)
	require.NoError(t, err)
	require.True(t, won)

	var emitted []string
	pages, _, err := engine.DiscoverFromSitemaps(ctx, rec, filter, func(_ context.Context, urls []string) error {
		emitted = append(emitted, urls...)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 8, pages)
	assert.Len(t, emitted, 7)
	assert.NotContains(t, emitted, server.URL+"/page-1")
}

func TestDiscoverFromSitemapsRespectsLimit(t *testing.T) {
	server := sitemapSite(t)
	engine, rec, filter := newSitemapTest(t, server.URL, &crawl.CrawlerPolicy{
		Limit:              3,
		AllowBackwardCrawl: true,
	})
	ctx := context.Background()

	var emitted []string
	_, _, err := engine.DiscoverFromSitemaps(ctx, rec, filter, func(_ context.Context, urls []string) error {
		emitted = append(emitted, urls...)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, emitted, 3)
}

func TestDiscoverFromSitemapsFiltersPages(t *testing.T) {
	server := sitemapSite(t)
	engine, rec, filter := newSitemapTest(t, server.URL, &crawl.CrawlerPolicy{
		Excludes:           []string{"/page-2"},
		AllowBackwardCrawl: true,
	})
	ctx := context.Background()

	var emitted []string
	pages, denied, err := engine.DiscoverFromSitemaps(ctx, rec, filter, func(_ context.Context, urls []string) error {
		emitted = append(emitted, urls...)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 8, pages)
	assert.Len(t, emitted, 7)
	require.Len(t, denied, 1)
	assert.Equal(t, server.URL+"/page-2", denied[0].URL)
	assert.Equal(t, string(DenyExcludePattern), denied[0].Reason)
}

func TestDiscoverFromSitemapsTraversesEachSitemapOnce(t *testing.T) {
	server := sitemapSite(t)
	engine, rec, filter := newSitemapTest(t, server.URL, &crawl.CrawlerPolicy{AllowBackwardCrawl: true})
	ctx := context.Background()

	emit := func(_ context.Context, _ []string) error { return nil }
	_, _, err := engine.DiscoverFromSitemaps(ctx, rec, filter, emit)
	require.NoError(t, err)

	// A second traversal finds every sitemap already visited and yields
	// nothing new.
	pages, _, err := engine.DiscoverFromSitemaps(ctx, rec, filter, emit)
	require.NoError(t, err)
	assert.Equal(t, 0, pages)
}

func TestDiscoverFromSitemapsMissingSitemap(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	engine, rec, filter := newSitemapTest(t, server.URL, &crawl.CrawlerPolicy{AllowBackwardCrawl: true})
	rec.RobotsTxt = ""
	ctx := context.Background()

	pages, _, err := engine.DiscoverFromSitemaps(ctx, rec, filter, func(_ context.Context, _ []string) error {
		t.Fatal("nothing should be emitted")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, pages)
}

func TestSitemapCandidates(t *testing.T) {
	robotsTxt := "User-agent: *\nDisallow: /private/\nSitemap: https://example.com/custom.xml\nsitemap: https://example.com/news.xml\n"

	declared, conventional := SitemapCandidates("https://example.com/start", robotsTxt)
	assert.Equal(t, []string{
		"https://example.com/custom.xml",
		"https://example.com/news.xml",
	}, declared)
	assert.Equal(t, []string{
		"https://example.com/sitemap.xml",
		"https://example.com/sitemap_index.xml",
	}, conventional)
}

func TestStageTracking(t *testing.T) {
	s := store.NewMemoryStore()
	engine := NewEngine(s, frontier.New(s), nil, "CrawlPlane/1.0")
	ctx := context.Background()

	stage, err := engine.GetStage(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, StageSeeding, stage)

	require.NoError(t, engine.SetStage(ctx, "c1", StageSitemapScan))
	stage, err = engine.GetStage(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, StageSitemapScan, stage)
}
