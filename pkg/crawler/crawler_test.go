package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
	"github.com/Sriram-PR/campus-crawler/pkg/fetch"
	"github.com/Sriram-PR/campus-crawler/pkg/models"
	"github.com/Sriram-PR/campus-crawler/pkg/storage"
	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

// --- Fake multi-host site ---

type fakePage struct {
	status      int
	contentType string
	body        string
}

// fakeSite is an http.RoundTripper serving pages keyed by full URL, across any number of hosts.
// Unknown URLs answer 404.
type fakeSite struct {
	mu    sync.Mutex
	pages map[string]fakePage
	hits  map[string]int
}

func newFakeSite() *fakeSite {
	return &fakeSite{pages: make(map[string]fakePage), hits: make(map[string]int)}
}

func (s *fakeSite) html(url, body string) *fakeSite {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = fakePage{status: http.StatusOK, contentType: "text/html; charset=utf-8", body: body}
	return s
}

func (s *fakeSite) file(url, contentType, body string) *fakeSite {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = fakePage{status: http.StatusOK, contentType: contentType, body: body}
	return s
}

func (s *fakeSite) status(url string, code int) *fakeSite {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = fakePage{status: code, contentType: "text/plain", body: http.StatusText(code)}
	return s
}

func (s *fakeSite) hitCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[url]
}

func (s *fakeSite) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	key := req.URL.String()
	s.hits[key]++
	page, ok := s.pages[key]
	s.mu.Unlock()

	if !ok {
		page = fakePage{status: http.StatusNotFound, contentType: "text/plain", body: "not found"}
	}
	return &http.Response{
		StatusCode: page.status,
		Status:     fmt.Sprintf("%d %s", page.status, http.StatusText(page.status)),
		Header:     http.Header{"Content-Type": []string{page.contentType}},
		Body:       io.NopCloser(strings.NewReader(page.body)),
		Request:    req,
	}, nil
}

func links(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><main><p>School page content for testing purposes.</p><ul>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<li><a href="%s">link to %s</a></li>`, h, h)
	}
	b.WriteString("</ul></main></body></html>")
	return b.String()
}

// --- Fake resource monitor ---

type fakeMonitor struct {
	snapshots []models.ResourceSnapshot // Returned in order, the last one repeats
	calls     int
}

func (m *fakeMonitor) CheckResources(context.Context) models.ResourceSnapshot {
	i := min(m.calls, len(m.snapshots)-1)
	m.calls++
	return m.snapshots[i]
}

var healthy = models.ResourceSnapshot{CPUPercent: 10, MemoryPercent: 10, DiskPercent: 10, IsHealthy: true}

// --- Helpers ---

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testConfig(t *testing.T, dataDir string) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.StartURL = "https://school.test/"
	cfg.DataDir = dataDir
	cfg.DelayMS = 0
	cfg.LongPause = 0
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

func newTestCrawler(t *testing.T, cfg *config.AppConfig, site *fakeSite, opts Options) *Crawler {
	t.Helper()
	client := &http.Client{Transport: site}
	opts.Fetcher = fetch.NewFetcher(client, cfg, testLogger())
	if opts.Monitor == nil {
		opts.Monitor = &fakeMonitor{snapshots: []models.ResourceSnapshot{healthy}}
	}
	c, err := New(cfg, testLogger(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func crawl(t *testing.T, c *Crawler) models.CrawlCounters {
	t.Helper()
	counters, err := c.Crawl(context.Background())
	require.NoError(t, err)
	return counters
}

// --- Tests ---

func TestNew_RejectsMissingStartURL(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.StartURL = ""
	_, err := New(cfg, testLogger(), Options{})
	assert.Error(t, err)
}

func TestCrawl_CycleTerminates(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/a")).
		html("https://school.test/a", links("/b")).
		html("https://school.test/b", links("/a"))

	cfg := testConfig(t, t.TempDir())
	cfg.StartURL = "https://school.test/a"
	cfg.MaxDepth = 5

	c := newTestCrawler(t, cfg, site, Options{})
	counters := crawl(t, c)

	assert.Equal(t, int64(2), counters.PagesCrawled)
	assert.Equal(t, int64(0), counters.Errors)
	assert.Equal(t, 1, site.hitCount("https://school.test/a"))
	assert.Equal(t, 1, site.hitCount("https://school.test/b"))
	assert.Equal(t, StopFrontierEmpty, c.StopReason())
}

func TestCrawl_DepthBound(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/level1")).
		html("https://school.test/level1", links("/level2")).
		html("https://school.test/level2", links())

	cfg := testConfig(t, t.TempDir())
	cfg.MaxDepth = 1

	counters := crawl(t, newTestCrawler(t, cfg, site, Options{}))

	assert.Equal(t, int64(2), counters.PagesCrawled)
	assert.Equal(t, 1, site.hitCount("https://school.test/level1"))
	assert.Zero(t, site.hitCount("https://school.test/level2"))
}

func TestCrawl_ExternalDepthCap(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/inner")).
		html("https://school.test/inner", links("https://other.test/one")).
		html("https://other.test/one", links("https://other.test/two")).
		html("https://other.test/two", links("https://other.test/three")).
		html("https://other.test/three", links())

	cfg := testConfig(t, t.TempDir())
	cfg.MaxDepth = 5

	c := newTestCrawler(t, cfg, site, Options{})
	counters := crawl(t, c)

	// inner (depth 1) queues one at depth 2; depth 2 is not below the cap so two is never queued
	assert.Equal(t, 1, site.hitCount("https://other.test/one"))
	assert.Zero(t, site.hitCount("https://other.test/two"))
	assert.Zero(t, site.hitCount("https://other.test/three"))
	assert.Equal(t, int64(3), counters.PagesCrawled)

	assert.True(t, c.Storage().HasBeenCrawled("https://other.test/one", models.CategoryExternal))
	assert.False(t, c.Storage().HasBeenCrawled("https://other.test/one", models.CategoryPages))
}

func TestCrawl_ExternalFromStartPageFollowedOneLevel(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("https://other.test/one")).
		html("https://other.test/one", links("https://other.test/two")).
		html("https://other.test/two", links("https://other.test/three"))

	cfg := testConfig(t, t.TempDir())
	cfg.MaxDepth = 5

	crawl(t, newTestCrawler(t, cfg, site, Options{}))

	assert.Equal(t, 1, site.hitCount("https://other.test/one"))
	assert.Equal(t, 1, site.hitCount("https://other.test/two"))
	assert.Zero(t, site.hitCount("https://other.test/three"))
}

func TestCrawl_RobotsWholeSiteBlockSkipsInternalOnly(t *testing.T) {
	site := newFakeSite().
		file("https://school.test/robots.txt", "text/plain", "User-agent: *\nDisallow: /\n").
		html("https://school.test/", links("https://other.test/partner"))

	cfg := testConfig(t, t.TempDir())
	counters := crawl(t, newTestCrawler(t, cfg, site, Options{}))

	assert.Zero(t, counters.PagesCrawled)
	assert.Zero(t, site.hitCount("https://school.test/"))
}

func TestCrawl_RobotsPathRulesIgnoredByDefault(t *testing.T) {
	site := newFakeSite().
		file("https://school.test/robots.txt", "text/plain", "User-agent: *\nDisallow: /private\n").
		html("https://school.test/", links("/private")).
		html("https://school.test/private", links())

	cfg := testConfig(t, t.TempDir())
	counters := crawl(t, newTestCrawler(t, cfg, site, Options{}))

	assert.Equal(t, int64(2), counters.PagesCrawled)
	assert.Equal(t, 1, site.hitCount("https://school.test/private"))
}

func TestCrawl_RobotsStrictPathsOptIn(t *testing.T) {
	site := newFakeSite().
		file("https://school.test/robots.txt", "text/plain", "User-agent: *\nDisallow: /private\n").
		html("https://school.test/", links("/private")).
		html("https://school.test/private", links())

	cfg := testConfig(t, t.TempDir())
	cfg.RobotsStrictPaths = true
	counters := crawl(t, newTestCrawler(t, cfg, site, Options{}))

	assert.Equal(t, int64(1), counters.PagesCrawled)
	assert.Zero(t, site.hitCount("https://school.test/private"))
}

func TestCrawl_FetchErrorsCountedAndContinue(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/broken", "/missing", "/ok")).
		status("https://school.test/broken", http.StatusInternalServerError).
		html("https://school.test/ok", links())

	cfg := testConfig(t, t.TempDir())
	counters := crawl(t, newTestCrawler(t, cfg, site, Options{}))

	assert.Equal(t, int64(2), counters.PagesCrawled)
	assert.Equal(t, int64(2), counters.Errors)
	assert.Equal(t, int64(3), counters.LinksFound)
}

func TestCrawl_SavesPagesAndFiles(t *testing.T) {
	page := `<html><body><main>
<p>Welcome to the school website for families.</p>
<a href="/docs/bulletin.pdf">Bulletin</a>
<a href="/docs/fees.xlsx">Fees</a>
<a href="/docs/missing.pdf">Old</a>
<a href="https://other.test/other.pdf">Elsewhere</a>
<a href="/news">News</a>
</main></body></html>`
	site := newFakeSite().
		html("https://school.test/", page).
		html("https://school.test/news", `<p>News page links the bulletin again</p><a href="/docs/bulletin.pdf">b</a>`).
		file("https://school.test/docs/bulletin.pdf", "application/pdf", "%PDF bulletin").
		file("https://school.test/docs/fees.xlsx", "application/vnd.ms-excel", "xlsx bytes")

	dataDir := t.TempDir()
	cfg := testConfig(t, dataDir)
	c := newTestCrawler(t, cfg, site, Options{})
	counters := crawl(t, c)

	assert.Equal(t, int64(2), counters.PagesCrawled)
	assert.Equal(t, int64(2), counters.FilesDownloaded)
	assert.Equal(t, int64(1), counters.Errors, "missing.pdf fails individually")
	assert.Equal(t, 1, site.hitCount("https://school.test/docs/bulletin.pdf"))
	assert.Equal(t, 1, site.hitCount("https://school.test/docs/missing.pdf"))
	assert.Zero(t, site.hitCount("https://other.test/other.pdf"))

	store := c.Storage()
	assert.True(t, store.HasBeenCrawled("https://school.test/docs/bulletin.pdf", models.CategoryPDFs))
	assert.True(t, store.HasBeenCrawled("https://school.test/docs/fees.xlsx", models.CategoryExcel))

	text, err := os.ReadFile(store.PathFor("https://school.test/", models.CategoryPages))
	require.NoError(t, err)
	assert.Contains(t, string(text), "Welcome to the school website for families.")

	idx := store.LoadIndex()
	require.NotNil(t, idx)
	assert.Len(t, idx.Pages, 2)
	assert.Len(t, idx.PDFs, 1)
	assert.Len(t, idx.Excel, 1)
	assert.False(t, idx.LastCrawl.IsZero())
}

func TestCrawl_ResourceStopPersistsPartialIndex(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/a", "/b", "/c")).
		html("https://school.test/a", links()).
		html("https://school.test/b", links()).
		html("https://school.test/c", links())

	cfg := testConfig(t, t.TempDir())
	cfg.ResourceCheckEvery = 2
	mon := &fakeMonitor{snapshots: []models.ResourceSnapshot{
		healthy,
		{CPUPercent: 10, MemoryPercent: 10, DiskPercent: 90, IsHealthy: false},
	}}

	c := newTestCrawler(t, cfg, site, Options{Monitor: mon})
	counters := crawl(t, c)

	assert.Equal(t, StopResources, c.StopReason())
	assert.Equal(t, int64(2), counters.PagesCrawled)
	assert.Equal(t, 2, mon.calls)
	assert.Zero(t, site.hitCount("https://school.test/b"))

	idx := c.Storage().LoadIndex()
	require.NotNil(t, idx)
	assert.Len(t, idx.Pages, 2)
}

func TestCrawl_UnhealthyAtStartFetchesNothing(t *testing.T) {
	site := newFakeSite().html("https://school.test/", links())
	cfg := testConfig(t, t.TempDir())
	mon := &fakeMonitor{snapshots: []models.ResourceSnapshot{{DiskPercent: 90}}}

	c := newTestCrawler(t, cfg, site, Options{Monitor: mon})
	counters := crawl(t, c)

	assert.Zero(t, counters.PagesCrawled)
	assert.Zero(t, site.hitCount("https://school.test/"))
	_, err := os.Stat(filepath.Join(cfg.DataDir, storage.IndexFileName))
	assert.NoError(t, err, "index is written even when nothing was crawled")
}

func TestCrawl_PageLimit(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/a", "/b", "/c")).
		html("https://school.test/a", links()).
		html("https://school.test/b", links()).
		html("https://school.test/c", links())

	cfg := testConfig(t, t.TempDir())
	cfg.MaxPages = 2
	c := newTestCrawler(t, cfg, site, Options{})
	counters := crawl(t, c)

	assert.Equal(t, int64(2), counters.PagesCrawled)
	assert.Equal(t, StopPageLimit, c.StopReason())
}

func TestCrawl_CancelledContextStopsAndPersists(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/a")).
		html("https://school.test/a", links())

	cfg := testConfig(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	var progress []models.CrawlCounters
	c := newTestCrawler(t, cfg, site, Options{OnProgress: func(cc models.CrawlCounters) {
		progress = append(progress, cc)
		cancel()
	}})

	counters, err := c.Crawl(ctx)
	require.NoError(t, err)

	assert.Equal(t, StopCancelled, c.StopReason())
	assert.Equal(t, int64(1), counters.PagesCrawled)
	require.Len(t, progress, 1)
	assert.Equal(t, int64(1), progress[0].PagesCrawled)
	assert.NotNil(t, c.Storage().LoadIndex())
}

func TestCrawl_RefetchesSavedPagesWithoutSkipMode(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/a")).
		html("https://school.test/a", links())

	dataDir := t.TempDir()
	first := newTestCrawler(t, testConfig(t, dataDir), site, Options{})
	crawl(t, first)
	require.NoError(t, first.Close())

	// A link added since the first run is still discovered
	site.html("https://school.test/a", links("/new"))
	site.html("https://school.test/new", links())

	second := newTestCrawler(t, testConfig(t, dataDir), site, Options{})
	counters := crawl(t, second)

	assert.Equal(t, int64(3), counters.PagesCrawled)
	assert.Equal(t, 1, site.hitCount("https://school.test/new"))
	assert.Equal(t, 2, site.hitCount("https://school.test/a"))

	idx := second.Storage().LoadIndex()
	require.NotNil(t, idx)
	assert.Len(t, idx.Pages, 3)
}

func TestCrawl_SkipModeResume(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/a", "/docs/menu.pdf")).
		html("https://school.test/a", links("/b")).
		html("https://school.test/b", links()).
		file("https://school.test/docs/menu.pdf", "application/pdf", "%PDF menu")

	dataDir := t.TempDir()
	run := func(maxPages int) (models.CrawlCounters, *Crawler) {
		cfg := testConfig(t, dataDir)
		cfg.SkipCrawled = true
		cfg.MaxPages = maxPages
		c := newTestCrawler(t, cfg, site, Options{})
		counters := crawl(t, c)
		require.NoError(t, c.Close())
		return counters, c
	}

	// First run stops at the page cap before reaching /b
	first, _ := run(2)
	assert.Equal(t, int64(2), first.PagesCrawled)
	assert.Equal(t, int64(1), first.FilesDownloaded)
	assert.Zero(t, site.hitCount("https://school.test/b"))

	// Resume: saved pages are not refetched, recorded links lead on to /b
	second, _ := run(100)
	assert.Equal(t, int64(1), second.PagesCrawled)
	assert.Zero(t, second.FilesDownloaded)
	assert.Equal(t, 1, site.hitCount("https://school.test/"))
	assert.Equal(t, 1, site.hitCount("https://school.test/a"))
	assert.Equal(t, 1, site.hitCount("https://school.test/b"))
	assert.Equal(t, 1, site.hitCount("https://school.test/docs/menu.pdf"))

	// Unchanged site: nothing new is crawled or downloaded, recorded links are still queued
	third, c := run(100)
	assert.Zero(t, third.PagesCrawled)
	assert.Zero(t, third.FilesDownloaded)
	assert.Positive(t, third.LinksFound)
	assert.Equal(t, StopFrontierEmpty, c.StopReason())
}

func TestCrawl_SkipModeWithoutLedgerSkipsEntirely(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/a")).
		html("https://school.test/a", links())

	dataDir := t.TempDir()
	disabled := false

	for i := 0; i < 2; i++ {
		cfg := testConfig(t, dataDir)
		cfg.SkipCrawled = true
		cfg.EnableLinkLedger = &disabled
		crawl(t, newTestCrawler(t, cfg, site, Options{}))
	}

	assert.Equal(t, 1, site.hitCount("https://school.test/"))
	assert.Equal(t, 1, site.hitCount("https://school.test/a"))
	_, err := os.Stat(storage.LedgerPath(dataDir))
	assert.True(t, os.IsNotExist(err))
}

func TestCrawl_NonHTMLResponseNotCountedAsPage(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/feed")).
		file("https://school.test/feed", "application/json", `{"items":[]}`)

	cfg := testConfig(t, t.TempDir())
	counters := crawl(t, newTestCrawler(t, cfg, site, Options{}))

	assert.Equal(t, int64(1), counters.PagesCrawled)
	assert.Zero(t, counters.Errors)
	assert.Equal(t, 1, site.hitCount("https://school.test/feed"))
}

func TestCrawl_LedgerRecordsLinks(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/a", "https://other.test/x", "/docs/form.pdf")).
		html("https://school.test/a", links()).
		html("https://other.test/x", links()).
		file("https://school.test/docs/form.pdf", "application/pdf", "%PDF")

	ledger, err := storage.OpenInMemoryLedger(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	cfg := testConfig(t, t.TempDir())
	crawl(t, newTestCrawler(t, cfg, site, Options{Ledger: ledger}))

	rec, found, err := ledger.Get("https://school.test/")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0, rec.Depth)
	assert.Equal(t, []string{"https://school.test/a"}, rec.InternalLinks)
	assert.Equal(t, []string{"https://other.test/x"}, rec.ExternalLinks)
	assert.Equal(t, []models.FileRef{{URL: "https://school.test/docs/form.pdf", Type: "pdfs"}}, rec.Files)
	assert.Equal(t, 3, ledger.Count())
}

func TestCrawl_LogsLedgerSizeAndDepthDiscards(t *testing.T) {
	site := newFakeSite().html("https://school.test/", links())

	ledger, err := storage.OpenInMemoryLedger(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	require.NoError(t, ledger.Put("https://school.test/old", &models.PageRecord{Depth: 1}))

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	cfg := testConfig(t, t.TempDir())
	cfg.MaxDepth = 1
	c, err := New(cfg, logrus.NewEntry(logger), Options{
		Fetcher: fetch.NewFetcher(&http.Client{Transport: site}, cfg, testLogger()),
		Monitor: &fakeMonitor{snapshots: []models.ResourceSnapshot{healthy}},
		Ledger:  ledger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	crawl(t, c)
	c.processEntry(context.Background(), models.FrontierEntry{URL: "https://school.test/deep", Depth: 2})

	var started, discarded *logrus.Entry
	for _, e := range hook.AllEntries() {
		switch e.Message {
		case "Crawl starting":
			started = e
		case "Beyond max depth, discarded":
			discarded = e
		}
	}
	require.NotNil(t, started)
	assert.Equal(t, 1, started.Data["ledger_pages"])
	require.NotNil(t, discarded)
	assert.Equal(t, utils.CategorizeError(utils.ErrMaxDepthExceeded), discarded.Data["error_type"])
	assert.Equal(t, "Policy_MaxDepth", discarded.Data["error_type"])
	assert.Zero(t, site.hitCount("https://school.test/deep"))
}

func TestRequestDelay_HonoursDeclaredCrawlDelay(t *testing.T) {
	site := newFakeSite().
		file("https://school.test/robots.txt", "text/plain", "User-agent: *\nCrawl-delay: 5\n")

	cfg := testConfig(t, t.TempDir())
	cfg.DelayMS = 1000
	c := newTestCrawler(t, cfg, site, Options{})
	c.policy = c.robots.FetchPolicy(context.Background(), c.startURL)

	assert.Equal(t, "5s", c.requestDelay("school.test").String())
	assert.Equal(t, "1s", c.requestDelay("other.test").String())

	off := false
	cfg.HonorCrawlDelay = &off
	assert.Equal(t, "1s", c.requestDelay("school.test").String())
}

func TestCrawl_LongPauseEveryNPages(t *testing.T) {
	site := newFakeSite().
		html("https://school.test/", links("/a", "/b", "/c", "/d")).
		html("https://school.test/a", links()).
		html("https://school.test/b", links()).
		html("https://school.test/c", links()).
		html("https://school.test/d", links())

	cfg := testConfig(t, t.TempDir())
	cfg.LongPauseEvery = 2
	cfg.LongPause = 1 // Never actually slept, pause is replaced below
	c := newTestCrawler(t, cfg, site, Options{})

	pauses := 0
	c.pause = func(context.Context, time.Duration) bool {
		pauses++
		return true
	}
	counters := crawl(t, c)

	assert.Equal(t, int64(5), counters.PagesCrawled)
	assert.Equal(t, 2, pauses)
}
