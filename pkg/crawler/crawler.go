// Package crawler runs one breadth-first crawl of a school site: a single control flow that dequeues,
// checks policy, fetches, extracts, saves and re-enqueues, with resource-based early termination.
package crawler

import (
	"context"
	"fmt"
	"net/url"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
	"github.com/Sriram-PR/campus-crawler/pkg/extract"
	"github.com/Sriram-PR/campus-crawler/pkg/fetch"
	"github.com/Sriram-PR/campus-crawler/pkg/models"
	"github.com/Sriram-PR/campus-crawler/pkg/monitor"
	"github.com/Sriram-PR/campus-crawler/pkg/parse"
	"github.com/Sriram-PR/campus-crawler/pkg/queue"
	"github.com/Sriram-PR/campus-crawler/pkg/robots"
	"github.com/Sriram-PR/campus-crawler/pkg/storage"
	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

// ResourceChecker supplies a fresh resource reading; *monitor.Monitor implements it
type ResourceChecker interface {
	CheckResources(ctx context.Context) models.ResourceSnapshot
}

// StopReason says why the crawl loop ended
type StopReason string

const (
	StopFrontierEmpty StopReason = "frontier_empty"
	StopPageLimit     StopReason = "page_limit"
	StopResources     StopReason = "resource_limit"
	StopCancelled     StopReason = "cancelled"
)

// Options contains optional collaborators for New. Nil fields are built from the config.
type Options struct {
	Fetcher fetch.HTTPFetcher
	// HostPool is shared with other crawls to bound requests per host. Used only when Fetcher is nil.
	HostPool *fetch.HostSemaphorePool
	Monitor  ResourceChecker
	// Ledger overrides the badger ledger under the data root. Ignored when the ledger is disabled.
	Ledger storage.LinkLedger
	// ResetLedger discards previously recorded links when the crawler opens its own ledger
	ResetLedger bool
	// OnProgress is called after every frontier entry with a snapshot of the counters
	OnProgress func(models.CrawlCounters)
}

// Crawler owns one crawl run: its frontier, its processed set and its counters.
// It is not safe to call Crawl more than once.
type Crawler struct {
	cfg      *config.AppConfig
	log      *logrus.Entry
	startURL string // Normalized
	clientID string

	fetcher     fetch.HTTPFetcher
	storage     *storage.Manager
	extractor   *extract.Extractor
	robots      *robots.Loader
	policy      *robots.Policy
	monitor     ResourceChecker
	ledger      storage.LinkLedger
	ownedLedger storage.Ledger // Opened by New, closed by Close
	rateLimiter *fetch.RateLimiter
	pause       func(ctx context.Context, d time.Duration) bool

	frontier       *queue.Frontier
	processed      map[string]bool // Processed in this run
	attemptedFiles map[string]bool // File downloads tried in this run, successful or not
	added          *models.CrawlIndex
	onProgress     func(models.CrawlCounters)

	pagesCrawled    atomic.Int64
	filesDownloaded atomic.Int64
	linksFound      atomic.Int64
	errors          atomic.Int64

	lastResourceCheck int64
	stopReason        StopReason
}

// New wires a Crawler from a validated config. It fails only on setup problems:
// an unusable start URL, a data root that cannot be created or a ledger that cannot be opened.
func New(cfg *config.AppConfig, log *logrus.Entry, opts Options) (*Crawler, error) {
	if err := cfg.ValidateStartURL(); err != nil {
		return nil, err
	}
	startURL, _, err := parse.ParseAndNormalize(cfg.StartURL)
	if err != nil {
		return nil, fmt.Errorf("%w: start_url %q: %v", utils.ErrInvalidURL, cfg.StartURL, err)
	}
	log = log.WithField("start_url", startURL)

	fetcher := opts.Fetcher
	if fetcher == nil {
		f := fetch.NewFetcher(fetch.NewClient(cfg.HTTPClientSettings, log), cfg, log.WithField("component", "fetcher"))
		if opts.HostPool != nil {
			f.WithHostPool(opts.HostPool)
		}
		fetcher = f
	}

	store, err := storage.New(cfg.DataDir, fetcher, log.WithField("component", "storage"))
	if err != nil {
		return nil, err
	}

	extractor, err := extract.New(startURL, log.WithField("component", "extractor"))
	if err != nil {
		return nil, err
	}

	resources := opts.Monitor
	if resources == nil {
		resources = monitor.New(cfg.DataDir, monitor.Thresholds{
			CPUPercent:    cfg.Thresholds.CPUPercent,
			MemoryPercent: cfg.Thresholds.MemoryPercent,
			DiskPercent:   cfg.Thresholds.DiskPercent,
		}, log.WithField("component", "monitor"))
	}

	c := &Crawler{
		cfg:            cfg,
		log:            log,
		startURL:       startURL,
		clientID:       cfg.UserAgent,
		fetcher:        fetcher,
		storage:        store,
		extractor:      extractor,
		robots:         robots.NewLoader(fetcher, cfg.RobotsStrictPaths, log.WithField("component", "robots")),
		policy:         robots.Permissive(),
		monitor:        resources,
		rateLimiter:    fetch.NewRateLimiter(cfg.Delay(), log.WithField("component", "ratelimit")),
		pause:          fetch.Pause,
		frontier:       queue.NewFrontier(),
		processed:      make(map[string]bool),
		attemptedFiles: make(map[string]bool),
		added:          &models.CrawlIndex{},
		onProgress:     opts.OnProgress,
		// Forces a check before the first dequeue
		lastResourceCheck: -1,
	}

	if cfg.GetEffectiveEnableLinkLedger() {
		if opts.Ledger != nil {
			c.ledger = opts.Ledger
		} else {
			ledger, err := storage.OpenBadgerLedger(cfg.DataDir, opts.ResetLedger, log)
			if err != nil {
				return nil, err
			}
			c.ledger = ledger
			c.ownedLedger = ledger
		}
	}

	return c, nil
}

// Close releases the ledger opened by New
func (c *Crawler) Close() error {
	if c.ownedLedger == nil {
		return nil
	}
	return c.ownedLedger.Close()
}

// Counters returns a snapshot of the run counters; safe to call from any goroutine
func (c *Crawler) Counters() models.CrawlCounters {
	return models.CrawlCounters{
		PagesCrawled:    c.pagesCrawled.Load(),
		FilesDownloaded: c.filesDownloaded.Load(),
		LinksFound:      c.linksFound.Load(),
		Errors:          c.errors.Load(),
	}
}

// StopReason reports why the last Crawl ended
func (c *Crawler) StopReason() StopReason {
	return c.stopReason
}

// Storage exposes the storage manager, e.g. for index inspection after a run
func (c *Crawler) Storage() *storage.Manager {
	return c.storage
}

// Crawl runs until the frontier is empty, the page limit is reached, resources run low or ctx is cancelled.
// The index is persisted in every case. A cancelled ctx is not an error; check StopReason.
func (c *Crawler) Crawl(ctx context.Context) (models.CrawlCounters, error) {
	startTime := time.Now()
	startFields := logrus.Fields{
		"max_depth":    c.cfg.MaxDepth,
		"max_pages":    c.cfg.MaxPages,
		"skip_crawled": c.cfg.SkipCrawled,
		"data_dir":     c.cfg.DataDir,
	}
	if c.ledger != nil {
		startFields["ledger_pages"] = c.ledger.Count()
	}
	c.log.WithFields(startFields).Info("Crawl starting")

	if c.ownedLedger != nil {
		gcCtx, cancelGC := context.WithCancel(ctx)
		defer cancelGC()
		go c.ownedLedger.RunGC(gcCtx, 0)
	}

	c.frontier.Push(models.FrontierEntry{URL: c.startURL, Depth: 0})

	c.policy = c.robots.FetchPolicy(ctx, c.startURL)
	if secs, declared := c.policy.DeclaredCrawlDelay(c.clientID); declared {
		c.log.WithField("crawl_delay_seconds", secs).Info("Site declares a crawl delay")
	}

	c.stopReason = c.runLoop(ctx)

	_, persistErr := c.storage.PersistIndex(c.added)
	if persistErr != nil {
		c.log.WithError(persistErr).Error("Failed to persist crawl index")
	}

	counters := c.Counters()
	summaryLog := c.log.WithFields(logrus.Fields{
		"stop_reason":      c.stopReason,
		"duration":         time.Since(startTime).String(),
		"pages_crawled":    counters.PagesCrawled,
		"files_downloaded": counters.FilesDownloaded,
		"links_found":      counters.LinksFound,
		"errors":           counters.Errors,
		"queued":           c.frontier.Len(),
	})
	summaryLog.Info("CRAWL FINISHED")

	if persistErr != nil {
		return counters, persistErr
	}
	return counters, nil
}

func (c *Crawler) runLoop(ctx context.Context) StopReason {
	for {
		if ctx.Err() != nil {
			c.log.WithError(ctx.Err()).Warn("Crawl cancelled, stopping")
			return StopCancelled
		}
		if c.pagesCrawled.Load() >= int64(c.cfg.MaxPages) {
			return StopPageLimit
		}
		if c.frontier.Len() == 0 {
			return StopFrontierEmpty
		}

		if c.resourceCheckDue() {
			snap := c.monitor.CheckResources(ctx)
			if !snap.IsHealthy {
				c.log.WithFields(logrus.Fields{
					"cpu_percent":    snap.CPUPercent,
					"memory_percent": snap.MemoryPercent,
					"disk_percent":   snap.DiskPercent,
				}).Warn("Host resources over threshold, stopping crawl early")
				return StopResources
			}
		}

		entry, ok := c.frontier.Pop()
		if !ok {
			return StopFrontierEmpty
		}
		c.processEntry(ctx, entry)

		if c.onProgress != nil {
			c.onProgress(c.Counters())
		}
	}
}

// resourceCheckDue is true once per multiple of ResourceCheckEvery pages, starting at zero
func (c *Crawler) resourceCheckDue() bool {
	every := int64(max(c.cfg.ResourceCheckEvery, 1))
	pages := c.pagesCrawled.Load()
	if pages == c.lastResourceCheck || pages%every != 0 {
		return false
	}
	c.lastResourceCheck = pages
	return true
}

// processEntry takes one frontier entry through policy, fetch, extract, persist and re-enqueue.
// Nothing that goes wrong here escapes the entry.
func (c *Crawler) processEntry(ctx context.Context, entry models.FrontierEntry) {
	entryLog := c.log.WithFields(logrus.Fields{"url": entry.URL, "depth": entry.Depth, "external": entry.IsExternal})

	defer func() {
		if r := recover(); r != nil {
			c.errors.Add(1)
			entryLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered while processing entry")
		}
	}()

	if entry.Depth > c.cfg.MaxDepth {
		entryLog.WithField("error_type", utils.CategorizeError(utils.ErrMaxDepthExceeded)).Debug("Beyond max depth, discarded")
		return
	}
	if c.processed[entry.URL] {
		return
	}
	c.processed[entry.URL] = true

	if !entry.IsExternal && !c.policy.IsAllowed(entry.URL, c.clientID) {
		entryLog.WithField("error_type", utils.CategorizeError(utils.ErrRobotsDisallowed)).Info("Skipped: disallowed by robots policy")
		return
	}

	category := pageCategory(entry.IsExternal)
	alreadyCrawled := c.storage.HasBeenCrawled(entry.URL, category)
	if c.cfg.SkipCrawled && alreadyCrawled {
		c.replay(ctx, entry, entryLog)
		return
	}

	resp, err := c.get(ctx, entry.URL)
	if err != nil {
		c.errors.Add(1)
		entryLog.WithFields(logrus.Fields{"error_type": utils.CategorizeError(err), "error": err}).Warn("Page fetch failed")
		return
	}
	if !resp.IsHTML() {
		entryLog.WithField("content_type", resp.ContentType).Info("Skipped: not an HTML page")
		return
	}

	baseURL := resp.URL
	if baseURL == "" {
		baseURL = entry.URL
	}
	result, err := c.extractor.Extract(resp.Body, baseURL)
	if err != nil {
		c.errors.Add(1)
		entryLog.WithFields(logrus.Fields{"error_type": utils.CategorizeError(err), "error": err}).Warn("Extraction failed")
		return
	}
	pages := c.pagesCrawled.Add(1)
	c.linksFound.Add(int64(len(result.InternalLinks) + len(result.ExternalLinks)))

	if !alreadyCrawled {
		meta, err := c.storage.SavePage(entry.URL, result.Text, entry.IsExternal)
		if err != nil {
			c.errors.Add(1)
			entryLog.WithFields(logrus.Fields{"error_type": utils.CategorizeError(err), "error": err}).Error("Failed to save page text")
		} else {
			storage.AddRecord(c.added, category, meta)
		}
	}

	files := c.fileTargets(result)
	c.downloadFiles(ctx, files, entryLog)
	queued := c.enqueueLinks(entry, result.InternalLinks, result.ExternalLinks)

	if c.ledger != nil {
		record := &models.PageRecord{
			Depth:         entry.Depth,
			External:      entry.IsExternal,
			ContentHash:   utils.CalculateStringSHA256(result.Text),
			InternalLinks: result.InternalLinks,
			ExternalLinks: result.ExternalLinks,
			Files:         files,
			FetchedAt:     time.Now().UTC(),
		}
		if err := c.ledger.Put(entry.URL, record); err != nil {
			entryLog.WithError(err).Warn("Failed to record page links in ledger")
		}
	}

	entryLog.WithFields(logrus.Fields{
		"internal_links": len(result.InternalLinks),
		"external_links": len(result.ExternalLinks),
		"files":          len(files),
		"queued":         queued,
		"saved":          !alreadyCrawled,
	}).Info("Page processed")

	if c.cfg.LongPause > 0 && c.cfg.LongPauseEvery > 0 && pages%int64(c.cfg.LongPauseEvery) == 0 {
		entryLog.WithField("pause", c.cfg.LongPause.String()).Info("Long pause for host recovery")
		c.pause(ctx, c.cfg.LongPause)
	}
}

// replay continues traversal below a page that skip mode did not refetch, using its recorded links and files
func (c *Crawler) replay(ctx context.Context, entry models.FrontierEntry, entryLog *logrus.Entry) {
	if c.ledger == nil {
		entryLog.Debug("Skipped: already on disk")
		return
	}
	record, found, err := c.ledger.Get(entry.URL)
	if err != nil {
		entryLog.WithError(err).Warn("Ledger lookup failed, skipping saved page")
		return
	}
	if !found {
		entryLog.Debug("Skipped: already on disk, no recorded links")
		return
	}

	c.linksFound.Add(int64(len(record.InternalLinks) + len(record.ExternalLinks)))
	c.downloadFiles(ctx, record.Files, entryLog)
	queued := c.enqueueLinks(entry, record.InternalLinks, record.ExternalLinks)
	entryLog.WithField("queued", queued).Debug("Skipped: already on disk, replayed recorded links")
}

// enqueueLinks queues links one level deeper; returns how many were new.
// External links are followed only while depth is below the external cap.
func (c *Crawler) enqueueLinks(entry models.FrontierEntry, internal, external []string) int {
	if entry.Depth >= c.cfg.MaxDepth {
		return 0
	}
	next := entry.Depth + 1
	queued := 0
	for _, link := range internal {
		if c.frontier.Push(models.FrontierEntry{URL: link, Depth: next}) {
			queued++
		}
	}
	if entry.Depth < c.cfg.ExternalDepthCap {
		for _, link := range external {
			if c.frontier.Push(models.FrontierEntry{URL: link, Depth: next, IsExternal: true}) {
				queued++
			}
		}
	}
	return queued
}

// fileTargets lists the documents of result to download, Type holding the storage category
func (c *Crawler) fileTargets(result *models.ExtractionResult) []models.FileRef {
	var files []models.FileRef
	for _, u := range result.PDFURLs {
		files = append(files, models.FileRef{URL: u, Type: string(models.CategoryPDFs)})
	}
	for _, u := range result.SpreadsheetURLs {
		files = append(files, models.FileRef{URL: u, Type: string(models.CategoryExcel)})
	}
	if c.cfg.DownloadOtherFiles {
		for _, f := range result.OtherFiles {
			files = append(files, models.FileRef{URL: f.URL, Type: string(models.CategoryOther)})
		}
	}
	if c.cfg.DownloadImages {
		for _, img := range result.Images {
			if u, err := url.Parse(img.URL); err == nil && c.extractor.IsInternal(u) {
				files = append(files, models.FileRef{URL: img.URL, Type: string(models.CategoryImages)})
			}
		}
	}
	return files
}

// downloadFiles saves each file not yet on disk; failures are counted and skipped individually
func (c *Crawler) downloadFiles(ctx context.Context, files []models.FileRef, entryLog *logrus.Entry) {
	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		category := models.Category(f.Type)
		if !category.IsValid() || category.IsPage() || c.attemptedFiles[f.URL] {
			continue
		}
		c.attemptedFiles[f.URL] = true
		if c.storage.HasBeenCrawled(f.URL, category) {
			continue
		}

		fileLog := entryLog.WithFields(logrus.Fields{"file_url": f.URL, "category": category})
		host := hostOf(f.URL)
		c.rateLimiter.ApplyDelay(ctx, host, c.requestDelay(host))
		meta, err := c.storage.SaveFile(ctx, f.URL, category)
		c.rateLimiter.UpdateLastRequestTime(host)
		if err != nil {
			c.errors.Add(1)
			fileLog.WithFields(logrus.Fields{"error_type": utils.CategorizeError(err), "error": err}).Warn("File download failed")
			continue
		}
		c.filesDownloaded.Add(1)
		storage.AddRecord(c.added, category, meta)
		fileLog.Debug("File downloaded")
	}
}

// get fetches a page under the per-host rate limit
func (c *Crawler) get(ctx context.Context, rawURL string) (*fetch.Response, error) {
	host := hostOf(rawURL)
	c.rateLimiter.ApplyDelay(ctx, host, c.requestDelay(host))
	resp, err := c.fetcher.Get(ctx, rawURL)
	c.rateLimiter.UpdateLastRequestTime(host)
	return resp, err
}

// requestDelay is the configured delay, raised to the site's declared Crawl-delay for the crawled site
func (c *Crawler) requestDelay(host string) time.Duration {
	delay := c.cfg.Delay()
	if !c.cfg.GetEffectiveHonorCrawlDelay() || host != c.extractor.Domain() {
		return delay
	}
	if secs, ok := c.policy.DeclaredCrawlDelay(c.clientID); ok {
		if declared := time.Duration(secs * float64(time.Second)); declared > delay {
			return declared
		}
	}
	return delay
}

func pageCategory(external bool) models.Category {
	if external {
		return models.CategoryExternal
	}
	return models.CategoryPages
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
