package models

import "time"

// FrontierEntry is a pending unit of work owned by the crawler's frontier
type FrontierEntry struct {
	URL        string
	Depth      int
	IsExternal bool
}

// ImageRef is an image referenced by a page
type ImageRef struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// FileRef is a non-HTML document referenced by a page, tagged with its extension (without dot)
type FileRef struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// ExtractionResult is the normalized output of parsing one page
type ExtractionResult struct {
	Text            string
	InternalLinks   []string
	ExternalLinks   []string
	Images          []ImageRef
	PDFURLs         []string
	SpreadsheetURLs []string
	OtherFiles      []FileRef
}

// StoredArtifactMetadata describes one saved page or file
type StoredArtifactMetadata struct {
	URL         string    `json:"url"`
	CrawledAt   time.Time `json:"crawled_at"`
	ContentHash string    `json:"content_hash,omitempty"`
	FilePath    string    `json:"file_path"`
}

// CrawlIndex is the manifest persisted at the data root.
// It is advisory: filesystem presence is the authoritative "already crawled" signal.
type CrawlIndex struct {
	LastCrawl  time.Time                `json:"last_crawl"`
	Pages      []StoredArtifactMetadata `json:"pages"`
	PDFs       []StoredArtifactMetadata `json:"pdfs"`
	Excel      []StoredArtifactMetadata `json:"excel"`
	Images     []StoredArtifactMetadata `json:"images"`
	OtherFiles []StoredArtifactMetadata `json:"other_files"`
}

// RobotsRuleSet holds the coarse rules declared for one client identity
type RobotsRuleSet struct {
	Allowed           bool
	CrawlDelaySeconds *float64 // nil when the site declared no delay
}

// ResourceSnapshot is a single, uncached reading of host resource pressure
type ResourceSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	IsHealthy     bool    `json:"is_healthy"`
}

// CrawlCounters are the run-scoped, monotonically increasing crawl statistics
type CrawlCounters struct {
	PagesCrawled    int64 `json:"pages_crawled"`
	FilesDownloaded int64 `json:"files_downloaded"`
	LinksFound      int64 `json:"links_found"`
	Errors          int64 `json:"errors"`
}

// PageRecord is the ledger entry written after a page was fetched and extracted.
// It lets a skip-mode resume continue traversal below pages that are not re-fetched.
type PageRecord struct {
	Depth         int       `json:"depth"`
	External      bool      `json:"external"`
	ContentHash   string    `json:"content_hash,omitempty"`
	InternalLinks []string  `json:"internal_links,omitempty"`
	ExternalLinks []string  `json:"external_links,omitempty"`
	Files         []FileRef `json:"files,omitempty"` // Same-site documents, Type is the storage category
	FetchedAt     time.Time `json:"fetched_at"`
}
