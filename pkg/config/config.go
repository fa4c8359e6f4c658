package config

import "time"

// AppConfig holds the configuration of one crawl run plus the shared infrastructure settings
type AppConfig struct {
	StartURL           string           `yaml:"start_url"`
	MaxDepth           int              `yaml:"max_depth"`
	MaxPages           int              `yaml:"max_pages"`
	DelayMS            int              `yaml:"delay_ms"` // Inter-request delay in milliseconds
	UserAgent          string           `yaml:"user_agent"`
	DataDir            string           `yaml:"data_dir"`
	SkipCrawled        bool             `yaml:"skip_crawled"` // Fast resume: never refetch pages already on disk
	ExternalDepthCap   int              `yaml:"external_depth_cap"`
	ResourceCheckEvery int              `yaml:"resource_check_every"` // Sample host resources every N pages
	LongPauseEvery     int              `yaml:"long_pause_every"`     // Successful pages between long pauses
	LongPause          time.Duration    `yaml:"long_pause"`
	RobotsStrictPaths  bool             `yaml:"robots_strict_paths,omitempty"`
	HonorCrawlDelay    *bool            `yaml:"honor_crawl_delay,omitempty"`
	EnableLinkLedger   *bool            `yaml:"enable_link_ledger,omitempty"`
	DownloadImages     bool             `yaml:"download_images,omitempty"`
	DownloadOtherFiles bool             `yaml:"download_other_files,omitempty"`
	MaxBodyBytes       int64            `yaml:"max_body_bytes,omitempty"`
	MaxRetries         int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay  time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration    `yaml:"max_retry_delay,omitempty"`
	Thresholds         ThresholdConfig  `yaml:"thresholds"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Jobs               JobsConfig       `yaml:"jobs,omitempty"`
}

// ThresholdConfig holds the resource percentages at or above which the host counts as unhealthy
type ThresholdConfig struct {
	CPUPercent    float64 `yaml:"cpu_percent"`
	MemoryPercent float64 `yaml:"memory_percent"`
	DiskPercent   float64 `yaml:"disk_percent"`
}

// JobsConfig holds settings for the background crawl job queue
type JobsConfig struct {
	Workers int `yaml:"workers,omitempty"` // Concurrent crawl jobs (distinct data roots only)
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout             time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns        int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	DialerTimeout       time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive     time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
	MaxRedirects        int           `yaml:"max_redirects,omitempty"`
}

// Delay returns the configured inter-request delay as a duration
func (c *AppConfig) Delay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}

// GetEffectiveHonorCrawlDelay reports whether a declared Crawl-delay may raise the inter-request delay
// Unset means enabled
func (c *AppConfig) GetEffectiveHonorCrawlDelay() bool {
	if c.HonorCrawlDelay != nil {
		return *c.HonorCrawlDelay
	}
	return true
}

// GetEffectiveEnableLinkLedger reports whether per-page outbound links are recorded for skip-mode replay
// Unset means enabled
func (c *AppConfig) GetEffectiveEnableLinkLedger() bool {
	if c.EnableLinkLedger != nil {
		return *c.EnableLinkLedger
	}
	return true
}
