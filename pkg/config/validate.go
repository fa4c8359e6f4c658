package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

// Defaults applied by Validate
const (
	DefaultMaxDepth           = 4
	DefaultMaxPages           = 2000
	DefaultDelayMS            = 1000
	DefaultUserAgent          = "CampusCrawler/1.0"
	DefaultDataDir            = "./data"
	DefaultExternalDepthCap   = 2
	DefaultResourceCheckEvery = 10
	DefaultLongPauseEvery     = 20
	DefaultLongPause          = 10 * time.Second
	DefaultCPUThreshold       = 80.0
	DefaultMemoryThreshold    = 80.0
	DefaultDiskThreshold      = 85.0
	DefaultMaxBodyBytes       = 50 << 20
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
// The start URL is checked separately by ValidateStartURL so that commands
// which never crawl (health, serve) can share the same config file.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// MaxDepth
	if c.MaxDepth < 0 {
		warnings = append(warnings, fmt.Sprintf("max_depth cannot be negative, defaulting to %d", DefaultMaxDepth))
		c.MaxDepth = DefaultMaxDepth
	} else if c.MaxDepth == 0 {
		warnings = append(warnings, fmt.Sprintf("max_depth must be at least 1, defaulting to %d", DefaultMaxDepth))
		c.MaxDepth = DefaultMaxDepth
	}

	// MaxPages
	if c.MaxPages <= 0 {
		if c.MaxPages < 0 {
			warnings = append(warnings, fmt.Sprintf("max_pages cannot be negative, defaulting to %d", DefaultMaxPages))
		}
		c.MaxPages = DefaultMaxPages
	}

	// DelayMS: zero disables the pause, Default() carries the 1000 ms default
	if c.DelayMS < 0 {
		warnings = append(warnings, fmt.Sprintf("delay_ms cannot be negative, defaulting to %d", DefaultDelayMS))
		c.DelayMS = DefaultDelayMS
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	if c.DataDir == "" {
		warnings = append(warnings, fmt.Sprintf("data_dir is empty, defaulting to '%s'", DefaultDataDir))
		c.DataDir = DefaultDataDir
	}

	if c.ExternalDepthCap <= 0 {
		c.ExternalDepthCap = DefaultExternalDepthCap
	}
	if c.ResourceCheckEvery <= 0 {
		c.ResourceCheckEvery = DefaultResourceCheckEvery
	}
	if c.LongPauseEvery <= 0 {
		c.LongPauseEvery = DefaultLongPauseEvery
	}
	if c.LongPause < 0 {
		warnings = append(warnings, "long_pause cannot be negative, disabling long pauses")
		c.LongPause = 0
	}

	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	warnings = append(warnings, c.Thresholds.validate()...)

	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 1
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil // AppConfig validation never fails fatally
}

// validate fills unset thresholds and clamps out-of-range ones
func (t *ThresholdConfig) validate() (warnings []string) {
	fix := func(name string, v *float64, def float64) {
		switch {
		case *v == 0:
			*v = def
		case *v < 0 || *v > 100:
			warnings = append(warnings, fmt.Sprintf("thresholds.%s must be within (0, 100], defaulting to %.0f", name, def))
			*v = def
		}
	}
	fix("cpu_percent", &t.CPUPercent, DefaultCPUThreshold)
	fix("memory_percent", &t.MemoryPercent, DefaultMemoryThreshold)
	fix("disk_percent", &t.DiskPercent, DefaultDiskThreshold)
	return warnings
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 30 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 20
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = 10
	}
}

// ValidateStartURL checks that a crawl target is configured and is an absolute http(s) URL
func (c *AppConfig) ValidateStartURL() error {
	if c.StartURL == "" {
		return fmt.Errorf("%w: start_url is required", utils.ErrConfigValidation)
	}
	u, err := url.Parse(c.StartURL)
	if err != nil {
		return fmt.Errorf("%w: start_url %q: %v", utils.ErrConfigValidation, c.StartURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: start_url %q must be an absolute http(s) URL", utils.ErrConfigValidation, c.StartURL)
	}
	return nil
}
