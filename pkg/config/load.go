package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

// Environment variables recognised by ApplyEnv
const (
	EnvStartURL        = "CRAWL_START_URL"
	EnvMaxDepth        = "CRAWL_MAX_DEPTH"
	EnvMaxPages        = "CRAWL_MAX_PAGES"
	EnvDelayMS         = "CRAWL_DELAY_MS"
	EnvUserAgent       = "CRAWL_USER_AGENT"
	EnvDataDir         = "CRAWL_DATA_DIR"
	EnvSkipCrawled     = "CRAWL_SKIP_CRAWLED"
	EnvCPUThreshold    = "CRAWL_CPU_THRESHOLD"
	EnvMemoryThreshold = "CRAWL_MEMORY_THRESHOLD"
	EnvDiskThreshold   = "CRAWL_DISK_THRESHOLD"
)

// Default returns a config populated with every default, before any file or environment is applied
func Default() *AppConfig {
	cfg := &AppConfig{
		MaxDepth:           DefaultMaxDepth,
		MaxPages:           DefaultMaxPages,
		DelayMS:            DefaultDelayMS,
		UserAgent:          DefaultUserAgent,
		DataDir:            DefaultDataDir,
		ExternalDepthCap:   DefaultExternalDepthCap,
		ResourceCheckEvery: DefaultResourceCheckEvery,
		LongPauseEvery:     DefaultLongPauseEvery,
		LongPause:          DefaultLongPause,
		Thresholds: ThresholdConfig{
			CPUPercent:    DefaultCPUThreshold,
			MemoryPercent: DefaultMemoryThreshold,
			DiskPercent:   DefaultDiskThreshold,
		},
	}
	cfg.validateHTTPClientSettings()
	return cfg
}

// Load reads a YAML config file on top of Default()
// A missing file is not an error when allowMissing is true; the defaults are returned instead
func Load(path string, allowMissing bool) (*AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read config: %w", utils.ErrFilesystem, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse YAML config %s: %v", utils.ErrParsing, path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process environment
// Variables already set in the environment win; missing files are skipped
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("%w: load %s: %v", utils.ErrParsing, p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from CRAWL_* environment variables
// Unparsable values are reported as warnings and leave the field unchanged
func (c *AppConfig) ApplyEnv() (warnings []string) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s=%q is not an integer, ignoring", key, v))
			return
		}
		*dst = n
	}
	pct := func(key string, dst *float64) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s=%q is not a number, ignoring", key, v))
			return
		}
		*dst = f
	}

	str(EnvStartURL, &c.StartURL)
	num(EnvMaxDepth, &c.MaxDepth)
	num(EnvMaxPages, &c.MaxPages)
	num(EnvDelayMS, &c.DelayMS)
	str(EnvUserAgent, &c.UserAgent)
	str(EnvDataDir, &c.DataDir)
	pct(EnvCPUThreshold, &c.Thresholds.CPUPercent)
	pct(EnvMemoryThreshold, &c.Thresholds.MemoryPercent)
	pct(EnvDiskThreshold, &c.Thresholds.DiskPercent)

	if v, ok := os.LookupEnv(EnvSkipCrawled); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s=%q is not a boolean, ignoring", EnvSkipCrawled, v))
		} else {
			c.SkipCrawled = b
		}
	}

	return warnings
}
