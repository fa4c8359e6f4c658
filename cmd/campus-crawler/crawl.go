package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
	"github.com/Sriram-PR/campus-crawler/pkg/crawler"
	applog "github.com/Sriram-PR/campus-crawler/pkg/log"
	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

// crawlFlags override the config file for one run
type crawlFlags struct {
	startURL    string
	dataDir     string
	maxDepth    int
	maxPages    int
	delayMS     int
	skipCrawled bool
	resetLedger bool
}

func newCrawlCmd(global *globalFlags) *cobra.Command {
	flags := &crawlFlags{}

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl one school website into the data root",
		Example: `  campus-crawler crawl --start-url https://www.example-school.edu/
  campus-crawler crawl --config school.yaml --skip-crawled`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := applog.Setup(global.logLevel, cmd.ErrOrStderr())

			cfg, warnings, err := loadConfig(cmd, global.configPath)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error loading config: %v\n", err)
				return exitWith(1)
			}
			flags.apply(cmd, cfg)
			moreWarnings, _ := cfg.Validate()
			for _, w := range append(warnings, moreWarnings...) {
				logger.Warn(w)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return exitWith(doCrawl(ctx, cfg, flags.resetLedger, logger, cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.startURL, "start-url", "", "Absolute http(s) URL to start from (overrides start_url)")
	f.StringVar(&flags.dataDir, "data-dir", "", "Data root for saved pages and files (overrides data_dir)")
	f.IntVar(&flags.maxDepth, "max-depth", 0, "Maximum link depth from the start page (overrides max_depth)")
	f.IntVar(&flags.maxPages, "max-pages", 0, "Maximum pages to crawl (overrides max_pages)")
	f.IntVar(&flags.delayMS, "delay-ms", 0, "Delay between requests in milliseconds (overrides delay_ms)")
	f.BoolVar(&flags.skipCrawled, "skip-crawled", false, "Do not refetch pages already saved under the data root")
	f.BoolVar(&flags.resetLedger, "reset-ledger", false, "Discard recorded page links before crawling")

	return cmd
}

// apply copies explicitly set flags onto cfg
func (f *crawlFlags) apply(cmd *cobra.Command, cfg *config.AppConfig) {
	changed := cmd.Flags().Changed
	if changed("start-url") {
		cfg.StartURL = f.startURL
	}
	if changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if changed("max-depth") {
		cfg.MaxDepth = f.maxDepth
	}
	if changed("max-pages") {
		cfg.MaxPages = f.maxPages
	}
	if changed("delay-ms") {
		cfg.DelayMS = f.delayMS
	}
	if changed("skip-crawled") {
		cfg.SkipCrawled = f.skipCrawled
	}
}

// doCrawl is the testable implementation of the crawl command
func doCrawl(ctx context.Context, cfg *config.AppConfig, resetLedger bool, logger *logrus.Logger, stdout, stderr io.Writer) int {
	log := applog.Component(logger, "crawler")

	c, err := crawler.New(cfg, log, crawler.Options{ResetLedger: resetLedger})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v (%s)\n", err, utils.CategorizeError(err))
		return 1
	}
	defer c.Close()

	start := time.Now()
	counters, err := c.Crawl(ctx)

	fmt.Fprintf(stdout, "Start URL:        %s\n", cfg.StartURL)
	fmt.Fprintf(stdout, "Data root:        %s\n", cfg.DataDir)
	fmt.Fprintf(stdout, "Pages crawled:    %d\n", counters.PagesCrawled)
	fmt.Fprintf(stdout, "Files downloaded: %d\n", counters.FilesDownloaded)
	fmt.Fprintf(stdout, "Links found:      %d\n", counters.LinksFound)
	fmt.Fprintf(stdout, "Errors:           %d\n", counters.Errors)
	fmt.Fprintf(stdout, "Stop reason:      %s\n", c.StopReason())
	fmt.Fprintf(stdout, "Duration:         %s\n", time.Since(start).Round(time.Millisecond))

	if err != nil {
		fmt.Fprintf(stderr, "Error: crawl finished but the index could not be saved: %v\n", err)
		return 1
	}
	if c.StopReason() == crawler.StopCancelled {
		log.Warn("Crawl cancelled gracefully.")
	}
	return 0
}
