package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	applog "github.com/Sriram-PR/campus-crawler/pkg/log"
	"github.com/Sriram-PR/campus-crawler/pkg/watch"
)

func newWatchCmd(global *globalFlags) *cobra.Command {
	var (
		intervalStr string
		showStatus  bool
		flags       = &crawlFlags{}
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-crawl the site into the data root on a fixed interval",
		Long: `watch crawls the configured site whenever the interval has elapsed since the last
recorded run, and keeps running until interrupted. Run outcomes are kept under
<data_dir>/.state/watch_state.json, so a restarted watcher waits out the remainder
of the interval.`,
		Example: `  campus-crawler watch --start-url https://www.example-school.edu/ --interval 7d
  campus-crawler watch --config school.yaml --interval 24h --status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := applog.Setup(global.logLevel, cmd.ErrOrStderr())

			interval, err := watch.ParseInterval(intervalStr)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
				return exitWith(1)
			}

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
			if err := cfg.ValidateStartURL(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
				return exitWith(1)
			}

			scheduler := watch.NewScheduler(cfg, interval, applog.Component(logger, "watch"))
			if showStatus {
				return exitWith(doWatchStatus(scheduler, cmd.OutOrStdout(), cmd.ErrOrStderr()))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return exitWith(doWatch(ctx, scheduler, cmd.ErrOrStderr()))
		},
	}

	f := cmd.Flags()
	f.StringVar(&intervalStr, "interval", "24h", "Time between crawls (e.g. 6h, 24h, 7d)")
	f.BoolVar(&showStatus, "status", false, "Print the last and next run and exit")
	f.StringVar(&flags.startURL, "start-url", "", "Absolute http(s) URL to start from (overrides start_url)")
	f.StringVar(&flags.dataDir, "data-dir", "", "Data root for saved pages and files (overrides data_dir)")
	f.BoolVar(&flags.skipCrawled, "skip-crawled", false, "Do not refetch pages already saved under the data root")

	return cmd
}

// statusReporter is the scheduler surface the status flag needs
type statusReporter interface {
	Status() (watch.Status, error)
}

// doWatchStatus is the testable implementation of watch --status
func doWatchStatus(s statusReporter, stdout, stderr io.Writer) int {
	status, err := s.Status()
	if err != nil {
		fmt.Fprintf(stderr, "Error reading watch state: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Start URL: %s\n", status.StartURL)
	if status.NeverRun {
		fmt.Fprintln(stdout, "Last run:  never")
		fmt.Fprintln(stdout, "Next run:  immediately")
		return 0
	}

	result := "success"
	if !status.LastRun.Succeeded() {
		result = "failed: " + status.LastRun.ErrorMessage
	}
	fmt.Fprintf(stdout, "Last run:  %s (%s)\n", status.LastRun.LastRunTime.Local().Format(time.RFC3339), result)
	fmt.Fprintf(stdout, "Pages:     %d\n", status.LastRun.PagesCrawled)
	fmt.Fprintf(stdout, "Files:     %d\n", status.LastRun.FilesDownloaded)
	if status.LastRun.StopReason != "" {
		fmt.Fprintf(stdout, "Stopped:   %s\n", status.LastRun.StopReason)
	}
	next := "immediately"
	if until := time.Until(status.NextRunTime); until > 0 {
		next = fmt.Sprintf("in %s (at %s)", watch.FormatInterval(until), status.NextRunTime.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(stdout, "Next run:  %s\n", next)
	return 0
}

// doWatch is the testable implementation of the watch command
func doWatch(ctx context.Context, s interface{ Run(context.Context) error }, stderr io.Writer) int {
	if err := s.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "Watch error: %v\n", err)
		return 1
	}
	return 0
}
