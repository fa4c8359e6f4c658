// Package watch re-crawls a school site into its data root on a fixed interval and remembers
// the outcome of each run, so a restarted watcher waits out the remainder of the interval.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
	"github.com/Sriram-PR/campus-crawler/pkg/crawler"
	"github.com/Sriram-PR/campus-crawler/pkg/jobs"
	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

// Scheduler runs one crawl at a time for a single start URL whenever it is due
type Scheduler struct {
	cfg      *config.AppConfig
	interval time.Duration
	tick     time.Duration
	log      *logrus.Entry
	state    *StateManager
	run      jobs.RunFunc
}

// NewScheduler creates a scheduler for cfg.StartURL with state kept under cfg.DataDir
func NewScheduler(cfg *config.AppConfig, interval time.Duration, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		interval: interval,
		tick:     tickInterval(interval),
		log:      log,
		state:    NewStateManager(cfg.DataDir),
		run:      jobs.RunCrawl,
	}
}

// SetRunFunc replaces the crawl executor; intended for tests
func (s *Scheduler) SetRunFunc(run jobs.RunFunc) {
	s.run = run
}

// Run crawls immediately if due, then checks periodically until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.state.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Watching %s every %s", s.cfg.StartURL, FormatInterval(s.interval))
	s.logSchedule()

	s.runIfDue(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			return nil
		case <-ticker.C:
			s.runIfDue(ctx)
		}
	}
}

// runIfDue crawls when the interval has elapsed and reports whether it did.
// A cancelled run is not recorded, so the next start crawls again.
func (s *Scheduler) runIfDue(ctx context.Context) bool {
	if ctx.Err() != nil || !s.state.ShouldRun(s.cfg.StartURL, s.interval) {
		return false
	}

	cfg := *s.cfg
	started := time.Now()
	s.log.Info("Scheduled crawl starting")
	counters, reason, err := s.run(ctx, &cfg, crawler.Options{}, s.log)

	if err == nil && reason == crawler.StopCancelled {
		s.log.Warn("Scheduled crawl cancelled, not recording it")
		return true
	}

	run := RunState{
		LastRunTime:     started.UTC(),
		PagesCrawled:    counters.PagesCrawled,
		FilesDownloaded: counters.FilesDownloaded,
		Errors:          counters.Errors,
		StopReason:      string(reason),
	}
	if err != nil {
		run.ErrorMessage = err.Error()
		s.log.WithFields(logrus.Fields{"error_type": utils.CategorizeError(err), "error": err}).Error("Scheduled crawl failed")
	} else {
		s.log.WithFields(logrus.Fields{
			"pages":       counters.PagesCrawled,
			"files":       counters.FilesDownloaded,
			"stop_reason": reason,
		}).Info("Scheduled crawl finished")
	}

	s.state.Record(s.cfg.StartURL, run)
	if err := s.state.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}
	s.logNextRun()
	return true
}

// tickInterval returns how often to check whether the site is due: a tenth of the interval, within [1m, 10m]
func tickInterval(interval time.Duration) time.Duration {
	return min(max(interval/10, time.Minute), 10*time.Minute)
}

func (s *Scheduler) logSchedule() {
	state, exists := s.state.Get(s.cfg.StartURL)
	if !exists {
		s.log.Info("Never crawled, will run immediately")
		return
	}
	status := "success"
	if !state.Succeeded() {
		status = "failed"
	}
	s.log.Infof("Last run %s (%s, %d pages), next run %s",
		state.LastRunTime.Format(time.RFC3339),
		status,
		state.PagesCrawled,
		s.state.NextRunTime(s.cfg.StartURL, s.interval).Format(time.RFC3339))
}

func (s *Scheduler) logNextRun() {
	next := s.state.NextRunTime(s.cfg.StartURL, s.interval)
	until := max(time.Until(next), 0)
	s.log.Infof("Next crawl in %v (at %s)", until.Round(time.Second), next.Local().Format("15:04:05"))
}

// Status describes the watched site for display
type Status struct {
	StartURL    string
	LastRun     RunState
	NeverRun    bool
	NextRunTime time.Time
}

// Status loads the state file and reports the watched site's last and next run
func (s *Scheduler) Status() (Status, error) {
	if err := s.state.Load(); err != nil {
		return Status{}, err
	}
	last, exists := s.state.Get(s.cfg.StartURL)
	return Status{
		StartURL:    s.cfg.StartURL,
		LastRun:     last,
		NeverRun:    !exists,
		NextRunTime: s.state.NextRunTime(s.cfg.StartURL, s.interval),
	}, nil
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string, additionally accepting a leading day count ("7d", "1d12h")
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 && days > 0 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
