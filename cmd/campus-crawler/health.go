package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
	applog "github.com/Sriram-PR/campus-crawler/pkg/log"
	"github.com/Sriram-PR/campus-crawler/pkg/models"
	"github.com/Sriram-PR/campus-crawler/pkg/monitor"
)

func newHealthCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report host CPU, memory and disk usage against the crawl thresholds",
		Long: `health takes one fresh resource reading and prints it. The exit status is 0 when
the host is healthy enough to crawl and 1 when any reading is at or above its threshold.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := applog.Setup(global.logLevel, cmd.ErrOrStderr())

			cfg, warnings, err := loadConfig(cmd, global.configPath)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error loading config: %v\n", err)
				return exitWith(1)
			}
			moreWarnings, _ := cfg.Validate()
			for _, w := range append(warnings, moreWarnings...) {
				logger.Warn(w)
			}

			m := monitor.New(cfg.DataDir, thresholdsOf(cfg), applog.Component(logger, "monitor"))
			return exitWith(doHealth(cmd.Context(), m, cmd.OutOrStdout()))
		},
	}
}

// resourceChecker is the monitor surface the health command needs
type resourceChecker interface {
	CheckResources(ctx context.Context) models.ResourceSnapshot
	Thresholds() monitor.Thresholds
}

// doHealth is the testable implementation of the health command
func doHealth(ctx context.Context, m resourceChecker, stdout io.Writer) int {
	snap := m.CheckResources(ctx)
	fmt.Fprintln(stdout, monitor.FormatReport(snap, m.Thresholds()))
	if !snap.IsHealthy {
		return 1
	}
	return 0
}

func thresholdsOf(cfg *config.AppConfig) monitor.Thresholds {
	return monitor.Thresholds{
		CPUPercent:    cfg.Thresholds.CPUPercent,
		MemoryPercent: cfg.Thresholds.MemoryPercent,
		DiskPercent:   cfg.Thresholds.DiskPercent,
	}
}
