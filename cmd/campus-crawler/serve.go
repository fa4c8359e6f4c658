package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
	applog "github.com/Sriram-PR/campus-crawler/pkg/log"
	"github.com/Sriram-PR/campus-crawler/pkg/mcp"
)

// shutdownGrace bounds how long running jobs get to persist their indexes on exit
const shutdownGrace = 30 * time.Second

func newServeCmd(global *globalFlags) *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an MCP server for running and monitoring crawl jobs",
		Long: `serve exposes crawl jobs over the Model Context Protocol.

Available MCP Tools:
  start_crawl      Queue a background crawl
  get_job_status   Status and live counters of a job
  list_jobs        All jobs of this server
  cancel_job       Stop a pending or running job
  resource_health  Host resource usage against thresholds
  search_pages     Search saved page text
  crawl_index      Summary of a data root's crawl index`,
		Example: `  # stdio transport (for desktop MCP clients)
  campus-crawler serve --config config.yaml

  # SSE transport on port 8080
  campus-crawler serve --transport sse --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := loadConfig(cmd, global.configPath)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error loading config: %v\n", err)
				return exitWith(1)
			}
			moreWarnings, _ := cfg.Validate()
			return exitWith(doServe(cfg, append(warnings, moreWarnings...), global, transport, port, cmd.ErrOrStderr()))
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio, sse)")
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP port (for sse transport)")

	return cmd
}

// doServe is the testable implementation of the serve command
func doServe(cfg *config.AppConfig, warnings []string, global *globalFlags, transport string, port int, stderr io.Writer) int {
	// MCP protocol uses stdout, logs go to stderr
	logger := applog.Setup(global.logLevel, stderr)
	for _, w := range warnings {
		logger.Warn(w)
	}

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:  cfg,
		ConfigPath: global.configPath,
		Transport:  transport,
		Port:       port,
		Version:    version,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	logger.Infof("Starting MCP server (transport: %s)", transport)
	runErr := server.Run()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Crawl jobs did not stop within the grace period")
	}

	if runErr != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", runErr)
		return 1
	}
	return 0
}
