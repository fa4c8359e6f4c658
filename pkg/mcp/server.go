// Package mcp exposes crawl jobs, crawl results and host health as MCP tools
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
	"github.com/Sriram-PR/campus-crawler/pkg/jobs"
	"github.com/Sriram-PR/campus-crawler/pkg/models"
	"github.com/Sriram-PR/campus-crawler/pkg/monitor"
)

const serverName = "campus-crawler"

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Version    string
	Logger     *logrus.Logger
}

// HealthChecker is the monitor surface used by resource_health
type HealthChecker interface {
	CheckResources(ctx context.Context) models.ResourceSnapshot
	Thresholds() monitor.Thresholds
}

// Server wraps the MCP server with the crawl job manager
type Server struct {
	mcpServer *server.MCPServer
	cfg       *ServerConfig
	log       *logrus.Entry
	jobs      *jobs.Manager
	health    HealthChecker
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	mcpServer := server.NewMCPServer(
		serverName,
		cfg.Version,
		server.WithLogging(),
	)

	log := cfg.Logger.WithField("component", "mcp")
	th := cfg.AppConfig.Thresholds
	s := &Server{
		mcpServer: mcpServer,
		cfg:       cfg,
		log:       log,
		jobs:      jobs.NewManager(cfg.AppConfig, cfg.Logger.WithField("component", "jobs")),
		health: monitor.New(cfg.AppConfig.DataDir, monitor.Thresholds{
			CPUPercent:    th.CPUPercent,
			MemoryPercent: th.MemoryPercent,
			DiskPercent:   th.DiskPercent,
		}, cfg.Logger.WithField("component", "monitor")),
	}

	s.registerTools()

	return s, nil
}

// Jobs returns the job manager backing the crawl tools
func (s *Server) Jobs() *jobs.Manager {
	return s.jobs
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	// start_crawl - Queue a background crawl
	startCrawlTool := mcp.NewTool("start_crawl",
		mcp.WithDescription("Queue a background crawl of a school website. Returns immediately with a job ID."),
		mcp.WithString("start_url",
			mcp.Description("Absolute http(s) URL to start from (defaults to the configured start_url)"),
		),
		mcp.WithString("data_dir",
			mcp.Description("Data root for this crawl (defaults to the configured data_dir)"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description("Maximum link depth from the start page"),
		),
		mcp.WithNumber("max_pages",
			mcp.Description("Maximum number of pages to crawl"),
		),
		mcp.WithBoolean("skip_crawled",
			mcp.Description("Do not refetch pages already saved under the data root"),
		),
		mcp.WithBoolean("reset_ledger",
			mcp.Description("Discard recorded page links before crawling"),
		),
	)
	s.mcpServer.AddTool(startCrawlTool, s.handleStartCrawl)

	// get_job_status - Check status of a crawl job
	getJobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status and live counters of a crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by start_crawl"),
		),
	)
	s.mcpServer.AddTool(getJobStatusTool, s.handleGetJobStatus)

	// list_jobs - All jobs of this server
	listJobsTool := mcp.NewTool("list_jobs",
		mcp.WithDescription("List all crawl jobs started by this server, oldest first"),
	)
	s.mcpServer.AddTool(listJobsTool, s.handleListJobs)

	// cancel_job - Stop a job
	cancelJobTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a pending or running crawl job. Progress so far is kept."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by start_crawl"),
		),
	)
	s.mcpServer.AddTool(cancelJobTool, s.handleCancelJob)

	// resource_health - Host resource check
	resourceHealthTool := mcp.NewTool("resource_health",
		mcp.WithDescription("Report CPU, memory and disk usage against the crawl thresholds"),
	)
	s.mcpServer.AddTool(resourceHealthTool, s.handleResourceHealth)

	// search_pages - Search saved page text
	searchPagesTool := mcp.NewTool("search_pages",
		mcp.WithDescription("Search the text of previously crawled pages"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query (case-insensitive substring match)"),
		),
		mcp.WithString("data_dir",
			mcp.Description("Data root to search (defaults to the configured data_dir)"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results to return (default: 10, max: 100)"),
		),
	)
	s.mcpServer.AddTool(searchPagesTool, s.handleSearchPages)

	// crawl_index - Summary of what a data root holds
	crawlIndexTool := mcp.NewTool("crawl_index",
		mcp.WithDescription("Summarise the crawl index of a data root: last crawl time and artifact counts"),
		mcp.WithString("data_dir",
			mcp.Description("Data root to inspect (defaults to the configured data_dir)"),
		),
	)
	s.mcpServer.AddTool(crawlIndexTool, s.handleCrawlIndex)

	s.log.Infof("Registered %d MCP tools", 7)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running crawl jobs and waits for them to persist their indexes
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	return s.jobs.Shutdown(ctx)
}
