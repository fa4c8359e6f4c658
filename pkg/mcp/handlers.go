package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Sriram-PR/campus-crawler/pkg/jobs"
	"github.com/Sriram-PR/campus-crawler/pkg/monitor"
	"github.com/Sriram-PR/campus-crawler/pkg/storage"
)

// handleStartCrawl handles the start_crawl tool
func (s *Server) handleStartCrawl(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := jobs.Request{
		StartURL:    request.GetString("start_url", ""),
		DataDir:     request.GetString("data_dir", ""),
		MaxDepth:    request.GetInt("max_depth", 0),
		MaxPages:    request.GetInt("max_pages", 0),
		ResetLedger: request.GetBool("reset_ledger", false),
	}
	if _, ok := request.GetArguments()["skip_crawled"]; ok {
		skip := request.GetBool("skip_crawled", false)
		req.SkipCrawled = &skip
	}

	job, created, err := s.jobs.Submit(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start crawl: %v", err)), nil
	}

	if !created {
		result := map[string]interface{}{
			"status":   "already_running",
			"message":  "A crawl is already in progress for this data root",
			"job_id":   job.ID,
			"data_dir": job.DataDir,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	result := map[string]interface{}{
		"status":    "started",
		"message":   "Crawl queued successfully",
		"job_id":    job.ID,
		"start_url": job.StartURL,
		"data_dir":  job.DataDir,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job, err := s.jobs.Get(jobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}
	return mcp.NewToolResultText(formatJSON(jobToMap(job))), nil
}

// handleListJobs handles the list_jobs tool
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all := s.jobs.List()
	list := make([]map[string]interface{}, 0, len(all))
	active := 0
	for _, job := range all {
		if job.Status.IsActive() {
			active++
		}
		list = append(list, jobToMap(job))
	}

	result := map[string]interface{}{
		"jobs":   list,
		"total":  len(list),
		"active": active,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job, err := s.jobs.Get(jobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}
	if !s.jobs.Cancel(jobID) {
		result := map[string]interface{}{
			"status":  string(job.Status),
			"message": "Job already finished, nothing to cancel",
			"job_id":  jobID,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	result := map[string]interface{}{
		"status":  string(jobs.StatusCancelled),
		"message": "Crawl cancelled; pages saved so far are kept",
		"job_id":  jobID,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleResourceHealth handles the resource_health tool
func (s *Server) handleResourceHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.health.CheckResources(ctx)
	thresholds := s.health.Thresholds()

	result := map[string]interface{}{
		"cpu_percent":    snap.CPUPercent,
		"memory_percent": snap.MemoryPercent,
		"disk_percent":   snap.DiskPercent,
		"is_healthy":     snap.IsHealthy,
		"thresholds": map[string]interface{}{
			"cpu_percent":    thresholds.CPUPercent,
			"memory_percent": thresholds.MemoryPercent,
			"disk_percent":   thresholds.DiskPercent,
		},
		"report": monitor.FormatReport(snap, thresholds),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleSearchPages handles the search_pages tool
func (s *Server) handleSearchPages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	maxResults := request.GetInt("max_results", 10)
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 100 {
		maxResults = 100
	}

	dataDir := request.GetString("data_dir", s.cfg.AppConfig.DataDir)
	idx, err := storage.ReadIndex(dataDir)
	if err != nil {
		if errors.Is(err, storage.ErrNoIndex) {
			return mcp.NewToolResultError(fmt.Sprintf("no crawl index under '%s'; run a crawl first", dataDir)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to read crawl index: %v", err)), nil
	}

	results := make([]map[string]interface{}, 0)
	queryLower := strings.ToLower(query)
	for _, page := range idx.Pages {
		if len(results) >= maxResults || ctx.Err() != nil {
			break
		}
		data, err := os.ReadFile(page.FilePath)
		if err != nil {
			continue // Index entries can outlive their files
		}
		content := string(data)
		if !strings.Contains(strings.ToLower(content), queryLower) {
			continue
		}
		results = append(results, map[string]interface{}{
			"url":        page.URL,
			"snippet":    extractSnippet(content, query, 150),
			"crawled_at": page.CrawledAt.Format(time.RFC3339),
			"file_path":  page.FilePath,
		})
	}

	response := map[string]interface{}{
		"query":         query,
		"data_dir":      dataDir,
		"results":       results,
		"total_matches": len(results),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCrawlIndex handles the crawl_index tool
func (s *Server) handleCrawlIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dataDir := request.GetString("data_dir", s.cfg.AppConfig.DataDir)
	idx, err := storage.ReadIndex(dataDir)
	if err != nil {
		if errors.Is(err, storage.ErrNoIndex) {
			return mcp.NewToolResultError(fmt.Sprintf("no crawl index under '%s'; run a crawl first", dataDir)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to read crawl index: %v", err)), nil
	}

	result := map[string]interface{}{
		"data_dir":    dataDir,
		"last_crawl":  idx.LastCrawl.Format(time.RFC3339),
		"pages":       len(idx.Pages),
		"pdfs":        len(idx.PDFs),
		"excel":       len(idx.Excel),
		"images":      len(idx.Images),
		"other_files": len(idx.OtherFiles),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// jobToMap renders a job for tool output
func jobToMap(job jobs.Job) map[string]interface{} {
	result := map[string]interface{}{
		"job_id":           job.ID,
		"start_url":        job.StartURL,
		"data_dir":         job.DataDir,
		"status":           string(job.Status),
		"submitted_at":     job.SubmittedAt.Format(time.RFC3339),
		"pages_crawled":    job.Counters.PagesCrawled,
		"files_downloaded": job.Counters.FilesDownloaded,
		"links_found":      job.Counters.LinksFound,
		"errors":           job.Counters.Errors,
	}

	if !job.StartedAt.IsZero() {
		result["started_at"] = job.StartedAt.Format(time.RFC3339)
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		if !job.StartedAt.IsZero() {
			result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
		}
	}
	if job.StopReason != "" {
		result["stop_reason"] = job.StopReason
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return result
}

// extractSnippet extracts a snippet around the query match, slicing on rune
// boundaries so multi-byte UTF-8 characters are never split.
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	queryRunes := []rune(strings.ToLower(query))
	contentLowerRunes := []rune(strings.ToLower(content))

	idx := -1
	for i := 0; i <= len(contentLowerRunes)-len(queryRunes); i++ {
		if string(contentLowerRunes[i:i+len(queryRunes)]) == string(queryRunes) {
			idx = i
			break
		}
	}

	if idx == -1 {
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "..."
		}
		return content
	}

	start := max(idx-maxLen/2, 0)
	end := min(idx+len(queryRunes)+maxLen/2, len(runes))

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet = snippet + "..."
	}

	return snippet
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
