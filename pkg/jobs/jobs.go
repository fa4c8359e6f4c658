// Package jobs runs crawls in the background. Callers submit a request and poll the job's
// status; a bounded number of workers execute crawls one data root at a time.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
	"github.com/Sriram-PR/campus-crawler/pkg/crawler"
	"github.com/Sriram-PR/campus-crawler/pkg/fetch"
	"github.com/Sriram-PR/campus-crawler/pkg/models"
	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

// Status represents the current state of a crawl job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsActive reports whether the job has not reached a terminal state
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// Request describes one crawl to run. Zero fields fall back to the manager's base config.
type Request struct {
	StartURL    string `json:"start_url"`
	DataDir     string `json:"data_dir,omitempty"`
	MaxDepth    int    `json:"max_depth,omitempty"`
	MaxPages    int    `json:"max_pages,omitempty"`
	SkipCrawled *bool  `json:"skip_crawled,omitempty"`
	ResetLedger bool   `json:"reset_ledger,omitempty"`
}

// Job is a point-in-time view of a background crawl
type Job struct {
	ID           string               `json:"id"`
	StartURL     string               `json:"start_url"`
	DataDir      string               `json:"data_dir"`
	Status       Status               `json:"status"`
	SubmittedAt  time.Time            `json:"submitted_at"`
	StartedAt    time.Time            `json:"started_at,omitempty"`
	CompletedAt  time.Time            `json:"completed_at,omitempty"`
	Counters     models.CrawlCounters `json:"counters"`
	StopReason   string               `json:"stop_reason,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
}

// RunFunc executes one crawl. The default builds a crawler.Crawler from cfg.
type RunFunc func(ctx context.Context, cfg *config.AppConfig, opts crawler.Options, log *logrus.Entry) (models.CrawlCounters, crawler.StopReason, error)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrDataRootBusy = errors.New("data root is still in use by a stopping job")
)

type entry struct {
	Job
	cfg         *config.AppConfig
	resetLedger bool
	ctx         context.Context
	cancel      context.CancelFunc
}

// Manager manages background crawl jobs
type Manager struct {
	base   *config.AppConfig
	log    *logrus.Entry
	run    RunFunc
	sem    *semaphore.Weighted
	hosts  *fetch.HostSemaphorePool // One request at a time per host across all jobs
	mu     sync.RWMutex
	jobs   map[string]*entry
	byRoot map[string]string // absolute data root -> ID of the active job using it
	wg     sync.WaitGroup
}

// NewManager creates a job manager whose jobs start from a copy of base.
// At most base.Jobs.Workers crawls run at once.
func NewManager(base *config.AppConfig, log *logrus.Entry) *Manager {
	workers := int64(max(base.Jobs.Workers, 1))
	return &Manager{
		base:   base,
		log:    log,
		run:    RunCrawl,
		sem:    semaphore.NewWeighted(workers),
		hosts:  fetch.NewHostSemaphorePool(1, log.WithField("component", "hostpool")),
		jobs:   make(map[string]*entry),
		byRoot: make(map[string]string),
	}
}

// SetRunFunc replaces the crawl executor; intended for tests
func (m *Manager) SetRunFunc(run RunFunc) {
	m.run = run
}

// Submit validates req and queues it. If a job is already active for the same data root,
// that job is returned with created=false and nothing new is queued.
func (m *Manager) Submit(req Request) (job Job, created bool, err error) {
	cfg, err := m.configFor(req)
	if err != nil {
		return Job{}, false, err
	}
	root, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return Job{}, false, fmt.Errorf("%w: data_dir %q: %v", utils.ErrFilesystem, cfg.DataDir, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, exists := m.byRoot[root]; exists {
		if existing := m.jobs[existingID]; existing != nil {
			if !existing.Status.IsActive() {
				return Job{}, false, fmt.Errorf("%w: %s (job %s)", ErrDataRootBusy, root, existingID)
			}
			return existing.Job, false, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		Job: Job{
			ID:          uuid.New().String(),
			StartURL:    cfg.StartURL,
			DataDir:     root,
			Status:      StatusPending,
			SubmittedAt: time.Now(),
		},
		cfg:         cfg,
		resetLedger: req.ResetLedger,
		ctx:         ctx,
		cancel:      cancel,
	}
	m.jobs[e.ID] = e
	m.byRoot[root] = e.ID

	m.wg.Add(1)
	go m.execute(e)

	m.log.WithFields(logrus.Fields{"job_id": e.ID, "start_url": cfg.StartURL, "data_dir": root}).Info("Crawl job submitted")
	return e.Job, true, nil
}

// configFor copies the base config, applies the request and validates the result
func (m *Manager) configFor(req Request) (*config.AppConfig, error) {
	cfg := *m.base
	if req.StartURL != "" {
		cfg.StartURL = req.StartURL
	}
	if req.DataDir != "" {
		cfg.DataDir = req.DataDir
	}
	if req.MaxDepth > 0 {
		cfg.MaxDepth = req.MaxDepth
	}
	if req.MaxPages > 0 {
		cfg.MaxPages = req.MaxPages
	}
	if req.SkipCrawled != nil {
		cfg.SkipCrawled = *req.SkipCrawled
	}

	if err := cfg.ValidateStartURL(); err != nil {
		return nil, err
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		m.log.WithField("start_url", cfg.StartURL).Warn(w)
	}
	return &cfg, nil
}

// execute waits for a worker slot, runs the crawl and records the outcome
func (m *Manager) execute(e *entry) {
	defer m.wg.Done()
	defer m.release(e)

	jobLog := m.log.WithField("job_id", e.ID)

	if err := m.sem.Acquire(e.ctx, 1); err != nil {
		// Cancelled while waiting for a slot
		m.finish(e, StatusCancelled, crawler.StopCancelled, nil)
		return
	}
	defer m.sem.Release(1)

	if !m.markRunning(e) {
		return
	}
	jobLog.Info("Crawl job running")

	opts := crawler.Options{
		HostPool:    m.hosts,
		ResetLedger: e.resetLedger,
		OnProgress:  func(c models.CrawlCounters) { m.updateProgress(e.ID, c) },
	}
	counters, reason, err := m.run(e.ctx, e.cfg, opts, jobLog)
	m.updateProgress(e.ID, counters)

	status := StatusCompleted
	switch {
	case err != nil:
		status = StatusFailed
		jobLog.WithFields(logrus.Fields{"error_type": utils.CategorizeError(err), "error": err}).Error("Crawl job failed")
	case reason == crawler.StopCancelled:
		status = StatusCancelled
	}
	m.finish(e, status, reason, err)
	jobLog.WithFields(logrus.Fields{"status": status, "stop_reason": reason}).Info("Crawl job finished")
}

func (m *Manager) markRunning(e *entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Status != StatusPending {
		return false
	}
	e.Status = StatusRunning
	e.StartedAt = time.Now()
	return true
}

// finish records a terminal state unless Cancel already did
func (m *Manager) finish(e *entry, status Status, reason crawler.StopReason, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	if reason != "" {
		e.StopReason = string(reason)
	}
	if !e.Status.IsActive() {
		return
	}
	e.Status = status
	e.CompletedAt = time.Now()
}

// release frees the data root once the worker has let go of it
func (m *Manager) release(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byRoot[e.DataDir] == e.ID {
		delete(m.byRoot, e.DataDir)
	}
	e.cancel()
}

func (m *Manager) updateProgress(jobID string, counters models.CrawlCounters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, exists := m.jobs[jobID]; exists {
		e.Counters = counters
	}
}

// Get returns a snapshot of the job with the given ID
func (m *Manager) Get(jobID string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, exists := m.jobs[jobID]
	if !exists {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return e.Job, nil
}

// List returns snapshots of all jobs, oldest submission first
func (m *Manager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		jobs = append(jobs, e.Job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt)
	})
	return jobs
}

// Cancel stops an active job. Returns false if the job is unknown or already finished.
// The data root stays reserved until the crawl has actually stopped.
func (m *Manager) Cancel(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.jobs[jobID]
	if !exists || !e.Status.IsActive() {
		return false
	}
	e.cancel()
	e.Status = StatusCancelled
	e.CompletedAt = time.Now()
	return true
}

// Shutdown cancels every active job and waits for the workers to exit or ctx to expire
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	var active []string
	for id, e := range m.jobs {
		if e.Status.IsActive() {
			active = append(active, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range active {
		if m.Cancel(id) {
			m.log.WithField("job_id", id).Info("Cancelled crawl job for shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted job has finished
func (m *Manager) Wait() {
	m.wg.Wait()
}

// RunCrawl is the default RunFunc: one crawler.Crawler run to completion
func RunCrawl(ctx context.Context, cfg *config.AppConfig, opts crawler.Options, log *logrus.Entry) (models.CrawlCounters, crawler.StopReason, error) {
	c, err := crawler.New(cfg, log, opts)
	if err != nil {
		return models.CrawlCounters{}, "", err
	}
	defer c.Close()

	counters, err := c.Crawl(ctx)
	return counters, c.StopReason(), err
}
