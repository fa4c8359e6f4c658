package fetch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// hostEntry tracks one host's semaphore and how many callers hold or wait on it
type hostEntry struct {
	sem   *semaphore.Weighted
	users int64
}

// HostSemaphorePool bounds in-flight requests per host across every crawl that shares it.
// Background jobs on different data roots may target the same school; sharing one pool keeps
// them from hitting that host in parallel. Entries are dropped as soon as nobody uses them.
type HostSemaphorePool struct {
	entries map[string]*hostEntry
	mu      sync.Mutex
	limit   int64
	log     *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost concurrent requests to each host
func NewHostSemaphorePool(maxPerHost int, log *logrus.Entry) *HostSemaphorePool {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 1
		log.Warnf("Per-host request limit invalid or zero, defaulting to %d", limit)
	}
	return &HostSemaphorePool{
		entries: make(map[string]*hostEntry),
		limit:   limit,
		log:     log,
	}
}

// Acquire takes one permit for host, blocking until one is free or ctx is done
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) error {
	p.mu.Lock()
	entry, exists := p.entries[host]
	if !exists {
		entry = &hostEntry{sem: semaphore.NewWeighted(p.limit)}
		p.entries[host] = entry
		p.log.WithFields(logrus.Fields{"host": host, "limit": p.limit}).Debug("Created host semaphore")
	}
	entry.users++
	p.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		p.done(host, entry)
		return err
	}
	return nil
}

// Release returns a permit taken by Acquire
func (p *HostSemaphorePool) Release(host string) {
	p.mu.Lock()
	entry, exists := p.entries[host]
	p.mu.Unlock()
	if !exists {
		p.log.Errorf("hostsemaphore: Release called for unknown host: %s", host)
		return
	}
	entry.sem.Release(1)
	p.done(host, entry)
}

// done drops one user and forgets the host once it is idle
func (p *HostSemaphorePool) done(host string, entry *hostEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry.users--
	if entry.users == 0 && p.entries[host] == entry {
		delete(p.entries, host)
	}
}

// Len returns the number of hosts currently in use
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
