package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/campus-crawler/pkg/models"
)

// LinkLedger records what each fetched page linked to, so a resume that skips a saved page can still
// continue traversal below it
type LinkLedger interface {
	// Get returns the record for a normalized page URL; found is false when the page was never recorded
	Get(normalizedPageURL string) (record *models.PageRecord, found bool, err error)

	// Put stores or replaces the record for a normalized page URL
	Put(normalizedPageURL string, record *models.PageRecord) error

	// Count returns the number of recorded pages
	Count() int
}

// LedgerAdmin handles lifecycle operations
type LedgerAdmin interface {
	// RunGC runs periodic garbage collection until ctx is done. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database
	Close() error
}

// Ledger combines both interfaces for the component that owns the ledger's lifetime
type Ledger interface {
	LinkLedger
	LedgerAdmin
}
