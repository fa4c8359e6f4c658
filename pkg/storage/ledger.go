package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/campus-crawler/pkg/log"
	"github.com/Sriram-PR/campus-crawler/pkg/models"
	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

const (
	pageKeyPrefix = "page:" // Prefix for page URL keys in DB
	StateDirName  = ".state"
	ledgerDirName = "ledger"
)

// BadgerLedger implements Ledger using BadgerDB
type BadgerLedger struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached key count, loaded once on open
}

var _ Ledger = (*BadgerLedger)(nil)

// LedgerPath returns where the ledger for dataRoot lives
func LedgerPath(dataRoot string) string {
	return filepath.Join(dataRoot, StateDirName, ledgerDirName)
}

// OpenBadgerLedger opens (or creates) the ledger under dataRoot. reset discards previously recorded pages.
func OpenBadgerLedger(dataRoot string, reset bool, logger *logrus.Entry) (*BadgerLedger, error) {
	dbPath := LedgerPath(dataRoot)

	if reset {
		logger.Warnf("Resetting link ledger: REMOVING %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove ledger directory %s: %v", dbPath, err)
		}
	}

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create ledger directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)
	return openLedger(opts, logger)
}

// OpenInMemoryLedger opens a ledger that lives only as long as the process
func OpenInMemoryLedger(logger *logrus.Entry) (*BadgerLedger, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(log.NewBadgerLogrusAdapter(logger))
	return openLedger(opts, logger)
}

func openLedger(opts badger.Options, logger *logrus.Entry) (*BadgerLedger, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open ledger at %q: %w", utils.ErrDatabase, opts.Dir, err)
	}
	l := &BadgerLedger{db: db, log: logger}

	count, err := l.countKeys()
	if err != nil {
		logger.Warnf("Failed to count ledger entries: %v", err)
	} else {
		l.keyCount.Store(int64(count))
	}

	logger.Debugf("Link ledger opened with %d recorded pages", count)
	return l, nil
}

func (l *BadgerLedger) countKeys() (int, error) {
	count := 0
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(pageKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts
func (l *BadgerLedger) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := l.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		l.log.Debugf("Ledger transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// Get implements LinkLedger. A record that cannot be decoded is reported as not found.
func (l *BadgerLedger) Get(normalizedPageURL string) (*models.PageRecord, bool, error) {
	key := []byte(pageKeyPrefix + normalizedPageURL)
	var record *models.PageRecord

	errView := l.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting ledger key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}

		return item.Value(func(val []byte) error {
			var decoded models.PageRecord
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				l.log.Warnf("Failed to unmarshal PageRecord for key '%s': %v. Treating as not recorded.", string(key), errJSON)
				return nil
			}
			record = &decoded
			return nil
		})
	})

	if errView != nil {
		l.log.Errorf("DB View error in ledger Get for key '%s': %v", string(key), errView)
		return nil, false, errView
	}
	return record, record != nil, nil
}

// Put implements LinkLedger
func (l *BadgerLedger) Put(normalizedPageURL string, record *models.PageRecord) error {
	key := []byte(pageKeyPrefix + normalizedPageURL)

	recordBytes, errJSON := json.Marshal(record)
	if errJSON != nil {
		return fmt.Errorf("%w: failed to marshal PageRecord for key '%s': %w", utils.ErrParsing, string(key), errJSON)
	}

	isNew := false
	err := l.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		isNew = errors.Is(errGet, badger.ErrKeyNotFound)
		return txn.SetEntry(badger.NewEntry(key, recordBytes))
	})
	if err != nil {
		l.log.WithField("key", string(key)).Errorf("DB Update error in ledger Put: %v", err)
		return fmt.Errorf("%w: failed recording page '%s': %w", utils.ErrDatabase, normalizedPageURL, err)
	}
	if isNew {
		l.keyCount.Add(1)
	}
	return nil
}

// Count implements LinkLedger
func (l *BadgerLedger) Count() int {
	return int(l.keyCount.Load())
}

// RunGC runs BadgerDB's value log garbage collection periodically
func (l *BadgerLedger) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if l.db == nil || l.db.IsClosed() {
				continue
			}
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for err == nil {
				err = l.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				l.log.Errorf("Ledger GC error: %v", err)
			}

		case <-ctx.Done():
			return
		}
	}
}

// Close implements LedgerAdmin; closing twice is a no-op
func (l *BadgerLedger) Close() error {
	if l.db == nil || l.db.IsClosed() {
		return nil
	}
	if err := l.db.Close(); err != nil {
		l.log.Errorf("Error closing link ledger: %v", err)
		return err
	}
	return nil
}
