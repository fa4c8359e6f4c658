// Package storage owns the on-disk layout under a data root: category
// directories of saved pages and downloads named deterministically from
// their URL, the crawl index, and the badger-backed link ledger.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/campus-crawler/pkg/fetch"
	"github.com/Sriram-PR/campus-crawler/pkg/models"
	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

// IndexFileName is the crawl manifest kept at the data root
const IndexFileName = "crawl_index.json"

const maxExtensionLen = 5

// Manager derives filenames and reads and writes everything under one data root
type Manager struct {
	root    string
	fetcher fetch.HTTPFetcher
	log     *logrus.Entry
	now     func() time.Time
}

// New creates the data root and every category subdirectory. fetcher is used by SaveFile.
func New(dataRoot string, fetcher fetch.HTTPFetcher, log *logrus.Entry) (*Manager, error) {
	for _, category := range models.AllCategories {
		dir := filepath.Join(dataRoot, string(category))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", utils.ErrFilesystem, dir, err)
		}
	}
	return &Manager{root: dataRoot, fetcher: fetcher, log: log, now: time.Now}, nil
}

// Root returns the data root directory
func (m *Manager) Root() string {
	return m.root
}

// IndexPath returns the location of the crawl index
func (m *Manager) IndexPath() string {
	return filepath.Join(m.root, IndexFileName)
}

// URLToFilename derives "<sanitized path>_<8 hex hash of the full URL><ext>".
// ext may be given with or without the leading dot.
func URLToFilename(rawURL, ext string) string {
	urlPath := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		urlPath = u.Path
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return utils.SanitizePathFragment(urlPath) + "_" + utils.ShortHash(rawURL) + ext
}

// extensionFor picks the stored extension: pages are always text, downloads keep a sane URL extension
func extensionFor(rawURL string, category models.Category) string {
	if category.IsPage() {
		return category.DefaultExtension()
	}
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if isPlainExtension(ext) {
			return ext
		}
	}
	return category.DefaultExtension()
}

func isPlainExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > maxExtensionLen+1 {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// PathFor returns the deterministic location of rawURL within category
func (m *Manager) PathFor(rawURL string, category models.Category) string {
	return filepath.Join(m.root, string(category), URLToFilename(rawURL, extensionFor(rawURL, category)))
}

// HasBeenCrawled reports whether rawURL already has a file in category. It never touches the index.
func (m *Manager) HasBeenCrawled(rawURL string, category models.Category) bool {
	_, err := os.Stat(m.PathFor(rawURL, category))
	return err == nil
}

// SavePage writes extracted page text to pages/ or external/
func (m *Manager) SavePage(rawURL, text string, isExternal bool) (models.StoredArtifactMetadata, error) {
	category := models.CategoryPages
	if isExternal {
		category = models.CategoryExternal
	}
	return m.write(rawURL, category, []byte(text))
}

// SaveFile downloads rawURL and stores the raw bytes under category. Fetch failures are returned as-is.
func (m *Manager) SaveFile(ctx context.Context, rawURL string, category models.Category) (models.StoredArtifactMetadata, error) {
	if !category.IsValid() || category.IsPage() {
		return models.StoredArtifactMetadata{}, fmt.Errorf("%w: %s is not a download category", utils.ErrConfigValidation, category)
	}
	resp, err := m.fetcher.Get(ctx, rawURL)
	if err != nil {
		return models.StoredArtifactMetadata{}, err
	}
	return m.write(rawURL, category, resp.Body)
}

func (m *Manager) write(rawURL string, category models.Category, data []byte) (models.StoredArtifactMetadata, error) {
	target := m.PathFor(rawURL, category)
	if err := writeFileAtomic(target, data); err != nil {
		return models.StoredArtifactMetadata{}, err
	}
	m.log.WithFields(logrus.Fields{"url": rawURL, "path": target, "bytes": len(data)}).Debug("Saved artifact")

	return models.StoredArtifactMetadata{
		URL:         rawURL,
		CrawledAt:   m.now().UTC(),
		ContentHash: utils.CalculateBytesSHA256(data),
		FilePath:    target,
	}, nil
}

// writeFileAtomic writes through a temp file in the target directory so readers never see a partial file
func writeFileAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file for %s: %w", utils.ErrFilesystem, target, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %w", utils.ErrFilesystem, target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %w", utils.ErrFilesystem, target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename to %s: %w", utils.ErrFilesystem, target, err)
	}
	return nil
}

// ErrNoIndex is returned by ReadIndex when the data root has no crawl index yet
var ErrNoIndex = errors.New("no crawl index")

// ReadIndex reads the crawl index under dataRoot without touching the directory layout
func ReadIndex(dataRoot string) (*models.CrawlIndex, error) {
	path := filepath.Join(dataRoot, IndexFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrNoIndex, dataRoot)
		}
		return nil, fmt.Errorf("%w: read %s: %w", utils.ErrFilesystem, path, err)
	}

	var idx models.CrawlIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: crawl index JSON %s: %w", utils.ErrParsing, path, err)
	}
	return &idx, nil
}

// LoadIndex reads the crawl index. It returns nil when there is no index or the file is corrupt;
// corruption is logged and the file is overwritten by the next SaveIndex.
func (m *Manager) LoadIndex() *models.CrawlIndex {
	idx, err := ReadIndex(m.root)
	if err != nil {
		if !errors.Is(err, ErrNoIndex) {
			m.log.WithError(err).WithField("path", m.IndexPath()).Warn("Crawl index unreadable, treating as absent")
		}
		return nil
	}
	return idx
}

// SaveIndex replaces the crawl index on disk
func (m *Manager) SaveIndex(idx *models.CrawlIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal crawl index: %w", utils.ErrParsing, err)
	}
	return writeFileAtomic(m.IndexPath(), data)
}

// PersistIndex merges added into the index on disk, stamps LastCrawl and saves the result
func (m *Manager) PersistIndex(added *models.CrawlIndex) (*models.CrawlIndex, error) {
	merged := MergeIndex(m.LoadIndex(), added)
	merged.LastCrawl = m.now().UTC()
	if err := m.SaveIndex(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// MergeIndex combines two indexes category by category. A record in added replaces the existing record
// for the same URL in place; new URLs are appended. Either argument may be nil.
func MergeIndex(existing, added *models.CrawlIndex) *models.CrawlIndex {
	merged := &models.CrawlIndex{}
	if existing != nil {
		merged.LastCrawl = existing.LastCrawl
	}
	if added != nil && added.LastCrawl.After(merged.LastCrawl) {
		merged.LastCrawl = added.LastCrawl
	}

	pick := func(idx *models.CrawlIndex, f func(*models.CrawlIndex) []models.StoredArtifactMetadata) []models.StoredArtifactMetadata {
		if idx == nil {
			return nil
		}
		return f(idx)
	}
	merge := func(f func(*models.CrawlIndex) []models.StoredArtifactMetadata) []models.StoredArtifactMetadata {
		return mergeRecords(pick(existing, f), pick(added, f))
	}

	merged.Pages = merge(func(i *models.CrawlIndex) []models.StoredArtifactMetadata { return i.Pages })
	merged.PDFs = merge(func(i *models.CrawlIndex) []models.StoredArtifactMetadata { return i.PDFs })
	merged.Excel = merge(func(i *models.CrawlIndex) []models.StoredArtifactMetadata { return i.Excel })
	merged.Images = merge(func(i *models.CrawlIndex) []models.StoredArtifactMetadata { return i.Images })
	merged.OtherFiles = merge(func(i *models.CrawlIndex) []models.StoredArtifactMetadata { return i.OtherFiles })
	return merged
}

func mergeRecords(existing, added []models.StoredArtifactMetadata) []models.StoredArtifactMetadata {
	out := make([]models.StoredArtifactMetadata, 0, len(existing)+len(added))
	pos := make(map[string]int, len(existing)+len(added))
	for _, records := range [][]models.StoredArtifactMetadata{existing, added} {
		for _, r := range records {
			if i, ok := pos[r.URL]; ok {
				out[i] = r
				continue
			}
			pos[r.URL] = len(out)
			out = append(out, r)
		}
	}
	return out
}

// AddRecord files meta under the index list matching category; external pages share the pages list
func AddRecord(idx *models.CrawlIndex, category models.Category, meta models.StoredArtifactMetadata) {
	switch category {
	case models.CategoryPages, models.CategoryExternal:
		idx.Pages = append(idx.Pages, meta)
	case models.CategoryPDFs:
		idx.PDFs = append(idx.PDFs, meta)
	case models.CategoryExcel:
		idx.Excel = append(idx.Excel, meta)
	case models.CategoryImages:
		idx.Images = append(idx.Images, meta)
	default:
		idx.OtherFiles = append(idx.OtherFiles, meta)
	}
}
