package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/campus-crawler/pkg/config"
	"github.com/Sriram-PR/campus-crawler/pkg/fetch"
	"github.com/Sriram-PR/campus-crawler/pkg/models"
	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

// stubFetcher serves fixed bodies by URL; unknown URLs fail like a 404
type stubFetcher struct {
	bodies map[string]string
	calls  []string
}

func (s *stubFetcher) Get(_ context.Context, rawURL string) (*fetch.Response, error) {
	s.calls = append(s.calls, rawURL)
	body, ok := s.bodies[rawURL]
	if !ok {
		return nil, fmt.Errorf("%w: status 404 for %s", utils.ErrClientHTTPError, rawURL)
	}
	return &fetch.Response{URL: rawURL, StatusCode: 200, Body: []byte(body)}, nil
}

func newTestManager(t *testing.T, bodies map[string]string) (*Manager, *stubFetcher) {
	t.Helper()
	f := &stubFetcher{bodies: bodies}
	m, err := New(filepath.Join(t.TempDir(), "data"), f, testLogger())
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }
	return m, f
}

func TestNew_CreatesLayout(t *testing.T) {
	m, _ := newTestManager(t, nil)
	for _, dir := range []string{"pages", "external", "pdfs", "excel", "images", "other"} {
		info, err := os.Stat(filepath.Join(m.Root(), dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestNew_FailsWhenRootIsAFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := New(file, &stubFetcher{}, testLogger())
	assert.ErrorIs(t, err, utils.ErrFilesystem)
}

func TestURLToFilename(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := URLToFilename("https://school.test/about/staff", ".txt")
		b := URLToFilename("https://school.test/about/staff", ".txt")
		assert.Equal(t, a, b)
		assert.Equal(t, "about_staff_"+utils.ShortHash("https://school.test/about/staff")+".txt", a)
	})

	t.Run("same path shape on different hosts differs", func(t *testing.T) {
		assert.NotEqual(t,
			URLToFilename("https://school.test/news", "txt"),
			URLToFilename("https://other.test/news", "txt"))
	})

	t.Run("query distinguishes pages", func(t *testing.T) {
		assert.NotEqual(t,
			URLToFilename("https://school.test/?page_id=1", ".txt"),
			URLToFilename("https://school.test/?page_id=2", ".txt"))
	})

	t.Run("root becomes index", func(t *testing.T) {
		name := URLToFilename("https://school.test/", "pdf")
		assert.True(t, strings.HasPrefix(name, "index_"), name)
		assert.True(t, strings.HasSuffix(name, ".pdf"), name)
	})

	t.Run("long paths truncated", func(t *testing.T) {
		long := "https://school.test/" + strings.Repeat("a", 400)
		name := URLToFilename(long, ".txt")
		assert.LessOrEqual(t, len(name), 200+1+8+4)
	})
}

func TestPathFor_Extensions(t *testing.T) {
	m, _ := newTestManager(t, nil)

	tests := []struct {
		url      string
		category models.Category
		ext      string
	}{
		{"https://school.test/about", models.CategoryPages, ".txt"},
		{"https://other.test/partner.html", models.CategoryExternal, ".txt"},
		{"https://school.test/docs/Bulletin.PDF", models.CategoryPDFs, ".pdf"},
		{"https://school.test/download?id=7", models.CategoryPDFs, ".pdf"},
		{"https://school.test/data/fees.xls", models.CategoryExcel, ".xls"},
		{"https://school.test/getfile", models.CategoryExcel, ".xlsx"},
		{"https://school.test/img/logo.png", models.CategoryImages, ".png"},
		{"https://school.test/forms/slip.docx", models.CategoryOther, ".docx"},
		{"https://school.test/file.tar-gz!", models.CategoryOther, ".bin"},
	}
	for _, tt := range tests {
		p := m.PathFor(tt.url, tt.category)
		assert.Equal(t, tt.ext, filepath.Ext(p), tt.url)
		assert.Equal(t, filepath.Join(m.Root(), string(tt.category)), filepath.Dir(p), tt.url)
	}
}

func TestSavePage_AndHasBeenCrawled(t *testing.T) {
	m, _ := newTestManager(t, nil)
	const pageURL = "https://school.test/admissions"

	assert.False(t, m.HasBeenCrawled(pageURL, models.CategoryPages))

	meta, err := m.SavePage(pageURL, "Applications open in March.", false)
	require.NoError(t, err)

	assert.Equal(t, pageURL, meta.URL)
	assert.Equal(t, m.PathFor(pageURL, models.CategoryPages), meta.FilePath)
	assert.Equal(t, utils.CalculateStringSHA256("Applications open in March."), meta.ContentHash)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), meta.CrawledAt)

	data, err := os.ReadFile(meta.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "Applications open in March.", string(data))

	assert.True(t, m.HasBeenCrawled(pageURL, models.CategoryPages))
	assert.False(t, m.HasBeenCrawled(pageURL, models.CategoryExternal))
}

func TestSavePage_External(t *testing.T) {
	m, _ := newTestManager(t, nil)

	meta, err := m.SavePage("https://other.test/partner", "Partner school", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Root(), "external"), filepath.Dir(meta.FilePath))
	assert.True(t, m.HasBeenCrawled("https://other.test/partner", models.CategoryExternal))
}

func TestSaveFile(t *testing.T) {
	const pdfURL = "https://school.test/docs/bulletin.pdf"
	m, f := newTestManager(t, map[string]string{pdfURL: "%PDF-1.4 bulletin"})

	t.Run("downloads into category", func(t *testing.T) {
		meta, err := m.SaveFile(context.Background(), pdfURL, models.CategoryPDFs)
		require.NoError(t, err)

		data, err := os.ReadFile(meta.FilePath)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4 bulletin", string(data))
		assert.True(t, m.HasBeenCrawled(pdfURL, models.CategoryPDFs))
		assert.Equal(t, []string{pdfURL}, f.calls)
	})

	t.Run("fetch failure propagates and writes nothing", func(t *testing.T) {
		missing := "https://school.test/docs/missing.pdf"
		_, err := m.SaveFile(context.Background(), missing, models.CategoryPDFs)
		assert.ErrorIs(t, err, utils.ErrClientHTTPError)
		assert.False(t, m.HasBeenCrawled(missing, models.CategoryPDFs))
	})

	t.Run("page categories rejected", func(t *testing.T) {
		_, err := m.SaveFile(context.Background(), pdfURL, models.CategoryPages)
		assert.Error(t, err)
	})
}

func TestSaveFile_OversizedDownloadWritesNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, "%PDF-0123456789 prospectus")
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.MaxBodyBytes = 8
	fetcher := fetch.NewFetcher(server.Client(), cfg, testLogger())
	m, err := New(filepath.Join(t.TempDir(), "data"), fetcher, testLogger())
	require.NoError(t, err)

	pdfURL := server.URL + "/docs/prospectus.pdf"
	_, err = m.SaveFile(context.Background(), pdfURL, models.CategoryPDFs)
	require.ErrorIs(t, err, utils.ErrResponseBodyRead)

	assert.False(t, m.HasBeenCrawled(pdfURL, models.CategoryPDFs), "a later run must retry the download")
	entries, err := os.ReadDir(filepath.Join(m.Root(), string(models.CategoryPDFs)))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIndex_LoadSave(t *testing.T) {
	m, _ := newTestManager(t, nil)

	t.Run("absent index is nil", func(t *testing.T) {
		assert.Nil(t, m.LoadIndex())
	})

	t.Run("corrupt index is nil", func(t *testing.T) {
		require.NoError(t, os.WriteFile(m.IndexPath(), []byte("{broken"), 0644))
		assert.Nil(t, m.LoadIndex())
	})

	t.Run("save overwrites corrupt index", func(t *testing.T) {
		idx := &models.CrawlIndex{
			LastCrawl: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Pages:     []models.StoredArtifactMetadata{{URL: "https://school.test/", FilePath: "p"}},
		}
		require.NoError(t, m.SaveIndex(idx))

		loaded := m.LoadIndex()
		require.NotNil(t, loaded)
		assert.Equal(t, idx.Pages, loaded.Pages)
		assert.True(t, idx.LastCrawl.Equal(loaded.LastCrawl))
	})
}

func TestMergeIndex(t *testing.T) {
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := &models.CrawlIndex{
		LastCrawl: old,
		Pages: []models.StoredArtifactMetadata{
			{URL: "https://school.test/a", ContentHash: "a1"},
			{URL: "https://school.test/b", ContentHash: "b1"},
		},
		PDFs: []models.StoredArtifactMetadata{{URL: "https://school.test/x.pdf"}},
	}
	added := &models.CrawlIndex{
		Pages: []models.StoredArtifactMetadata{
			{URL: "https://school.test/b", ContentHash: "b2"},
			{URL: "https://school.test/c", ContentHash: "c1"},
		},
		Excel: []models.StoredArtifactMetadata{{URL: "https://school.test/y.xlsx"}},
	}

	merged := MergeIndex(existing, added)

	assert.Equal(t, []models.StoredArtifactMetadata{
		{URL: "https://school.test/a", ContentHash: "a1"},
		{URL: "https://school.test/b", ContentHash: "b2"},
		{URL: "https://school.test/c", ContentHash: "c1"},
	}, merged.Pages)
	assert.Len(t, merged.PDFs, 1)
	assert.Len(t, merged.Excel, 1)
	assert.True(t, merged.LastCrawl.Equal(old))

	assert.Equal(t, added.Pages, MergeIndex(nil, added).Pages)
	assert.Empty(t, MergeIndex(nil, nil).Pages)
}

func TestPersistIndex(t *testing.T) {
	m, _ := newTestManager(t, nil)

	first := &models.CrawlIndex{}
	AddRecord(first, models.CategoryPages, models.StoredArtifactMetadata{URL: "https://school.test/"})
	_, err := m.PersistIndex(first)
	require.NoError(t, err)

	second := &models.CrawlIndex{}
	AddRecord(second, models.CategoryExternal, models.StoredArtifactMetadata{URL: "https://other.test/"})
	AddRecord(second, models.CategoryPDFs, models.StoredArtifactMetadata{URL: "https://school.test/a.pdf"})
	AddRecord(second, models.CategoryOther, models.StoredArtifactMetadata{URL: "https://school.test/a.docx"})
	merged, err := m.PersistIndex(second)
	require.NoError(t, err)

	assert.Len(t, merged.Pages, 2)
	assert.Len(t, merged.PDFs, 1)
	assert.Len(t, merged.OtherFiles, 1)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), merged.LastCrawl)

	loaded := m.LoadIndex()
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Pages, 2)
}

func TestReadIndex(t *testing.T) {
	m, _ := newTestManager(t, nil)

	_, err := ReadIndex(m.Root())
	assert.ErrorIs(t, err, ErrNoIndex)

	require.NoError(t, os.WriteFile(m.IndexPath(), []byte("[]{"), 0644))
	_, err = ReadIndex(m.Root())
	assert.ErrorIs(t, err, utils.ErrParsing)

	require.NoError(t, m.SaveIndex(&models.CrawlIndex{PDFs: []models.StoredArtifactMetadata{{URL: "https://school.test/a.pdf"}}}))
	idx, err := ReadIndex(m.Root())
	require.NoError(t, err)
	assert.Len(t, idx.PDFs, 1)
}
