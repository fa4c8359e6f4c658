package extract

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/campus-crawler/pkg/models"
	"github.com/Sriram-PR/campus-crawler/pkg/parse"
)

// FileKind is the bucket a document reference falls into
type FileKind int

const (
	FileNone FileKind = iota
	FilePDF
	FileSpreadsheet
	FileOther
)

// otherDocumentExtensions are kept as generic documents, tagged with their extension
var otherDocumentExtensions = map[string]bool{
	".doc": true, ".docx": true, ".ppt": true, ".pptx": true, ".txt": true, ".csv": true,
}

var absolutePDFURL = regexp.MustCompile(`(?i)https?://[^\s"'<>()]+?\.pdf\b`)

// ClassifyFile buckets a URL path by extension; ext is the lowercased extension without the dot
func ClassifyFile(urlPath string) (kind FileKind, ext string) {
	dotExt := strings.ToLower(path.Ext(urlPath))
	switch {
	case dotExt == ".pdf":
		return FilePDF, "pdf"
	case dotExt == ".xlsx" || dotExt == ".xls":
		return FileSpreadsheet, dotExt[1:]
	case otherDocumentExtensions[dotExt]:
		return FileOther, dotExt[1:]
	}
	return FileNone, ""
}

// fileSet accumulates same-site document references, deduplicated by normalized URL
type fileSet struct {
	e            *Extractor
	base         *url.URL
	seen         map[string]bool
	pdfs         []string
	spreadsheets []string
	other        []models.FileRef
}

func (e *Extractor) newFileSet(base *url.URL) *fileSet {
	return &fileSet{e: e, base: base, seen: make(map[string]bool)}
}

func (fs *fileSet) add(ref string) {
	normalized, abs, ok := parse.ResolveHref(fs.base, ref)
	if !ok || fs.seen[normalized] {
		return
	}
	// Cross-domain documents are out of scope
	if !fs.e.IsInternal(abs) {
		return
	}

	kind, ext := ClassifyFile(abs.Path)
	if kind == FileNone {
		return
	}
	fs.seen[normalized] = true

	switch kind {
	case FilePDF:
		fs.pdfs = append(fs.pdfs, normalized)
	case FileSpreadsheet:
		fs.spreadsheets = append(fs.spreadsheets, normalized)
	case FileOther:
		fs.other = append(fs.other, models.FileRef{URL: normalized, Type: ext})
	}
}

// collect scans anchors, embedded-object sources, data-link attributes, then the rendered text
func (fs *fileSet) collect(doc *goquery.Document) {
	sources := []struct{ selector, attr string }{
		{"a[href]", "href"},
		{"iframe[src]", "src"},
		{"embed[src]", "src"},
		{"object[data]", "data"},
	}
	for _, attr := range dataLinkAttrs {
		sources = append(sources, struct{ selector, attr string }{"[" + attr + "]", attr})
	}

	for _, src := range sources {
		attr := src.attr
		doc.Find(src.selector).Each(func(_ int, s *goquery.Selection) {
			v, _ := s.Attr(attr)
			fs.add(v)
		})
	}

	// Plain-text mentions such as "download at https://school.test/forms/form.pdf"
	for _, m := range absolutePDFURL.FindAllString(doc.Text(), -1) {
		fs.add(m)
	}
}

// extractImages collects <img> sources with alt text, deduplicated by absolute URL
func extractImages(doc *goquery.Document, base *url.URL) []models.ImageRef {
	var images []models.ImageRef
	seen := make(map[string]bool)

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if strings.TrimSpace(src) == "" || strings.HasPrefix(strings.TrimSpace(src), "data:") {
			// Lazy-loading themes keep the real source in data-src
			src, _ = s.Attr("data-src")
		}
		normalized, _, ok := parse.ResolveHref(base, src)
		if !ok || seen[normalized] {
			return
		}
		seen[normalized] = true

		alt, _ := s.Attr("alt")
		images = append(images, models.ImageRef{URL: normalized, Alt: strings.TrimSpace(alt)})
	})

	return images
}
