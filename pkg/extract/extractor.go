// Package extract turns one fetched HTML page into an ExtractionResult:
// cleaned text, internal and external page links, image references and
// same-site document references.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/campus-crawler/pkg/models"
	"github.com/Sriram-PR/campus-crawler/pkg/utils"
)

// Extractor classifies links against the crawl's site domain, fixed at construction
type Extractor struct {
	domain string // Lowercased hostname of the start URL
	log    *logrus.Entry
}

// New creates an Extractor for the site hosting startURL
func New(startURL string, log *logrus.Entry) (*Extractor, error) {
	u, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("%w: start URL %q: %v", utils.ErrInvalidURL, startURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: start URL %q has no host", utils.ErrInvalidURL, startURL)
	}
	return &Extractor{domain: host, log: log}, nil
}

// Domain returns the site hostname used to split internal from external links
func (e *Extractor) Domain() string {
	return e.domain
}

// IsInternal reports whether u is hosted on the crawl's site
func (e *Extractor) IsInternal(u *url.URL) bool {
	return u != nil && strings.EqualFold(u.Hostname(), e.domain)
}

// Extract parses html fetched from pageURL.
// Link, file and image passes read the untouched document; the text pass runs last because it strips nodes.
func (e *Extractor) Extract(html []byte, pageURL string) (*models.ExtractionResult, error) {
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: page URL %q", utils.ErrInvalidURL, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML of %s: %v", utils.ErrParsing, pageURL, err)
	}

	result := &models.ExtractionResult{}

	links := e.newLinkSet(base)
	links.collectStructured(doc)
	links.collectRaw(string(html))
	result.InternalLinks = links.internal
	result.ExternalLinks = links.external

	files := e.newFileSet(base)
	files.collect(doc)
	result.PDFURLs = files.pdfs
	result.SpreadsheetURLs = files.spreadsheets
	result.OtherFiles = files.other

	result.Images = extractImages(doc, base)

	result.Text = extractText(doc)

	e.log.WithFields(logrus.Fields{
		"url":            pageURL,
		"internal_links": len(result.InternalLinks),
		"external_links": len(result.ExternalLinks),
		"pdfs":           len(result.PDFURLs),
		"spreadsheets":   len(result.SpreadsheetURLs),
		"other_files":    len(result.OtherFiles),
		"images":         len(result.Images),
		"text_chars":     len(result.Text),
	}).Debug("Extracted page")

	return result, nil
}
