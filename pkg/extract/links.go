package extract

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/campus-crawler/pkg/parse"
)

// Menu and navigation containers whose descendants may carry href on non-anchor elements
const menuContainers = ".dropdown [href], .dropdown-menu [href], .menu [href], .submenu [href], .sub-menu [href], " +
	".nav [href], .navbar [href], .navigation [href], nav [href], [role=menu] [href], [role=navigation] [href]"

// Attributes some CMS themes use instead of href
var dataLinkAttrs = []string{"data-href", "data-link", "data-url"}

var (
	onclickLocation = regexp.MustCompile(`(?:window\.|document\.|self\.|top\.)?location(?:\.href)?\s*=\s*['"]([^'"]+)['"]`)
	onclickAssign   = regexp.MustCompile(`location\.(?:assign|replace)\(\s*['"]([^'"]+)['"]`)
	onclickOpen     = regexp.MustCompile(`window\.open\(\s*['"]([^'"]+)['"]`)

	rawHref    = regexp.MustCompile(`(?i)\bhref\s*=\s*["']([^"']+)["']`)
	rawAbsPath = regexp.MustCompile(`=\s*["'](/(?:[^/"'\s<>][^"'\s<>]*)?)["']`)
)

// nonContentDomains never yield crawlable content: analytics, font and script CDNs
var nonContentDomains = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"doubleclick.net",
	"googlesyndication.com",
	"googleadservices.com",
	"fonts.googleapis.com",
	"fonts.gstatic.com",
	"ajax.googleapis.com",
	"use.typekit.net",
	"use.fontawesome.com",
	"kit.fontawesome.com",
	"cdnjs.cloudflare.com",
	"cdn.jsdelivr.net",
	"unpkg.com",
	"code.jquery.com",
	"stackpath.bootstrapcdn.com",
	"maxcdn.bootstrapcdn.com",
	"connect.facebook.net",
	"static.hotjar.com",
	"script.hotjar.com",
}

// assetExtensions are never queued as pages; documents among them go through the file pass
var assetExtensions = map[string]bool{
	".css": true, ".js": true, ".mjs": true, ".map": true, ".json": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".webp": true,
	".ico": true, ".bmp": true, ".tif": true, ".tiff": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".mp3": true, ".mp4": true, ".m4a": true, ".avi": true, ".mov": true, ".wmv": true,
	".webm": true, ".ogg": true, ".wav": true,
	".zip": true, ".rar": true, ".7z": true, ".gz": true, ".tar": true, ".exe": true, ".dmg": true, ".iso": true,
	".pdf": true, ".xls": true, ".xlsx": true, ".doc": true, ".docx": true,
	".ppt": true, ".pptx": true, ".txt": true, ".csv": true,
}

// IsNonContentHost reports whether host belongs to the analytics/CDN denylist
func IsNonContentHost(host string) bool {
	host = strings.ToLower(host)
	for _, d := range nonContentDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// IsAssetPath reports whether a URL path points at a static asset or document rather than a page
func IsAssetPath(p string) bool {
	return assetExtensions[strings.ToLower(path.Ext(p))]
}

// linkSet accumulates page links in discovery order, deduplicated by normalized URL
type linkSet struct {
	e        *Extractor
	base     *url.URL
	seen     map[string]bool
	internal []string
	external []string
}

func (e *Extractor) newLinkSet(base *url.URL) *linkSet {
	return &linkSet{e: e, base: base, seen: make(map[string]bool)}
}

// add resolves href and files it as internal or external; rejected and duplicate hrefs are dropped
func (ls *linkSet) add(href string) {
	normalized, abs, ok := parse.ResolveHref(ls.base, href)
	if !ok || ls.seen[normalized] {
		return
	}
	ls.seen[normalized] = true

	if IsAssetPath(abs.Path) {
		return
	}
	if ls.e.IsInternal(abs) {
		ls.internal = append(ls.internal, normalized)
		return
	}
	if IsNonContentHost(abs.Hostname()) {
		return
	}
	ls.external = append(ls.external, normalized)
}

// collectStructured walks the DOM sources in priority order
func (ls *linkSet) collectStructured(doc *goquery.Document) {
	// Anchors, including those wrapping images, and image-map areas
	doc.Find("a[href], area[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ls.add(href)
	})

	// Menu widgets that put href on li/span/button
	doc.Find(menuContainers).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ls.add(href)
	})

	for _, attr := range dataLinkAttrs {
		doc.Find("[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
			v, _ := s.Attr(attr)
			ls.add(v)
		})
	}

	doc.Find("[onclick]").Each(func(_ int, s *goquery.Selection) {
		handler, _ := s.Attr("onclick")
		for _, re := range []*regexp.Regexp{onclickLocation, onclickAssign, onclickOpen} {
			for _, m := range re.FindAllStringSubmatch(handler, -1) {
				ls.add(m[1])
			}
		}
	})
}

// collectRaw is the last-resort scan of the raw markup for href values and absolute-path attributes
// the DOM passes missed, e.g. inside inline scripts or broken tags
func (ls *linkSet) collectRaw(html string) {
	for _, m := range rawHref.FindAllStringSubmatch(html, -1) {
		ls.add(m[1])
	}
	for _, m := range rawAbsPath.FindAllStringSubmatch(html, -1) {
		ls.add(m[1])
	}
}
