package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Elements that never carry readable page text
const strippedElements = "script, style, noscript, iframe, embed, object, svg, template"

// Site chrome removed before choosing the content region
const chromeElements = "nav, header, footer, " +
	"[role=navigation], [role=banner], [role=contentinfo], " +
	".menu, .navbar, .nav, .navigation, .dropdown, .dropdown-menu, .breadcrumb, .breadcrumbs, " +
	"#header, #footer, #nav, #navigation, .site-header, .site-footer, .skip-link"

// Candidate main-content regions, most specific first
var contentRegions = []string{
	"main",
	"article",
	"[role=main]",
	"#content",
	"#main-content",
	".main-content",
	".content",
	".entry-content",
	".post-content",
}

const minBlockChars = 10

var (
	horizontalSpace = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)
	spaceAroundNL   = regexp.MustCompile(` *\n *`)
	excessNewlines  = regexp.MustCompile(`\n{3,}`)
	anyWhitespace   = regexp.MustCompile(`\s+`)
)

// extractText strips noise from doc in place and renders the main region as plain text
func extractText(doc *goquery.Document) string {
	doc.Find(strippedElements).Remove()
	doc.Find(chromeElements).Remove()

	region := contentRegion(doc)

	var blocks []string
	region.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		text := collapseInline(s.Text())
		if text == "" {
			return
		}
		level := int(goquery.NodeName(s)[1] - '0')
		blocks = append(blocks, strings.Repeat("#", level)+" "+text)
	})
	region.Find("p, li, dd, dt").Each(func(_ int, s *goquery.Selection) {
		text := collapseInline(s.Text())
		if utf8.RuneCountInString(text) > minBlockChars {
			blocks = append(blocks, text)
		}
	})

	if len(blocks) == 0 {
		return cleanWhitespace(region.Text())
	}
	return cleanWhitespace(strings.Join(blocks, "\n\n"))
}

// contentRegion returns the first main/article/content region, else body, else the whole document
func contentRegion(doc *goquery.Document) *goquery.Selection {
	for _, sel := range contentRegions {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	if body := doc.Find("body"); body.Length() > 0 {
		return body
	}
	return doc.Selection
}

// collapseInline squeezes every whitespace run, newlines included, into one space
func collapseInline(s string) string {
	return strings.TrimSpace(anyWhitespace.ReplaceAllString(s, " "))
}

// cleanWhitespace collapses horizontal runs and limits blank lines to one
func cleanWhitespace(s string) string {
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = spaceAroundNL.ReplaceAllString(s, "\n")
	s = excessNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
