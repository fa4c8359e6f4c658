package parse

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL for comparison and storage
// It lowercases the scheme and host, removes default ports (80 for http, 443 for https), removes trailing slashes from paths (unless root "/"), ensures empty path becomes "/", and removes the fragment
// The query string is kept: school CMSes commonly route distinct pages through it (?page_id=12)
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	// Work on a copy
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	// Remove default ports
	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil { // Host included a port
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host // Use hostname without default port
		}
	} // If no port or error, Host remains unchanged

	// Handle path normalization
	if normalized.Path == "" {
		normalized.Path = "/" // Ensure empty path becomes "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1] // Remove trailing slash
	}
	normalized.RawPath = ""

	normalized.Fragment = "" // Remove fragment
	normalized.RawFragment = ""
	if normalized.RawQuery == "" {
		normalized.ForceQuery = false // "page?" and "page" are the same resource
	}

	return normalized.String()
}

// ParseAndNormalize parses a URL string using the stricter url.ParseRequestURI (requiring a scheme) and then normalizes it using NormalizeURL
// Returns the normalized string, the parsed URL object, and any parse error
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(StripFragment(urlStr)) // Stricter parsing
	if err != nil {
		return "", nil, err
	}
	normalizedStr := NormalizeURL(parsed)
	return normalizedStr, parsed, nil
}

// StripFragment discards everything from the first '#' onward and trims surrounding whitespace
func StripFragment(href string) string {
	if idx := strings.IndexByte(href, '#'); idx >= 0 {
		href = href[:idx]
	}
	return strings.TrimSpace(href)
}

// ResolveHref turns a raw href found on a page into an absolute, normalized http(s) URL
// Returns ok=false for empty or fragment-only hrefs, javascript:/mailto:/tel: targets, unparsable values and non-http schemes
func ResolveHref(base *url.URL, href string) (string, *url.URL, bool) {
	stripped := StripFragment(href)
	if stripped == "" {
		return "", nil, false
	}

	lower := strings.ToLower(stripped)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", nil, false
		}
	}

	ref, err := url.Parse(stripped)
	if err != nil {
		return "", nil, false
	}

	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if (abs.Scheme != "http" && abs.Scheme != "https") || abs.Host == "" {
		return "", nil, false
	}

	return NormalizeURL(abs), abs, true
}
