package utils

import (
	"regexp"
	"strings"
)

// --- Filename Sanitization ---
var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9_-]`) // Anything outside the path-fragment alphabet
var consecutiveUnderscores = regexp.MustCompile(`_+`)      // Pattern to replace multiple underscores with one

const maxPathFragmentLength = 200 // Max length for URL-derived path fragments

// SanitizePathFragment turns a URL path into a filesystem-safe name fragment.
// Non-alphanumerics become underscores, the result is capped at 200 bytes,
// and an empty result defaults to "index".
func SanitizePathFragment(urlPath string) string {
	sanitized := strings.Trim(urlPath, "/")
	sanitized = nonAlphanumeric.ReplaceAllString(sanitized, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_")

	if len(sanitized) > maxPathFragmentLength {
		sanitized = strings.TrimRight(sanitized[:maxPathFragmentLength], "_")
	}

	if sanitized == "" {
		sanitized = "index"
	}
	return sanitized
}
