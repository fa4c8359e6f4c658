package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// shortHashLength is the number of hex characters kept by ShortHash
const shortHashLength = 8

// CalculateStringSHA256 computes the SHA-256 hash of a string.
func CalculateStringSHA256(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// CalculateBytesSHA256 computes the SHA-256 hash of a byte slice.
func CalculateBytesSHA256(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// ShortHash returns the first 8 hex characters of the SHA-256 of s.
// Used as the uniqueness suffix of content-addressed filenames.
func ShortHash(s string) string {
	return CalculateStringSHA256(s)[:shortHashLength]
}
