package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxSegmentLength is the maximum allowed path segment length (common filesystem limit).
const maxSegmentLength = 255

// dangerousChars contains characters that must be replaced in path segments
// and header values.
var dangerousChars = map[rune]bool{
	'"':  true, // Can break Content-Disposition header quotes
	'\\': true, // Path separator on Windows, escape char
	'/':  true, // Path separator
	':':  true, // Windows drive separator, URI scheme
	'\n': true, // HTTP header injection
	'\r': true, // HTTP header injection
}

// SanitizeSegment turns a caller-supplied value such as an external id into a
// single safe path segment. Dangerous characters become underscores, "." and
// ".." are rejected by mapping them to fallback, and the result is capped at
// 255 bytes without splitting a rune.
func SanitizeSegment(s, fallback string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	for _, r := range s {
		if shouldReplace(r) {
			sb.WriteRune('_')
		} else {
			sb.WriteRune(r)
		}
	}

	result := strings.TrimSpace(sb.String())
	if result == "" || result == "." || result == ".." || isOnlyUnderscores(result) {
		return fallback
	}

	return truncateToBytes(result, maxSegmentLength)
}

func shouldReplace(r rune) bool {
	if r < 32 || r == 127 {
		return true
	}
	return dangerousChars[r]
}

func isOnlyUnderscores(s string) bool {
	for _, r := range s {
		if r != '_' {
			return false
		}
	}
	return true
}

// truncateToBytes truncates a UTF-8 string to at most maxBytes bytes without
// cutting a multi-byte character.
func truncateToBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// ContentDisposition returns a safe Content-Disposition header value for a
// downloaded results artifact.
func ContentDisposition(filename string, inline bool) string {
	sanitized := SanitizeSegment(filename, "results.json")

	disposition := "attachment"
	if inline {
		disposition = "inline"
	}

	return fmt.Sprintf("%s; filename=%q", disposition, sanitized)
}
