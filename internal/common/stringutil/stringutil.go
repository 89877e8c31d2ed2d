// Package stringutil provides common string utility functions.
package stringutil

import "unicode/utf8"

// TruncateBytes truncates s to at most maxBytes bytes, backing up so the
// cut never lands inside a multi-byte UTF-8 sequence. No marker is
// appended; stored responses are truncated silently.
func TruncateBytes(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// TruncateWithEllipsis truncates a string to a maximum byte length and adds
// a "..." suffix. Used for log-friendly snippets, not stored payloads.
func TruncateWithEllipsis(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		return TruncateBytes(s, maxLen)
	}
	return TruncateBytes(s, maxLen-3) + "..."
}
