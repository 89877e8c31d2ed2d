package stringutil

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateBytesShortString(t *testing.T) {
	assert.Equal(t, "hello", TruncateBytes("hello", 10))
	assert.Equal(t, "hello", TruncateBytes("hello", 5))
}

func TestTruncateBytesCutsAtLimit(t *testing.T) {
	s := strings.Repeat("a", 100)
	got := TruncateBytes(s, 64)
	assert.Len(t, got, 64)
}

func TestTruncateBytesRespectsUTF8Boundary(t *testing.T) {
	// "é" is two bytes; cutting at byte 3 would split the second rune.
	s := "aéé"
	got := TruncateBytes(s, 2)
	assert.Equal(t, "a", got)
	assert.True(t, utf8.ValidString(got))

	// Multi-byte CJK runes: every cut point must leave a valid string.
	cjk := strings.Repeat("日本語", 10)
	for max := 1; max < len(cjk); max++ {
		assert.True(t, utf8.ValidString(TruncateBytes(cjk, max)), "cut at %d", max)
	}
}

func TestTruncateBytesNoMarker(t *testing.T) {
	s := strings.Repeat("x", 200)
	got := TruncateBytes(s, 50)
	assert.False(t, strings.HasSuffix(got, "..."))
}

func TestTruncateBytesZeroBudget(t *testing.T) {
	assert.Equal(t, "", TruncateBytes("anything", 0))
}

func TestTruncateWithEllipsis(t *testing.T) {
	assert.Equal(t, "hello", TruncateWithEllipsis("hello", 10))
	assert.Equal(t, "hell...", TruncateWithEllipsis("hello world", 7))
}
