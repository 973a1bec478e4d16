// Package sanitize cleans server-supplied text before it reaches the
// terminal or the log.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Byte limits for registry-provided strings.
const (
	MaxNameBytes    = 200
	MaxMessageBytes = 512
)

// maxEscapeScan bounds the search for the end of a CSI sequence.
const maxEscapeScan = 64

// Line collapses s to one printable line of at most maxBytes bytes. Escape
// sequences and control characters are removed and whitespace runs become a
// single space.
func Line(s string, maxBytes int) string {
	s = StripControlChars(s)
	s = strings.Join(strings.Fields(s), " ")
	return TruncateUTF8(s, maxBytes)
}

// TruncateUTF8 truncates s to at most maxBytes bytes without splitting UTF-8 runes.
func TruncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	cut := s[:maxBytes]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// StripControlChars removes ANSI escape sequences and control characters
// other than newline and tab.
func StripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == '\x1b' {
			i = skipEscape(s, i)
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == '\n' || r == '\t' || (r >= ' ' && !unicode.IsControl(r)) {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// skipEscape returns the index just past the escape sequence starting at i.
func skipEscape(s string, i int) int {
	if i+1 >= len(s) {
		return len(s)
	}
	switch s[i+1] {
	case '[': // CSI: parameters then a final byte in 0x40-0x7E
		j := i + 2
		limit := min(j+maxEscapeScan, len(s))
		for j < limit && (s[j] < 0x40 || s[j] > 0x7E) {
			j++
		}
		if j < len(s) && s[j] >= 0x40 && s[j] <= 0x7E {
			j++
		}
		return j
	case ']': // OSC: terminated by BEL or ESC \
		for j := i + 2; j < len(s); j++ {
			if s[j] == '\x07' {
				return j + 1
			}
			if s[j] == '\x1b' && j+1 < len(s) && s[j+1] == '\\' {
				return j + 2
			}
		}
		return len(s)
	default:
		return i + 2
	}
}
