package annotate

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Match is the result of locating a phrase in a text. Index and Length are
// byte offsets into the searched text.
type Match struct {
	Found           bool
	Index           int
	Length          int
	CaseInsensitive bool
}

// End is the byte offset just past the matched span.
func (m Match) End() int {
	return m.Index + m.Length
}

// Locate finds the first occurrence of phrase in haystack, trying an exact
// match before a case-insensitive one. Absence is an ordinary outcome: models
// often quote the student slightly wrong.
func Locate(haystack, phrase string) Match {
	if phrase == "" {
		return Match{}
	}
	if idx := strings.Index(haystack, phrase); idx >= 0 {
		return Match{Found: true, Index: idx, Length: len(phrase)}
	}
	// Walk rune boundaries of the original text so the offset stays valid even
	// when case folding changes byte lengths.
	for i := 0; i < len(haystack); {
		if n, ok := hasPrefixFold(haystack[i:], phrase); ok {
			return Match{Found: true, Index: i, Length: n, CaseInsensitive: true}
		}
		_, size := utf8.DecodeRuneInString(haystack[i:])
		i += size
	}
	return Match{}
}

// hasPrefixFold reports whether s starts with prefix under simple case
// folding, and how many bytes of s the prefix covered.
func hasPrefixFold(s, prefix string) (int, bool) {
	i := 0
	for _, pr := range prefix {
		if i >= len(s) {
			return 0, false
		}
		sr, size := utf8.DecodeRuneInString(s[i:])
		if !equalFoldRune(sr, pr) {
			return 0, false
		}
		i += size
	}
	return i, true
}

func equalFoldRune(a, b rune) bool {
	if a == b {
		return true
	}
	return unicode.ToLower(a) == unicode.ToLower(b) || unicode.ToUpper(a) == unicode.ToUpper(b)
}
