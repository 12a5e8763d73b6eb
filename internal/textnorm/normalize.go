// Package textnorm provides the text canonicalization and similarity
// primitives used by mention matching and provider cache keys.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripAccents decomposes characters and removes combining marks, so
// "Tiësto" normalizes the same way as "Tiesto".
var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes a string for comparison: lowercase, diacritics
// stripped, everything outside [a-z0-9] and whitespace removed, whitespace
// collapsed to single spaces, trimmed. Empty input yields an empty string.
// Idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ToLower(s)
	if stripped, _, err := transform.String(stripAccents, s); err == nil {
		s = stripped
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Key builds the canonical lookup key for an (artist, title) pair. It is
// used both for match indexing and as the provider cache key.
func Key(artist, title string) string {
	return Normalize(artist) + "|" + Normalize(title)
}
