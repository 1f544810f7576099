// Package normalize implements the text normalization shared by the works and
// authors importers. Two strings that normalize to the same value are treated
// as the same title (or the same author name) by the rest of the pipeline, so
// the exact order of the steps below is part of the on-disk contract:
//
//  1. lowercase
//  2. canonical decomposition (NFD)
//  3. drop nonspacing marks (Unicode category Mn)
//  4. drop every rune outside [a-z0-9], whitespace and '-'
//  5. collapse whitespace runs to a single ASCII space
//  6. trim leading and trailing space
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes and removes nonspacing marks. There is no trailing
// NFC step: everything that would recompose is removed by the ASCII filter.
func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
}

// Text returns the normalized form of s. It is pure and deterministic, and
// Text(Text(s)) == Text(s) for every input.
func Text(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ToLower(s)

	// transform.Chain keeps per-call state, so build one per call.
	decomposed, _, err := transform.String(stripMarks(), s)
	if err != nil {
		decomposed = s
	}

	var b strings.Builder
	b.Grow(len(decomposed))

	pendingSpace := false
	for _, r := range decomposed {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-':
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case isSpace(r):
			pendingSpace = true
		default:
			// dropped; does not break a whitespace run
		}
	}
	return b.String()
}

// isSpace is unicode.IsSpace plus the information separators U+001C..U+001F.
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}
