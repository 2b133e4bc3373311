// Package normalize implements the canonical phrase normalization used
// both at ingestion time and at query time. The same function must
// produce the stored normalized_src and the lookup key, or lookups
// silently miss.
package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Phrase canonicalizes a raw phrase: Unicode NFC, lowercase, trim,
// internal whitespace collapsed to single spaces, leading and trailing
// ASCII punctuation stripped. Idempotent: Phrase(Phrase(s)) == Phrase(s).
func Phrase(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, asciiPunct)
	// Trimming punctuation can expose fresh edge whitespace ("?! hi").
	return strings.TrimSpace(s)
}

const asciiPunct = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// StripControl removes ASCII control characters from s. Applied to
// request text before validation so stray NULs or escape sequences
// never reach the store or the LM prompt.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
