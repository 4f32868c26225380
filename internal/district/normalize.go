// Package district canonicalizes postcode district codes into the join key
// shared by signal rows and reference geography.
package district

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical key for a raw district code: compatibility
// forms are folded (full-width digits, ligatures), letters are uppercased and
// every rune that is not a letter or digit is dropped, so " sw1a ", "SW 1A"
// and "sw-1a" all map to "SW1A".
func Normalize(raw string) string {
	folded := norm.NFKC.String(strings.TrimSpace(raw))

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToUpper(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return norm.NFKC.String(b.String())
}

// NormalizeAll normalizes and de-duplicates keys, preserving first-seen order
// and dropping codes that normalize to the empty string.
func NormalizeAll(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		key := Normalize(r)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
