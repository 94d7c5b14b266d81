// Package transform provides text normalization for payee keys and
// description matching.
package transform

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var collapseSpaces = regexp.MustCompile(`\s+`)

// NormalizeDescription converts a bank statement description into the
// canonical key used for payee mappings and case-insensitive matching.
// Examples: "  PADARIA São João  " → "padaria sao joao"
//
// Steps: strip diacritics, lowercase, trim, collapse internal whitespace.
// Brazilian bank statements carry accented payee names in windows-1252;
// stripping marks keeps a mapping learned from one statement usable when a
// later statement spells the same payee without accents.
func NormalizeDescription(desc string) string {
	// Strip combining marks (accented characters become their base letter)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, desc)
	if err != nil {
		// Undecomposable input is left as-is; lowercasing still applies
		normalized = desc
	}

	normalized = strings.ToLower(strings.TrimSpace(normalized))
	return collapseSpaces.ReplaceAllString(normalized, " ")
}

// ContainsNormalized reports whether haystack contains needle after both are
// normalized. An empty needle never matches.
func ContainsNormalized(haystack, needle string) bool {
	n := NormalizeDescription(needle)
	if n == "" {
		return false
	}
	return strings.Contains(NormalizeDescription(haystack), n)
}
