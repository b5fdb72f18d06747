// Package normalize folds media titles into stable match keys. List feeds
// spell titles differently than the library does ("Alien³", "alien 3",
// "Alien 3 (1992)"), so both sides are folded through the same pipeline
// before comparison.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	yearSuffix = regexp.MustCompile(`\s*[(\[]\d{4}[)\]]\s*$`)
	editionTag = regexp.MustCompile(`\s*[(\[][^)\]]*(?:edition|cut|remaster)[^)\]]*[)\]]\s*$`)
	punct      = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	space      = regexp.MustCompile(`\s+`)
)

// Token normalizes a string token for matching:
// - trims Unicode whitespace + invisible edge characters
// - lowercases for case-insensitive comparisons
func Token(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) ||
			r == '\u200b' || // Zero Width Space
			r == '\u200c' || // Zero Width Non-Joiner
			r == '\u200d' || // Zero Width Joiner
			r == '\ufeff' // Zero Width Non-Breaking Space (BOM)
	}))
}

// Title folds a media title for matching. Unicode is normalized to NFC form
// before and after case conversion (lowercase may create new combining
// sequences), trailing year and edition tags are stripped, and punctuation
// collapses to single spaces.
func Title(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(strings.TrimSpace(s))
	s = norm.NFC.String(s)

	// Strip suffixes repeatedly until none remain ("Title (Director's Cut) (1992)")
	for {
		before := s
		s = yearSuffix.ReplaceAllString(s, "")
		s = editionTag.ReplaceAllString(s, "")
		if s == before {
			break
		}
	}

	s = punct.ReplaceAllString(s, " ")
	s = space.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// TitleYear extracts a trailing "(2006)" or "[2006]" year from a raw title.
// Returns 0 when the title carries none.
func TitleYear(s string) int {
	m := yearSuffix.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0
	}
	digits := strings.Trim(strings.TrimSpace(m), "([])")
	year, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return year
}

// MatchKey builds the deterministic key used by the title match cache. Year 0
// means "unknown" and matches any year on the other side, so it folds to the
// title alone.
func MatchKey(title string, year int) string {
	folded := Title(title)
	if year > 0 {
		folded = folded + "|" + strconv.Itoa(year)
	}
	sum := sha256.Sum256([]byte(folded))
	return "match-" + hex.EncodeToString(sum[:])
}
