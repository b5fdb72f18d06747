package normalize

import (
	"strings"
	"testing"
)

func TestToken(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Alien", "alien"},
		{"whitespace", "  Alien  ", "alien"},
		{"zero width space", "\u200bAlien\u200b", "alien"},
		{"bom", "\ufeffAlien", "alien"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Token(tt.input); got != tt.want {
				t.Errorf("Token(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "Alien", "alien"},
		{"year stripped", "Alien (1979)", "alien"},
		{"bracket year stripped", "Alien [1979]", "alien"},
		{"edition stripped", "Alien (Director's Cut)", "alien"},
		{"edition and year", "Blade Runner (Final Cut) (1982)", "blade runner"},
		{"remaster", "Heat [4K Remaster]", "heat"},
		{"punctuation folds", "M*A*S*H", "m a s h"},
		{"ampersand", "Law & Order", "law order"},
		{"unicode composed", "Amélie", "amélie"},
		{"whitespace collapse", "The   Wire", "the wire"},
		{"year inside title kept", "2001: A Space Odyssey", "2001 a space odyssey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Title(tt.input); got != tt.want {
				t.Errorf("Title(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTitle_UnicodeNormalization(t *testing.T) {
	// NFD (decomposed) and NFC (composed) forms must fold identically
	composed := "Amélie"    // é as single rune
	decomposed := "Amélie" // e + combining acute
	if Title(composed) != Title(decomposed) {
		t.Errorf("NFC folding mismatch: %q vs %q", Title(composed), Title(decomposed))
	}
}

func TestTitleYear(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"Alien (1979)", 1979},
		{"Alien [1979]", 1979},
		{"Alien", 0},
		{"2001: A Space Odyssey", 0},
		{"Heat (1995) ", 1995},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := TitleYear(tt.input); got != tt.want {
				t.Errorf("TitleYear(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestMatchKey(t *testing.T) {
	// Same title in different spellings folds to the same key
	a := MatchKey("Alien (1979)", 1979)
	b := MatchKey("  alien  ", 1979)
	if a != b {
		t.Errorf("expected identical keys, got %q and %q", a, b)
	}

	// Different years diverge
	c := MatchKey("Alien", 1979)
	d := MatchKey("Alien", 2017)
	if c == d {
		t.Error("expected year to differentiate keys")
	}

	// Year 0 folds to title only
	e := MatchKey("Alien", 0)
	f := MatchKey("Alien (1979)", 0)
	if e != f {
		t.Errorf("expected year-less keys to match, got %q and %q", e, f)
	}

	if !strings.HasPrefix(a, "match-") {
		t.Errorf("expected match- prefix, got %q", a)
	}
}
