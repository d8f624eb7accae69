// Package profanity implements the ProfanityFilter (C4): rejection of
// nicknames by normalized substring match, per spec.md §3's "not profane"
// participant invariant. The normalize-then-scan shape generalizes
// internal/core/scoring.go's normalizeText helper (lowercase + whitespace
// collapse) used elsewhere for open-ended answer matching.
package profanity

import "strings"

// defaultWords is a small seed blocklist; production deployments are
// expected to load a fuller list via WithWords.
var defaultWords = []string{
	"damn",
	"hell",
	"crap",
	"bastard",
	"bitch",
	"asshole",
	"fuck",
	"shit",
}

// Filter rejects nicknames containing a blocked word as a normalized
// substring, case-insensitively.
type Filter struct {
	words []string
}

// New constructs a Filter with the default seed blocklist.
func New() *Filter {
	return &Filter{words: append([]string(nil), defaultWords...)}
}

// WithWords returns a Filter using an explicit blocklist instead of the
// default seed list.
func WithWords(words []string) *Filter {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToLower(strings.TrimSpace(w))
	}
	return &Filter{words: out}
}

// IsProfane reports whether nickname contains any blocked word as a
// normalized substring.
func (f *Filter) IsProfane(nickname string) bool {
	normalized := strings.ToLower(nickname)
	for _, w := range f.words {
		if w == "" {
			continue
		}
		if strings.Contains(normalized, w) {
			return true
		}
	}
	return false
}
