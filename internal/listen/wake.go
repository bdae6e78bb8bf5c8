package listen

import (
	"strings"
	"unicode"
)

// NormalizeText strips punctuation, symbols and whitespace and lowercases
// the remainder. Returns the rune length of the filtered text alongside it;
// a zero length means the input carried no recognizable content.
func NormalizeText(s string) (int, string) {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	filtered := b.String()
	return len([]rune(filtered)), filtered
}

// WakeMatcher matches client-declared detect text against the configured
// wake-phrase set. Both sides are compared in normalized form so
// punctuation and casing differences never defeat a match.
type WakeMatcher struct {
	phrases map[string]struct{}
}

func NewWakeMatcher(phrases []string) *WakeMatcher {
	set := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		if _, norm := NormalizeText(p); norm != "" {
			set[norm] = struct{}{}
		}
	}
	return &WakeMatcher{phrases: set}
}

func (m *WakeMatcher) Match(text string) bool {
	if m == nil || len(m.phrases) == 0 {
		return false
	}
	_, norm := NormalizeText(text)
	if norm == "" {
		return false
	}
	_, ok := m.phrases[norm]
	return ok
}
