package asr

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Stitch merges an ordered sequence of overlapping partial transcripts into
// one cumulative string. Streaming recognizers re-emit overlapping windows;
// this reconstructs a coherent transcript without backend-side
// deduplication. Order matters: segments must be fed in production order.
func Stitch(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	result := strings.TrimSpace(segments[0])
	for _, seg := range segments[1:] {
		next := strings.TrimSpace(seg)
		if next == "" {
			continue
		}
		result = stitchPair(result, next)
	}
	return strings.TrimSpace(result)
}

func stitchPair(result, next string) string {
	if result == "" {
		return next
	}

	// Word-level overlap: the largest suffix of result that equals a prefix
	// of next, compared in normalized form.
	overlap := wordOverlap(result, next)
	if overlap > 0 {
		nextWords := normalizedWords(next)
		if overlap >= len(nextWords) {
			// Pure duplicate.
			return result
		}
		remaining := nextWords[overlap:]
		// Re-anchor to the original text so casing and punctuation survive.
		if idx := findWordIndex(next, remaining[0]); idx >= 0 {
			return result + " " + strings.TrimSpace(next[idx:])
		}
		return result + " " + strings.Join(remaining, " ")
	}

	// Character-level fallback for scripts without word boundaries.
	ra, rb := []rune(result), []rune(next)
	maxLen := min(len(ra), len(rb))
	minLen := max(3, maxLen/10)
	for l := maxLen; l >= minLen; l-- {
		suffix := normalizeForCompare(string(ra[len(ra)-l:]))
		prefix := normalizeForCompare(string(rb[:l]))
		if len([]rune(suffix)) >= 3 && suffix == prefix {
			return result + strings.TrimSpace(string(rb[l:]))
		}
	}

	// No overlap: append as a new clause unless it is a pure restatement
	// already contained in the accumulated text.
	if strings.Contains(normalizeForCompare(result), normalizeForCompare(next)) {
		return result
	}
	return result + " " + next
}

// wordOverlap returns the largest k such that the last k normalized words
// of a equal the first k normalized words of b.
func wordOverlap(a, b string) int {
	wa := normalizedWords(a)
	wb := normalizedWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	limit := min(len(wa), len(wb))
	for k := limit; k > 0; k-- {
		match := true
		for i := 0; i < k; i++ {
			if wa[len(wa)-k+i] != wb[i] {
				match = false
				break
			}
		}
		if match {
			return k
		}
	}
	return 0
}

func normalizedWords(s string) []string {
	return strings.Fields(normalizeForCompare(s))
}

// normalizeForCompare lowercases and removes punctuation and symbols,
// keeping spaces so word boundaries survive.
func normalizeForCompare(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.TrimSpace(b.String())
}

// findWordIndex locates the first case-insensitive occurrence of word in s
// at a word boundary, returning the byte offset or -1.
func findWordIndex(s, word string) int {
	lower := strings.ToLower(s)
	word = strings.ToLower(word)
	from := 0
	for {
		idx := strings.Index(lower[from:], word)
		if idx < 0 {
			return -1
		}
		idx += from
		if boundedWord(lower, idx, len(word)) {
			return idx
		}
		from = idx + 1
	}
}

func boundedWord(s string, start, length int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(s[:start]); isWordRune(r) {
			return false
		}
	}
	if end := start + length; end < len(s) {
		if r, _ := utf8.DecodeRuneInString(s[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
