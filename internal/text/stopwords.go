package text

import "strings"

var stopwordsEN = makeSet(
	"the", "a", "an", "and", "or", "but", "if", "then", "else", "when", "while",
	"is", "are", "was", "were", "be", "been", "being",
	"in", "on", "at", "of", "to", "for", "with", "by", "from", "as", "it", "its",
	"this", "that", "these", "those", "not", "no", "do", "does", "did", "done",
)

var stopwordsDE = makeSet(
	"der", "die", "das", "und", "oder", "aber", "nicht",
	"ist", "sind", "war", "waren",
	"im", "in", "am", "an", "auf", "zu", "von", "mit", "bei", "aus",
	"dies", "diese", "dieser", "diesen", "dem", "den",
	"ein", "eine", "einer", "einem", "einen",
	"als", "es", "sein", "seine", "seiner",
)

func makeSet(words ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

// DefaultStopwords returns the built-in stopword set for the language code
// ("en" or "de", case-insensitive). Unknown languages get an empty set.
func DefaultStopwords(language string) map[string]struct{} {
	switch strings.ToLower(language) {
	case "en":
		return stopwordsEN
	case "de":
		return stopwordsDE
	default:
		return map[string]struct{}{}
	}
}

// MergeStopwords combines a base set with custom words. Custom words are
// lowercased defensively; the base set is not mutated.
func MergeStopwords(base map[string]struct{}, custom []string) map[string]struct{} {
	out := make(map[string]struct{}, len(base)+len(custom))
	for w := range base {
		out[w] = struct{}{}
	}
	for _, w := range custom {
		out[strings.ToLower(w)] = struct{}{}
	}
	return out
}
