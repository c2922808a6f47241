// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package text

import "strings"

// Language selects a stemming algorithm.
type Language int

const (
	// LangNone disables stemming.
	LangNone Language = iota
	// LangEN selects the English (Porter subset) stemmer.
	LangEN
	// LangDE selects the simplified German suffix stripper.
	LangDE
)

// ParseLanguage maps a language code to a Language. Unknown codes disable
// stemming.
func ParseLanguage(code string) Language {
	switch strings.ToLower(code) {
	case "en":
		return LangEN
	case "de":
		return LangDE
	default:
		return LangNone
	}
}

// Stem reduces token to its stem under the given language. Tokens of length
// <= 2 pass through unchanged. Input is expected lowercase; it is lowercased
// defensively anyway.
func Stem(token string, lang Language) string {
	if lang == LangNone || token == "" {
		return token
	}
	word := strings.ToLower(token)
	if len(word) <= 2 {
		return word
	}
	switch lang {
	case LangEN:
		return stemEnglish(word)
	case LangDE:
		return stemGerman(word)
	default:
		return word
	}
}

// stemEnglish is a Porter subset: steps 1a (plurals), 1b (-ed/-ing),
// 1c (y→i), and a few common step-2 suffixes.
func stemEnglish(word string) string {
	if len(word) <= 2 {
		return word
	}

	// Step 1a: plurals
	switch {
	case strings.HasSuffix(word, "sses"):
		word = word[:len(word)-2] // sses -> ss
	case strings.HasSuffix(word, "ies"):
		word = word[:len(word)-2] // ies -> i
	case strings.HasSuffix(word, "ss"):
		// keep as is
	case strings.HasSuffix(word, "s") && len(word) > 3:
		word = word[:len(word)-1]
	}

	// Step 1b: -ed, -ing
	switch {
	case strings.HasSuffix(word, "eed"):
		if hasVowel(word[:len(word)-3]) {
			word = word[:len(word)-1] // eed -> ee
		}
	case strings.HasSuffix(word, "ed"):
		stem := word[:len(word)-2]
		if hasVowel(stem) {
			word = undouble(stem)
		}
	case strings.HasSuffix(word, "ing"):
		stem := word[:len(word)-3]
		if hasVowel(stem) {
			word = undouble(stem)
		}
	}

	// Step 1c: y -> i when preceded by a consonant
	if len(word) > 2 && strings.HasSuffix(word, "y") {
		prev := word[len(word)-2]
		stem := word[:len(word)-1]
		if !isVowelByte(prev) && hasVowel(stem) {
			word = stem + "i"
		}
	}

	// Step 2: common suffixes (subset)
	word = replaceEnding(word, "ational", "ate")
	word = replaceEnding(word, "tional", "tion")
	word = replaceEnding(word, "alism", "al")
	word = replaceEnding(word, "ation", "ate")
	word = replaceEnding(word, "ness", "")
	word = replaceEnding(word, "enci", "enc")

	return word
}

// stemGerman strips common German suffixes. Order matters.
func stemGerman(word string) string {
	if len(word) <= 3 {
		return word
	}

	switch {
	case strings.HasSuffix(word, "ern"):
		word = word[:len(word)-3]
	case strings.HasSuffix(word, "em"):
		word = word[:len(word)-2]
	case strings.HasSuffix(word, "en"):
		word = word[:len(word)-2]
	case strings.HasSuffix(word, "er"):
		word = word[:len(word)-2]
	case strings.HasSuffix(word, "es"):
		word = word[:len(word)-2]
	case strings.HasSuffix(word, "e"):
		word = word[:len(word)-1]
	case strings.HasSuffix(word, "s") && len(word) > 4:
		word = word[:len(word)-1]
	}

	if len(word) > 5 {
		switch {
		case strings.HasSuffix(word, "ung"):
			word = word[:len(word)-3]
		case strings.HasSuffix(word, "heit"):
			word = word[:len(word)-4]
		case strings.HasSuffix(word, "keit"):
			word = word[:len(word)-4]
		case strings.HasSuffix(word, "lich"):
			word = word[:len(word)-4]
		}
	}

	return word
}

// undouble removes a trailing doubled consonant (run -> run, hopp -> hop),
// except for ll/ss/zz.
func undouble(word string) string {
	if endsWithDoubleConsonant(word) &&
		!strings.HasSuffix(word, "ll") &&
		!strings.HasSuffix(word, "ss") &&
		!strings.HasSuffix(word, "zz") {
		return word[:len(word)-1]
	}
	return word
}

func endsWithDoubleConsonant(word string) bool {
	if len(word) < 2 {
		return false
	}
	last := word[len(word)-1]
	prev := word[len(word)-2]
	return last == prev && !isVowelByte(last)
}

func isVowelByte(c byte) bool {
	return c == 'a' || c == 'e' || c == 'i' || c == 'o' || c == 'u'
}

func hasVowel(word string) bool {
	for i := 0; i < len(word); i++ {
		c := word[i]
		if isVowelByte(c) || c == 'y' {
			return true
		}
	}
	return false
}

func replaceEnding(word, from, to string) string {
	if len(word) > len(from) && strings.HasSuffix(word, from) {
		stem := word[:len(word)-len(from)]
		if hasVowel(stem) {
			return stem + to
		}
	}
	return word
}
