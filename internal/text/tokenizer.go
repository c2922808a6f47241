// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package text

import (
	"strings"
	"unicode"
)

// TokenizerOptions controls the full pipeline. The zero value tokenizes
// plain: lowercase + split only.
type TokenizerOptions struct {
	// NormalizeUmlauts maps ä/ö/ü/Ä/Ö/Ü/ß to ASCII before splitting.
	NormalizeUmlauts bool
	// StopwordsEnabled filters the built-in list for Language merged with
	// CustomStopwords.
	StopwordsEnabled bool
	// CustomStopwords extends the built-in list.
	CustomStopwords []string
	// StemmingEnabled applies the Language stemmer to each token.
	StemmingEnabled bool
	// Language selects stopword list and stemmer ("en", "de", "none").
	Language string
}

// SplitTokens lowercases text and splits on whitespace and punctuation.
func SplitTokens(s string) []string {
	lowered := strings.ToLower(s)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

// Tokenize runs the full pipeline: (optional umlaut normalization) →
// lowercase → split → (optional stopword filter) → (optional stem).
func Tokenize(s string, opts TokenizerOptions) []string {
	if opts.NormalizeUmlauts {
		s = NormalizeUmlauts(s)
	}
	tokens := SplitTokens(s)

	if opts.StopwordsEnabled {
		sw := MergeStopwords(DefaultStopwords(opts.Language), opts.CustomStopwords)
		kept := tokens[:0]
		for _, t := range tokens {
			if _, drop := sw[t]; !drop {
				kept = append(kept, t)
			}
		}
		tokens = kept
	}

	if opts.StemmingEnabled {
		lang := ParseLanguage(opts.Language)
		for i, t := range tokens {
			tokens[i] = Stem(t, lang)
		}
	}

	return tokens
}
