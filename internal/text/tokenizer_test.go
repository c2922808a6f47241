// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUmlauts(t *testing.T) {
	assert.Equal(t, "Grosse Strasse", NormalizeUmlauts("Große Straße"))
	assert.Equal(t, "aouAOU", NormalizeUmlauts("äöüÄÖÜ"))
	assert.Equal(t, "plain ascii", NormalizeUmlauts("plain ascii"))
}

func TestSplitTokens(t *testing.T) {
	assert.Equal(t,
		[]string{"hello", "world", "foo", "bar"},
		SplitTokens("Hello, world!  foo-bar"))
	assert.Empty(t, SplitTokens("  ...  "))
}

func TestTokenizeStopwordsEnglish(t *testing.T) {
	tokens := Tokenize("the quick brown fox", TokenizerOptions{
		StopwordsEnabled: true,
		Language:         "en",
	})
	assert.Equal(t, []string{"quick", "brown", "fox"}, tokens)
}

func TestTokenizeStopwordsCustom(t *testing.T) {
	tokens := Tokenize("alpha beta gamma", TokenizerOptions{
		StopwordsEnabled: true,
		Language:         "en",
		CustomStopwords:  []string{"BETA"},
	})
	assert.Equal(t, []string{"alpha", "gamma"}, tokens)
}

func TestTokenizeGermanPipeline(t *testing.T) {
	tokens := Tokenize("Die Prüfung der Häuser", TokenizerOptions{
		NormalizeUmlauts: true,
		StopwordsEnabled: true,
		StemmingEnabled:  true,
		Language:         "de",
	})
	// "die"/"der" drop as stopwords; "prufung" stems to "pruf",
	// "hauser" loses the plural suffix.
	assert.Equal(t, []string{"pruf", "haus"}, tokens)
}

func TestStemEnglish(t *testing.T) {
	cases := map[string]string{
		"running":    "run",
		"cats":       "cat",
		"ponies":     "poni",
		"caresses":   "caress",
		"agreed":     "agree",
		"happy":      "happi",
		"relational": "relate",
		"goodness":   "good",
		"it":         "it", // too short to stem
	}
	for in, want := range cases {
		assert.Equal(t, want, Stem(in, LangEN), in)
	}
}

func TestStemGerman(t *testing.T) {
	cases := map[string]string{
		"hunden":   "hund",
		"kinder":   "kind",
		"laufen":   "lauf",
		"hoffnung": "hoffn",
	}
	for in, want := range cases {
		assert.Equal(t, want, Stem(in, LangDE), in)
	}
}

func TestStemNoneIsIdentity(t *testing.T) {
	assert.Equal(t, "running", Stem("running", LangNone))
}

func TestParseLanguage(t *testing.T) {
	assert.Equal(t, LangEN, ParseLanguage("EN"))
	assert.Equal(t, LangDE, ParseLanguage("de"))
	assert.Equal(t, LangNone, ParseLanguage("fr"))
	assert.Equal(t, LangNone, ParseLanguage("none"))
}
