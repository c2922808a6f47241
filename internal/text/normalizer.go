// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

// Package text implements the full-text tokenizer pipeline: optional umlaut
// normalization, lowercasing, whitespace/punctuation splitting, optional
// stopword filtering, and optional stemming.
package text

import "strings"

var umlautReplacer = strings.NewReplacer(
	"ä", "a",
	"ö", "o",
	"ü", "u",
	"Ä", "A",
	"Ö", "O",
	"Ü", "U",
	"ß", "ss",
)

// NormalizeUmlauts maps the German umlauts and ß to their ASCII base forms
// (ä→a, ö→o, ü→u, ß→ss). All other bytes pass through unchanged.
func NormalizeUmlauts(s string) string {
	return umlautReplacer.Replace(s)
}
