// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package index

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/makr-code/themis/internal/text"
	"github.com/makr-code/themis/models"
)

// BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// FulltextResult is one ranked hit.
type FulltextResult struct {
	PK    string
	Score float64
}

// tokenizeDocument runs the column's tokenizer pipeline over a document or
// query fragment.
func tokenizeDocument(s string, cfg FulltextConfig) []string {
	return text.Tokenize(s, cfg.tokenizerOptions())
}

// parsePhrases splits a query into double-quoted phrases and the remaining
// bare text.
func parsePhrases(query string) (phrases []string, remainder string) {
	var current strings.Builder
	var cleaned strings.Builder
	inQuotes := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '"' {
			if inQuotes {
				if current.Len() > 0 {
					phrases = append(phrases, current.String())
					current.Reset()
				}
				inQuotes = false
			} else {
				inQuotes = true
			}
			continue
		}
		if inQuotes {
			current.WriteByte(c)
		} else {
			cleaned.WriteByte(c)
		}
	}
	return phrases, cleaned.String()
}

// ScanFulltext returns the ranked primary keys for query; see
// ScanFulltextWithScores for scores.
func (e *Engine) ScanFulltext(table, column, query string, limit int, userID string) ([]string, error) {
	results, err := e.ScanFulltextWithScores(table, column, query, limit, userID)
	if err != nil {
		return nil, err
	}
	pks := make([]string, len(results))
	for i, r := range results {
		pks[i] = r.PK
	}
	return pks, nil
}

// ScanFulltextWithScores runs a BM25-ranked full-text query.
//
// The query is parsed for double-quoted phrases and bare tokens. Each token
// contributes a candidate set from the inverted index; the intersection
// gives AND semantics. Phrases are verified as substrings of the (decrypted)
// original field value, case- and umlaut-normalized consistently with the
// index configuration. Survivors are ranked by BM25 (k1=1.2, b=0.75) with
// N and avgdl computed over the union of the candidate sets.
func (e *Engine) ScanFulltextWithScores(table, column, query string, limit int, userID string) ([]FulltextResult, error) {
	cfg, ok := e.FulltextConfigFor(table, column)
	if !ok {
		return nil, ErrNoIndex
	}

	phrases, bare := parsePhrases(query)
	tokens := tokenizeDocument(bare, cfg)
	if len(tokens) == 0 && len(phrases) > 0 {
		// Candidates must come from somewhere; fall back to the phrase
		// tokens themselves.
		tokens = tokenizeDocument(strings.Join(phrases, " "), cfg)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	// Candidate set per token from the inverted index.
	tokenSets := make([]map[string]struct{}, len(tokens))
	for i, token := range tokens {
		pks := make(map[string]struct{})
		_ = e.store.ScanPrefix(makeFulltextIndexPrefix(table, column, token), func(key string, _ []byte) bool {
			pks[trailingPK(key)] = struct{}{}
			return true
		})
		tokenSets[i] = pks
	}

	// AND semantics: intersect.
	intersection := make(map[string]struct{})
	for pk := range tokenSets[0] {
		intersection[pk] = struct{}{}
	}
	for _, set := range tokenSets[1:] {
		for pk := range intersection {
			if _, ok := set[pk]; !ok {
				delete(intersection, pk)
			}
		}
	}
	if len(intersection) == 0 {
		return nil, nil
	}

	if len(phrases) > 0 {
		e.verifyPhrases(table, column, cfg, phrases, intersection, userID)
		if len(intersection) == 0 {
			return nil, nil
		}
	}

	// Candidate universe for N and avgdl: union of all token sets.
	universe := make(map[string]struct{})
	for _, set := range tokenSets {
		for pk := range set {
			universe[pk] = struct{}{}
		}
	}
	n := float64(len(universe))
	if n < 1 {
		n = 1
	}

	docLen := make(map[string]float64, len(universe))
	var totalLen float64
	for pk := range universe {
		dl := e.docLength(table, column, pk)
		docLen[pk] = dl
		totalLen += dl
	}
	avgdl := math.Max(1, totalLen/float64(len(universe)))

	scored := make([]FulltextResult, 0, len(intersection))
	for pk := range intersection {
		dl := docLen[pk]
		var score float64
		for i, token := range tokens {
			df := math.Max(1, float64(len(tokenSets[i])))
			idf := math.Log((n-df+0.5)/(df+0.5) + 1)
			tf := e.termFrequency(table, column, token, pk)
			denom := tf + bm25K1*(1-bm25B+bm25B*dl/avgdl)
			if denom <= 0 {
				denom = tf + bm25K1
			}
			score += idf * (tf * (bm25K1 + 1)) / denom
		}
		scored = append(scored, FulltextResult{PK: pk, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].PK < scored[j].PK
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// verifyPhrases drops candidates whose original field value does not contain
// every phrase as a substring, normalized consistently with the index.
func (e *Engine) verifyPhrases(table, column string, cfg FulltextConfig, phrases []string, candidates map[string]struct{}, userID string) {
	normalize := func(s string) string {
		if cfg.NormalizeUmlauts {
			s = text.NormalizeUmlauts(s)
		}
		return strings.ToLower(s)
	}

	for pk := range candidates {
		keep := false
		if ent, ok := e.loadCandidate(table, pk, userID); ok {
			if field, ok := ent.ExtractField(column); ok {
				normalized := normalize(field)
				keep = true
				for _, phrase := range phrases {
					if !strings.Contains(normalized, normalize(phrase)) {
						keep = false
						break
					}
				}
			}
		}
		if !keep {
			delete(candidates, pk)
		}
	}
}

func (e *Engine) loadCandidate(table, pk, userID string) (*models.Entity, bool) {
	ent, ok, err := e.GetEntity(table, pk, userID)
	if err != nil || !ok {
		if err != nil {
			e.log.Warn().Err(err).Str("table", table).Str("pk", pk).
				Msg("phrase verification: candidate unreadable, dropping")
		}
		return nil, false
	}
	return ent, true
}

func (e *Engine) docLength(table, column, pk string) float64 {
	raw, ok, err := e.store.Get(makeFulltextDocLenKey(table, column, pk))
	if err != nil || !ok {
		return 0
	}
	n, perr := strconv.ParseUint(string(raw), 10, 64)
	if perr != nil {
		return 0
	}
	return float64(n)
}

func (e *Engine) termFrequency(table, column, token, pk string) float64 {
	raw, ok, err := e.store.Get(makeFulltextTFKey(table, column, token, pk))
	if err != nil || !ok {
		return 1 // posting exists but TF is missing; count it once
	}
	n, perr := strconv.ParseUint(string(raw), 10, 64)
	if perr != nil || n == 0 {
		return 1
	}
	return float64(n)
}
