// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package index

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"dario.cat/mergo"

	"github.com/makr-code/themis/internal/text"
)

// FulltextConfig is the stored tokenizer configuration of one full-text
// column. The zero value tokenizes plain (lowercase + split only).
type FulltextConfig struct {
	Type             string   `json:"type,omitempty"`
	StemmingEnabled  bool     `json:"stemming_enabled"`
	Language         string   `json:"language,omitempty"`
	StopwordsEnabled bool     `json:"stopwords_enabled"`
	Stopwords        []string `json:"stopwords,omitempty"`
	NormalizeUmlauts bool     `json:"normalize_umlauts"`
}

// defaultFulltextConfig is what legacy (pre-JSON) index markers decode to.
func defaultFulltextConfig() FulltextConfig {
	return FulltextConfig{Type: "fulltext", Language: "none"}
}

// tokenizerOptions maps the stored config onto the tokenizer pipeline.
func (c FulltextConfig) tokenizerOptions() text.TokenizerOptions {
	return text.TokenizerOptions{
		NormalizeUmlauts: c.NormalizeUmlauts,
		StopwordsEnabled: c.StopwordsEnabled,
		CustomStopwords:  c.Stopwords,
		StemmingEnabled:  c.StemmingEnabled,
		Language:         c.Language,
	}
}

// CreateIndex declares a single-column equality index. The presence of the
// meta key makes the engine maintain the index on every put/erase; unique
// indexes additionally enforce at most one pk per value.
func (e *Engine) CreateIndex(table, column string, unique bool) error {
	if err := validateName("table", table); err != nil {
		return err
	}
	if err := validateName("column", column); err != nil {
		return err
	}
	marker := ""
	if unique {
		marker = "unique"
	}
	if err := e.store.Put(makeIndexMetaKey(table, column), []byte(marker)); err != nil {
		return fmt.Errorf("create index %s.%s: %w", table, column, err)
	}
	e.log.Info().Str("table", table).Str("column", column).Bool("unique", unique).Msg("index created")
	return nil
}

// CreateCompositeIndex declares a multi-column equality index over at least
// two columns. Column names must not contain ':' or '+'.
func (e *Engine) CreateCompositeIndex(table string, columns []string, unique bool) error {
	if err := validateName("table", table); err != nil {
		return err
	}
	if len(columns) < 2 {
		return fmt.Errorf("%w: composite index needs at least 2 columns", ErrInvalidName)
	}
	for _, col := range columns {
		if err := validateName("column", col); err != nil {
			return err
		}
		if strings.ContainsRune(col, '+') {
			return fmt.Errorf("%w: column %q must not contain '+'", ErrInvalidName, col)
		}
	}
	marker := ""
	if unique {
		marker = "unique"
	}
	metaKey := makeIndexMetaKey(table, joinColumns(columns))
	if err := e.store.Put(metaKey, []byte(marker)); err != nil {
		return fmt.Errorf("create composite index %s.{%s}: %w", table, joinColumns(columns), err)
	}
	e.log.Info().Str("table", table).Str("columns", joinColumns(columns)).Bool("unique", unique).Msg("composite index created")
	return nil
}

// DropIndex removes the equality-index declaration. Existing entries are not
// swept and stay in the store: puts and erases only maintain declared
// indexes, so they no longer touch them.
func (e *Engine) DropIndex(table, column string) error {
	return e.dropMeta(makeIndexMetaKey(table, column))
}

// DropCompositeIndex removes a composite-index declaration.
func (e *Engine) DropCompositeIndex(table string, columns []string) error {
	return e.dropMeta(makeIndexMetaKey(table, joinColumns(columns)))
}

// HasIndex reports whether a single-column equality index is declared.
func (e *Engine) HasIndex(table, column string) bool {
	return e.hasMeta(makeIndexMetaKey(table, column))
}

// HasCompositeIndex reports whether a composite index is declared.
func (e *Engine) HasCompositeIndex(table string, columns []string) bool {
	return e.hasMeta(makeIndexMetaKey(table, joinColumns(columns)))
}

// CreateRangeIndex declares an order-preserving index on column.
func (e *Engine) CreateRangeIndex(table, column string) error {
	if err := validateName("table", table); err != nil {
		return err
	}
	if err := validateName("column", column); err != nil {
		return err
	}
	if err := e.store.Put(makeRangeIndexMetaKey(table, column), []byte{1}); err != nil {
		return fmt.Errorf("create range index %s.%s: %w", table, column, err)
	}
	e.log.Info().Str("table", table).Str("column", column).Msg("range index created")
	return nil
}

// DropRangeIndex removes a range-index declaration.
func (e *Engine) DropRangeIndex(table, column string) error {
	return e.dropMeta(makeRangeIndexMetaKey(table, column))
}

// HasRangeIndex reports whether a range index is declared.
func (e *Engine) HasRangeIndex(table, column string) bool {
	return e.hasMeta(makeRangeIndexMetaKey(table, column))
}

// CreateSparseIndex declares an index that skips null/empty values.
func (e *Engine) CreateSparseIndex(table, column string, unique bool) error {
	if err := validateName("table", table); err != nil {
		return err
	}
	if err := validateName("column", column); err != nil {
		return err
	}
	marker := ""
	if unique {
		marker = "unique"
	}
	if err := e.store.Put(makeSparseIndexMetaKey(table, column), []byte(marker)); err != nil {
		return fmt.Errorf("create sparse index %s.%s: %w", table, column, err)
	}
	e.log.Info().Str("table", table).Str("column", column).Bool("unique", unique).Msg("sparse index created")
	return nil
}

// DropSparseIndex removes a sparse-index declaration.
func (e *Engine) DropSparseIndex(table, column string) error {
	return e.dropMeta(makeSparseIndexMetaKey(table, column))
}

// HasSparseIndex reports whether a sparse index is declared.
func (e *Engine) HasSparseIndex(table, column string) bool {
	return e.hasMeta(makeSparseIndexMetaKey(table, column))
}

// CreateGeoIndex declares a geospatial index on column. The engine reads
// coordinates from the fields "<column>_lat" and "<column>_lon".
func (e *Engine) CreateGeoIndex(table, column string) error {
	if err := validateName("table", table); err != nil {
		return err
	}
	if err := validateName("column", column); err != nil {
		return err
	}
	if err := e.store.Put(makeGeoIndexMetaKey(table, column), []byte("geo")); err != nil {
		return fmt.Errorf("create geo index %s.%s: %w", table, column, err)
	}
	e.log.Info().Str("table", table).Str("column", column).Msg("geo index created")
	return nil
}

// DropGeoIndex removes a geo-index declaration.
func (e *Engine) DropGeoIndex(table, column string) error {
	return e.dropMeta(makeGeoIndexMetaKey(table, column))
}

// HasGeoIndex reports whether a geo index is declared.
func (e *Engine) HasGeoIndex(table, column string) bool {
	return e.hasMeta(makeGeoIndexMetaKey(table, column))
}

// CreateTTLIndex declares a time-to-live index: entities expire ttlSeconds
// after each write and are removed by CleanupExpired.
func (e *Engine) CreateTTLIndex(table, column string, ttlSeconds int64) error {
	if err := validateName("table", table); err != nil {
		return err
	}
	if err := validateName("column", column); err != nil {
		return err
	}
	if ttlSeconds <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidName)
	}
	value := strconv.FormatInt(ttlSeconds, 10)
	if err := e.store.Put(makeTTLIndexMetaKey(table, column), []byte(value)); err != nil {
		return fmt.Errorf("create ttl index %s.%s: %w", table, column, err)
	}
	e.log.Info().Str("table", table).Str("column", column).Int64("ttl_seconds", ttlSeconds).Msg("ttl index created")
	return nil
}

// DropTTLIndex removes a TTL-index declaration.
func (e *Engine) DropTTLIndex(table, column string) error {
	return e.dropMeta(makeTTLIndexMetaKey(table, column))
}

// HasTTLIndex reports whether a TTL index is declared.
func (e *Engine) HasTTLIndex(table, column string) bool {
	return e.hasMeta(makeTTLIndexMetaKey(table, column))
}

// CreateFulltextIndex declares a BM25-ranked inverted index with the given
// tokenizer configuration, persisted as JSON under the meta key.
func (e *Engine) CreateFulltextIndex(table, column string, config FulltextConfig) error {
	if err := validateName("table", table); err != nil {
		return err
	}
	if err := validateName("column", column); err != nil {
		return err
	}
	config.Type = "fulltext"
	if config.Language == "" {
		config.Language = "none"
	}
	doc, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("create fulltext index %s.%s: %w", table, column, err)
	}
	if err := e.store.Put(makeFulltextMetaKey(table, column), doc); err != nil {
		return fmt.Errorf("create fulltext index %s.%s: %w", table, column, err)
	}
	e.log.Info().Str("table", table).Str("column", column).
		Bool("stemming", config.StemmingEnabled).Str("language", config.Language).
		Bool("stopwords", config.StopwordsEnabled).Bool("normalize_umlauts", config.NormalizeUmlauts).
		Msg("fulltext index created")
	return nil
}

// DropFulltextIndex removes a full-text-index declaration.
func (e *Engine) DropFulltextIndex(table, column string) error {
	return e.dropMeta(makeFulltextMetaKey(table, column))
}

// HasFulltextIndex reports whether a full-text index is declared.
func (e *Engine) HasFulltextIndex(table, column string) bool {
	return e.hasMeta(makeFulltextMetaKey(table, column))
}

// FulltextConfigFor loads the stored tokenizer configuration. Legacy or
// unparsable documents are migrated to the default config with a warning
// (schema-decode failures never fail the read path). ok is false when no
// full-text index is declared.
func (e *Engine) FulltextConfigFor(table, column string) (FulltextConfig, bool) {
	raw, ok, err := e.store.Get(makeFulltextMetaKey(table, column))
	if err != nil || !ok {
		return FulltextConfig{}, false
	}

	var cfg FulltextConfig
	if jerr := json.Unmarshal(raw, &cfg); jerr != nil {
		e.log.Warn().Err(fmt.Errorf("%w: %v", ErrSchemaDecode, jerr)).
			Str("table", table).Str("column", column).
			Msg("stored fulltext config unparsable, using defaults")
		return defaultFulltextConfig(), true
	}
	// Backfill defaults for fields legacy documents omit.
	if err := mergo.Merge(&cfg, defaultFulltextConfig()); err != nil {
		return defaultFulltextConfig(), true
	}
	return cfg, true
}

func (e *Engine) dropMeta(metaKey string) error {
	if err := e.store.Delete(metaKey); err != nil {
		return fmt.Errorf("drop index meta %s: %w", metaKey, err)
	}
	return nil
}

func (e *Engine) hasMeta(metaKey string) bool {
	_, ok, err := e.store.Get(metaKey)
	return err == nil && ok
}

// metaValue fetches a meta key's value; ok is false when absent.
func (e *Engine) metaValue(metaKey string) (string, bool) {
	raw, ok, err := e.store.Get(metaKey)
	if err != nil || !ok {
		return "", false
	}
	return string(raw), true
}

// scanMetaColumns lists the column descriptors declared under a meta prefix
// for one table (composite descriptors keep their "col1+col2" form).
func (e *Engine) scanMetaColumns(metaPrefix, table string) []string {
	prefix := metaPrefix + table + ":"
	var cols []string
	_ = e.store.ScanPrefix(prefix, func(key string, _ []byte) bool {
		cols = append(cols, key[len(prefix):])
		return true
	})
	return cols
}

func (e *Engine) isUniqueIndex(table, column string) bool {
	v, ok := e.metaValue(makeIndexMetaKey(table, column))
	return ok && v == "unique"
}

func (e *Engine) isUniqueComposite(table string, columns []string) bool {
	v, ok := e.metaValue(makeIndexMetaKey(table, joinColumns(columns)))
	return ok && v == "unique"
}

func (e *Engine) isUniqueSparse(table, column string) bool {
	v, ok := e.metaValue(makeSparseIndexMetaKey(table, column))
	return ok && v == "unique"
}

func (e *Engine) ttlSeconds(table, column string) int64 {
	v, ok := e.metaValue(makeTTLIndexMetaKey(table, column))
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.log.Warn().Str("table", table).Str("column", column).Str("value", v).
			Msg("malformed ttl meta value")
		return 0
	}
	return n
}
