// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package index

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/makr-code/themis/internal/logger"
	"github.com/makr-code/themis/internal/schema"
	"github.com/makr-code/themis/internal/storage"
	"github.com/makr-code/themis/models"
)

// Metrics holds the engine's query counters.
type Metrics struct {
	// RangeScanSteps counts key positions visited by range scans.
	RangeScanSteps atomic.Uint64
	// CursorAnchorHits counts anchored (cursor) range scans.
	CursorAnchorHits atomic.Uint64
}

// Engine maintains every declared index family transactionally with the
// primary records of a table. The engine is stateless between calls; all
// mutation goes through the byte store's write batches.
//
// Writes to the same table are serialized by a per-table mutex so that the
// check-then-write window of unique constraints cannot race within the
// process. The byte store offers no conditional writes, so this is the
// strongest guarantee an embedded deployment can give.
type Engine struct {
	store storage.ByteStore
	log   *logger.Logger
	enc   *schema.Encryptor // optional field-level encryption

	lockMu     sync.Mutex
	tableLocks map[string]*sync.Mutex

	metrics Metrics
}

// NewEngine builds an engine over store.
func NewEngine(store storage.ByteStore, log *logger.Logger) *Engine {
	return &Engine{
		store:      store,
		log:        log.GetChildLogger("index-engine"),
		tableLocks: make(map[string]*sync.Mutex),
	}
}

// WithEncryptor attaches a schema-driven field encryptor. Confidential
// fields are sealed after index entries are computed from the plaintext
// values, so indexes keep working while primary records stay encrypted.
func (e *Engine) WithEncryptor(enc *schema.Encryptor) *Engine {
	e.enc = enc
	return e
}

// Metrics exposes the engine's counters.
func (e *Engine) Metrics() *Metrics { return &e.metrics }

func (e *Engine) tableLock(table string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	mu, ok := e.tableLocks[table]
	if !ok {
		mu = &sync.Mutex{}
		e.tableLocks[table] = mu
	}
	return mu
}

// Put writes entity into table atomically: the primary record and every
// index-family entry change together or not at all. A prior version's index
// entries are removed first; unique violations fail the whole batch with
// ErrUniqueViolation and leave the store untouched.
func (e *Engine) Put(table string, entity *models.Entity) error {
	return e.PutWithContext(table, entity, "")
}

// PutWithContext is Put plus the encryption context: userID feeds per-user
// field-key derivation when a schema encryptor is attached. entity is given
// with plaintext fields; the stored primary record carries the encrypted
// form while index entries are derived from the plaintext values.
func (e *Engine) PutWithContext(table string, entity *models.Entity, userID string) error {
	if err := validateName("table", table); err != nil {
		return err
	}
	pk := entity.PrimaryKey()
	if pk == "" {
		return fmt.Errorf("%w: entity has no primary key", ErrInvalidName)
	}

	mu := e.tableLock(table)
	mu.Lock()
	defer mu.Unlock()

	oldEntity := e.loadOldEntity(table, pk, userID)

	stored := entity
	if e.enc != nil {
		stored = entity.Clone()
		e.enc.EncryptEntity(table, stored, userID)
	}
	blob, err := stored.Serialize()
	if err != nil {
		return fmt.Errorf("put %s/%s: serialize: %w", table, pk, err)
	}

	batch := e.store.NewWriteBatch()
	batch.Put(makeRelationalKey(table, pk), blob)

	if oldEntity != nil {
		e.removeIndexEntries(batch, table, pk, oldEntity)
	} else {
		e.removeIndexEntriesDefensive(batch, table, pk)
	}

	if err := e.addIndexEntries(batch, table, pk, entity); err != nil {
		batch.Rollback()
		return err
	}

	if err := batch.Commit(); err != nil {
		batch.Rollback()
		return fmt.Errorf("put %s/%s: commit: %w", table, pk, err)
	}
	return nil
}

// Erase removes the entity and every index entry referencing it atomically.
// If the stored primary record no longer deserializes, a defensive scan
// removes every entry in every declared family whose trailing pk matches.
func (e *Engine) Erase(table, pk string) error {
	return e.EraseWithContext(table, pk, "")
}

// EraseWithContext is Erase plus the decryption context for computing old
// index keys from encrypted primary records.
func (e *Engine) EraseWithContext(table, pk, userID string) error {
	if err := validateName("table", table); err != nil {
		return err
	}
	if pk == "" {
		return fmt.Errorf("%w: pk must not be empty", ErrInvalidName)
	}

	mu := e.tableLock(table)
	mu.Lock()
	defer mu.Unlock()

	oldEntity := e.loadOldEntity(table, pk, userID)

	batch := e.store.NewWriteBatch()
	batch.Delete(makeRelationalKey(table, pk))

	if oldEntity != nil {
		e.removeIndexEntries(batch, table, pk, oldEntity)
	} else {
		e.removeIndexEntriesDefensive(batch, table, pk)
	}

	if err := batch.Commit(); err != nil {
		batch.Rollback()
		return fmt.Errorf("erase %s/%s: commit: %w", table, pk, err)
	}
	return nil
}

// GetEntity loads and (if an encryptor is attached) decrypts one entity.
// ok is false when the primary record is absent.
func (e *Engine) GetEntity(table, pk, userID string) (*models.Entity, bool, error) {
	blob, ok, err := e.store.Get(makeRelationalKey(table, pk))
	if err != nil || !ok {
		return nil, false, err
	}
	ent, err := models.Deserialize(pk, blob)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s/%s: %v", ErrCorruption, table, pk, err)
	}
	if e.enc != nil {
		if derr := e.enc.DecryptEntity(table, ent, userID); derr != nil {
			return nil, false, derr
		}
	}
	return ent, true, nil
}

// loadOldEntity fetches the prior stored version for index cleanup. The
// plaintext field values are needed to rebuild the old index keys, so the
// encryptor (when attached) reverses field encryption; failures downgrade to
// the defensive erase path with a warning.
func (e *Engine) loadOldEntity(table, pk, userID string) *models.Entity {
	blob, ok, err := e.store.Get(makeRelationalKey(table, pk))
	if err != nil || !ok {
		return nil
	}
	old, derr := models.Deserialize(pk, blob)
	if derr != nil {
		e.log.Warn().Str("table", table).Str("pk", pk).
			Msg("stale primary blob does not deserialize, falling back to defensive index cleanup")
		return nil
	}
	if e.enc != nil {
		if derr := e.enc.DecryptEntity(table, old, userID); derr != nil {
			e.log.Warn().Err(derr).Str("table", table).Str("pk", pk).
				Msg("old entity does not decrypt, falling back to defensive index cleanup")
			return nil
		}
	}
	return old
}

// splitComposite parses a composite meta descriptor "col1+col2+…".
func splitComposite(descriptor string) []string {
	return strings.Split(descriptor, "+")
}

// isNullOrEmpty mirrors the sparse-index skip rule: absent, empty, or the
// canonical null marker.
func isNullOrEmpty(value string, ok bool) bool {
	return !ok || value == "" || value == "null"
}

// checkUniquePrefix scans a committed unique-index prefix and fails when any
// existing entry's trailing pk differs from pk.
func (e *Engine) checkUniquePrefix(prefix, pk, what string) error {
	conflict := false
	_ = e.store.ScanPrefix(prefix, func(key string, _ []byte) bool {
		if trailingPK(key) != pk {
			conflict = true
			return false
		}
		return true
	})
	if conflict {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, what)
	}
	return nil
}

// addIndexEntries stages every index-family entry implied by entity's
// current field values, enforcing unique constraints against committed
// state.
func (e *Engine) addIndexEntries(batch storage.WriteBatch, table, pk string, entity *models.Entity) error {
	pkBytes := []byte(pk)
	indexedCols := e.scanMetaColumns(prefixIndexMeta, table)
	rangeCols := e.scanMetaColumns(prefixRangeMeta, table)
	rangeSet := make(map[string]bool, len(rangeCols))
	for _, c := range rangeCols {
		rangeSet[c] = true
	}
	equalitySet := make(map[string]bool, len(indexedCols))

	for _, col := range indexedCols {
		if !strings.Contains(col, "+") {
			equalitySet[col] = true
			value, ok := entity.ExtractField(col)
			if !ok {
				continue
			}
			encoded := encodeKeyComponent(value)

			if e.isUniqueIndex(table, col) {
				what := fmt.Sprintf("%s.%s = %s", table, col, value)
				if err := e.checkUniquePrefix(makeIndexPrefix(table, col, encoded), pk, what); err != nil {
					return err
				}
			}
			batch.Put(makeIndexKey(table, col, encoded, pk), pkBytes)

			if rangeSet[col] {
				batch.Put(makeRangeIndexKey(table, col, value, pk), pkBytes)
			}
			continue
		}

		// Composite descriptor: all columns must be present.
		columns := splitComposite(col)
		values := make([]string, 0, len(columns))
		allPresent := true
		for _, c := range columns {
			v, ok := entity.ExtractField(c)
			if !ok {
				allPresent = false
				break
			}
			values = append(values, v)
		}
		if !allPresent {
			continue
		}

		if e.isUniqueComposite(table, columns) {
			what := fmt.Sprintf("%s.{%s}", table, joinColumns(columns))
			if err := e.checkUniquePrefix(makeCompositeIndexPrefix(table, columns, values), pk, what); err != nil {
				return err
			}
		}
		batch.Put(makeCompositeIndexKey(table, columns, values, pk), pkBytes)
	}

	// Range indexes without a matching equality index.
	for _, col := range rangeCols {
		if equalitySet[col] {
			continue
		}
		value, ok := entity.ExtractField(col)
		if !ok {
			continue
		}
		batch.Put(makeRangeIndexKey(table, col, value, pk), pkBytes)
	}

	// Sparse indexes skip null/empty values.
	for _, col := range e.scanMetaColumns(prefixSparseMeta, table) {
		value, ok := entity.ExtractField(col)
		if isNullOrEmpty(value, ok) {
			continue
		}
		encoded := encodeKeyComponent(value)
		if e.isUniqueSparse(table, col) {
			what := fmt.Sprintf("%s.%s = %s (sparse)", table, col, value)
			if err := e.checkUniquePrefix(makeSparseIndexKey(table, col, encoded, ""), pk, what); err != nil {
				return err
			}
		}
		batch.Put(makeSparseIndexKey(table, col, encoded, pk), pkBytes)
	}

	// Geo indexes read "<column>_lat"/"<column>_lon".
	for _, col := range e.scanMetaColumns(prefixGeoMeta, table) {
		latStr, okLat := entity.ExtractField(col + "_lat")
		lonStr, okLon := entity.ExtractField(col + "_lon")
		if !okLat || !okLon {
			continue
		}
		lat, errLat := strconv.ParseFloat(latStr, 64)
		lon, errLon := strconv.ParseFloat(lonStr, 64)
		if errLat != nil || errLon != nil {
			e.log.Warn().Str("table", table).Str("column", col).
				Str("lat", latStr).Str("lon", lonStr).Msg("invalid geo coordinates, skipping entry")
			continue
		}
		batch.Put(makeGeoIndexKey(table, col, EncodeGeohash(lat, lon), pk), pkBytes)
	}

	// TTL indexes stamp expiry = now + configured TTL.
	now := time.Now().Unix()
	for _, col := range e.scanMetaColumns(prefixTTLMeta, table) {
		if _, ok := entity.ExtractField(col); !ok {
			continue
		}
		ttl := e.ttlSeconds(table, col)
		if ttl <= 0 {
			continue
		}
		batch.Put(makeTTLIndexKey(table, col, now+ttl, pk), pkBytes)
	}

	// Full-text indexes: postings, term frequencies, document length.
	for _, col := range e.scanMetaColumns(prefixFulltextMeta, table) {
		value, ok := entity.ExtractField(col)
		if isNullOrEmpty(value, ok) {
			continue
		}
		cfg, _ := e.FulltextConfigFor(table, col)
		tokens := tokenizeDocument(value, cfg)

		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			if t != "" {
				tf[t]++
			}
		}
		batch.Put(makeFulltextDocLenKey(table, col, pk), []byte(strconv.Itoa(len(tokens))))
		for token, count := range tf {
			batch.Put(makeFulltextIndexKey(table, col, token, pk), pkBytes)
			batch.Put(makeFulltextTFKey(table, col, token, pk), []byte(strconv.Itoa(count)))
		}
	}

	return nil
}

// removeIndexEntries stages deletion of every index entry implied by the old
// field values.
func (e *Engine) removeIndexEntries(batch storage.WriteBatch, table, pk string, old *models.Entity) {
	indexedCols := e.scanMetaColumns(prefixIndexMeta, table)
	rangeCols := e.scanMetaColumns(prefixRangeMeta, table)
	rangeSet := make(map[string]bool, len(rangeCols))
	for _, c := range rangeCols {
		rangeSet[c] = true
	}
	equalitySet := make(map[string]bool, len(indexedCols))

	for _, col := range indexedCols {
		if !strings.Contains(col, "+") {
			equalitySet[col] = true
			value, ok := old.ExtractField(col)
			if !ok {
				continue
			}
			encoded := encodeKeyComponent(value)
			batch.Delete(makeIndexKey(table, col, encoded, pk))
			if rangeSet[col] {
				batch.Delete(makeRangeIndexKey(table, col, value, pk))
			}
			continue
		}

		columns := splitComposite(col)
		values := make([]string, 0, len(columns))
		allPresent := true
		for _, c := range columns {
			v, ok := old.ExtractField(c)
			if !ok {
				allPresent = false
				break
			}
			values = append(values, v)
		}
		if !allPresent {
			continue
		}
		batch.Delete(makeCompositeIndexKey(table, columns, values, pk))
	}

	for _, col := range rangeCols {
		if equalitySet[col] {
			continue
		}
		value, ok := old.ExtractField(col)
		if !ok {
			continue
		}
		batch.Delete(makeRangeIndexKey(table, col, value, pk))
	}

	for _, col := range e.scanMetaColumns(prefixSparseMeta, table) {
		value, ok := old.ExtractField(col)
		if isNullOrEmpty(value, ok) {
			continue
		}
		batch.Delete(makeSparseIndexKey(table, col, encodeKeyComponent(value), pk))
	}

	for _, col := range e.scanMetaColumns(prefixGeoMeta, table) {
		latStr, okLat := old.ExtractField(col + "_lat")
		lonStr, okLon := old.ExtractField(col + "_lon")
		if !okLat || !okLon {
			continue
		}
		lat, errLat := strconv.ParseFloat(latStr, 64)
		lon, errLon := strconv.ParseFloat(lonStr, 64)
		if errLat != nil || errLon != nil {
			continue
		}
		batch.Delete(makeGeoIndexKey(table, col, EncodeGeohash(lat, lon), pk))
	}

	// The old TTL entry's timestamp is unknown; scan the column prefix for
	// the matching pk.
	for _, col := range e.scanMetaColumns(prefixTTLMeta, table) {
		if _, ok := old.ExtractField(col); !ok {
			continue
		}
		_ = e.store.ScanPrefix(makeTTLIndexPrefix(table, col), func(key string, _ []byte) bool {
			if trailingPK(key) == pk {
				batch.Delete(key)
				return false
			}
			return true
		})
	}

	for _, col := range e.scanMetaColumns(prefixFulltextMeta, table) {
		value, ok := old.ExtractField(col)
		if isNullOrEmpty(value, ok) {
			continue
		}
		cfg, _ := e.FulltextConfigFor(table, col)
		seen := make(map[string]bool)
		for _, token := range tokenizeDocument(value, cfg) {
			if token == "" || seen[token] {
				continue
			}
			seen[token] = true
			batch.Delete(makeFulltextIndexKey(table, col, token, pk))
			batch.Delete(makeFulltextTFKey(table, col, token, pk))
		}
		batch.Delete(makeFulltextDocLenKey(table, col, pk))
	}
}

// removeIndexEntriesDefensive sweeps every declared family for entries whose
// trailing pk matches, used when the old entity cannot be reconstructed.
func (e *Engine) removeIndexEntriesDefensive(batch storage.WriteBatch, table, pk string) {
	sweep := func(prefix string) {
		_ = e.store.ScanPrefix(prefix, func(key string, _ []byte) bool {
			if trailingPK(key) == pk {
				batch.Delete(key)
			}
			return true
		})
	}

	for _, col := range e.scanMetaColumns(prefixIndexMeta, table) {
		sweep(prefixIndex + table + ":" + col + ":")
	}
	for _, col := range e.scanMetaColumns(prefixRangeMeta, table) {
		sweep(prefixRange + table + ":" + col + ":")
	}
	for _, col := range e.scanMetaColumns(prefixSparseMeta, table) {
		sweep(prefixSparse + table + ":" + col + ":")
	}
	for _, col := range e.scanMetaColumns(prefixGeoMeta, table) {
		sweep(makeGeoIndexPrefix(table, col))
	}
	for _, col := range e.scanMetaColumns(prefixTTLMeta, table) {
		sweep(makeTTLIndexPrefix(table, col))
	}
	for _, col := range e.scanMetaColumns(prefixFulltextMeta, table) {
		sweep(makeFulltextIndexPrefix(table, col, ""))
		sweep(prefixFulltextTF + table + ":" + col + ":")
		batch.Delete(makeFulltextDocLenKey(table, col, pk))
	}
}
