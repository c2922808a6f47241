// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package index

import (
	"fmt"

	"github.com/makr-code/themis/models"
)

// ScanKeysEqual returns the primary keys whose column equals value, using
// the equality index or, when only it exists, the sparse index.
func (e *Engine) ScanKeysEqual(table, column, value string) ([]string, error) {
	hasRegular := e.HasIndex(table, column)
	hasSparse := e.HasSparseIndex(table, column)
	if !hasRegular && !hasSparse {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoIndex, table, column)
	}

	encoded := encodeKeyComponent(value)
	var pks []string

	if hasRegular {
		_ = e.store.ScanPrefix(makeIndexPrefix(table, column, encoded), func(key string, _ []byte) bool {
			pks = append(pks, trailingPK(key))
			return true
		})
	} else {
		_ = e.store.ScanPrefix(makeSparseIndexKey(table, column, encoded, ""), func(key string, _ []byte) bool {
			pks = append(pks, trailingPK(key))
			return true
		})
	}
	return pks, nil
}

// ScanEntitiesEqual loads the entities matched by ScanKeysEqual. Candidates
// whose primary record is missing or unreadable are logged and skipped; the
// scan is never corrupted by one bad record.
func (e *Engine) ScanEntitiesEqual(table, column, value, userID string) ([]*models.Entity, error) {
	pks, err := e.ScanKeysEqual(table, column, value)
	if err != nil {
		return nil, err
	}
	return e.loadEntities(table, pks, userID), nil
}

// EstimateCountEqual probes the size of an equality-index prefix, stopping
// at maxProbe. capped reports whether the probe hit the limit.
func (e *Engine) EstimateCountEqual(table, column, value string, maxProbe int) (count int, capped bool) {
	if !e.HasIndex(table, column) {
		return 0, false
	}
	prefix := makeIndexPrefix(table, column, encodeKeyComponent(value))
	_ = e.store.ScanPrefix(prefix, func(string, []byte) bool {
		count++
		if count >= maxProbe {
			capped = true
			return false
		}
		return true
	})
	return count, capped
}

// ScanKeysEqualComposite returns primary keys matching the value tuple of a
// composite index.
func (e *Engine) ScanKeysEqualComposite(table string, columns, values []string) ([]string, error) {
	if len(columns) != len(values) {
		return nil, fmt.Errorf("%w: %d columns but %d values", ErrInvalidName, len(columns), len(values))
	}
	if !e.HasCompositeIndex(table, columns) {
		return nil, fmt.Errorf("%w: %s.{%s}", ErrNoIndex, table, joinColumns(columns))
	}

	prefix := makeCompositeIndexPrefix(table, columns, values)
	var pks []string
	_ = e.store.ScanPrefix(prefix, func(key string, _ []byte) bool {
		pks = append(pks, key[len(prefix):])
		return true
	})
	return pks, nil
}

// ScanEntitiesEqualComposite loads the entities matched by
// ScanKeysEqualComposite with the same corruption-tolerant skip.
func (e *Engine) ScanEntitiesEqualComposite(table string, columns, values []string, userID string) ([]*models.Entity, error) {
	pks, err := e.ScanKeysEqualComposite(table, columns, values)
	if err != nil {
		return nil, err
	}
	return e.loadEntities(table, pks, userID), nil
}

// EstimateCountEqualComposite probes a composite-index prefix up to maxProbe.
func (e *Engine) EstimateCountEqualComposite(table string, columns, values []string, maxProbe int) (count int, capped bool) {
	if len(columns) != len(values) || !e.HasCompositeIndex(table, columns) {
		return 0, false
	}
	prefix := makeCompositeIndexPrefix(table, columns, values)
	_ = e.store.ScanPrefix(prefix, func(string, []byte) bool {
		count++
		if count >= maxProbe {
			capped = true
			return false
		}
		return true
	})
	return count, capped
}

// loadEntities fetches and decrypts primary records, skipping corrupt
// candidates with a warning.
func (e *Engine) loadEntities(table string, pks []string, userID string) []*models.Entity {
	out := make([]*models.Entity, 0, len(pks))
	for _, pk := range pks {
		ent, ok, err := e.GetEntity(table, pk, userID)
		if err != nil {
			e.log.Warn().Err(err).Str("table", table).Str("pk", pk).
				Msg("skipping candidate: primary record unreadable")
			continue
		}
		if !ok {
			e.log.Warn().Str("table", table).Str("pk", pk).
				Msg("skipping candidate: primary record missing (inconsistent index?)")
			continue
		}
		out = append(out, ent)
	}
	return out
}
