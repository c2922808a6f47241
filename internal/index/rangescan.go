// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package index

import (
	"fmt"
	"sort"
)

// RangeBounds describes the value window of a range scan. Nil bounds are
// open ends.
type RangeBounds struct {
	Lower        *string
	Upper        *string
	IncludeLower bool
	IncludeUpper bool
}

// RangeAnchor is a stable pagination cursor: the (value, pk) pair of the
// last delivered entry. It is defined in terms of entries that currently
// exist, not offsets, so it survives interleaved inserts.
type RangeAnchor struct {
	Value string
	PK    string
}

// ScanKeysRange returns up to limit primary keys from the range index in
// ascending (or, with reversed, descending) value order within bounds.
func (e *Engine) ScanKeysRange(table, column string, bounds RangeBounds, limit int, reversed bool) ([]string, error) {
	if err := validateName("table", table); err != nil {
		return nil, err
	}
	if err := validateName("column", column); err != nil {
		return nil, err
	}
	if !e.HasRangeIndex(table, column) {
		return nil, fmt.Errorf("%w: %s.%s (range)", ErrNoIndex, table, column)
	}

	colPrefix := makeRangeIndexPrefix(table, column, "")

	// The store scan is [start, end): exclusive bounds skip past every key
	// holding the bound value by appending the upper-bound byte.
	start := colPrefix
	if bounds.Lower != nil {
		start = makeRangeIndexPrefix(table, column, *bounds.Lower)
		if !bounds.IncludeLower {
			start = appendUpperBound(start)
		}
	}
	end := appendUpperBound(colPrefix)
	if bounds.Upper != nil {
		end = makeRangeIndexPrefix(table, column, *bounds.Upper)
		if bounds.IncludeUpper {
			end = appendUpperBound(end)
		}
	}

	var steps uint64
	var result []string
	if !reversed {
		err := e.store.ScanRange(start, end, func(key string, _ []byte) bool {
			if len(result) >= limit {
				return false
			}
			result = append(result, trailingPK(key))
			steps++
			return true
		})
		if err != nil {
			return nil, err
		}
	} else {
		var all []string
		err := e.store.ScanRange(start, end, func(key string, _ []byte) bool {
			all = append(all, trailingPK(key))
			steps++
			return true
		})
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
		if len(all) > limit {
			all = all[:limit]
		}
		result = all
	}

	e.metrics.RangeScanSteps.Add(steps)
	return result, nil
}

// ScanKeysRangeAnchored resumes a range scan after anchor. In ascending
// mode it first delivers entries holding exactly anchor.Value with pk
// strictly greater than anchor.PK, then continues with values strictly
// greater than anchor.Value up to the upper bound; descending mirrors.
// A nil anchor falls back to ScanKeysRange.
func (e *Engine) ScanKeysRangeAnchored(table, column string, bounds RangeBounds, limit int, reversed bool, anchor *RangeAnchor) ([]string, error) {
	if anchor == nil {
		return e.ScanKeysRange(table, column, bounds, limit, reversed)
	}
	if !e.HasRangeIndex(table, column) {
		return nil, fmt.Errorf("%w: %s.%s (range)", ErrNoIndex, table, column)
	}

	e.metrics.CursorAnchorHits.Add(1)

	out := make([]string, 0, limit)

	// Pass 1: remaining pks on the anchor value itself.
	var sameValue []string
	_ = e.store.ScanPrefix(makeRangeIndexPrefix(table, column, anchor.Value), func(key string, _ []byte) bool {
		sameValue = append(sameValue, trailingPK(key))
		return true
	})
	e.metrics.RangeScanSteps.Add(uint64(len(sameValue)))
	sort.Strings(sameValue)

	if !reversed {
		for _, pk := range sameValue {
			if pk > anchor.PK {
				out = append(out, pk)
				if len(out) >= limit {
					return out, nil
				}
			}
		}
	} else {
		for i := len(sameValue) - 1; i >= 0; i-- {
			if sameValue[i] < anchor.PK {
				out = append(out, sameValue[i])
				if len(out) >= limit {
					return out, nil
				}
			}
		}
	}

	// Pass 2: values beyond the anchor, within the caller's bounds.
	rest := bounds
	if !reversed {
		if rest.Upper != nil && *rest.Upper <= anchor.Value && !rest.IncludeUpper {
			return out, nil
		}
		v := anchor.Value
		rest.Lower = &v
		rest.IncludeLower = false
	} else {
		if rest.Lower != nil && *rest.Lower >= anchor.Value && !rest.IncludeLower {
			return out, nil
		}
		v := anchor.Value
		rest.Upper = &v
		rest.IncludeUpper = false
	}

	more, err := e.ScanKeysRange(table, column, rest, limit-len(out), reversed)
	if err != nil {
		return nil, err
	}
	out = append(out, more...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
