// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package index

import (
	"fmt"
	"time"
)

// CleanupExpired removes every entity whose TTL entry on (table, column) has
// expired: each referenced primary key is erased through the engine's own
// atomic Erase (cleaning all other index families with it) and the TTL entry
// is dropped afterwards. Returns the number of entities removed.
func (e *Engine) CleanupExpired(table, column string) (int, error) {
	if !e.HasTTLIndex(table, column) {
		return 0, fmt.Errorf("%w: %s.%s (ttl)", ErrNoIndex, table, column)
	}

	prefix := makeTTLIndexPrefix(table, column)
	upperBound := fmt.Sprintf("%s%020d", prefix, time.Now().Unix())

	var expiredPKs []string
	var ttlKeys []string
	err := e.store.ScanPrefix(prefix, func(key string, _ []byte) bool {
		if key > upperBound {
			return false
		}
		expiredPKs = append(expiredPKs, trailingPK(key))
		ttlKeys = append(ttlKeys, key)
		return true
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for i, pk := range expiredPKs {
		if err := e.Erase(table, pk); err != nil {
			e.log.Warn().Err(err).Str("table", table).Str("pk", pk).
				Msg("ttl cleanup: erase failed")
			continue
		}
		// Erase already removed the live TTL entry for pk; dropping the
		// scanned key again covers stale entries from older writes.
		if err := e.store.Delete(ttlKeys[i]); err != nil {
			e.log.Warn().Err(err).Str("key", ttlKeys[i]).Msg("ttl cleanup: drop entry failed")
		}
		deleted++
	}

	if deleted > 0 {
		e.log.Info().Str("table", table).Str("column", column).Int("deleted", deleted).
			Msg("ttl cleanup removed expired entities")
	}
	return deleted, nil
}
