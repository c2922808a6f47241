// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Themis Authors

package storage

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/makr-code/themis/internal/logger"
)

// BadgerStore is a ByteStore backed by an embedded Badger database. Badger
// gives the ordered key space, crash-safe write batches, and prefix
// iteration the index engine depends on.
type BadgerStore struct {
	db  *badger.DB
	log *logger.Logger
}

// OpenBadger opens (or creates) a Badger database at dir.
func OpenBadger(dir string, log *logger.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is too chatty; we log at this layer
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db, log: log.GetChildLogger("badger")}, nil
}

// Get implements [ByteStore].
func (s *BadgerStore) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get %q: %w", key, err)
	}
	return out, true, nil
}

// Put implements [ByteStore].
func (s *BadgerStore) Put(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("badger put %q: %w", key, err)
	}
	return nil
}

// Delete implements [ByteStore].
func (s *BadgerStore) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %q: %w", key, err)
	}
	return nil
}

// NewWriteBatch implements [ByteStore]. The returned batch wraps a Badger
// managed write batch: staged entries are flushed atomically on Commit and
// dropped on Rollback.
func (s *BadgerStore) NewWriteBatch() WriteBatch {
	return &badgerBatch{wb: s.db.NewWriteBatch()}
}

// ScanPrefix implements [ByteStore].
func (s *BadgerStore) ScanPrefix(prefix string, visit Visitor) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("badger scan value: %w", err)
			}
			if !visit(string(item.Key()), val) {
				return nil
			}
		}
		return nil
	})
}

// ScanRange implements [ByteStore].
func (s *BadgerStore) ScanRange(start, end string, visit Visitor) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(start)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if key >= end {
				return nil
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("badger scan value: %w", err)
			}
			if !visit(key, val) {
				return nil
			}
		}
		return nil
	})
}

// Close implements [ByteStore].
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerBatch struct {
	wb        *badger.WriteBatch
	committed bool
}

func (b *badgerBatch) Put(key string, value []byte) {
	// Errors surface on Flush; staged-set errors only occur after Cancel.
	_ = b.wb.Set([]byte(key), value)
}

func (b *badgerBatch) Delete(key string) {
	_ = b.wb.Delete([]byte(key))
}

func (b *badgerBatch) Commit() error {
	if b.committed {
		return ErrBatchCommitted
	}
	if err := b.wb.Flush(); err != nil {
		return fmt.Errorf("badger batch commit: %w", err)
	}
	b.committed = true
	return nil
}

func (b *badgerBatch) Rollback() {
	if !b.committed {
		b.wb.Cancel()
	}
}
