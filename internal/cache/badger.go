package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps entries in an embedded BadgerDB using the same codec as
// the file store.
type BadgerStore struct {
	db    *badger.DB
	codec *Codec
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) a database under dir/badger.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		dir = "."
	}
	return openBadger(badger.DefaultOptions(filepath.Join(dir, "badger")))
}

// NewMemoryBadgerStore opens an in-memory database; nothing touches disk.
func NewMemoryBadgerStore() (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	codec, err := NewCodec()
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BadgerStore{db: db, codec: codec}, nil
}

func tableKey(slot Slot) []byte  { return []byte("cache/" + string(slot) + "/table") }
func paramsKey(slot Slot) []byte { return []byte("cache/" + string(slot) + "/params") }

// Read loads a slot.
func (s *BadgerStore) Read(_ context.Context, slot Slot) (*Entry, error) {
	var data, meta []byte
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if data, err = getValue(txn, tableKey(slot)); err != nil {
			return err
		}
		meta, err = getValue(txn, paramsKey(slot))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	e := &Entry{}
	if e.Table, err = s.codec.DecodeTable(data); err != nil {
		return nil, err
	}
	if err := s.codec.DecodeMeta(meta, e); err != nil {
		return nil, err
	}
	return e, nil
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Write replaces the slot in one transaction.
func (s *BadgerStore) Write(_ context.Context, slot Slot, e *Entry) error {
	data, err := s.codec.EncodeTable(e.Table)
	if err != nil {
		return err
	}
	meta, err := s.codec.EncodeMeta(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(tableKey(slot), data); err != nil {
			return err
		}
		return txn.Set(paramsKey(slot), meta)
	})
}

// Delete removes the slot; a missing slot is not an error.
func (s *BadgerStore) Delete(_ context.Context, slot Slot) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(tableKey(slot)); err != nil {
			return err
		}
		return txn.Delete(paramsKey(slot))
	})
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	s.codec.Close()
	return s.db.Close()
}
