package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/blacklakehq/blacklake/pkg/kv"
	"github.com/dgraph-io/badger/v4"
)

// keyDelimiter separates the partition from the key inside badger's flat
// keyspace. 0xFF sorts after any printable byte so partitions stay disjoint.
var keyDelimiter = []byte{0xFF}

type Store struct {
	db           *badger.DB
	path         string
	prefetchSize int
	closer       func()
}

func composeKey(partitionKey, key []byte) []byte {
	composed := make([]byte, 0, len(partitionKey)+len(keyDelimiter)+len(key))
	composed = append(composed, partitionKey...)
	composed = append(composed, keyDelimiter...)
	composed = append(composed, key...)
	return composed
}

func (s *Store) Get(_ context.Context, partitionKey, key []byte) (*kv.ValueWithPredicate, error) {
	if len(partitionKey) == 0 {
		return nil, kv.ErrMissingPartitionKey
	}
	if len(key) == 0 {
		return nil, kv.ErrMissingKey
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(composeKey(partitionKey, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return &kv.ValueWithPredicate{
		Value:     value,
		Predicate: kv.Predicate(value),
	}, nil
}

func (s *Store) Set(_ context.Context, partitionKey, key, value []byte) error {
	if len(partitionKey) == 0 {
		return kv.ErrMissingPartitionKey
	}
	if len(key) == 0 {
		return kv.ErrMissingKey
	}
	if value == nil {
		return kv.ErrMissingValue
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(composeKey(partitionKey, key), value)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetIf(_ context.Context, partitionKey, key, value []byte, valuePredicate kv.Predicate) error {
	if len(partitionKey) == 0 {
		return kv.ErrMissingPartitionKey
	}
	if len(key) == 0 {
		return kv.ErrMissingKey
	}
	if value == nil {
		return kv.ErrMissingValue
	}
	composed := composeKey(partitionKey, key)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(composed)
		switch {
		case valuePredicate == nil:
			if err == nil {
				return kv.ErrPredicateFailed
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			return kv.ErrPredicateFailed
		case err != nil:
			return err
		default:
			pred, ok := valuePredicate.([]byte)
			if !ok {
				return kv.ErrPredicateFailed
			}
			curr, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !bytes.Equal(curr, pred) {
				return kv.ErrPredicateFailed
			}
		}
		return txn.Set(composed, value)
	})
	if err != nil {
		if errors.Is(err, kv.ErrPredicateFailed) {
			return kv.ErrPredicateFailed
		}
		// concurrent conflicting update lost the race
		if errors.Is(err, badger.ErrConflict) {
			return kv.ErrPredicateFailed
		}
		return fmt.Errorf("set if %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, partitionKey, key []byte) error {
	if len(partitionKey) == 0 {
		return kv.ErrMissingPartitionKey
	}
	if len(key) == 0 {
		return kv.ErrMissingKey
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(composeKey(partitionKey, key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Scan(_ context.Context, partitionKey, start []byte) (kv.EntriesIterator, error) {
	if len(partitionKey) == 0 {
		return nil, kv.ErrMissingPartitionKey
	}
	prefix := append(append([]byte{}, partitionKey...), keyDelimiter...)
	txn := s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = s.prefetchSize
	opts.Prefix = prefix
	itr := txn.NewIterator(opts)
	itr.Seek(composeKey(partitionKey, start))
	return &EntriesIterator{
		itr:          itr,
		txn:          txn,
		partitionKey: partitionKey,
		prefixLen:    len(prefix),
		first:        true,
	}, nil
}

func (s *Store) Close() {
	s.closer()
}

type EntriesIterator struct {
	itr          *badger.Iterator
	txn          *badger.Txn
	partitionKey []byte
	prefixLen    int
	first        bool
	entry        *kv.Entry
	err          error
}

func (e *EntriesIterator) Next() bool {
	if e.err != nil {
		return false
	}
	if e.first {
		e.first = false
	} else {
		e.itr.Next()
	}
	if !e.itr.Valid() {
		return false
	}
	item := e.itr.Item()
	value, err := item.ValueCopy(nil)
	if err != nil {
		e.err = err
		return false
	}
	key := item.KeyCopy(nil)
	e.entry = &kv.Entry{
		PartitionKey: e.partitionKey,
		Key:          key[e.prefixLen:],
		Value:        value,
	}
	return true
}

func (e *EntriesIterator) Entry() *kv.Entry {
	return e.entry
}

func (e *EntriesIterator) Err() error {
	return e.err
}

func (e *EntriesIterator) Close() {
	e.itr.Close()
	e.txn.Discard()
}
