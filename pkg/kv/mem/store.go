package mem

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/blacklakehq/blacklake/pkg/kv"
	kvparams "github.com/blacklakehq/blacklake/pkg/kv/params"
)

const DriverName = "mem"

type Driver struct{}

type Store struct {
	mu         sync.RWMutex
	partitions map[string]map[string][]byte
}

//nolint:gochecknoinits
func init() {
	kv.Register(DriverName, &Driver{})
}

func (d *Driver) Open(_ context.Context, _ kvparams.KV) (kv.Store, error) {
	return &Store{
		partitions: make(map[string]map[string][]byte),
	}, nil
}

func (s *Store) Get(_ context.Context, partitionKey, key []byte) (*kv.ValueWithPredicate, error) {
	if len(partitionKey) == 0 {
		return nil, kv.ErrMissingPartitionKey
	}
	if len(key) == 0 {
		return nil, kv.ErrMissingKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.partitions[string(partitionKey)][string(key)]
	if !ok {
		return nil, kv.ErrNotFound
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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(partitionKey, key, value)
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
	s.mu.Lock()
	defer s.mu.Unlock()
	curr, currOK := s.partitions[string(partitionKey)][string(key)]
	if valuePredicate == nil {
		if currOK {
			return kv.ErrPredicateFailed
		}
	} else {
		pred, ok := valuePredicate.([]byte)
		if !ok || !currOK || !bytes.Equal(curr, pred) {
			return kv.ErrPredicateFailed
		}
	}
	s.setLocked(partitionKey, key, value)
	return nil
}

func (s *Store) setLocked(partitionKey, key, value []byte) {
	partition, ok := s.partitions[string(partitionKey)]
	if !ok {
		partition = make(map[string][]byte)
		s.partitions[string(partitionKey)] = partition
	}
	v := make([]byte, len(value))
	copy(v, value)
	partition[string(key)] = v
}

func (s *Store) Delete(_ context.Context, partitionKey, key []byte) error {
	if len(partitionKey) == 0 {
		return kv.ErrMissingPartitionKey
	}
	if len(key) == 0 {
		return kv.ErrMissingKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions[string(partitionKey)], string(key))
	return nil
}

func (s *Store) Scan(_ context.Context, partitionKey, start []byte) (kv.EntriesIterator, error) {
	if len(partitionKey) == 0 {
		return nil, kv.ErrMissingPartitionKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	partition := s.partitions[string(partitionKey)]
	keys := make([]string, 0, len(partition))
	for k := range partition {
		if k >= string(start) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	entries := make([]kv.Entry, len(keys))
	for i, k := range keys {
		entries[i] = kv.Entry{
			PartitionKey: partitionKey,
			Key:          []byte(k),
			Value:        partition[k],
		}
	}
	return &EntriesIterator{entries: entries, index: -1}, nil
}

func (s *Store) Close() {}

type EntriesIterator struct {
	entries []kv.Entry
	index   int
}

func (e *EntriesIterator) Next() bool {
	if e.index+1 >= len(e.entries) {
		return false
	}
	e.index++
	return true
}

func (e *EntriesIterator) Entry() *kv.Entry {
	if e.index < 0 || e.index >= len(e.entries) {
		return nil
	}
	return &e.entries[e.index]
}

func (e *EntriesIterator) Err() error { return nil }

func (e *EntriesIterator) Close() {}
