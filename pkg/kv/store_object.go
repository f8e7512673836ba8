package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// The object layer stores JSON-encoded records on top of the raw byte Store.
// All index, policy, governance and compliance records go through it.

// GetObject fetches key and unmarshals it into value, returning the predicate
// for a later conditional write.
func GetObject(ctx context.Context, store Store, partitionKey, key []byte, value interface{}) (Predicate, error) {
	res, err := store.Get(ctx, partitionKey, key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(res.Value, value); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return res.Predicate, nil
}

// SetObject stores the JSON encoding of value under key, overwriting any
// existing value.
func SetObject(ctx context.Context, store Store, partitionKey, key []byte, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := store.Set(ctx, partitionKey, key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetObjectIf stores value only if the stored state matches predicate. A nil
// predicate requires the key to not exist.
func SetObjectIf(ctx context.Context, store Store, partitionKey, key []byte, value interface{}, predicate Predicate) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := store.SetIf(ctx, partitionKey, key, data, predicate); err != nil {
		return fmt.Errorf("set if %s: %w", key, err)
	}
	return nil
}

func DeleteObject(ctx context.Context, store Store, partitionKey, key []byte) error {
	if err := store.Delete(ctx, partitionKey, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ObjectEntry is a single decoded record from a prefix scan.
type ObjectEntry struct {
	Key   []byte
	Value interface{}
}

// ObjectIterator iterates over JSON records under a key prefix. newValue
// allocates the record each entry is decoded into.
type ObjectIterator struct {
	itr      EntriesIterator
	prefix   []byte
	newValue func() interface{}
	entry    *ObjectEntry
	err      error
}

// ScanPrefix returns an iterator over all records whose key starts with
// prefix, in key order.
func ScanPrefix(ctx context.Context, store Store, partitionKey, prefix []byte, newValue func() interface{}) (*ObjectIterator, error) {
	itr, err := store.Scan(ctx, partitionKey, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	return &ObjectIterator{
		itr:      itr,
		prefix:   prefix,
		newValue: newValue,
	}, nil
}

func (o *ObjectIterator) Next() bool {
	if o.err != nil {
		return false
	}
	if !o.itr.Next() {
		o.err = o.itr.Err()
		return false
	}
	entry := o.itr.Entry()
	if !bytes.HasPrefix(entry.Key, o.prefix) {
		return false
	}
	value := o.newValue()
	if err := json.Unmarshal(entry.Value, value); err != nil {
		o.err = fmt.Errorf("unmarshal %s: %w", entry.Key, err)
		return false
	}
	o.entry = &ObjectEntry{
		Key:   entry.Key,
		Value: value,
	}
	return true
}

func (o *ObjectIterator) Entry() *ObjectEntry {
	return o.entry
}

func (o *ObjectIterator) Err() error {
	return o.err
}

func (o *ObjectIterator) Close() {
	o.itr.Close()
}
