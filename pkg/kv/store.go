package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	kvparams "github.com/blacklakehq/blacklake/pkg/kv/params"
)

const PathDelimiter = "/"

var (
	ErrClosedEntries       = errors.New("closed entries")
	ErrConnectFailed       = errors.New("connect failed")
	ErrDriverConfiguration = errors.New("driver configuration")
	ErrMissingPartitionKey = errors.New("missing partition key")
	ErrMissingKey          = errors.New("missing key")
	ErrMissingValue        = errors.New("missing value")
	ErrNotFound            = errors.New("not found")
	ErrOperationFailed     = errors.New("operation failed")
	ErrPredicateFailed     = errors.New("predicate failed")
	ErrSetupFailed         = errors.New("setup failed")
	ErrUnknownDriver       = errors.New("unknown driver")
)

func FormatPath(p ...string) string {
	return strings.Join(p, PathDelimiter)
}

// Driver is the interface to access a kv database as a Store.
// Each kv provider implements a Driver.
type Driver interface {
	// Open opens access to the database store. Implementations give access
	// to the same storage based on the params.
	Open(ctx context.Context, params kvparams.KV) (Store, error)
}

// Predicate is an opaque value associated with a previously fetched value,
// passed back to SetIf for a conditional write.
type Predicate interface{}

// ValueWithPredicate is what Get returns: the stored bytes plus the predicate
// to hand to SetIf for an atomic update of that key.
type ValueWithPredicate struct {
	Value     []byte
	Predicate Predicate
}

type Store interface {
	// Get returns the value and predicate for the given key, or ErrNotFound.
	Get(ctx context.Context, partitionKey, key []byte) (*ValueWithPredicate, error)

	// Set stores value under key, overwriting an existing value if one exists.
	Set(ctx context.Context, partitionKey, key, value []byte) error

	// SetIf is a compare-and-set: valuePredicate is either the predicate
	// returned by a previous Get, or nil to require that the key does not
	// exist yet. A mismatch fails with ErrPredicateFailed.
	SetIf(ctx context.Context, partitionKey, key, value []byte, valuePredicate Predicate) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, partitionKey, key []byte) error

	// Scan returns entries in key order, starting at or after `start`
	// within the given partition.
	Scan(ctx context.Context, partitionKey, start []byte) (EntriesIterator, error)

	// Close access to the database store. After calling Close the instance is unusable.
	Close()
}

// EntriesIterator used to enumerate over Scan results
type EntriesIterator interface {
	// Next processes the next entry and reports whether one is available.
	Next() bool

	// Entry is the current entry after a successful Next.
	Entry() *Entry

	// Err holds the last read or parse error.
	Err() error

	// Close releases resources used by the scan. The iterator is unusable after.
	Close()
}

// Entry holds a pair of key/value
type Entry struct {
	PartitionKey []byte
	Key          []byte
	Value        []byte
}

func (e *Entry) String() string {
	if e == nil {
		return "Entry{nil}"
	}
	return fmt.Sprintf("Entry{%s, %s}", e.Key, e.Value)
}

var (
	drivers   = make(map[string]Driver)
	driversMu sync.RWMutex
)

// Register 'driver' implementation under 'name'. Panics on empty name, nil
// driver or a name already registered.
func Register(name string, driver Driver) {
	if name == "" {
		panic("kv store register name is missing")
	}
	if driver == nil {
		panic("kv store Register driver is nil")
	}
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, found := drivers[name]; found {
		panic("kv store Register driver already registered " + name)
	}
	drivers[name] = driver
}

// UnregisterAllDrivers removes all loaded drivers, used for test code.
func UnregisterAllDrivers() {
	driversMu.Lock()
	defer driversMu.Unlock()
	for k := range drivers {
		delete(drivers, k)
	}
}

// Open looks up the driver named by params.Type and opens a Store.
func Open(ctx context.Context, params kvparams.KV) (Store, error) {
	driversMu.RLock()
	d, ok := drivers[params.Type]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, params.Type)
	}
	return d.Open(ctx, params)
}

// Drivers returns a list of registered driver names
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	return names
}
