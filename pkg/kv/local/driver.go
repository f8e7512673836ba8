package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blacklakehq/blacklake/pkg/kv"
	kvparams "github.com/blacklakehq/blacklake/pkg/kv/params"
	"github.com/blacklakehq/blacklake/pkg/logging"
	"github.com/dgraph-io/badger/v4"
)

const (
	DriverName = "local"

	DefaultDirectoryPath = "~/blacklake/metadata"
	DefaultPrefetchSize  = 256
	DirectoryPermissions = 0o755
)

type Driver struct {
	lock sync.Mutex
	// holds the currently open databases, keyed by directory path
	dbMap map[string]*dbRef
}

type dbRef struct {
	db       *badger.DB
	refCount int
}

//nolint:gochecknoinits
func init() {
	kv.Register(DriverName, &Driver{dbMap: make(map[string]*dbRef)})
}

func (d *Driver) Open(_ context.Context, params kvparams.KV) (kv.Store, error) {
	if params.Local == nil {
		return nil, fmt.Errorf("missing %s settings: %w", DriverName, kv.ErrDriverConfiguration)
	}
	path := params.Local.Path
	if path == "" {
		path = DefaultDirectoryPath
	}
	if strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("expand home directory: %w", kv.ErrDriverConfiguration)
		}
		path = filepath.Join(home, path[2:])
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("expand path %s: %w", params.Local.Path, kv.ErrDriverConfiguration)
	}
	prefetchSize := params.Local.PrefetchSize
	if prefetchSize <= 0 {
		prefetchSize = DefaultPrefetchSize
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	ref, ok := d.dbMap[path]
	if !ok {
		if err := os.MkdirAll(path, DirectoryPermissions); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", path, err)
		}
		opts := badger.DefaultOptions(path).
			WithLogger(nil).
			WithSyncWrites(params.Local.SyncWrites)
		if params.Local.EnableLogging {
			opts = opts.WithLogger(&badgerLogger{logging.Default().WithField("store", DriverName)})
		}
		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, kv.ErrConnectFailed)
		}
		ref = &dbRef{db: db}
		d.dbMap[path] = ref
	}
	ref.refCount++
	return &Store{
		db:           ref.db,
		path:         path,
		prefetchSize: prefetchSize,
		closer: func() {
			d.release(path)
		},
	}, nil
}

func (d *Driver) release(path string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	ref, ok := d.dbMap[path]
	if !ok {
		return
	}
	ref.refCount--
	if ref.refCount <= 0 {
		_ = ref.db.Close()
		delete(d.dbMap, path)
	}
}

// badgerLogger forwards badger's internal logging to our logger at trace
// level, badger is noisy.
type badgerLogger struct {
	logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.Tracef(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.Tracef(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.Tracef(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.Tracef(format, args...) }
