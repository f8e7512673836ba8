package params

import "time"

type KV struct {
	Type     string
	Postgres *Postgres
	Local    *Local
	Mem      *Mem
}

type Postgres struct {
	ConnectionString      string
	MaxOpenConnections    int32
	MaxIdleConnections    int32
	ConnectionMaxLifetime time.Duration
	ScanPageSize          int
	Metrics               bool
	TableName             string
}

type Local struct {
	// Path - Local directory path to store the DB files
	Path string
	// SyncWrites - sync ensures data written to disk on each write instead of mem cache
	SyncWrites bool
	// PrefetchSize - number of elements to prefetch while iterating
	PrefetchSize int
	// EnableLogging - enable store and badger (trace only) logging
	EnableLogging bool
}

type Mem struct{}
