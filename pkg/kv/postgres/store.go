package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blacklakehq/blacklake/pkg/kv"
	kvparams "github.com/blacklakehq/blacklake/pkg/kv/params"
	"github.com/blacklakehq/blacklake/pkg/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DriverName = "postgres"

	DefaultTableName    = "kv"
	DefaultPartitions   = 100
	DefaultScanPageSize = 1000
)

type Driver struct{}

type Store struct {
	Pool           *pgxpool.Pool
	Params         *Params
	TableSanitized string
	log            logging.Logger
}

type Params struct {
	TableName          string
	SanitizedTableName string
	ScanPageSize       int
	Metrics            bool
}

//nolint:gochecknoinits
func init() {
	kv.Register(DriverName, &Driver{})
}

func (d *Driver) Open(ctx context.Context, kvParams kvparams.KV) (kv.Store, error) {
	if kvParams.Postgres == nil {
		return nil, fmt.Errorf("missing %s settings: %w", DriverName, kv.ErrDriverConfiguration)
	}

	config, err := pgxpool.ParseConfig(kvParams.Postgres.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w (%s)", err, kv.ErrDriverConfiguration)
	}
	if kvParams.Postgres.MaxOpenConnections > 0 {
		config.MaxConns = kvParams.Postgres.MaxOpenConnections
	}
	if kvParams.Postgres.MaxIdleConnections > 0 {
		config.MinConns = kvParams.Postgres.MaxIdleConnections
	}
	if kvParams.Postgres.ConnectionMaxLifetime > 0 {
		config.MaxConnLifetime = kvParams.Postgres.ConnectionMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", kv.ErrConnectFailed, err)
	}
	defer func() {
		// if we return before store is constructed, release what we hold
		if pool != nil {
			pool.Close()
		}
	}()

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s", kv.ErrConnectFailed, err)
	}

	params := parseStoreConfig(kvParams.Postgres)
	if err := setupKeyValueDatabase(ctx, pool, params); err != nil {
		return nil, fmt.Errorf("%w: %s", kv.ErrSetupFailed, err)
	}

	store := &Store{
		Pool:           pool,
		Params:         params,
		TableSanitized: params.SanitizedTableName,
		log:            logging.Default().WithField("store", DriverName),
	}
	pool = nil
	return store, nil
}

func parseStoreConfig(p *kvparams.Postgres) *Params {
	params := &Params{
		TableName:    DefaultTableName,
		ScanPageSize: DefaultScanPageSize,
		Metrics:      p.Metrics,
	}
	if p.TableName != "" {
		params.TableName = p.TableName
	}
	if p.ScanPageSize > 0 {
		params.ScanPageSize = p.ScanPageSize
	}
	params.SanitizedTableName = pgx.Identifier{params.TableName}.Sanitize()
	return params
}

func setupKeyValueDatabase(ctx context.Context, pool *pgxpool.Pool, params *Params) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+params.SanitizedTableName+` (
		partition_key BYTEA NOT NULL,
		key BYTEA NOT NULL,
		value BYTEA NOT NULL,
		PRIMARY KEY (partition_key, key))`)
	if err != nil && isDuplicateTableError(err) {
		// concurrent setup lost the race, the table is there
		return nil
	}
	return err
}

func isDuplicateTableError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P07"
}

func (s *Store) Get(ctx context.Context, partitionKey, key []byte) (*kv.ValueWithPredicate, error) {
	if len(partitionKey) == 0 {
		return nil, kv.ErrMissingPartitionKey
	}
	if len(key) == 0 {
		return nil, kv.ErrMissingKey
	}
	row := s.Pool.QueryRow(ctx, `SELECT value FROM `+s.TableSanitized+` WHERE partition_key=$1 AND key=$2`, partitionKey, key)
	var value []byte
	err := row.Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
	}
	return &kv.ValueWithPredicate{
		Value:     value,
		Predicate: kv.Predicate(value),
	}, nil
}

func (s *Store) Set(ctx context.Context, partitionKey, key, value []byte) error {
	if len(partitionKey) == 0 {
		return kv.ErrMissingPartitionKey
	}
	if len(key) == 0 {
		return kv.ErrMissingKey
	}
	if value == nil {
		return kv.ErrMissingValue
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO `+s.TableSanitized+` (partition_key,key,value) VALUES ($1,$2,$3)
		ON CONFLICT (partition_key,key) DO UPDATE SET value=$3`, partitionKey, key, value)
	if err != nil {
		return fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
	}
	return nil
}

func (s *Store) SetIf(ctx context.Context, partitionKey, key, value []byte, valuePredicate kv.Predicate) error {
	if len(partitionKey) == 0 {
		return kv.ErrMissingPartitionKey
	}
	if len(key) == 0 {
		return kv.ErrMissingKey
	}
	if value == nil {
		return kv.ErrMissingValue
	}
	var (
		res pgconn.CommandTag
		err error
	)
	if valuePredicate == nil {
		// insert only if the key does not exist
		res, err = s.Pool.Exec(ctx, `INSERT INTO `+s.TableSanitized+` (partition_key,key,value) VALUES ($1,$2,$3)
			ON CONFLICT (partition_key,key) DO NOTHING`, partitionKey, key, value)
	} else {
		// update only if the current value matches the predicate
		res, err = s.Pool.Exec(ctx, `UPDATE `+s.TableSanitized+` SET value=$3 WHERE partition_key=$1 AND key=$2 AND value=$4`,
			partitionKey, key, value, valuePredicate.([]byte))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
	}
	if res.RowsAffected() != 1 {
		return kv.ErrPredicateFailed
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, partitionKey, key []byte) error {
	if len(partitionKey) == 0 {
		return kv.ErrMissingPartitionKey
	}
	if len(key) == 0 {
		return kv.ErrMissingKey
	}
	_, err := s.Pool.Exec(ctx, `DELETE FROM `+s.TableSanitized+` WHERE partition_key=$1 AND key=$2`, partitionKey, key)
	if err != nil {
		return fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, partitionKey, start []byte) (kv.EntriesIterator, error) {
	if len(partitionKey) == 0 {
		return nil, kv.ErrMissingPartitionKey
	}
	return &EntriesIterator{
		ctx:          ctx,
		store:        s,
		partitionKey: partitionKey,
		startKey:     start,
		includeStart: true,
	}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// EntriesIterator reads scan results page by page, keeping at most
// ScanPageSize rows in memory.
type EntriesIterator struct {
	ctx          context.Context
	store        *Store
	partitionKey []byte
	startKey     []byte
	includeStart bool
	entries      []kv.Entry
	currEntryIdx int
	done         bool
	err          error
}

func (e *EntriesIterator) Next() bool {
	if e.err != nil {
		return false
	}
	e.currEntryIdx++
	if e.currEntryIdx < len(e.entries) {
		return true
	}
	if e.done {
		return false
	}
	if err := e.loadPage(); err != nil {
		e.err = err
		return false
	}
	return e.currEntryIdx < len(e.entries)
}

func (e *EntriesIterator) loadPage() error {
	compare := ">="
	if !e.includeStart {
		compare = ">"
	}
	sb := strings.Builder{}
	sb.WriteString(`SELECT partition_key,key,value FROM `)
	sb.WriteString(e.store.TableSanitized)
	sb.WriteString(` WHERE partition_key=$1 AND key`)
	sb.WriteString(compare)
	sb.WriteString(`$2 ORDER BY key LIMIT $3`)
	rows, err := e.store.Pool.Query(e.ctx, sb.String(), e.partitionKey, e.startKey, e.store.Params.ScanPageSize)
	if err != nil {
		return fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
	}
	defer rows.Close()

	e.entries = e.entries[:0]
	for rows.Next() {
		var ent kv.Entry
		if err := rows.Scan(&ent.PartitionKey, &ent.Key, &ent.Value); err != nil {
			return fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
		}
		e.entries = append(e.entries, ent)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s: %w", err, kv.ErrOperationFailed)
	}
	e.currEntryIdx = 0
	if len(e.entries) < e.store.Params.ScanPageSize {
		e.done = true
	} else {
		e.startKey = e.entries[len(e.entries)-1].Key
		e.includeStart = false
	}
	return nil
}

func (e *EntriesIterator) Entry() *kv.Entry {
	if e.currEntryIdx < 0 || e.currEntryIdx >= len(e.entries) {
		return nil
	}
	return &e.entries[e.currEntryIdx]
}

func (e *EntriesIterator) Err() error {
	return e.err
}

func (e *EntriesIterator) Close() {
	e.entries = nil
	e.err = kv.ErrClosedEntries
}
