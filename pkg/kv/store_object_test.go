package kv_test

import (
	"context"
	"testing"

	"github.com/blacklakehq/blacklake/pkg/kv"
	_ "github.com/blacklakehq/blacklake/pkg/kv/mem"
	kvparams "github.com/blacklakehq/blacklake/pkg/kv/params"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestObjectRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := kv.Open(ctx, kvparams.KV{Type: "mem"})
	require.NoError(t, err)
	defer store.Close()

	partition := []byte("tenant-1")
	key := []byte(kv.FormatPath("records", "r1"))
	require.NoError(t, kv.SetObject(ctx, store, partition, key, &testRecord{Name: "first", Count: 7}))

	var got testRecord
	pred, err := kv.GetObject(ctx, store, partition, key, &got)
	require.NoError(t, err)
	require.Equal(t, testRecord{Name: "first", Count: 7}, got)

	// conditional update with the predicate from the read
	require.NoError(t, kv.SetObjectIf(ctx, store, partition, key, &testRecord{Name: "second", Count: 8}, pred))
	err = kv.SetObjectIf(ctx, store, partition, key, &testRecord{Name: "third", Count: 9}, pred)
	require.ErrorIs(t, err, kv.ErrPredicateFailed)

	// nil predicate insert of an existing key fails
	err = kv.SetObjectIf(ctx, store, partition, key, &testRecord{Name: "fourth"}, nil)
	require.ErrorIs(t, err, kv.ErrPredicateFailed)
}

func TestObjectScanPrefix(t *testing.T) {
	ctx := context.Background()
	store, err := kv.Open(ctx, kvparams.KV{Type: "mem"})
	require.NoError(t, err)
	defer store.Close()

	partition := []byte("tenant-1")
	for _, name := range []string{"a", "b", "c"} {
		key := []byte(kv.FormatPath("records", name))
		require.NoError(t, kv.SetObject(ctx, store, partition, key, &testRecord{Name: name}))
	}
	require.NoError(t, kv.SetObject(ctx, store, partition, []byte("zother/x"), &testRecord{Name: "x"}))

	itr, err := kv.ScanPrefix(ctx, store, partition, []byte("records/"), func() interface{} { return &testRecord{} })
	require.NoError(t, err)
	defer itr.Close()

	var names []string
	for itr.Next() {
		names = append(names, itr.Entry().Value.(*testRecord).Name)
	}
	require.NoError(t, itr.Err())
	require.Equal(t, []string{"a", "b", "c"}, names)
}
