package mvcc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinykv-io/tinykv/proto/pkg/kvrpcpb"
)

func putCommitted(t *testing.T, store *memReader, key []byte, value []byte, startTs, commitTs uint64) {
	txn := NewTxn(store, startTs)
	require.NoError(t, txn.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: value}, key, 1000, PrewriteOptions{}))
	store.apply(txn)
	require.NoError(t, txn.Commit(key, commitTs))
	store.apply(txn)
}

func TestReaderGetDelegatesToTxn(t *testing.T) {
	store := newMemReader()
	putCommitted(t, store, []byte("k1"), []byte("v1"), 10, 20)

	r := NewReader(store)
	val, err := r.Get([]byte("k1"), 30, kvrpcpb.IsolationLevel_SI)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)
}

func TestReaderScanOrdersByKeyAndRespectsLimit(t *testing.T) {
	store := newMemReader()
	putCommitted(t, store, []byte("a"), []byte("va"), 1, 2)
	putCommitted(t, store, []byte("b"), []byte("vb"), 3, 4)
	putCommitted(t, store, []byte("c"), []byte("vc"), 5, 6)

	r := NewReader(store)
	results := r.Scan([]byte("a"), 2, 100, kvrpcpb.IsolationLevel_SI)
	require.Len(t, results, 2)
	require.Equal(t, []byte("a"), results[0].Key)
	require.Equal(t, []byte("va"), results[0].Value)
	require.Equal(t, []byte("b"), results[1].Key)
}

func TestReaderScanCountsLockErrorsTowardLimit(t *testing.T) {
	store := newMemReader()
	putCommitted(t, store, []byte("a"), []byte("va"), 1, 2)

	// b has an uncommitted lock: Scan must surface it as an error row, not
	// silently drop it from the result count.
	locker := NewTxn(store, 10)
	require.NoError(t, locker.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: []byte("b"), Value: []byte("vb")}, []byte("b"), 1000, PrewriteOptions{}))
	store.apply(locker)

	r := NewReader(store)
	results := r.Scan([]byte("a"), 10, 100, kvrpcpb.IsolationLevel_SI)
	require.Len(t, results, 2)
	require.Equal(t, []byte("a"), results[0].Key)
	require.Nil(t, results[0].Err)
	require.Equal(t, []byte("b"), results[1].Key)
	require.Error(t, results[1].Err)
}

func TestNeedGCSkipsRangesWithNothingOlderThanSafePoint(t *testing.T) {
	props := MvccProperties{MinTs: 100, NumRows: 10, NumVersions: 10}
	require.False(t, NeedGC(props, 50, 2.0))
}

func TestNeedGCRunsOnEmptyRange(t *testing.T) {
	props := MvccProperties{MinTs: 0, NumRows: 0}
	require.True(t, NeedGC(props, 50, 2.0))
}

func TestNeedGCSkipsLowVersionDensity(t *testing.T) {
	props := MvccProperties{MinTs: 10, NumRows: 100, NumVersions: 150, MaxRowVersions: 5}
	require.False(t, NeedGC(props, 50, 2.0))
}

func TestNeedGCRunsOnHighVersionDensity(t *testing.T) {
	props := MvccProperties{MinTs: 10, NumRows: 100, NumVersions: 500, MaxRowVersions: 200}
	require.True(t, NeedGC(props, 50, 2.0))
}
