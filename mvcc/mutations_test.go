package mvcc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinykv-io/tinykv/proto/pkg/kvrpcpb"
)

func TestPrewriteCommitGetRoundTrip(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")
	primary := key

	prewrite := NewTxn(store, 10)
	mutation := &kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v1")}
	require.NoError(t, prewrite.Prewrite(mutation, primary, 1000, PrewriteOptions{}))
	store.apply(prewrite)

	commit := NewTxn(store, 10)
	require.NoError(t, commit.Commit(key, 20))
	store.apply(commit)

	read := NewTxn(store, 0)
	val, err := read.Get(key, 30, kvrpcpb.IsolationLevel_SI)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)
}

func TestPrewriteBlocksOnLaterCommittedWrite(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")

	first := NewTxn(store, 10)
	require.NoError(t, first.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v1")}, key, 1000, PrewriteOptions{}))
	store.apply(first)
	require.NoError(t, first.Commit(key, 15))
	store.apply(first)

	late := NewTxn(store, 5)
	err := late.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v2")}, key, 1000, PrewriteOptions{})
	require.Error(t, err)
	var conflict *ErrWriteConflict
	require.ErrorAs(t, err, &conflict)
}

func TestPrewriteReportsExistingLockFromOtherTxn(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")

	holder := NewTxn(store, 10)
	require.NoError(t, holder.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v1")}, key, 1000, PrewriteOptions{}))
	store.apply(holder)

	other := NewTxn(store, 11)
	err := other.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v2")}, key, 1000, PrewriteOptions{})
	require.Error(t, err)
	var locked *ErrKeyIsLocked
	require.ErrorAs(t, err, &locked)
	require.Equal(t, uint64(10), locked.StartTS)
}

func TestPrewriteSameTxnIsIdempotent(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")

	txn := NewTxn(store, 10)
	require.NoError(t, txn.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v1")}, key, 1000, PrewriteOptions{}))
	store.apply(txn)

	retry := NewTxn(store, 10)
	require.NoError(t, retry.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v1")}, key, 1000, PrewriteOptions{}))
	require.Empty(t, retry.Writes)
}

func TestCommitWithoutPrewriteFails(t *testing.T) {
	store := newMemReader()
	txn := NewTxn(store, 10)
	err := txn.Commit([]byte("k1"), 20)
	require.Error(t, err)
	var notFound *ErrTxnLockNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestCommitIsIdempotentOnRetry(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")

	txn := NewTxn(store, 10)
	require.NoError(t, txn.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v1")}, key, 1000, PrewriteOptions{}))
	store.apply(txn)
	require.NoError(t, txn.Commit(key, 20))
	store.apply(txn)

	retry := NewTxn(store, 10)
	require.NoError(t, retry.Commit(key, 20))
}

func TestRollbackUndoesPendingPrewrite(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")

	txn := NewTxn(store, 10)
	require.NoError(t, txn.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v1")}, key, 1000, PrewriteOptions{}))
	store.apply(txn)
	require.NoError(t, txn.Rollback(key))
	store.apply(txn)

	lockCheck := NewTxn(store, 10)
	lock, err := lockCheck.GetLock(key)
	require.NoError(t, err)
	require.Nil(t, lock)

	commit := NewTxn(store, 10)
	err = commit.Commit(key, 20)
	require.Error(t, err)
}

func TestRollbackOnAlreadyCommittedFails(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")

	txn := NewTxn(store, 10)
	require.NoError(t, txn.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v1")}, key, 1000, PrewriteOptions{}))
	store.apply(txn)
	require.NoError(t, txn.Commit(key, 20))
	store.apply(txn)

	late := NewTxn(store, 10)
	err := late.Rollback(key)
	require.Error(t, err)
	var alreadyCommitted *ErrAlreadyCommitted
	require.ErrorAs(t, err, &alreadyCommitted)
}

func TestRollbackWithoutPriorStatePlantsTombstone(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")

	txn := NewTxn(store, 10)
	require.NoError(t, txn.Rollback(key))
	store.apply(txn)

	// The planted rollback record is itself a write at commitTs == 10, so a
	// late prewrite retrying at the same start_ts sees it as a conflicting
	// write and is blocked rather than silently re-accepted.
	blocked := NewTxn(store, 10)
	err := blocked.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v1")}, key, 1000, PrewriteOptions{})
	require.Error(t, err)
	var conflict *ErrWriteConflict
	require.ErrorAs(t, err, &conflict)
}

func TestGetReturnsNilForMissingKey(t *testing.T) {
	store := newMemReader()
	txn := NewTxn(store, 0)
	val, err := txn.Get([]byte("missing"), 100, kvrpcpb.IsolationLevel_SI)
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestGetUnderSIBlocksOnUncommittedLock(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")

	txn := NewTxn(store, 10)
	require.NoError(t, txn.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v1")}, key, 1000, PrewriteOptions{}))
	store.apply(txn)

	reader := NewTxn(store, 0)
	_, err := reader.Get(key, 15, kvrpcpb.IsolationLevel_SI)
	require.Error(t, err)
	var locked *ErrKeyIsLocked
	require.ErrorAs(t, err, &locked)
}

func TestGetLargeValueSpillsToDefaultCF(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")
	bigValue := make([]byte, ShortValueThreshold+1)
	for i := range bigValue {
		bigValue[i] = byte(i)
	}

	txn := NewTxn(store, 10)
	require.NoError(t, txn.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: bigValue}, key, 1000, PrewriteOptions{}))
	store.apply(txn)
	require.NoError(t, txn.Commit(key, 20))
	store.apply(txn)

	read := NewTxn(store, 0)
	val, err := read.Get(key, 30, kvrpcpb.IsolationLevel_SI)
	require.NoError(t, err)
	require.Equal(t, bigValue, val)
}

func TestDeleteMutationRemovesValue(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")

	put := NewTxn(store, 10)
	require.NoError(t, put.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Put, Key: key, Value: []byte("v1")}, key, 1000, PrewriteOptions{}))
	store.apply(put)
	require.NoError(t, put.Commit(key, 20))
	store.apply(put)

	del := NewTxn(store, 30)
	require.NoError(t, del.Prewrite(&kvrpcpb.Mutation{Op: kvrpcpb.Op_Del, Key: key}, key, 1000, PrewriteOptions{}))
	store.apply(del)
	require.NoError(t, del.Commit(key, 40))
	store.apply(del)

	read := NewTxn(store, 0)
	val, err := read.Get(key, 50, kvrpcpb.IsolationLevel_SI)
	require.NoError(t, err)
	require.Nil(t, val)
}
