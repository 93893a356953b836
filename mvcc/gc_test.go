package mvcc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinykv-io/tinykv/engine_util"
)

func TestGCKeepsNewestVersionAtOrBeforeSafePoint(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")
	putCommittedRaw(store, key, []byte("v1"), 10, 10)
	putCommittedRaw(store, key, []byte("v2"), 20, 20)
	putCommittedRaw(store, key, []byte("v3"), 30, 30)

	writes, _, err := GC(store, key, 25)
	require.NoError(t, err)

	// Only the version committed at 20 is the newest <= safePoint and is
	// kept; the older one at 10 is removed, the newer one at 30 isn't even
	// reached by GC's scope.
	require.Len(t, writes, 1)
	require.Equal(t, engine_util.CfWrite, writes[0].Cf)
}

func TestGCRemovesDefaultCFCompanionForLongPuts(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")
	bigValue := make([]byte, ShortValueThreshold+5)
	putCommittedRaw(store, key, bigValue, 5, 5)
	putCommittedRaw(store, key, bigValue, 15, 15)

	writes, _, err := GC(store, key, 20)
	require.NoError(t, err)

	var cfs []string
	for _, w := range writes {
		cfs = append(cfs, w.Cf)
	}
	require.Contains(t, cfs, engine_util.CfWrite)
	require.Contains(t, cfs, engine_util.CfDefault)
}

func TestGCDeletesBoundaryRollback(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")
	putRollbackRaw(store, key, 15)

	writes, _, err := GC(store, key, 20)
	require.NoError(t, err)

	// A rollback carries no value worth keeping even when it's the
	// newest version at or before safePoint, so it's deleted outright
	// rather than treated as the retained boundary.
	require.Len(t, writes, 1)
	require.Equal(t, engine_util.CfWrite, writes[0].Cf)
}

func TestGCDeletesBoundaryLockMarker(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")
	putLockMarkerRaw(store, key, 15)

	writes, _, err := GC(store, key, 20)
	require.NoError(t, err)

	require.Len(t, writes, 1)
	require.Equal(t, engine_util.CfWrite, writes[0].Cf)
}

func TestGCKeepsPutBoundaryBeneathDeletedRollback(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")
	putCommittedRaw(store, key, []byte("v1"), 5, 5)
	putRollbackRaw(store, key, 15)

	writes, _, err := GC(store, key, 20)
	require.NoError(t, err)

	// The rollback above the put is deleted, but since no Put/Delete has
	// been seen yet when it's found, remove_older never gets set for it;
	// the put underneath becomes the retained boundary instead.
	require.Len(t, writes, 1)
	require.Equal(t, EncodeKey(key, 15), writes[0].Key)
}

func TestGCDefersBoundaryDeleteUntilScanCompletes(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")
	putCommittedRaw(store, key, []byte("v1"), 5, 5)
	putDeleteRaw(store, key, 15)

	writes, _, err := GC(store, key, 20)
	require.NoError(t, err)

	// The boundary delete and the older put underneath it are both
	// removable once the whole key has been scanned under budget.
	require.Len(t, writes, 2)
}

func TestGCStopsAtSafePointBoundary(t *testing.T) {
	store := newMemReader()
	key := []byte("k1")
	putCommittedRaw(store, key, []byte("v1"), 10, 10)

	writes, size, err := GC(store, key, 5)
	require.NoError(t, err)
	require.Empty(t, writes)
	require.Zero(t, size)
}

// putCommittedRaw writes a write-CF record directly, bypassing Prewrite so
// tests can set up arbitrary commit histories for GC to scan.
func putCommittedRaw(store *memReader, key, value []byte, startTs, commitTs uint64) {
	txn := NewTxn(store, startTs)
	var shortValue []byte
	if len(value) <= ShortValueThreshold {
		shortValue = value
	} else {
		txn.PutValue(key, startTs, value)
	}
	txn.PutWrite(key, commitTs, NewWrite(startTs, WriteKindPut, shortValue))
	store.apply(txn)
}

func putRollbackRaw(store *memReader, key []byte, ts uint64) {
	txn := NewTxn(store, ts)
	txn.PutWrite(key, ts, NewWrite(ts, WriteKindRollback, nil))
	store.apply(txn)
}

func putLockMarkerRaw(store *memReader, key []byte, ts uint64) {
	txn := NewTxn(store, ts)
	txn.PutWrite(key, ts, NewWrite(ts, WriteKindLock, nil))
	store.apply(txn)
}

func putDeleteRaw(store *memReader, key []byte, ts uint64) {
	txn := NewTxn(store, ts)
	txn.PutWrite(key, ts, NewWrite(ts, WriteKindDelete, nil))
	store.apply(txn)
}
