package engine_util

import (
	"github.com/Connor1996/badger"
)

type Marshaler interface {
	Marshal() ([]byte, error)
}

type writeBatchEntry struct {
	cf     string
	key    []byte
	value  []byte
	delete bool
}

// WriteBatch accumulates Put/Delete operations across column families and
// commits them to one badger.DB with a single atomic transaction, matching
// spec.md §4.2's "atomic batch semantics" and the teacher's
// engine_util.WriteBatch contract used pervasively by PeerStorage and
// applier.
type WriteBatch struct {
	entries  []writeBatchEntry
	safePoint int
	size      int
}

func (wb *WriteBatch) SetCF(cf string, key, val []byte) {
	wb.entries = append(wb.entries, writeBatchEntry{cf: cf, key: append([]byte{}, key...), value: append([]byte{}, val...)})
	wb.size += len(key) + len(val)
}

func (wb *WriteBatch) DeleteCF(cf string, key []byte) {
	wb.entries = append(wb.entries, writeBatchEntry{cf: cf, key: append([]byte{}, key...), delete: true})
	wb.size += len(key)
}

// SetMeta marshals a proto-like message into the given raw key (no CF
// prefix), used for RaftLocalState/RaftApplyState/RegionLocalState.
func (wb *WriteBatch) SetMeta(key []byte, msg Marshaler) error {
	val, err := msg.Marshal()
	if err != nil {
		return err
	}
	wb.entries = append(wb.entries, writeBatchEntry{key: append([]byte{}, key...), value: val})
	wb.size += len(key) + len(val)
	return nil
}

func (wb *WriteBatch) Delete(key []byte) {
	wb.entries = append(wb.entries, writeBatchEntry{key: append([]byte{}, key...), delete: true})
}

func (wb *WriteBatch) Len() int { return len(wb.entries) }

func (wb *WriteBatch) Size() int { return wb.size }

// SetSafePoint/RollbackToSafePoint let a caller discard tentative writes
// accumulated since the last checkpoint, used by the apply pipeline to undo
// a partially-applied command that later failed (spec.md §4.5 note on
// ExecResult failures not corrupting the batch).
func (wb *WriteBatch) SetSafePoint() {
	wb.safePoint = len(wb.entries)
}

func (wb *WriteBatch) RollbackToSafePoint() {
	wb.entries = wb.entries[:wb.safePoint]
}

func (wb *WriteBatch) Reset() {
	wb.entries = wb.entries[:0]
	wb.safePoint = 0
	wb.size = 0
}

func rawKey(e writeBatchEntry) []byte {
	if e.cf == "" {
		return e.key
	}
	return cfKey(e.cf, e.key)
}

// WriteToDB commits every accumulated entry in one badger transaction. It is
// the write half of spec.md §4.2's "write kv-batch / write raft-batch, fsync"
// pipeline. The DB is opened with SyncWrites off so a caller controls
// durability per batch: when sync is true, WriteToDB calls db.Sync() once
// the transaction commits, forcing the write ahead of any buffered fs
// cache; when false it returns as soon as the transaction is visible to
// later reads, deferring the fsync to whichever later batch sets sync.
func (wb *WriteBatch) WriteToDB(db *badger.DB, sync bool) error {
	if len(wb.entries) == 0 {
		return nil
	}
	if err := db.Update(func(txn *badger.Txn) error {
		for _, e := range wb.entries {
			k := rawKey(e)
			if e.delete {
				if err := txn.Delete(k); err != nil && err != badger.ErrKeyNotFound {
					return err
				}
				continue
			}
			if err := txn.Set(k, e.value); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	if sync {
		return db.Sync()
	}
	return nil
}

// MustWriteToDB panics on failure, matching the teacher's treatment of
// durability errors as fatal (spec.md §7: storage durability failures
// panic, since crash recovery relies on the WAL).
func (wb *WriteBatch) MustWriteToDB(db *badger.DB, sync bool) {
	if err := wb.WriteToDB(db, sync); err != nil {
		panic(err)
	}
}
