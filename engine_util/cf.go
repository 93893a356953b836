// Package engine_util wraps a pair of badger.DB handles (the data backend
// and the raft backend; raftstore/meta/keys.go builds the keys) with the
// column-family convention the rest of the engine assumes: default, lock and
// write are key prefixes over a single badger keyspace, not separate
// databases.
package engine_util

import (
	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
)

const (
	CfDefault = "default"
	CfLock    = "lock"
	CfWrite   = "write"
	CfRaft    = "raft"
)

// CFs lists every column family the engine allocates table stats for.
var CFs = [...]string{CfDefault, CfLock, CfWrite}

func cfKey(cf string, key []byte) []byte {
	b := make([]byte, 0, len(cf)+1+len(key))
	b = append(b, cf...)
	b = append(b, '_')
	b = append(b, key...)
	return b
}

// KeyWithCF is exported for callers (e.g. range-delete helpers) that need to
// build a raw badger key without going through a transaction.
func KeyWithCF(cf string, key []byte) []byte {
	return cfKey(cf, key)
}

// Engines bundles the two backends named in spec.md §4.2: Kv (data backend,
// holds RegionLocalState, RaftApplyState, the RaftLocalState snapshot-mirror
// and user data) and Raft (raft backend, holds log entries and
// RaftLocalState).
type Engines struct {
	Kv       *badger.DB
	KvPath   string
	Raft     *badger.DB
	RaftPath string
}

func NewEngines(kvEngine, raftEngine *badger.DB, kvPath, raftPath string) *Engines {
	return &Engines{Kv: kvEngine, KvPath: kvPath, Raft: raftEngine, RaftPath: raftPath}
}

func (en *Engines) WriteKV(wb *WriteBatch, sync bool) error {
	return wb.WriteToDB(en.Kv, sync)
}

func (en *Engines) WriteRaft(wb *WriteBatch, sync bool) error {
	return wb.WriteToDB(en.Raft, sync)
}

func (en *Engines) Close() error {
	if err := en.Kv.Close(); err != nil {
		return err
	}
	return en.Raft.Close()
}

// GetCF looks up a value for cf/key against the database's latest
// committed state without pinning a long-lived transaction.
func GetCF(db *badger.DB, cf string, key []byte) (val []byte, err error) {
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cfKey(cf, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return
}

// GetMeta looks up a raw, non-CF-prefixed key, the counterpart of
// WriteBatch.SetMeta for reads.
func GetMeta(db *badger.DB, key []byte) (val []byte, err error) {
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return
}

func GetCFFromTxn(txn *badger.Txn, cf string, key []byte) ([]byte, error) {
	item, err := txn.Get(cfKey(cf, key))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func PutCF(db *badger.DB, cf string, key, val []byte) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(cfKey(cf, key), val)
	})
}

func DeleteCF(db *badger.DB, cf string, key []byte) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete(cfKey(cf, key))
	})
}

// DeleteRange removes every key in [startKey, endKey) from cf by point
// deletes inside one transaction; an empty endKey means the end of cf.
// The apply loop calls it for a DeleteRange command with use_delete_range
// set, and DeleteFilesInRange, used otherwise, calls it as well.
func DeleteRange(db *badger.DB, cf string, startKey, endKey []byte) error {
	return db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		start, end := cfKey(cf, startKey), cfKey(cf, endKey)
		prefix := []byte(cf + "_")
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if len(endKey) > 0 && compareKeys(item.Key(), end) >= 0 {
				break
			}
			if err := txn.Delete(item.KeyCopy(nil)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteFilesInRange is the bulk-drop fast path of spec.md §6
// (delete_files_in_range_cf): badger has no SST-level range drop, so this
// falls back to DeleteRange, but keeps the two call sites distinct per the
// contract so an engine swap only needs one implementation changed.
func DeleteFilesInRange(db *badger.DB, cf string, startKey, endKey []byte) error {
	return DeleteRange(db, cf, startKey, endKey)
}

func compareKeys(a, b []byte) int {
	switch {
	case len(b) == 0:
		return -1
	default:
		for i := 0; i < len(a) && i < len(b); i++ {
			if a[i] != b[i] {
				if a[i] < b[i] {
					return -1
				}
				return 1
			}
		}
		return len(a) - len(b)
	}
}

// ErrRangeEmptyCheckFailed names an I/O failure while checking whether a
// key range is empty, as opposed to a simple "no rows" result. No function
// in this package returns it.
var ErrRangeEmptyCheckFailed = errors.New("range empty check failed")
