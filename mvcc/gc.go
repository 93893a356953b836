package mvcc

import (
	"bytes"

	"github.com/tinykv-io/tinykv/engine_util"
)

// MaxTxnWriteSize bounds how many bytes of deletions a single GC pass over
// one key range will emit before it stops early, so GC never produces a
// write batch so large it stalls the apply pipeline behind it.
const MaxTxnWriteSize = 32 * 1024

// GC removes versions of key that are no longer visible to any transaction
// that could still start. It scans newest to oldest looking for the first
// version at or before safePoint: a Put or Delete found there is the
// boundary value a read at safePoint must still see, so everything older
// than it is deleted unconditionally. A Rollback or Lock found before that
// boundary carries no value worth keeping and is deleted outright; a
// Delete found exactly at the boundary is itself deletable too, but only
// once the whole key has been scanned without hitting MaxTxnWriteSize,
// since a partial scan can't prove there's nothing still relying on it.
//
// GC returns the accumulated writes and the number of bytes they would
// remove, so a caller iterating many keys can stop a pass once
// MaxTxnWriteSize is exceeded.
func GC(reader engine_util.DBReader, key []byte, safePoint uint64) ([]Modify, int, error) {
	iter := reader.IterCF(engine_util.CfWrite)
	defer iter.Close()

	var writes []Modify
	size := 0
	removeOlder := false
	var latestDelete []byte

	deleteWrite := func(writeKey []byte) {
		k := append([]byte{}, writeKey...)
		writes = append(writes, Modify{Type: ModifyTypeDelete, Cf: engine_util.CfWrite, Key: k})
		size += len(k)
	}
	deleteValue := func(startTS uint64) {
		defaultKey := EncodeKey(key, startTS)
		writes = append(writes, Modify{Type: ModifyTypeDelete, Cf: engine_util.CfDefault, Key: defaultKey})
		size += len(defaultKey)
	}

	for iter.Seek(EncodeKey(key, TsMax)); iter.Valid(); iter.Next() {
		item := iter.Item()
		if !bytes.Equal(DecodeUserKey(item.Key()), key) {
			break
		}
		commitTs := DecodeTimestamp(item.Key())

		value, err := item.Value()
		if err != nil {
			return nil, 0, err
		}
		write, err := ParseWrite(value)
		if err != nil {
			return nil, 0, err
		}

		if size >= MaxTxnWriteSize {
			// Can't remove a deferred latest-delete without having scanned
			// every older version first.
			latestDelete = nil
			break
		}

		writeKey := item.Key()

		if removeOlder {
			deleteWrite(writeKey)
			if write.Kind == WriteKindPut && write.ShortValue == nil {
				deleteValue(write.StartTS)
			}
			continue
		}

		if commitTs > safePoint {
			continue
		}

		switch write.Kind {
		case WriteKindPut, WriteKindDelete:
			removeOlder = true
		}

		switch write.Kind {
		case WriteKindDelete:
			latestDelete = append([]byte{}, writeKey...)
		case WriteKindRollback, WriteKindLock:
			deleteWrite(writeKey)
		}
	}

	if latestDelete != nil {
		deleteWrite(latestDelete)
	}

	return writes, size, nil
}
