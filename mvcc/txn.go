package mvcc

import (
	"bytes"

	"github.com/tinykv-io/tinykv/engine_util"
)

type ModifyType int

const (
	ModifyTypePut ModifyType = iota
	ModifyTypeDelete
)

// Modify is one buffered mutation a transaction accumulates before it is
// flushed as a single write batch by the caller (the apply pipeline, for a
// replicated txn command).
type Modify struct {
	Type  ModifyType
	Cf    string
	Key   []byte
	Value []byte
}

// MvccTxn accumulates the column-family writes that make up one logical
// MVCC operation (a prewrite, a commit, a rollback) against a fixed-point
// snapshot reader. Nothing is visible to other readers until the caller
// turns Writes into a write batch and commits it.
type MvccTxn struct {
	Reader  engine_util.DBReader
	StartTS uint64
	Writes  []Modify
}

func NewTxn(reader engine_util.DBReader, startTS uint64) *MvccTxn {
	return &MvccTxn{Reader: reader, StartTS: startTS}
}

// ToWriteBatch drains the accumulated modifications into a WriteBatch
// ready for Engines.WriteKV.
func (txn *MvccTxn) ToWriteBatch() *engine_util.WriteBatch {
	wb := new(engine_util.WriteBatch)
	for _, w := range txn.Writes {
		if w.Type == ModifyTypeDelete {
			wb.DeleteCF(w.Cf, w.Key)
		} else {
			wb.SetCF(w.Cf, w.Key, w.Value)
		}
	}
	return wb
}

// SeekWrite returns the write record at or after (key, ts) together with
// its commit timestamp, scanning forward through the reverse-sorted write
// CF. Returns (nil, 0, nil) when the key has no version visible at ts.
func (txn *MvccTxn) SeekWrite(key []byte, ts uint64) (*Write, uint64, error) {
	iter := txn.Reader.IterCF(engine_util.CfWrite)
	defer iter.Close()
	iter.Seek(EncodeKey(key, ts))
	if !iter.Valid() {
		return nil, 0, nil
	}
	item := iter.Item()
	commitTs := DecodeTimestamp(item.Key())
	if !bytes.Equal(DecodeUserKey(item.Key()), key) {
		return nil, 0, nil
	}
	value, err := item.Value()
	if err != nil {
		return nil, 0, err
	}
	write, err := ParseWrite(value)
	if err != nil {
		return nil, 0, err
	}
	return write, commitTs, nil
}

// FindWrite looks for the write record committed for exactly startTs,
// walking backwards from the most recent version. Used by Commit/Rollback
// idempotency checks.
func (txn *MvccTxn) FindWrite(key []byte, startTs uint64) (write *Write, commitTs uint64, err error) {
	seekTs := TsMax
	for {
		w, cts, err := txn.SeekWrite(key, seekTs)
		if err != nil {
			return nil, 0, err
		}
		if w == nil {
			return nil, 0, nil
		}
		if w.StartTS == startTs {
			return w, cts, nil
		}
		if cts <= startTs {
			return nil, 0, nil
		}
		seekTs = cts - 1
	}
}

// GetValue loads the user value for a Put write, following the
// short-value-inline-vs-default-CF split.
func (txn *MvccTxn) GetValue(key []byte, write *Write) ([]byte, error) {
	if write.ShortValue != nil {
		return write.ShortValue, nil
	}
	return txn.Reader.GetCF(engine_util.CfDefault, EncodeKey(key, write.StartTS))
}

func (txn *MvccTxn) GetLock(key []byte) (*Lock, error) {
	data, err := txn.Reader.GetCF(engine_util.CfLock, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return ParseLock(data)
}

func (txn *MvccTxn) PutLock(key []byte, lock *Lock) {
	txn.Writes = append(txn.Writes, Modify{Type: ModifyTypePut, Cf: engine_util.CfLock, Key: key, Value: lock.ToBytes()})
}

func (txn *MvccTxn) DeleteLock(key []byte) {
	txn.Writes = append(txn.Writes, Modify{Type: ModifyTypeDelete, Cf: engine_util.CfLock, Key: key})
}

func (txn *MvccTxn) PutWrite(key []byte, commitTs uint64, write *Write) {
	txn.Writes = append(txn.Writes, Modify{Type: ModifyTypePut, Cf: engine_util.CfWrite, Key: EncodeKey(key, commitTs), Value: write.ToBytes()})
}

func (txn *MvccTxn) PutValue(key []byte, startTs uint64, value []byte) {
	txn.Writes = append(txn.Writes, Modify{Type: ModifyTypePut, Cf: engine_util.CfDefault, Key: EncodeKey(key, startTs), Value: value})
}

func (txn *MvccTxn) DeleteValue(key []byte, startTs uint64) {
	txn.Writes = append(txn.Writes, Modify{Type: ModifyTypeDelete, Cf: engine_util.CfDefault, Key: EncodeKey(key, startTs)})
}
