package engine_util

import "github.com/Connor1996/badger"

// DBReader is the snapshot-scoped read surface the MVCC layer and the
// apply pipeline's Get/Snap commands consume: GetCF against a fixed
// point-in-time view, plus ordered iteration per column family.
type DBReader interface {
	GetCF(cf string, key []byte) ([]byte, error)
	IterCF(cf string) DBIterator
	IterRaw() DBIterator
	Close()
}

type badgerReader struct {
	txn *badger.Txn
}

// NewBadgerReader pins a read-only transaction against db, giving callers a
// consistent point-in-time view across however many CFs they touch.
func NewBadgerReader(db *badger.DB) DBReader {
	return &badgerReader{txn: db.NewTransaction(false)}
}

func (r *badgerReader) GetCF(cf string, key []byte) ([]byte, error) {
	val, err := GetCFFromTxn(r.txn, cf, key)
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *badgerReader) IterCF(cf string) DBIterator {
	return NewCFIterator(cf, r.txn)
}

func (r *badgerReader) IterRaw() DBIterator {
	return NewRawIterator(r.txn)
}

func (r *badgerReader) Close() {
	r.txn.Discard()
}
