package engine_util

import "github.com/Connor1996/badger"

// DBItem is the per-entry handle a DBIterator yields, mirroring
// spec.md §6's iterator contract (seek/next/valid/key/value).
type DBItem interface {
	Key() []byte
	KeyCopy(dst []byte) []byte
	Value() ([]byte, error)
	ValueCopy(dst []byte) ([]byte, error)
	ValueSize() int
}

// DBIterator is the engine-facing iterator interface: Seek, Rewind, Next
// and Valid position it, and Item exposes the current key and value. It
// has no seek-for-prev or backward step.
type DBIterator interface {
	Item() DBItem
	Valid() bool
	Next()
	Seek([]byte)
	Close()
	Rewind()
}

type CFItem struct {
	item      *badger.Item
	prefixLen int
}

func (i *CFItem) Key() []byte { return i.item.Key()[i.prefixLen:] }

func (i *CFItem) KeyCopy(dst []byte) []byte {
	full := i.item.KeyCopy(dst)
	return full[i.prefixLen:]
}

func (i *CFItem) Value() ([]byte, error) { return i.item.Value() }

func (i *CFItem) ValueCopy(dst []byte) ([]byte, error) { return i.item.ValueCopy(dst) }

func (i *CFItem) ValueSize() int { return i.item.ValueSize() }

// CFIterator adapts a badger.Iterator restricted to one column family's
// key prefix, the convention set by the teacher's cf_iterator.go.
type CFIterator struct {
	iter   *badger.Iterator
	prefix string
}

func NewCFIterator(cf string, txn *badger.Txn) *CFIterator {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	return &CFIterator{iter: txn.NewIterator(opts), prefix: cf + "_"}
}

func (it *CFIterator) Item() DBItem {
	return &CFItem{item: it.iter.Item(), prefixLen: len(it.prefix)}
}

func (it *CFIterator) Valid() bool { return it.iter.ValidForPrefix([]byte(it.prefix)) }

func (it *CFIterator) Close() { it.iter.Close() }

func (it *CFIterator) Next() { it.iter.Next() }

func (it *CFIterator) Seek(key []byte) {
	it.iter.Seek(append([]byte(it.prefix), key...))
}

func (it *CFIterator) Rewind() { it.iter.Seek([]byte(it.prefix)) }

// rawItem/RawIterator expose badger's keys verbatim, with no CF prefix
// stripped, for the raft backend's raw (non-CF) keyspace: RaftLocalState,
// RaftApplyState's backend, and per-entry log rows.
type rawItem struct {
	item *badger.Item
}

func (i *rawItem) Key() []byte                         { return i.item.Key() }
func (i *rawItem) KeyCopy(dst []byte) []byte            { return i.item.KeyCopy(dst) }
func (i *rawItem) Value() ([]byte, error)               { return i.item.Value() }
func (i *rawItem) ValueCopy(dst []byte) ([]byte, error) { return i.item.ValueCopy(dst) }
func (i *rawItem) ValueSize() int                       { return i.item.ValueSize() }

type RawIterator struct {
	iter *badger.Iterator
}

func NewRawIterator(txn *badger.Txn) *RawIterator {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	return &RawIterator{iter: txn.NewIterator(opts)}
}

func (it *RawIterator) Item() DBItem   { return &rawItem{item: it.iter.Item()} }
func (it *RawIterator) Valid() bool    { return it.iter.Valid() }
func (it *RawIterator) Next()          { it.iter.Next() }
func (it *RawIterator) Seek(key []byte) { it.iter.Seek(key) }
func (it *RawIterator) Close()         { it.iter.Close() }
func (it *RawIterator) Rewind()        { it.iter.Rewind() }
