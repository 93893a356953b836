package mvcc

import (
	"bytes"
	"sort"

	"github.com/tinykv-io/tinykv/engine_util"
)

// memReader is a trivial in-memory engine_util.DBReader, standing in for a
// badger-backed reader in tests that only exercise MVCC logic.
type memReader struct {
	cfs map[string]map[string][]byte
}

func newMemReader() *memReader {
	return &memReader{cfs: make(map[string]map[string][]byte)}
}

func (r *memReader) set(cf string, key []byte, value []byte) {
	m, ok := r.cfs[cf]
	if !ok {
		m = make(map[string][]byte)
		r.cfs[cf] = m
	}
	m[string(key)] = value
}

// apply commits a *MvccTxn's buffered Writes directly into the reader,
// mimicking what Engines.WriteKV would do with the resulting write batch.
func (r *memReader) apply(txn *MvccTxn) {
	for _, w := range txn.Writes {
		if w.Type == ModifyTypeDelete {
			if m, ok := r.cfs[w.Cf]; ok {
				delete(m, string(w.Key))
			}
			continue
		}
		r.set(w.Cf, w.Key, w.Value)
	}
	txn.Writes = nil
}

func (r *memReader) GetCF(cf string, key []byte) ([]byte, error) {
	m, ok := r.cfs[cf]
	if !ok {
		return nil, nil
	}
	return m[string(key)], nil
}

func (r *memReader) IterCF(cf string) engine_util.DBIterator {
	m := r.cfs[cf]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &memIterator{keys: keys, values: m}
}

func (r *memReader) IterRaw() engine_util.DBIterator {
	return r.IterCF("")
}

func (r *memReader) Close() {}

type memIterator struct {
	keys   []string
	values map[string][]byte
	pos    int
}

func (it *memIterator) Item() engine_util.DBItem {
	return &memItem{key: []byte(it.keys[it.pos]), value: it.values[it.keys[it.pos]]}
}

func (it *memIterator) Valid() bool { return it.pos < len(it.keys) }

func (it *memIterator) Next() { it.pos++ }

func (it *memIterator) Seek(key []byte) {
	it.pos = sort.Search(len(it.keys), func(i int) bool {
		return bytes.Compare([]byte(it.keys[i]), key) >= 0
	})
}

func (it *memIterator) Close() {}

func (it *memIterator) Rewind() { it.pos = 0 }

type memItem struct {
	key   []byte
	value []byte
}

func (i *memItem) Key() []byte { return i.key }

func (i *memItem) KeyCopy(dst []byte) []byte { return append(dst[:0], i.key...) }

func (i *memItem) Value() ([]byte, error) { return i.value, nil }

func (i *memItem) ValueCopy(dst []byte) ([]byte, error) { return append(dst[:0], i.value...), nil }

func (i *memItem) ValueSize() int { return len(i.value) }
