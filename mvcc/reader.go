package mvcc

import (
	"bytes"

	"github.com/tinykv-io/tinykv/engine_util"
	"github.com/tinykv-io/tinykv/proto/pkg/kvrpcpb"
)

// MvccReader is the read-only counterpart of MvccTxn: point gets and
// ordered scans over a fixed snapshot, with no buffered writes.
type MvccReader struct {
	reader engine_util.DBReader
}

func NewReader(reader engine_util.DBReader) *MvccReader {
	return &MvccReader{reader: reader}
}

func (r *MvccReader) Close() { r.reader.Close() }

func (r *MvccReader) Get(key []byte, ts uint64, isolation kvrpcpb.IsolationLevel) ([]byte, error) {
	txn := NewTxn(r.reader, ts)
	return txn.Get(key, ts, isolation)
}

// ScanResult is one row a Scan call surfaces.
type ScanResult struct {
	Key   []byte
	Value []byte
	Err   error
}

// Scan walks user keys in order starting at startKey, returning up to
// limit rows, each resolved at ts under the given isolation level. A
// key with an error (e.g. a lock) still counts toward limit, matching the
// client contract that partial failures don't silently vanish from the
// result set.
func (r *MvccReader) Scan(startKey []byte, limit uint32, ts uint64, isolation kvrpcpb.IsolationLevel) []ScanResult {
	iter := r.reader.IterCF(engine_util.CfWrite)
	defer iter.Close()

	var results []ScanResult
	var lastKey []byte
	for iter.Seek(EncodeKey(startKey, TsMax)); iter.Valid() && uint32(len(results)) < limit; iter.Next() {
		item := iter.Item()
		userKey := DecodeUserKey(item.Key())
		if lastKey != nil && bytes.Equal(userKey, lastKey) {
			continue
		}
		lastKey = append([]byte{}, userKey...)

		txn := NewTxn(r.reader, ts)
		val, err := txn.Get(userKey, ts, isolation)
		if err != nil {
			results = append(results, ScanResult{Key: userKey, Err: err})
			continue
		}
		if val == nil {
			continue
		}
		results = append(results, ScanResult{Key: userKey, Value: val})
	}
	return results
}

// MvccProperties summarizes a CF range's version distribution, aggregated
// the way table properties collectors would during compaction. NeedGC
// consults these to skip ranges where a GC pass would find nothing to do.
type MvccProperties struct {
	MinTs          uint64
	MaxTs          uint64
	NumRows        uint64
	NumPuts        uint64
	NumVersions    uint64
	MaxRowVersions uint64
}

// NeedGC reports whether a range with the given properties is worth
// running a GC pass over: skip if every version is newer than
// safePoint, or if the average and peak version counts are both low.
func NeedGC(props MvccProperties, safePoint uint64, ratioThreshold float64) bool {
	if props.MinTs > safePoint {
		return false
	}
	if props.NumRows == 0 {
		return true
	}
	if float64(props.NumVersions) <= float64(props.NumRows)*ratioThreshold && props.MaxRowVersions <= 100 {
		return false
	}
	return true
}
