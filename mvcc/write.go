package mvcc

import (
	"encoding/binary"

	"github.com/pingcap/errors"
)

// Write is a committed (or rolled-back) version record, stored in the
// write CF keyed by EncodeKey(key, commit_ts).
type Write struct {
	StartTS    uint64
	Kind       WriteKind
	ShortValue []byte
}

func NewWrite(startTS uint64, kind WriteKind, shortValue []byte) *Write {
	return &Write{StartTS: startTS, Kind: kind, ShortValue: shortValue}
}

// ToBytes serializes: 1-byte kind, 8-byte start_ts, 4-byte short-value
// length, short value bytes.
func (w *Write) ToBytes() []byte {
	buf := make([]byte, 0, 13+len(w.ShortValue))
	buf = append(buf, byte(w.Kind))
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, w.StartTS)
	buf = append(buf, ts...)
	vlen := make([]byte, 4)
	binary.BigEndian.PutUint32(vlen, uint32(len(w.ShortValue)))
	buf = append(buf, vlen...)
	buf = append(buf, w.ShortValue...)
	return buf
}

// ParseWrite decodes a write record produced by ToBytes.
func ParseWrite(input []byte) (*Write, error) {
	if len(input) < 13 {
		return nil, errors.Errorf("invalid write encoding, len %d", len(input))
	}
	kind := WriteKind(input[0])
	startTS := binary.BigEndian.Uint64(input[1:9])
	vlen := binary.BigEndian.Uint32(input[9:13])
	var shortValue []byte
	if vlen > 0 && uint32(len(input)-13) >= vlen {
		shortValue = input[13 : 13+vlen]
	}
	return &Write{StartTS: startTS, Kind: kind, ShortValue: shortValue}, nil
}

func (w *Write) IsRollback() bool { return w.Kind == WriteKindRollback }
