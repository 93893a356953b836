package mvcc

import (
	"encoding/binary"

	"github.com/pingcap/errors"
)

// ShortValueThreshold is the largest value, in bytes, that is inlined into
// its Lock/Write record; a longer value spills into the default CF under a
// (key, start_ts) entry.
const ShortValueThreshold = 64

type WriteKind byte

const (
	WriteKindPut WriteKind = iota
	WriteKindDelete
	WriteKindRollback
	WriteKindLock
)

func (k WriteKind) toLockKind() WriteKind {
	if k == WriteKindRollback {
		return WriteKindPut
	}
	return k
}

// Lock is a pending transaction's claim on a key, stored in the lock CF
// keyed by the bare user key (a key can have at most one live lock).
type Lock struct {
	Primary    []byte
	Ts         uint64
	Ttl        uint64
	Kind       WriteKind
	ShortValue []byte
}

// NewLock builds a lock record for the given mutation kind.
func NewLock(primary []byte, ts, ttl uint64, kind WriteKind, shortValue []byte) *Lock {
	return &Lock{Primary: primary, Ts: ts, Ttl: ttl, Kind: kind, ShortValue: shortValue}
}

// ToBytes serializes the lock: 8-byte ts, 8-byte ttl, 1-byte kind, 4-byte
// primary length, primary bytes, 4-byte short-value length, short value.
func (l *Lock) ToBytes() []byte {
	buf := make([]byte, 0, 25+len(l.Primary)+len(l.ShortValue))
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, l.Ts)
	ttl := make([]byte, 8)
	binary.BigEndian.PutUint64(ttl, l.Ttl)
	buf = append(buf, ts...)
	buf = append(buf, ttl...)
	buf = append(buf, byte(l.Kind))
	plen := make([]byte, 4)
	binary.BigEndian.PutUint32(plen, uint32(len(l.Primary)))
	buf = append(buf, plen...)
	buf = append(buf, l.Primary...)
	vlen := make([]byte, 4)
	binary.BigEndian.PutUint32(vlen, uint32(len(l.ShortValue)))
	buf = append(buf, vlen...)
	buf = append(buf, l.ShortValue...)
	return buf
}

// ParseLock decodes a lock record produced by ToBytes.
func ParseLock(input []byte) (*Lock, error) {
	if len(input) < 21 {
		return nil, errors.Errorf("invalid lock encoding, len %d", len(input))
	}
	ts := binary.BigEndian.Uint64(input[:8])
	ttl := binary.BigEndian.Uint64(input[8:16])
	kind := WriteKind(input[16])
	plen := binary.BigEndian.Uint32(input[17:21])
	off := 21
	if uint32(len(input)-off) < plen {
		return nil, errors.Errorf("invalid lock encoding, primary length mismatch")
	}
	primary := input[off : off+int(plen)]
	off += int(plen)
	var shortValue []byte
	if len(input) >= off+4 {
		vlen := binary.BigEndian.Uint32(input[off : off+4])
		off += 4
		if uint32(len(input)-off) >= vlen && vlen > 0 {
			shortValue = input[off : off+int(vlen)]
		}
	}
	return &Lock{Primary: primary, Ts: ts, Ttl: ttl, Kind: kind, ShortValue: shortValue}, nil
}
