package mvcc

import (
	"encoding/binary"

	"github.com/tinykv-io/tinykv/codec"
)

// TsMax is used as a read timestamp that sees every committed version,
// e.g. when a prewrite needs to check for any conflicting write at all.
const TsMax uint64 = ^uint64(0)

// EncodeKey lays out a user key followed by an inverted timestamp so that,
// within one key's byte range, newer versions sort before older ones —
// exactly what SeekWrite's reverse scan needs.
func EncodeKey(key []byte, ts uint64) []byte {
	encodedKey := codec.EncodeBytes(key)
	newKey := append(encodedKey, make([]byte, 8)...)
	binary.BigEndian.PutUint64(newKey[len(encodedKey):], ^ts)
	return newKey
}

// DecodeUserKey strips the timestamp suffix off an encoded key.
func DecodeUserKey(key []byte) []byte {
	_, userKey, err := codec.DecodeBytes(key)
	if err != nil {
		panic(err)
	}
	return userKey
}

// DecodeTimestamp extracts the timestamp an encoded key was written at.
func DecodeTimestamp(key []byte) uint64 {
	left, _, err := codec.DecodeBytes(key)
	if err != nil {
		panic(err)
	}
	return ^binary.BigEndian.Uint64(left)
}
