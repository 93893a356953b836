// Package codec implements the memcomparable byte-string encoding MVCC
// keys are built on: encode, then decode, preserves the original ordering
// of arbitrary byte strings, including ones containing embedded NUL bytes.
//
// Based on https://github.com/facebook/mysql-5.6/wiki/MyRocks-record-format#memcomparable-format:
// the input is split into 8-byte groups; each group is followed by a
// marker byte counting how many of the 8 bytes are real data (0xFF for a
// full group, padded with zero bytes otherwise so a short final group still
// sorts before any continuation).
package codec

import "github.com/pingcap/errors"

const (
	encGroupSize = 8
	encMarker    = byte(0xFF)
	encPad       = byte(0x0)
)

var pads = make([]byte, encGroupSize)

// EncodeBytes returns the memcomparable encoding of b in a newly allocated
// slice; b itself is not modified.
func EncodeBytes(b []byte) []byte {
	dLen := len(b)
	reallocSize := (dLen/encGroupSize + 1) * (encGroupSize + 1)
	result := make([]byte, 0, reallocSize)
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			result = append(result, b[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			result = append(result, b[idx:]...)
			result = append(result, pads[:padCount]...)
		}
		marker := encMarker - byte(padCount)
		result = append(result, marker)
	}
	return result
}

// DecodeBytes reverses EncodeBytes, returning the remaining (unconsumed)
// buffer and the decoded value.
func DecodeBytes(b []byte) ([]byte, []byte, error) {
	data := make([]byte, 0, len(b))
	for {
		if len(b) < encGroupSize+1 {
			return nil, nil, errors.New("insufficient bytes to decode value")
		}
		groupBytes := b[:encGroupSize+1]
		group := groupBytes[:encGroupSize]
		marker := groupBytes[encGroupSize]
		padCount := encMarker - marker
		if padCount > encGroupSize {
			return nil, nil, errors.Errorf("invalid marker byte, group bytes %q", groupBytes)
		}
		realGroupSize := encGroupSize - padCount
		data = append(data, group[:realGroupSize]...)
		b = b[encGroupSize+1:]
		if padCount != 0 {
			for _, v := range group[realGroupSize:] {
				if v != encPad {
					return nil, nil, errors.Errorf("invalid padding byte, group bytes %q", groupBytes)
				}
			}
			break
		}
	}
	return b, data, nil
}
