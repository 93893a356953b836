package mvcc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeKeyDecodeRoundTrip(t *testing.T) {
	key := []byte("row1")
	encoded := EncodeKey(key, 42)
	require.Equal(t, key, DecodeUserKey(encoded))
	require.Equal(t, uint64(42), DecodeTimestamp(encoded))
}

func TestEncodeKeyOrdersNewerTimestampsFirst(t *testing.T) {
	key := []byte("row1")
	older := EncodeKey(key, 10)
	newer := EncodeKey(key, 20)
	// Same user key: the encoded newer-ts version sorts before the older one.
	require.Less(t, bytes.Compare(newer, older), 0)
}

func TestEncodeKeyOrdersByUserKeyFirst(t *testing.T) {
	a := EncodeKey([]byte("a"), TsMax)
	b := EncodeKey([]byte("b"), 0)
	require.Less(t, bytes.Compare(a, b), 0)
}

func TestEncodeKeyTsMaxRoundTrip(t *testing.T) {
	encoded := EncodeKey([]byte("k"), TsMax)
	require.Equal(t, TsMax, DecodeTimestamp(encoded))
}
