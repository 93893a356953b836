package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBytesRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("a"),
		[]byte("hello"),
		[]byte("exactly8"),
		[]byte("nine byte"),
		bytes.Repeat([]byte("x"), 37),
		{0x00, 0x01, 0xFF, 0x00},
	}
	for _, c := range cases {
		encoded := EncodeBytes(c)
		rest, decoded, err := DecodeBytes(encoded)
		require.NoError(t, err)
		require.Empty(t, rest)
		require.Equal(t, c, decoded)
	}
}

func TestEncodeBytesPreservesOrdering(t *testing.T) {
	pairs := [][2][]byte{
		{[]byte("a"), []byte("b")},
		{[]byte("abc"), []byte("abd")},
		{[]byte("short"), []byte("shorter-but-more")},
		{[]byte("exactly8"), []byte("exactly9x")},
	}
	for _, p := range pairs {
		require.Less(t, bytes.Compare(EncodeBytes(p[0]), EncodeBytes(p[1])), 0)
	}
}

func TestDecodeBytesLeavesTrailingData(t *testing.T) {
	encoded := EncodeBytes([]byte("key"))
	suffix := []byte{1, 2, 3, 4}
	rest, decoded, err := DecodeBytes(append(encoded, suffix...))
	require.NoError(t, err)
	require.Equal(t, []byte("key"), decoded)
	require.Equal(t, suffix, rest)
}

func TestDecodeBytesRejectsTruncatedInput(t *testing.T) {
	_, _, err := DecodeBytes([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeBytesRejectsBadPadding(t *testing.T) {
	encoded := EncodeBytes([]byte("ab"))
	// Corrupt a padding byte in the final (short) group.
	encoded[3] = 0x7F
	_, _, err := DecodeBytes(encoded)
	require.Error(t, err)
}
