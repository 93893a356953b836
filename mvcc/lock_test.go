package mvcc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockToBytesParseRoundTrip(t *testing.T) {
	lock := NewLock([]byte("primary-key"), 7, 3000, WriteKindPut, nil)
	parsed, err := ParseLock(lock.ToBytes())
	require.NoError(t, err)
	require.Equal(t, lock.Primary, parsed.Primary)
	require.Equal(t, lock.Ts, parsed.Ts)
	require.Equal(t, lock.Ttl, parsed.Ttl)
	require.Equal(t, lock.Kind, parsed.Kind)
	require.Equal(t, lock.ShortValue, parsed.ShortValue)
}

func TestLockToBytesParseRoundTripWithShortValue(t *testing.T) {
	lock := NewLock([]byte("primary-key"), 7, 3000, WriteKindPut, []byte("small value"))
	parsed, err := ParseLock(lock.ToBytes())
	require.NoError(t, err)
	require.Equal(t, lock.ShortValue, parsed.ShortValue)
}

func TestLockDeleteKindHasNoShortValue(t *testing.T) {
	lock := NewLock([]byte("p"), 1, 100, WriteKindDelete, nil)
	parsed, err := ParseLock(lock.ToBytes())
	require.NoError(t, err)
	require.Equal(t, WriteKindDelete, parsed.Kind)
	require.Empty(t, parsed.ShortValue)
}

func TestParseLockRejectsTruncatedInput(t *testing.T) {
	_, err := ParseLock([]byte{1, 2, 3})
	require.Error(t, err)
}
