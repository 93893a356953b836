package raftstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegionHasherIsOrderSensitive(t *testing.T) {
	a := newRegionHasher()
	a.add([]byte("k1"), []byte("v1"))
	a.add([]byte("k2"), []byte("v2"))

	b := newRegionHasher()
	b.add([]byte("k2"), []byte("v2"))
	b.add([]byte("k1"), []byte("v1"))

	require.NotEqual(t, a.sum(), b.sum())
}

func TestRegionHasherIsDeterministic(t *testing.T) {
	a := newRegionHasher()
	a.add([]byte("k1"), []byte("v1"))

	b := newRegionHasher()
	b.add([]byte("k1"), []byte("v1"))

	require.Equal(t, a.sum(), b.sum())
}

func TestRegionHasherEmptyIsZero(t *testing.T) {
	require.Equal(t, uint64(0), newRegionHasher().sum())
}
