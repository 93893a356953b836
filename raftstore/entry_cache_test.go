package raftstore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/raft/raftpb"
)

func entries(indexes ...uint64) []raftpb.Entry {
	out := make([]raftpb.Entry, len(indexes))
	for i, idx := range indexes {
		out[i] = raftpb.Entry{Index: idx, Term: 1}
	}
	return out
}

func TestEntryCacheAppendAndFetch(t *testing.T) {
	c := newEntryCache()
	c.append(entries(1, 2, 3))

	first, ok := c.firstIndex()
	require.True(t, ok)
	require.Equal(t, uint64(1), first)

	last, ok := c.lastIndex()
	require.True(t, ok)
	require.Equal(t, uint64(3), last)

	fetched := c.fetch(1, 3)
	require.Len(t, fetched, 2)
	require.Equal(t, uint64(1), fetched[0].Index)
	require.Equal(t, uint64(2), fetched[1].Index)
}

func TestEntryCacheAppendTruncatesOverlappingTail(t *testing.T) {
	c := newEntryCache()
	c.append(entries(1, 2, 3, 4))

	rewritten := []raftpb.Entry{{Index: 3, Term: 2}, {Index: 4, Term: 2}}
	c.append(rewritten)

	last, ok := c.lastIndex()
	require.True(t, ok)
	require.Equal(t, uint64(4), last)
	fetched := c.fetch(3, 5)
	require.Equal(t, uint64(2), fetched[0].Term)
}

func TestEntryCacheAppendEvictsPastCapacity(t *testing.T) {
	c := newEntryCache()
	indexes := make([]uint64, entryCacheCapacity+10)
	for i := range indexes {
		indexes[i] = uint64(i + 1)
	}
	c.append(entries(indexes...))

	require.Len(t, c.entries, entryCacheCapacity)
	first, ok := c.firstIndex()
	require.True(t, ok)
	require.Equal(t, uint64(11), first)
}

func TestEntryCacheCompactToDropsOldEntries(t *testing.T) {
	c := newEntryCache()
	c.append(entries(1, 2, 3, 4, 5))

	c.compactTo(3)
	first, ok := c.firstIndex()
	require.True(t, ok)
	require.Equal(t, uint64(3), first)
}

func TestEntryCacheCompactToClearsWhenPastLast(t *testing.T) {
	c := newEntryCache()
	c.append(entries(1, 2, 3))

	c.compactTo(10)
	_, ok := c.firstIndex()
	require.False(t, ok)
}

func TestEntryCacheCompactToNoOpBelowFirst(t *testing.T) {
	c := newEntryCache()
	c.append(entries(5, 6, 7))

	c.compactTo(1)
	first, ok := c.firstIndex()
	require.True(t, ok)
	require.Equal(t, uint64(5), first)
}

func TestEntryCacheClear(t *testing.T) {
	c := newEntryCache()
	c.append(entries(1, 2, 3))
	c.clear()

	_, ok := c.firstIndex()
	require.False(t, ok)
}

func TestEntryCacheFetchBeyondCacheIsTruncated(t *testing.T) {
	c := newEntryCache()
	c.append(entries(1, 2, 3))

	fetched := c.fetch(2, 100)
	require.Len(t, fetched, 2)
}
