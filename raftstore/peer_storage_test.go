package raftstore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/raft/raftpb"
)

func TestLimitSizeKeepsAtLeastOneEntry(t *testing.T) {
	entries := []raftpb.Entry{
		{Index: 1, Term: 1, Data: make([]byte, 100)},
		{Index: 2, Term: 1, Data: make([]byte, 100)},
	}
	limited := limitSize(entries, 1)
	require.Len(t, limited, 1)
	require.Equal(t, uint64(1), limited[0].Index)
}

func TestLimitSizeReturnsAllWhenUnderBudget(t *testing.T) {
	entries := []raftpb.Entry{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 1, Data: []byte("b")},
	}
	limited := limitSize(entries, 1<<20)
	require.Len(t, limited, 2)
}

func TestLimitSizeSingleEntryNeverTruncated(t *testing.T) {
	entries := []raftpb.Entry{{Index: 1, Term: 1, Data: make([]byte, 10000)}}
	limited := limitSize(entries, 1)
	require.Len(t, limited, 1)
}

func TestLimitSizeTruncatesAfterBudgetExceeded(t *testing.T) {
	entries := []raftpb.Entry{
		{Index: 1, Term: 1, Data: make([]byte, 10)},
		{Index: 2, Term: 1, Data: make([]byte, 10)},
		{Index: 3, Term: 1, Data: make([]byte, 10)},
	}
	// Enough budget for the first two entries but not the third: limitSize
	// drops the entry that pushes the total over budget (only a first entry
	// is kept regardless), so the cut lands right after entry 2.
	budget := uint64(entries[0].Size()) + uint64(entries[1].Size()) + 1
	limited := limitSize(entries, budget)
	require.Len(t, limited, 2)
	require.Equal(t, uint64(2), limited[1].Index)
}

func TestMaxHelper(t *testing.T) {
	require.Equal(t, uint64(5), max(5, 3))
	require.Equal(t, uint64(5), max(3, 5))
	require.Equal(t, uint64(5), max(5, 5))
}
