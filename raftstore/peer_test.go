package raftstore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/raft/raftpb"

	"github.com/tinykv-io/tinykv/proto/pkg/raft_cmdpb"
)

func syncEntry(t *testing.T, sync bool) raftpb.Entry {
	req := &raft_cmdpb.RaftCmdRequest{Header: &raft_cmdpb.RaftRequestHeader{SyncLog: sync}}
	data, err := req.Marshal()
	require.NoError(t, err)
	return raftpb.Entry{Type: raftpb.EntryNormal, Data: data}
}

func TestAnyEntrySyncLogFalseWhenNoneSet(t *testing.T) {
	entries := []raftpb.Entry{syncEntry(t, false), syncEntry(t, false)}
	require.False(t, anyEntrySyncLog(entries))
}

func TestAnyEntrySyncLogTrueWhenOneSet(t *testing.T) {
	entries := []raftpb.Entry{syncEntry(t, false), syncEntry(t, true), syncEntry(t, false)}
	require.True(t, anyEntrySyncLog(entries))
}

func TestAnyEntrySyncLogFalseForEmptySlice(t *testing.T) {
	require.False(t, anyEntrySyncLog(nil))
}

func TestAnyEntrySyncLogSkipsEntriesWithoutHeader(t *testing.T) {
	req := &raft_cmdpb.RaftCmdRequest{Requests: []*raft_cmdpb.Request{{CmdType: raft_cmdpb.CmdType_Put}}}
	data, err := req.Marshal()
	require.NoError(t, err)
	entries := []raftpb.Entry{{Type: raftpb.EntryNormal, Data: data}}
	require.False(t, anyEntrySyncLog(entries))
}
