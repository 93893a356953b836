package raftstore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/raft/raftpb"

	"github.com/tinykv-io/tinykv/proto/pkg/raft_cmdpb"
)

func marshalEntry(t *testing.T, req *raft_cmdpb.RaftCmdRequest) raftpb.Entry {
	data, err := req.Marshal()
	require.NoError(t, err)
	return raftpb.Entry{Type: raftpb.EntryNormal, Data: data}
}

func TestNeedsFlushBeforeApplyOnDeleteRange(t *testing.T) {
	req := &raft_cmdpb.RaftCmdRequest{
		Requests: []*raft_cmdpb.Request{
			{CmdType: raft_cmdpb.CmdType_Put},
			{CmdType: raft_cmdpb.CmdType_DeleteRange},
		},
	}
	entry := marshalEntry(t, req)
	require.True(t, needsFlushBeforeApply(&entry))
}

func TestNeedsFlushBeforeApplyOnComputeHash(t *testing.T) {
	req := &raft_cmdpb.RaftCmdRequest{
		AdminRequest: &raft_cmdpb.AdminRequest{CmdType: raft_cmdpb.AdminCmdType_ComputeHash},
	}
	entry := marshalEntry(t, req)
	require.True(t, needsFlushBeforeApply(&entry))
}

func TestNeedsFlushBeforeApplyFalseForPlainWrite(t *testing.T) {
	req := &raft_cmdpb.RaftCmdRequest{
		Requests: []*raft_cmdpb.Request{{CmdType: raft_cmdpb.CmdType_Put}},
	}
	entry := marshalEntry(t, req)
	require.False(t, needsFlushBeforeApply(&entry))
}

func TestNeedsFlushBeforeApplyFalseForOtherAdminCmd(t *testing.T) {
	req := &raft_cmdpb.RaftCmdRequest{
		AdminRequest: &raft_cmdpb.AdminRequest{CmdType: raft_cmdpb.AdminCmdType_CompactLog},
	}
	entry := marshalEntry(t, req)
	require.False(t, needsFlushBeforeApply(&entry))
}

func TestNeedsFlushBeforeApplyFalseForConfChangeEntry(t *testing.T) {
	req := &raft_cmdpb.RaftCmdRequest{
		AdminRequest: &raft_cmdpb.AdminRequest{CmdType: raft_cmdpb.AdminCmdType_ComputeHash},
	}
	data, err := req.Marshal()
	require.NoError(t, err)
	entry := raftpb.Entry{Type: raftpb.EntryConfChange, Data: data}
	require.False(t, needsFlushBeforeApply(&entry))
}

func TestNeedsFlushBeforeApplyFalseForEmptyEntry(t *testing.T) {
	entry := raftpb.Entry{Type: raftpb.EntryNormal}
	require.False(t, needsFlushBeforeApply(&entry))
}

func TestIsAdminCmdEntryTrueForAdminRequest(t *testing.T) {
	req := &raft_cmdpb.RaftCmdRequest{
		AdminRequest: &raft_cmdpb.AdminRequest{CmdType: raft_cmdpb.AdminCmdType_CompactLog},
	}
	entry := marshalEntry(t, req)
	require.True(t, isAdminCmdEntry(&entry))
}

func TestIsAdminCmdEntryTrueForConfChange(t *testing.T) {
	entry := raftpb.Entry{Type: raftpb.EntryConfChange, Data: []byte("x")}
	require.True(t, isAdminCmdEntry(&entry))
}

func TestIsAdminCmdEntryFalseForPlainWrite(t *testing.T) {
	req := &raft_cmdpb.RaftCmdRequest{
		Requests: []*raft_cmdpb.Request{{CmdType: raft_cmdpb.CmdType_Put}},
	}
	entry := marshalEntry(t, req)
	require.False(t, isAdminCmdEntry(&entry))
}

func TestIsAdminCmdEntryFalseForEmptyConfChange(t *testing.T) {
	entry := raftpb.Entry{Type: raftpb.EntryConfChange}
	require.False(t, isAdminCmdEntry(&entry))
}
