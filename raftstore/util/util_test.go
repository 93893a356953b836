package util

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/raft/raftpb"

	"github.com/tinykv-io/tinykv/proto/pkg/metapb"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_cmdpb"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_serverpb"
)

func sampleRegion() *metapb.Region {
	return &metapb.Region{
		Id:          1,
		StartKey:    []byte("b"),
		EndKey:      []byte("y"),
		RegionEpoch: &metapb.RegionEpoch{Version: 3, ConfVer: 2},
		Peers: []*metapb.Peer{
			{Id: 10, StoreId: 1},
			{Id: 11, StoreId: 2},
		},
	}
}

func TestCheckKeyInRegion(t *testing.T) {
	region := sampleRegion()
	require.NoError(t, CheckKeyInRegion([]byte("m"), region))
	require.NoError(t, CheckKeyInRegion([]byte("b"), region))
	require.Error(t, CheckKeyInRegion([]byte("a"), region))
	require.Error(t, CheckKeyInRegion([]byte("y"), region))
	require.Error(t, CheckKeyInRegion([]byte("z"), region))
}

func TestCheckKeyInRegionOpenEndKey(t *testing.T) {
	region := sampleRegion()
	region.EndKey = nil
	require.NoError(t, CheckKeyInRegion([]byte("zzzzzz"), region))
}

func TestCheckRegionEpochNormalRequestChecksVersion(t *testing.T) {
	region := sampleRegion()
	req := &raft_cmdpb.RaftCmdRequest{
		Header: &raft_cmdpb.RaftRequestHeader{RegionEpoch: &metapb.RegionEpoch{Version: 2, ConfVer: 2}},
	}
	require.Error(t, CheckRegionEpoch(req, region, false))

	req.Header.RegionEpoch.Version = 3
	require.NoError(t, CheckRegionEpoch(req, region, false))
}

func TestCheckRegionEpochMissingEpoch(t *testing.T) {
	region := sampleRegion()
	req := &raft_cmdpb.RaftCmdRequest{Header: &raft_cmdpb.RaftRequestHeader{}}
	require.Error(t, CheckRegionEpoch(req, region, false))
}

func TestCheckRegionEpochChangePeerChecksConfVer(t *testing.T) {
	region := sampleRegion()
	req := &raft_cmdpb.RaftCmdRequest{
		Header: &raft_cmdpb.RaftRequestHeader{RegionEpoch: &metapb.RegionEpoch{Version: 3, ConfVer: 1}},
		AdminRequest: &raft_cmdpb.AdminRequest{CmdType: raft_cmdpb.AdminCmdType_ChangePeer},
	}
	require.Error(t, CheckRegionEpoch(req, region, false))

	req.Header.RegionEpoch.ConfVer = 2
	require.NoError(t, CheckRegionEpoch(req, region, false))
}

func TestCheckRegionEpochCompactLogSkipsCheck(t *testing.T) {
	region := sampleRegion()
	req := &raft_cmdpb.RaftCmdRequest{
		Header:       &raft_cmdpb.RaftRequestHeader{},
		AdminRequest: &raft_cmdpb.AdminRequest{CmdType: raft_cmdpb.AdminCmdType_CompactLog},
	}
	require.NoError(t, CheckRegionEpoch(req, region, false))
}

func TestCheckRegionEpochIncludeRegionRejectsNewerEpoch(t *testing.T) {
	region := sampleRegion()
	req := &raft_cmdpb.RaftCmdRequest{
		Header: &raft_cmdpb.RaftRequestHeader{RegionEpoch: &metapb.RegionEpoch{Version: 4, ConfVer: 2}},
	}
	require.Error(t, CheckRegionEpoch(req, region, true))
	require.NoError(t, CheckRegionEpoch(req, region, false))
}

func TestFindAndRemovePeer(t *testing.T) {
	region := sampleRegion()
	p := FindPeer(region, 2)
	require.NotNil(t, p)
	require.Equal(t, uint64(11), p.Id)

	require.Nil(t, FindPeer(region, 99))

	removed := RemovePeer(region, 1)
	require.NotNil(t, removed)
	require.Equal(t, uint64(10), removed.Id)
	require.Len(t, region.Peers, 1)
	require.Nil(t, RemovePeer(region, 1))
}

func TestPeerEqual(t *testing.T) {
	a := &metapb.Peer{Id: 1, StoreId: 2}
	b := &metapb.Peer{Id: 1, StoreId: 2}
	c := &metapb.Peer{Id: 1, StoreId: 3}
	require.True(t, PeerEqual(a, b))
	require.False(t, PeerEqual(a, c))
}

func TestIsInitialMsg(t *testing.T) {
	require.True(t, IsInitialMsg(&raft_serverpb.RaftMessage{Message: &raftpb.Message{Type: raftpb.MsgRequestVote}}))
	require.True(t, IsInitialMsg(&raft_serverpb.RaftMessage{Message: &raftpb.Message{Type: raftpb.MsgRequestPreVote}}))
	require.True(t, IsInitialMsg(&raft_serverpb.RaftMessage{Message: &raftpb.Message{Type: raftpb.MsgHeartbeat, Commit: 0}}))
	require.False(t, IsInitialMsg(&raft_serverpb.RaftMessage{Message: &raftpb.Message{Type: raftpb.MsgHeartbeat, Commit: 5}}))
	require.False(t, IsInitialMsg(&raft_serverpb.RaftMessage{Message: &raftpb.Message{Type: raftpb.MsgAppend}}))
	require.False(t, IsInitialMsg(&raft_serverpb.RaftMessage{}))
}

func TestErrToRegionErrorMapsKnownTypes(t *testing.T) {
	region := sampleRegion()

	notLeader := ErrToRegionError(&ErrNotLeader{RegionId: region.Id, Leader: region.Peers[0]}, region.Id)
	require.NotNil(t, notLeader.NotLeader)
	require.Equal(t, region.Id, notLeader.NotLeader.RegionId)

	keyNotIn := ErrToRegionError(&ErrKeyNotInRegion{Key: []byte("z"), Region: region}, region.Id)
	require.NotNil(t, keyNotIn.KeyNotInRegion)

	busy := ErrToRegionError(&ErrServerIsBusy{Reason: "snapshot"}, region.Id)
	require.NotNil(t, busy.ServerIsBusy)
	require.Equal(t, "snapshot", busy.ServerIsBusy.Reason)

	generic := ErrToRegionError(errUnmapped{}, region.Id)
	require.Equal(t, "unmapped", generic.Message)
}

type errUnmapped struct{}

func (errUnmapped) Error() string { return "unmapped" }
