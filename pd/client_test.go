package pd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinykv-io/tinykv/proto/pkg/metapb"
	"github.com/tinykv-io/tinykv/proto/pkg/pdpb"
)

func bootstrapped(t *testing.T) (*MockClient, *metapb.Region) {
	c := NewMockClient(1)
	store := &metapb.Store{Id: 1, Address: "127.0.0.1:20160"}
	region := &metapb.Region{
		Id:       2,
		StartKey: []byte{},
		EndKey:   []byte{},
		Peers:    []*metapb.Peer{{Id: 3, StoreId: 1}},
	}
	require.NoError(t, c.Bootstrap(store, region))
	return c, region
}

func TestMockClientBootstrapOnlyOnce(t *testing.T) {
	c, region := bootstrapped(t)
	ok, err := c.IsBootstrapped()
	require.NoError(t, err)
	require.True(t, ok)

	err = c.Bootstrap(&metapb.Store{Id: 1}, region)
	require.Error(t, err)
}

func TestMockClientAllocIDMonotonic(t *testing.T) {
	c := NewMockClient(1)
	first, err := c.AllocID()
	require.NoError(t, err)
	second, err := c.AllocID()
	require.NoError(t, err)
	require.Greater(t, second, first)
}

func TestMockClientGetRegionByKey(t *testing.T) {
	c, region := bootstrapped(t)

	got, leader, err := c.GetRegion([]byte("any-key"))
	require.NoError(t, err)
	require.Equal(t, region.Id, got.Id)
	require.Equal(t, region.Peers[0].Id, leader.Id)
}

func TestMockClientGetRegionByIDUnknown(t *testing.T) {
	c := NewMockClient(1)
	_, _, err := c.GetRegionByID(999)
	require.Error(t, err)
}

func TestMockClientAskSplitAllocatesFreshIDs(t *testing.T) {
	c, region := bootstrapped(t)

	resp, err := c.AskSplit(region)
	require.NoError(t, err)
	require.NotZero(t, resp.NewRegionId)
	require.Len(t, resp.NewPeerIds, len(region.Peers))

	resp2, err := c.AskSplit(region)
	require.NoError(t, err)
	require.NotEqual(t, resp.NewRegionId, resp2.NewRegionId)
}

func TestMockClientReportSplitRegistersBothHalves(t *testing.T) {
	c, region := bootstrapped(t)
	left := &metapb.Region{Id: region.Id, StartKey: []byte{}, EndKey: []byte("m")}
	right := &metapb.Region{Id: 42, StartKey: []byte("m"), EndKey: []byte{}}

	require.NoError(t, c.ReportSplit(left, right))

	got, _, err := c.GetRegionByID(right.Id)
	require.NoError(t, err)
	require.Equal(t, right.StartKey, got.StartKey)
}

func TestMockClientStoreHeartbeatAccepted(t *testing.T) {
	c := NewMockClient(1)
	require.NoError(t, c.StoreHeartbeat(&pdpb.StoreHeartbeatRequest{Stats: &pdpb.StoreStats{StoreId: 1}}))
}

type recordingHandler struct {
	last *pdpb.RegionHeartbeatResponse
}

func (h *recordingHandler) HandleHeartbeatResponse(resp *pdpb.RegionHeartbeatResponse) {
	h.last = resp
}

func TestMockClientSetRegionHeartbeatResponseHandler(t *testing.T) {
	c := NewMockClient(1)
	h := &recordingHandler{}
	c.SetRegionHeartbeatResponseHandler(1, h)
	require.Equal(t, h, c.handlers[1])
}
