// Package pd specifies the placement-driver client surface spec.md §6
// names as an external collaborator, plus a deterministic in-memory mock
// used by tests and single-node bring-up. A real client would speak gRPC
// to a PD cluster; that transport is explicitly out of scope (spec.md §1).
package pd

import (
	"sync"

	"github.com/pingcap/errors"

	"github.com/tinykv-io/tinykv/proto/pkg/metapb"
	"github.com/tinykv-io/tinykv/proto/pkg/pdpb"
)

// RegionHeartbeatResponseHandler receives reconfiguration orders PD pushes
// back over the (conceptually streaming) region-heartbeat response.
type RegionHeartbeatResponseHandler interface {
	HandleHeartbeatResponse(resp *pdpb.RegionHeartbeatResponse)
}

// Client is the §6 PdClient interface: allocate ids, register stores,
// learn region placement, and report heartbeats.
type Client interface {
	GetClusterID() uint64
	AllocID() (uint64, error)
	Bootstrap(store *metapb.Store, region *metapb.Region) error
	IsBootstrapped() (bool, error)
	PutStore(store *metapb.Store) error
	GetStore(storeID uint64) (*metapb.Store, error)
	GetRegion(key []byte) (*metapb.Region, *metapb.Peer, error)
	GetRegionByID(regionID uint64) (*metapb.Region, *metapb.Peer, error)
	RegionHeartbeat(req *pdpb.RegionHeartbeatRequest) error
	StoreHeartbeat(req *pdpb.StoreHeartbeatRequest) error
	AskSplit(region *metapb.Region) (*pdpb.AskSplitResponse, error)
	ReportSplit(left, right *metapb.Region) error
	SetRegionHeartbeatResponseHandler(storeID uint64, h RegionHeartbeatResponseHandler)
}

// MockClient is a single-process, in-memory stand-in for a PD cluster. It
// is intentionally trivial: one goroutine can't race itself, so most of
// the methods are guarded by a single mutex rather than PD's real sharded
// design.
type MockClient struct {
	mu sync.Mutex

	clusterID   uint64
	nextID      uint64
	bootstrapped bool

	stores  map[uint64]*metapb.Store
	regions map[uint64]*metapb.Region

	handlers map[uint64]RegionHeartbeatResponseHandler
}

func NewMockClient(clusterID uint64) *MockClient {
	return &MockClient{
		clusterID: clusterID,
		nextID:    1000,
		stores:    make(map[uint64]*metapb.Store),
		regions:   make(map[uint64]*metapb.Region),
		handlers:  make(map[uint64]RegionHeartbeatResponseHandler),
	}
}

func (c *MockClient) GetClusterID() uint64 { return c.clusterID }

func (c *MockClient) AllocID() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID, nil
}

func (c *MockClient) Bootstrap(store *metapb.Store, region *metapb.Region) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bootstrapped {
		return errors.New("cluster already bootstrapped")
	}
	c.stores[store.Id] = store
	c.regions[region.Id] = region
	c.bootstrapped = true
	return nil
}

func (c *MockClient) IsBootstrapped() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootstrapped, nil
}

func (c *MockClient) PutStore(store *metapb.Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores[store.Id] = store
	return nil
}

func (c *MockClient) GetStore(storeID uint64) (*metapb.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stores[storeID]
	if !ok {
		return nil, errors.Errorf("store %d not found", storeID)
	}
	return s, nil
}

func (c *MockClient) GetRegion(key []byte) (*metapb.Region, *metapb.Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.regions {
		if regionContains(r, key) {
			return r, r.Peers[0], nil
		}
	}
	return nil, nil, errors.New("region not found")
}

func regionContains(r *metapb.Region, key []byte) bool {
	geStart := bytesCompare(key, r.StartKey) >= 0
	ltEnd := len(r.EndKey) == 0 || bytesCompare(key, r.EndKey) < 0
	return geStart && ltEnd
}

func bytesCompare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func (c *MockClient) GetRegionByID(regionID uint64) (*metapb.Region, *metapb.Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.regions[regionID]
	if !ok {
		return nil, nil, errors.Errorf("region %d not found", regionID)
	}
	var leader *metapb.Peer
	if len(r.Peers) > 0 {
		leader = r.Peers[0]
	}
	return r, leader, nil
}

// RegionHeartbeat records the reporting region's latest descriptor. A real
// PD would run balancing logic here and stream back orders; the mock
// simply accepts the report.
func (c *MockClient) RegionHeartbeat(req *pdpb.RegionHeartbeatRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regions[req.Region.Id] = req.Region
	return nil
}

func (c *MockClient) StoreHeartbeat(req *pdpb.StoreHeartbeatRequest) error {
	return nil
}

// AskSplit allocates a fresh region id and one peer id per existing peer,
// mirroring the teacher's onAskBatchSplit response shape for a single
// split point.
func (c *MockClient) AskSplit(region *metapb.Region) (*pdpb.AskSplitResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	newRegionID := c.nextID
	peerIDs := make([]uint64, len(region.Peers))
	for i := range region.Peers {
		c.nextID++
		peerIDs[i] = c.nextID
	}
	return &pdpb.AskSplitResponse{NewRegionId: newRegionID, NewPeerIds: peerIDs}, nil
}

func (c *MockClient) ReportSplit(left, right *metapb.Region) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regions[left.Id] = left
	c.regions[right.Id] = right
	return nil
}

func (c *MockClient) SetRegionHeartbeatResponseHandler(storeID uint64, h RegionHeartbeatResponseHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[storeID] = h
}
