// Package pdpb describes the placement-driver protocol: the messages the
// raftstore exchanges with PD over region and store heartbeats.
package pdpb

import "github.com/tinykv-io/tinykv/proto/pkg/metapb"

type PeerStats struct {
	Peer        *metapb.Peer `json:"peer"`
	DownSeconds uint64       `json:"down_seconds"`
}

type RegionHeartbeatRequest struct {
	Region          *metapb.Region   `json:"region"`
	Leader          *metapb.Peer     `json:"leader"`
	DownPeers       []*PeerStats     `json:"down_peers,omitempty"`
	PendingPeers    []*metapb.Peer   `json:"pending_peers,omitempty"`
	ApproximateSize uint64           `json:"approximate_size"`
	ApproximateKeys uint64           `json:"approximate_keys"`
}

type ChangePeer struct {
	ChangeType int32        `json:"change_type"`
	Peer       *metapb.Peer `json:"peer"`
}

type TransferLeader struct {
	Peer *metapb.Peer `json:"peer"`
}

// RegionHeartbeatResponse carries the (at most one) reconfiguration order
// PD wants this region's leader to propose next.
type RegionHeartbeatResponse struct {
	RegionId       uint64              `json:"region_id"`
	RegionEpoch    *metapb.RegionEpoch `json:"region_epoch"`
	TargetPeer     *metapb.Peer        `json:"target_peer"`
	ChangePeer     *ChangePeer         `json:"change_peer,omitempty"`
	TransferLeader *TransferLeader     `json:"transfer_leader,omitempty"`
}

func (r *RegionHeartbeatResponse) GetChangePeer() *ChangePeer         { return r.ChangePeer }
func (r *RegionHeartbeatResponse) GetTransferLeader() *TransferLeader { return r.TransferLeader }

type StoreStats struct {
	StoreId   uint64 `json:"store_id"`
	Capacity  uint64 `json:"capacity"`
	UsedSize  uint64 `json:"used_size"`
	Available uint64 `json:"available"`
	IsBusy    bool   `json:"is_busy"`
}

type AskSplitRequest struct {
	Region *metapb.Region `json:"region"`
}

// AskSplitResponse allocates the ids a leader needs to carry out a single
// split point: one id for the newly created region, one per existing peer.
type AskSplitResponse struct {
	NewRegionId uint64   `json:"new_region_id"`
	NewPeerIds  []uint64 `json:"new_peer_ids"`
}

type SplitID struct {
	NewRegionId uint64   `json:"new_region_id"`
	NewPeerIds  []uint64 `json:"new_peer_ids"`
}

type AskBatchSplitResponse struct {
	Ids []*SplitID `json:"ids"`
}

type BootstrapRequest struct {
	Store  *metapb.Store  `json:"store"`
	Region *metapb.Region `json:"region"`
}

// StoreHeartbeatRequest reports store-level stats, used by the
// PdStoreHeartbeat tick (spec.md §4.3).
type StoreHeartbeatRequest struct {
	Stats *StoreStats `json:"stats"`
}
