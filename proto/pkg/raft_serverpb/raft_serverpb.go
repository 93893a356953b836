// Package raft_serverpb holds the wire envelope and on-disk state records
// exchanged between stores and persisted by LogStorage.
package raft_serverpb

import (
	"encoding/json"

	"go.etcd.io/etcd/raft/raftpb"

	"github.com/tinykv-io/tinykv/proto/pkg/metapb"
)

type RaftMessage struct {
	RegionId    uint64             `json:"region_id"`
	FromPeer    *metapb.Peer       `json:"from_peer"`
	ToPeer      *metapb.Peer       `json:"to_peer"`
	RegionEpoch *metapb.RegionEpoch `json:"region_epoch"`
	Message     *raftpb.Message    `json:"message,omitempty"`
	StartKey    []byte             `json:"start_key,omitempty"`
	EndKey      []byte             `json:"end_key,omitempty"`
	IsTombstone bool               `json:"is_tombstone,omitempty"`
}

func (m *RaftMessage) Marshal() ([]byte, error)    { return json.Marshal(m) }
func (m *RaftMessage) Unmarshal(data []byte) error { return json.Unmarshal(data, m) }

type RaftLocalState struct {
	HardState raftpb.HardState `json:"hard_state"`
	LastIndex uint64           `json:"last_index"`
}

func (s *RaftLocalState) Marshal() ([]byte, error)    { return json.Marshal(s) }
func (s *RaftLocalState) Unmarshal(data []byte) error { return json.Unmarshal(data, s) }

type RaftTruncatedState struct {
	Index uint64 `json:"index"`
	Term  uint64 `json:"term"`
}

type RaftApplyState struct {
	AppliedIndex   uint64             `json:"applied_index"`
	TruncatedState RaftTruncatedState `json:"truncated_state"`
}

func (s *RaftApplyState) Marshal() ([]byte, error)    { return json.Marshal(s) }
func (s *RaftApplyState) Unmarshal(data []byte) error { return json.Unmarshal(data, s) }

type PeerState int32

const (
	PeerState_Normal PeerState = iota
	PeerState_Applying
	PeerState_Tombstone
)

type RegionLocalState struct {
	State  PeerState      `json:"state"`
	Region *metapb.Region `json:"region"`
}

func (s *RegionLocalState) Marshal() ([]byte, error)    { return json.Marshal(s) }
func (s *RegionLocalState) Unmarshal(data []byte) error { return json.Unmarshal(data, s) }

// RaftSnapshotData is carried inside a raftpb.Snapshot's Data field: the
// region descriptor the snapshot covers. It carries no handle to the
// column-family dumps; the receiver looks them up in snap.Manager by the
// region id, term and index of the snapshot's metadata.
type RaftSnapshotData struct {
	Region *metapb.Region `json:"region"`
	// FileSize is the aggregate size of the snapshot's CF data. PeerStorage
	// leaves it zero and snap.Manager does not read it.
	FileSize uint64 `json:"file_size"`
}

func (d *RaftSnapshotData) Marshal() ([]byte, error)    { return json.Marshal(d) }
func (d *RaftSnapshotData) Unmarshal(data []byte) error { return json.Unmarshal(data, d) }

// SnapKeyMessage frames one chunk of a streamed snapshot transfer: a small
// header identifying (region_id, peer_id, snap_key) ahead of the raw bytes.
type SnapKeyMessage struct {
	RegionId uint64 `json:"region_id"`
	PeerId   uint64 `json:"peer_id"`
	Term     uint64 `json:"term"`
	Index    uint64 `json:"index"`
}
