// Package raft_cmdpb is the client-facing command envelope that gets
// encoded into Raft log entries: a header plus either a batch of normal
// read/write requests or a single admin request.
package raft_cmdpb

import (
	"encoding/json"

	"go.etcd.io/etcd/raft/raftpb"

	"github.com/tinykv-io/tinykv/proto/pkg/errorpb"
	"github.com/tinykv-io/tinykv/proto/pkg/metapb"
)

type CmdType int32

const (
	CmdType_Invalid CmdType = iota
	CmdType_Get
	CmdType_Put
	CmdType_Delete
	CmdType_Snap
	CmdType_DeleteRange
)

type GetRequest struct {
	Cf  string `json:"cf,omitempty"`
	Key []byte `json:"key"`
}

type GetResponse struct {
	Value []byte `json:"value,omitempty"`
}

type PutRequest struct {
	Cf    string `json:"cf,omitempty"`
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

type PutResponse struct{}

type DeleteRequest struct {
	Cf  string `json:"cf,omitempty"`
	Key []byte `json:"key"`
}

type DeleteResponse struct{}

// DeleteRangeRequest is the §4.5 supplement: deletes [StartKey, EndKey) in
// one column family, honoring UseDeleteRange to pick the bulk-drop path
// over point-delete iteration.
type DeleteRangeRequest struct {
	Cf             string `json:"cf,omitempty"`
	StartKey       []byte `json:"start_key"`
	EndKey         []byte `json:"end_key"`
	UseDeleteRange bool   `json:"use_delete_range,omitempty"`
}

type DeleteRangeResponse struct{}

type SnapRequest struct{}

type SnapResponse struct {
	Region *metapb.Region `json:"region"`
}

type Request struct {
	CmdType     CmdType              `json:"cmd_type"`
	Get         *GetRequest          `json:"get,omitempty"`
	Put         *PutRequest          `json:"put,omitempty"`
	Delete      *DeleteRequest       `json:"delete,omitempty"`
	DeleteRange *DeleteRangeRequest  `json:"delete_range,omitempty"`
	Snap        *SnapRequest         `json:"snap,omitempty"`
}

func (r *Request) GetCmdType() CmdType    { return r.CmdType }
func (r *Request) GetGet() *GetRequest    { return r.Get }
func (r *Request) GetPut() *PutRequest    { return r.Put }
func (r *Request) GetDelete() *DeleteRequest { return r.Delete }

type Response struct {
	CmdType     CmdType              `json:"cmd_type"`
	Get         *GetResponse         `json:"get,omitempty"`
	Put         *PutResponse         `json:"put,omitempty"`
	Delete      *DeleteResponse      `json:"delete,omitempty"`
	DeleteRange *DeleteRangeResponse `json:"delete_range,omitempty"`
	Snap        *SnapResponse        `json:"snap,omitempty"`
}

type AdminCmdType int32

const (
	AdminCmdType_InvalidAdmin AdminCmdType = iota
	AdminCmdType_ChangePeer
	AdminCmdType_Split
	AdminCmdType_CompactLog
	AdminCmdType_TransferLeader
	AdminCmdType_ComputeHash
	AdminCmdType_VerifyHash
	AdminCmdType_BatchSplit
)

func (t AdminCmdType) String() string {
	switch t {
	case AdminCmdType_ChangePeer:
		return "ChangePeer"
	case AdminCmdType_Split:
		return "Split"
	case AdminCmdType_CompactLog:
		return "CompactLog"
	case AdminCmdType_TransferLeader:
		return "TransferLeader"
	case AdminCmdType_ComputeHash:
		return "ComputeHash"
	case AdminCmdType_VerifyHash:
		return "VerifyHash"
	case AdminCmdType_BatchSplit:
		return "BatchSplit"
	default:
		return "InvalidAdmin"
	}
}

type ChangePeerRequest struct {
	ChangeType raftpb.ConfChangeType `json:"change_type"`
	Peer       *metapb.Peer          `json:"peer"`
}

type ChangePeerResponse struct {
	Region *metapb.Region `json:"region"`
}

type SplitRequest struct {
	SplitKey    []byte   `json:"split_key"`
	NewRegionId uint64   `json:"new_region_id"`
	NewPeerIds  []uint64 `json:"new_peer_ids"`
}

type BatchSplitRequest struct {
	Requests []*SplitRequest `json:"requests"`
}

type SplitResponse struct {
	Regions []*metapb.Region `json:"regions"`
}

type CompactLogRequest struct {
	CompactIndex uint64 `json:"compact_index"`
	CompactTerm  uint64 `json:"compact_term"`
}

type CompactLogResponse struct{}

type TransferLeaderRequest struct {
	Peer *metapb.Peer `json:"peer"`
}

type TransferLeaderResponse struct{}

// ComputeHashRequest asks the consistency-check worker to hash the
// region's CF ranges as of the given index; the resulting digest is
// gossiped back via a follow-up VerifyHash command.
type ComputeHashRequest struct{}

type ComputeHashResponse struct{}

type VerifyHashRequest struct {
	Index uint64 `json:"index"`
	Hash  []byte `json:"hash"`
}

type VerifyHashResponse struct{}

type AdminRequest struct {
	CmdType        AdminCmdType            `json:"cmd_type"`
	ChangePeer     *ChangePeerRequest      `json:"change_peer,omitempty"`
	Split          *SplitRequest           `json:"split,omitempty"`
	Splits         *BatchSplitRequest      `json:"splits,omitempty"`
	CompactLog     *CompactLogRequest      `json:"compact_log,omitempty"`
	TransferLeader *TransferLeaderRequest  `json:"transfer_leader,omitempty"`
	ComputeHash    *ComputeHashRequest     `json:"compute_hash,omitempty"`
	VerifyHash     *VerifyHashRequest      `json:"verify_hash,omitempty"`
}

func (r *AdminRequest) GetCmdType() AdminCmdType { return r.CmdType }

type AdminResponse struct {
	CmdType        AdminCmdType            `json:"cmd_type"`
	ChangePeer     *ChangePeerResponse     `json:"change_peer,omitempty"`
	Split          *SplitResponse          `json:"split,omitempty"`
	CompactLog     *CompactLogResponse     `json:"compact_log,omitempty"`
	TransferLeader *TransferLeaderResponse `json:"transfer_leader,omitempty"`
	ComputeHash    *ComputeHashResponse    `json:"compute_hash,omitempty"`
	VerifyHash     *VerifyHashResponse     `json:"verify_hash,omitempty"`
}

type RaftRequestHeader struct {
	RegionId    uint64               `json:"region_id"`
	Peer        *metapb.Peer         `json:"peer"`
	RegionEpoch *metapb.RegionEpoch  `json:"region_epoch"`
	Term        uint64               `json:"term,omitempty"`
	SyncLog     bool                 `json:"sync_log,omitempty"`
}

func (h *RaftRequestHeader) GetSyncLog() bool { return h.SyncLog }

type RaftResponseHeader struct {
	Error *errorpb.Error `json:"error,omitempty"`
	// CurrentTerm lets the apply pipeline annotate stale-command errors with
	// the term the command was actually resolved at.
	CurrentTerm uint64 `json:"current_term,omitempty"`
}

type RaftCmdRequest struct {
	Header       *RaftRequestHeader `json:"header"`
	Requests     []*Request         `json:"requests,omitempty"`
	AdminRequest *AdminRequest      `json:"admin_request,omitempty"`
}

func (r *RaftCmdRequest) GetRequests() []*Request { return r.Requests }

func (r *RaftCmdRequest) Marshal() ([]byte, error)    { return json.Marshal(r) }
func (r *RaftCmdRequest) Unmarshal(data []byte) error { return json.Unmarshal(data, r) }

type RaftCmdResponse struct {
	Header        *RaftResponseHeader `json:"header,omitempty"`
	Responses     []*Response         `json:"responses,omitempty"`
	AdminResponse *AdminResponse      `json:"admin_response,omitempty"`
}

func (r *RaftCmdResponse) Marshal() ([]byte, error)    { return json.Marshal(r) }
func (r *RaftCmdResponse) Unmarshal(data []byte) error { return json.Unmarshal(data, r) }
