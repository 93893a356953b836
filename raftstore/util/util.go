package util

import (
	"bytes"
	"fmt"

	"github.com/pingcap/errors"
	"go.etcd.io/etcd/raft/raftpb"

	"github.com/tinykv-io/tinykv/proto/pkg/errorpb"
	"github.com/tinykv-io/tinykv/proto/pkg/metapb"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_cmdpb"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_serverpb"
)

// InvalidID marks a peer or store ID that hasn't been assigned yet.
const InvalidID uint64 = 0

// ErrNotLeader is returned by a peer that can't serve a request because it
// isn't the region's Raft leader. Leader, when known, lets the client
// retry against the right peer without another round trip to PD.
type ErrNotLeader struct {
	RegionId uint64
	Leader   *metapb.Peer
}

func (e *ErrNotLeader) Error() string {
	return fmt.Sprintf("region %d is not leader", e.RegionId)
}

// ErrRegionNotFound is returned when a request names a region this store
// has no peer for.
type ErrRegionNotFound struct {
	RegionId uint64
}

func (e *ErrRegionNotFound) Error() string {
	return fmt.Sprintf("region %d not found", e.RegionId)
}

// ErrKeyNotInRegion is returned when a request's key falls outside the
// targeted region's [start_key, end_key).
type ErrKeyNotInRegion struct {
	Key    []byte
	Region *metapb.Region
}

func (e *ErrKeyNotInRegion) Error() string {
	return fmt.Sprintf("key %q not in region %d, [%q, %q)", e.Key, e.Region.Id, e.Region.StartKey, e.Region.EndKey)
}

// ErrEpochNotMatch is returned when a request's region epoch is stale
// relative to the epoch the peer actually holds, most often because the
// region has since split or had a membership change.
type ErrEpochNotMatch struct {
	Message string
	Regions []*metapb.Region
}

func (e *ErrEpochNotMatch) Error() string { return e.Message }

// ErrStaleCommand is returned when a proposed command's term no longer
// matches the peer's current term: the peer stepped down or lost the
// election before the command could apply, and the caller should retry.
type ErrStaleCommand struct{}

func (e *ErrStaleCommand) Error() string { return "stale command" }

// ErrServerIsBusy is returned when a store/peer rejects a request under
// load shedding (proposal queue full, snapshot in flight).
type ErrServerIsBusy struct {
	Reason string
}

func (e *ErrServerIsBusy) Error() string { return fmt.Sprintf("server is busy: %s", e.Reason) }

// ErrRaftEntryTooLarge is returned when a proposed command would produce a
// Raft entry larger than the configured max.
type ErrRaftEntryTooLarge struct {
	RegionId  uint64
	EntrySize uint64
}

func (e *ErrRaftEntryTooLarge) Error() string {
	return fmt.Sprintf("raft entry too large, region %d, size %d", e.RegionId, e.EntrySize)
}

// CheckKeyInRegion verifies key falls in region's [start_key, end_key).
func CheckKeyInRegion(key []byte, region *metapb.Region) error {
	if bytes.Compare(key, region.StartKey) >= 0 && (len(region.EndKey) == 0 || bytes.Compare(key, region.EndKey) < 0) {
		return nil
	}
	return &ErrKeyNotInRegion{Key: key, Region: region}
}

// CheckRegionEpoch validates a request's epoch against the peer's current
// epoch. includeRegion additionally rejects a request whose checked epoch
// fields are newer than the region's, so those fields must match exactly.
func CheckRegionEpoch(req *raft_cmdpb.RaftCmdRequest, region *metapb.Region, includeRegion bool) error {
	checkVer, checkConfVer := false, false
	if req.AdminRequest == nil {
		checkVer = true
	} else {
		switch req.AdminRequest.CmdType {
		case raft_cmdpb.AdminCmdType_CompactLog:
		case raft_cmdpb.AdminCmdType_TransferLeader:
		case raft_cmdpb.AdminCmdType_ComputeHash:
		case raft_cmdpb.AdminCmdType_VerifyHash:
		case raft_cmdpb.AdminCmdType_Split, raft_cmdpb.AdminCmdType_BatchSplit:
			checkVer = true
		case raft_cmdpb.AdminCmdType_ChangePeer:
			checkConfVer = true
		default:
			checkVer = true
			checkConfVer = true
		}
	}
	if !checkVer && !checkConfVer {
		return nil
	}
	if req.Header == nil || req.Header.RegionEpoch == nil {
		return &ErrEpochNotMatch{Message: "missing region epoch in request", Regions: []*metapb.Region{region}}
	}
	fromEpoch := req.Header.RegionEpoch
	currentEpoch := region.RegionEpoch

	staleVer := checkVer && fromEpoch.Version < currentEpoch.Version
	staleConf := checkConfVer && fromEpoch.ConfVer < currentEpoch.ConfVer
	if staleVer || staleConf {
		return &ErrEpochNotMatch{
			Message: fmt.Sprintf("epoch not match, required %v, current %v", fromEpoch, currentEpoch),
			Regions: []*metapb.Region{region},
		}
	}
	if includeRegion {
		newerVer := checkVer && fromEpoch.Version > currentEpoch.Version
		newerConf := checkConfVer && fromEpoch.ConfVer > currentEpoch.ConfVer
		if newerVer || newerConf {
			return &ErrEpochNotMatch{
				Message: fmt.Sprintf("epoch not match, required %v, current %v", fromEpoch, currentEpoch),
				Regions: []*metapb.Region{region},
			}
		}
	}
	return nil
}

// FindPeer returns the peer of region hosted on storeID, or nil.
func FindPeer(region *metapb.Region, storeID uint64) *metapb.Peer {
	for _, p := range region.Peers {
		if p.StoreId == storeID {
			return p
		}
	}
	return nil
}

// RemovePeer removes and returns the peer of region hosted on storeID, or
// nil if no such peer exists.
func RemovePeer(region *metapb.Region, storeID uint64) *metapb.Peer {
	for i, p := range region.Peers {
		if p.StoreId == storeID {
			region.Peers = append(region.Peers[:i], region.Peers[i+1:]...)
			return p
		}
	}
	return nil
}

// PeerEqual reports whether two peers name the same (id, store_id) pair.
func PeerEqual(a, b *metapb.Peer) bool {
	return a.Id == b.Id && a.StoreId == b.StoreId
}

// CloneMsg round-trips src through Marshal/Unmarshal into dst, the
// cheapest deep copy available for our JSON-backed proto stand-ins.
func CloneMsg(src, dst interface {
	Marshal() ([]byte, error)
}) error {
	data, err := src.Marshal()
	if err != nil {
		return errors.WithStack(err)
	}
	if u, ok := dst.(interface{ Unmarshal([]byte) error }); ok {
		return errors.WithStack(u.Unmarshal(data))
	}
	return errors.New("clone target does not implement Unmarshal")
}

// IsInitialMsg reports whether a raft message is the first message of a
// new peer (a vote or pre-vote request, or a heartbeat with commit 0),
// which a store may need to lazily create a peer to receive.
func IsInitialMsg(msg *raft_serverpb.RaftMessage) bool {
	m := msg.Message
	if m == nil {
		return false
	}
	return m.Type == raftpb.MsgRequestVote || m.Type == raftpb.MsgRequestPreVote ||
		(m.Type == raftpb.MsgHeartbeat && m.Commit == 0)
}

// ErrToRegionError converts an internal error into the errorpb.Error
// envelope sent back to the client, filling in the region-specific
// variants this package knows how to produce and falling back to a
// generic message for anything else.
func ErrToRegionError(err error, regionId uint64) *errorpb.Error {
	switch e := err.(type) {
	case *ErrNotLeader:
		pbErr := &errorpb.Error{Message: e.Error(), NotLeader: &errorpb.NotLeader{RegionId: e.RegionId}}
		if e.Leader != nil {
			pbErr.NotLeader.Leader = e.Leader
		}
		return pbErr
	case *ErrRegionNotFound:
		return &errorpb.Error{Message: e.Error(), RegionNotFound: &errorpb.RegionNotFound{RegionId: e.RegionId}}
	case *ErrKeyNotInRegion:
		return &errorpb.Error{Message: e.Error(), KeyNotInRegion: &errorpb.KeyNotInRegion{
			Key: e.Key, RegionId: e.Region.Id, StartKey: e.Region.StartKey, EndKey: e.Region.EndKey,
		}}
	case *ErrEpochNotMatch:
		return &errorpb.Error{Message: e.Error(), StaleEpoch: &errorpb.StaleEpoch{NewRegions: e.Regions}}
	case *ErrStaleCommand:
		return &errorpb.Error{Message: e.Error(), StaleCommand: &errorpb.StaleCommand{}}
	case *ErrServerIsBusy:
		return &errorpb.Error{Message: e.Error(), ServerIsBusy: &errorpb.ServerIsBusy{Reason: e.Reason}}
	case *ErrRaftEntryTooLarge:
		return &errorpb.Error{Message: e.Error(), RaftEntryTooLarge: &errorpb.RaftEntryTooLarge{
			RegionId: e.RegionId, EntrySize: e.EntrySize,
		}}
	default:
		return &errorpb.Error{Message: err.Error()}
	}
}
