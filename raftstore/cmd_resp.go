package raftstore

import (
	"github.com/tinykv-io/tinykv/mvcc"
	"github.com/tinykv-io/tinykv/proto/pkg/errorpb"
	"github.com/tinykv-io/tinykv/proto/pkg/kvrpcpb"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_cmdpb"
	"github.com/tinykv-io/tinykv/raftstore/util"
)

// ConvertToKeyError maps an MVCC fault into the per-key error envelope a
// transactional response carries back to the client, distinct from a
// region-routing error.
func ConvertToKeyError(err error) *kvrpcpb.KeyError {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *mvcc.ErrKeyIsLocked:
		return &kvrpcpb.KeyError{Locked: &kvrpcpb.LockInfo{
			Key: e.Key, PrimaryLock: e.Primary, LockVersion: e.StartTS, LockTtl: e.Ttl,
		}}
	case *mvcc.ErrWriteConflict:
		return &kvrpcpb.KeyError{Conflict: &kvrpcpb.WriteConflict{
			StartTs: e.StartTS, ConflictTs: e.ConflictTS, Key: e.Key, Primary: e.Primary,
		}}
	case *mvcc.ErrAlreadyCommitted:
		return &kvrpcpb.KeyError{Retryable: e.Error()}
	case *mvcc.ErrTxnLockNotFound:
		return &kvrpcpb.KeyError{Retryable: e.Error()}
	default:
		return &kvrpcpb.KeyError{Abort: err.Error()}
	}
}

// ExtractRegionError recognizes the region-routing error family; returns
// nil for anything else (an MVCC fault, which belongs in a per-key error
// instead).
func ExtractRegionError(err error) *errorpb.Error {
	switch err.(type) {
	case *util.ErrNotLeader, *util.ErrRegionNotFound, *util.ErrKeyNotInRegion,
		*util.ErrEpochNotMatch, *util.ErrStaleCommand, *util.ErrServerIsBusy,
		*util.ErrRaftEntryTooLarge:
		return util.ErrToRegionError(err, 0)
	default:
		return nil
	}
}

// BindRespError attaches err to resp's header as either a region error or,
// failing that, a bare message, matching the teacher's
// convertToPBError/errResp split between routing and semantic faults.
func BindRespError(resp *raft_cmdpb.RaftCmdResponse, err error) {
	if resp.Header == nil {
		resp.Header = &raft_cmdpb.RaftResponseHeader{}
	}
	if regionErr := ExtractRegionError(err); regionErr != nil {
		resp.Header.Error = regionErr
		return
	}
	resp.Header.Error = &errorpb.Error{Message: err.Error()}
}

// ErrResp builds a RaftCmdResponse carrying nothing but err, the common
// case for a proposal rejected before it ever reaches Raft.
func ErrResp(err error) *raft_cmdpb.RaftCmdResponse {
	resp := &raft_cmdpb.RaftCmdResponse{Header: &raft_cmdpb.RaftResponseHeader{}}
	BindRespError(resp, err)
	return resp
}

// ErrRespStaleCommand builds the response for a proposal that was
// superseded before its term could apply.
func ErrRespStaleCommand(term uint64) *raft_cmdpb.RaftCmdResponse {
	resp := ErrResp(&util.ErrStaleCommand{})
	resp.Header.CurrentTerm = term
	return resp
}

// ErrRespRegionNotFound builds the response for a command whose region no
// longer has a live peer on this store.
func ErrRespRegionNotFound(regionId uint64) *raft_cmdpb.RaftCmdResponse {
	return ErrResp(&util.ErrRegionNotFound{RegionId: regionId})
}

// BindRespTerm stamps resp's header with the term the command was
// resolved at, used so a client retry can tell a stale response from a
// fresh rejection.
func BindRespTerm(resp *raft_cmdpb.RaftCmdResponse, term uint64) {
	if resp.Header == nil {
		resp.Header = &raft_cmdpb.RaftResponseHeader{}
	}
	resp.Header.CurrentTerm = term
}
