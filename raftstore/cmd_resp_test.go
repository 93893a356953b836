package raftstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinykv-io/tinykv/mvcc"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_cmdpb"
	"github.com/tinykv-io/tinykv/raftstore/util"
)

func TestConvertToKeyErrorNil(t *testing.T) {
	require.Nil(t, ConvertToKeyError(nil))
}

func TestConvertToKeyErrorMapsLockedAndConflict(t *testing.T) {
	locked := ConvertToKeyError(&mvcc.ErrKeyIsLocked{Key: []byte("k"), Primary: []byte("p"), StartTS: 1, Ttl: 100})
	require.NotNil(t, locked.Locked)
	require.Equal(t, uint64(1), locked.Locked.LockVersion)

	conflict := ConvertToKeyError(&mvcc.ErrWriteConflict{StartTS: 1, ConflictTS: 2, Key: []byte("k"), Primary: []byte("p")})
	require.NotNil(t, conflict.Conflict)
	require.Equal(t, uint64(2), conflict.Conflict.ConflictTs)
}

func TestConvertToKeyErrorMapsRetryableAndAbort(t *testing.T) {
	retryable := ConvertToKeyError(&mvcc.ErrTxnLockNotFound{StartTS: 1, Key: []byte("k")})
	require.NotEmpty(t, retryable.Retryable)

	abort := ConvertToKeyError(errors.New("boom"))
	require.Equal(t, "boom", abort.Abort)
}

func TestExtractRegionErrorRecognizesRoutingErrors(t *testing.T) {
	regionErr := ExtractRegionError(&util.ErrNotLeader{RegionId: 1})
	require.NotNil(t, regionErr)
	require.NotNil(t, regionErr.NotLeader)

	require.Nil(t, ExtractRegionError(&mvcc.ErrKeyIsLocked{}))
}

func TestErrRespCarriesRegionErrorWhenApplicable(t *testing.T) {
	resp := ErrResp(&util.ErrRegionNotFound{RegionId: 7})
	require.NotNil(t, resp.Header.Error.RegionNotFound)
	require.Equal(t, uint64(7), resp.Header.Error.RegionNotFound.RegionId)
}

func TestErrRespFallsBackToPlainMessage(t *testing.T) {
	resp := ErrResp(errors.New("generic failure"))
	require.Nil(t, resp.Header.Error.RegionNotFound)
	require.Equal(t, "generic failure", resp.Header.Error.Message)
}

func TestErrRespStaleCommandStampsTerm(t *testing.T) {
	resp := ErrRespStaleCommand(42)
	require.NotNil(t, resp.Header.Error.StaleCommand)
	require.Equal(t, uint64(42), resp.Header.CurrentTerm)
}

func TestErrRespRegionNotFound(t *testing.T) {
	resp := ErrRespRegionNotFound(9)
	require.Equal(t, uint64(9), resp.Header.Error.RegionNotFound.RegionId)
}

func TestBindRespTermCreatesHeaderIfMissing(t *testing.T) {
	resp := &raft_cmdpb.RaftCmdResponse{}
	BindRespTerm(resp, 5)
	require.NotNil(t, resp.Header)
	require.Equal(t, uint64(5), resp.Header.CurrentTerm)
}
