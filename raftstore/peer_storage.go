package raftstore

import (
	"bytes"
	"fmt"
	"math"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.etcd.io/etcd/raft"
	"go.etcd.io/etcd/raft/raftpb"
	"go.uber.org/atomic"

	"github.com/tinykv-io/tinykv/engine_util"
	"github.com/tinykv-io/tinykv/proto/pkg/metapb"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_serverpb"
	"github.com/tinykv-io/tinykv/raftstore/meta"
	"github.com/tinykv-io/tinykv/raftstore/snap"
)

// raftLogMultiGetCnt is spec.md §4.2's RAFT_LOG_MULTI_GET_CNT: ranges at
// or below this size use point gets; larger ranges use a ranged iterator.
const raftLogMultiGetCnt = 8

// maxSnapTryCnt is spec.md §4.2's MAX_SNAP_TRY_CNT: after this many failed
// polls of an in-flight snapshot generation, Snapshot() gives up with a
// hard error instead of asking the caller to retry again.
const maxSnapTryCnt = 5

// ApplySnapStatus enumerates a snapshot application's lifecycle, exposed
// through an atomic so the region worker (which runs it) and the store
// thread (which polls it via CheckApplyingSnap) never share a lock.
type ApplySnapStatus int32

const (
	JobStatusPending ApplySnapStatus = iota
	JobStatusRunning
	JobStatusCancelling
	JobStatusCancelled
	JobStatusFinished
	JobStatusFailed
)

// snapApplyTask is sent to the region worker to copy a generated
// snapshot's data into the local engine.
type snapApplyTask struct {
	regionID uint64
	key      snap.Key
	status   *atomic.Int32
}

// snapGenTask asks the region worker to dump the current region's CF
// ranges into a fresh snapshot.
type snapGenTask struct {
	regionID uint64
	key      snap.Key
	region   *metapb.Region
	notify   chan error
}

// PeerStorage is spec.md §4.2's LogStorage: it implements the raft
// library's Storage interface against the raft backend's per-entry rows
// plus an in-memory entryCache, and owns RegionLocalState/RaftApplyState
// persistence in the data backend.
type PeerStorage struct {
	Engines *engine_util.Engines

	peerID uint64
	region *metapb.Region
	tag    string

	raftState  *raft_serverpb.RaftLocalState
	applyState *raft_serverpb.RaftApplyState
	lastTerm   uint64

	cache *entryCache

	snapManager  *snap.Manager
	regionSched  *Worker
	snapTriedCnt int
	genNotify    chan error

	applySnapStatus *atomic.Int32
}

func NewPeerStorage(engines *engine_util.Engines, region *metapb.Region, regionSched *Worker, snapManager *snap.Manager, peerID uint64, tag string) (*PeerStorage, error) {
	log.Debug(fmt.Sprintf("%s creating storage for %v", tag, region))
	raftState, err := meta.GetRaftLocalState(engines, region.Id)
	if err != nil {
		return nil, err
	}
	if raftState == nil {
		raftState = &raft_serverpb.RaftLocalState{}
		if len(region.Peers) > 0 {
			raftState.LastIndex = raftInitLogIndex
			raftState.HardState.Term = raftInitLogTerm
			raftState.HardState.Commit = raftInitLogIndex
		}
	}

	applyState, err := meta.GetApplyState(engines, region.Id)
	if err != nil {
		return nil, err
	}
	if applyState == nil {
		applyState = &raft_serverpb.RaftApplyState{}
		if len(region.Peers) > 0 {
			applyState.AppliedIndex = raftInitLogIndex
			applyState.TruncatedState.Index = raftInitLogIndex
			applyState.TruncatedState.Term = raftInitLogTerm
		}
	}

	ps := &PeerStorage{
		Engines:         engines,
		peerID:          peerID,
		region:          region,
		tag:             tag,
		raftState:       raftState,
		applyState:      applyState,
		cache:           newEntryCache(),
		snapManager:     snapManager,
		regionSched:     regionSched,
		applySnapStatus: atomic.NewInt32(int32(JobStatusFinished)),
	}
	lastTerm, err := ps.Term(ps.raftState.LastIndex)
	if err != nil {
		return nil, err
	}
	ps.lastTerm = lastTerm
	return ps, nil
}

// raftInitLogIndex/raftInitLogTerm are the sentinel (index, term) a
// freshly bootstrapped region's log starts at, matching the teacher's
// RAFT_INIT_LOG_INDEX/RAFT_INIT_LOG_TERM constants.
const (
	raftInitLogIndex = 5
	raftInitLogTerm  = 5
)

func (ps *PeerStorage) Region() *metapb.Region { return ps.region }

func (ps *PeerStorage) SetRegion(region *metapb.Region) { ps.region = region }

func (ps *PeerStorage) isInitialized() bool { return len(ps.region.Peers) > 0 }

func (ps *PeerStorage) AppliedIndex() uint64 { return ps.applyState.AppliedIndex }

func (ps *PeerStorage) TruncatedIndex() uint64 { return ps.applyState.TruncatedState.Index }

func (ps *PeerStorage) TruncatedTerm() uint64 { return ps.applyState.TruncatedState.Term }

func (ps *PeerStorage) raftLocalState() *raft_serverpb.RaftLocalState { return ps.raftState }

// ---- raft.Storage ----

func (ps *PeerStorage) InitialState() (raftpb.HardState, raftpb.ConfState, error) {
	hs := ps.raftState.HardState
	var cs raftpb.ConfState
	for _, p := range ps.region.Peers {
		cs.Voters = append(cs.Voters, p.Id)
	}
	return hs, cs, nil
}

// Entries implements spec.md §4.2's fetch algorithm: serve the
// non-overlapping backend prefix, then the cached suffix, truncated to
// maxSize but never empty.
func (ps *PeerStorage) Entries(lo, hi, maxSize uint64) ([]raftpb.Entry, error) {
	if err := ps.checkRange(lo, hi); err != nil {
		return nil, err
	}
	var entries []raftpb.Entry
	cacheFirst, hasCache := ps.cache.firstIndex()

	if !hasCache || hi <= cacheFirst {
		var err error
		entries, err = ps.fetchEntriesFromBackend(lo, hi)
		return limitSize(entries, maxSize), err
	}

	if lo < cacheFirst {
		fromDB, err := ps.fetchEntriesFromBackend(lo, cacheFirst)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fromDB...)
	}
	entries = append(entries, ps.cache.fetch(max(lo, cacheFirst), hi)...)
	return limitSize(entries, maxSize), nil
}

func limitSize(entries []raftpb.Entry, maxSize uint64) []raftpb.Entry {
	if len(entries) <= 1 {
		return entries
	}
	var size uint64
	for i, e := range entries {
		size += uint64(e.Size())
		if size > maxSize && i > 0 {
			return entries[:i]
		}
	}
	return entries
}

func max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func (ps *PeerStorage) fetchEntriesFromBackend(lo, hi uint64) ([]raftpb.Entry, error) {
	if lo >= hi {
		return nil, nil
	}
	var entries []raftpb.Entry
	if hi-lo <= raftLogMultiGetCnt {
		for i := lo; i < hi; i++ {
			val, err := engine_util.GetMeta(ps.Engines.Raft, meta.RaftLogKey(ps.region.Id, i))
			if err != nil {
				return nil, err
			}
			if val == nil {
				return nil, raft.ErrUnavailable
			}
			var e raftpb.Entry
			if err := e.Unmarshal(val); err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
		return entries, nil
	}

	reader := engine_util.NewBadgerReader(ps.Engines.Raft)
	defer reader.Close()
	startKey := meta.RaftLogKey(ps.region.Id, lo)
	endKey := meta.RaftLogKey(ps.region.Id, hi)
	it := reader.IterRaw()
	for it.Seek(startKey); it.Valid(); it.Next() {
		item := it.Item()
		if bytes.Compare(item.Key(), endKey) >= 0 {
			break
		}
		val, err := item.Value()
		if err != nil {
			it.Close()
			return nil, err
		}
		var e raftpb.Entry
		if err := e.Unmarshal(val); err != nil {
			it.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	it.Close()
	return entries, nil
}

func (ps *PeerStorage) checkRange(lo, hi uint64) error {
	if lo > hi {
		return errors.Errorf("%s low %d is greater than high %d", ps.tag, lo, hi)
	}
	first, err := ps.FirstIndex()
	if err != nil {
		return err
	}
	if lo < first {
		return raft.ErrCompacted
	}
	last, err := ps.LastIndex()
	if err != nil {
		return err
	}
	if hi > last+1 {
		return errors.Errorf("%s entries' high %d is out of bound, last index %d", ps.tag, hi, last)
	}
	return nil
}

func (ps *PeerStorage) Term(idx uint64) (uint64, error) {
	if idx == ps.TruncatedIndex() {
		return ps.TruncatedTerm(), nil
	}
	if err := ps.checkRange(idx, idx+1); err != nil {
		return 0, err
	}
	if ps.TruncatedTerm() == ps.lastTerm || idx == ps.raftState.LastIndex {
		return ps.lastTerm, nil
	}
	entries, err := ps.Entries(idx, idx+1, math.MaxUint64)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, raft.ErrUnavailable
	}
	return entries[0].Term, nil
}

func (ps *PeerStorage) LastIndex() (uint64, error) { return ps.raftState.LastIndex, nil }

func (ps *PeerStorage) FirstIndex() (uint64, error) {
	return ps.TruncatedIndex() + 1, nil
}

// Snapshot implements the async-generation protocol of spec.md §4.2: the
// first call schedules a region-worker task and returns
// ErrSnapshotTemporarilyUnavailable; subsequent calls poll a channel until
// the result arrives or maxSnapTryCnt polls have failed.
func (ps *PeerStorage) Snapshot() (raftpb.Snapshot, error) {
	if ps.genNotify == nil {
		ps.snapTriedCnt = 0
		ch := make(chan error, 1)
		ps.genNotify = ch
		key := snap.Key{RegionID: ps.region.Id, Term: ps.lastTerm, Index: ps.AppliedIndex()}
		task := &snapGenTask{regionID: ps.region.Id, key: key, region: ps.region.Clone(), notify: ch}
		if err := ps.regionSched.Send(task); err != nil {
			ps.genNotify = nil
			return raftpb.Snapshot{}, raft.ErrSnapshotTemporarilyUnavailable
		}
		return raftpb.Snapshot{}, raft.ErrSnapshotTemporarilyUnavailable
	}

	select {
	case err := <-ps.genNotify:
		ps.genNotify = nil
		if err != nil {
			ps.snapTriedCnt++
			if ps.snapTriedCnt >= maxSnapTryCnt {
				return raftpb.Snapshot{}, errors.Errorf("%s failed to generate snapshot after %d tries", ps.tag, ps.snapTriedCnt)
			}
			return raftpb.Snapshot{}, raft.ErrSnapshotTemporarilyUnavailable
		}
		return ps.buildSnapshot()
	default:
		ps.snapTriedCnt++
		if ps.snapTriedCnt >= maxSnapTryCnt {
			return raftpb.Snapshot{}, errors.Errorf("%s failed to generate snapshot after %d tries", ps.tag, ps.snapTriedCnt)
		}
		return raftpb.Snapshot{}, raft.ErrSnapshotTemporarilyUnavailable
	}
}

func (ps *PeerStorage) buildSnapshot() (raftpb.Snapshot, error) {
	idx := ps.AppliedIndex()
	term, err := ps.Term(idx)
	if err != nil {
		return raftpb.Snapshot{}, err
	}
	var cs raftpb.ConfState
	for _, p := range ps.region.Peers {
		cs.Voters = append(cs.Voters, p.Id)
	}
	data := &raft_serverpb.RaftSnapshotData{Region: ps.region.Clone()}
	payload, err := data.Marshal()
	if err != nil {
		return raftpb.Snapshot{}, err
	}
	return raftpb.Snapshot{
		Data: payload,
		Metadata: raftpb.SnapshotMetadata{
			ConfState: cs,
			Index:     idx,
			Term:      term,
		},
	}, nil
}

// ---- append / save-ready (spec.md §4.2 "write ordering for
// crash-consistency") ----

// InvokeContext accumulates the in-memory state a ready-append pass would
// commit, kept separate from ps's live fields until the backing writes
// actually succeed — mirroring the teacher's InvokeContext split.
type InvokeContext struct {
	RegionID   uint64
	RaftState  raft_serverpb.RaftLocalState
	ApplyState raft_serverpb.RaftApplyState
	lastTerm   uint64
	SnapRegion *metapb.Region
}

func NewInvokeContext(ps *PeerStorage) *InvokeContext {
	return &InvokeContext{
		RegionID:   ps.region.Id,
		RaftState:  *ps.raftState,
		ApplyState: *ps.applyState,
		lastTerm:   ps.lastTerm,
	}
}

// SaveReadyState appends newly-proposed entries (writing them to the
// cache and the raft-batch), applies a pending snapshot to the kv-batch
// if one arrived, and records the resulting RaftLocalState, all without
// touching the on-disk state until the caller commits both batches.
func (ps *PeerStorage) SaveReadyState(kvWB, raftWB *engine_util.WriteBatch, ready *raft.Ready) (*InvokeContext, error) {
	ctx := NewInvokeContext(ps)
	changed := false
	if !raft.IsEmptySnap(ready.Snapshot) {
		if err := ps.applySnapshot(ctx, &ready.Snapshot, kvWB, raftWB); err != nil {
			return nil, err
		}
		changed = true
	}
	if len(ready.Entries) > 0 {
		if err := ps.append(ctx, ready.Entries, raftWB); err != nil {
			return nil, err
		}
		changed = true
	}
	if !raft.IsEmptyHardState(ready.HardState) {
		ctx.RaftState.HardState = ready.HardState
		changed = true
	}
	if changed {
		if err := raftWB.SetMeta(meta.RaftStateKey(ps.region.Id), &ctx.RaftState); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}

// append writes entries to both the raft write-batch and the in-memory
// cache, trimming any now-stale tail the cache or backend held past the
// new entries' range.
func (ps *PeerStorage) append(ctx *InvokeContext, entries []raftpb.Entry, raftWB *engine_util.WriteBatch) error {
	prevLast := ctx.RaftState.LastIndex
	for _, e := range entries {
		val, err := e.Marshal()
		if err != nil {
			return err
		}
		raftWB.SetMeta(meta.RaftLogKey(ps.region.Id, e.Index), rawBytes(val))
	}
	last := entries[len(entries)-1]
	if last.Index < prevLast {
		for i := last.Index + 1; i <= prevLast; i++ {
			raftWB.Delete(meta.RaftLogKey(ps.region.Id, i))
		}
	}
	ps.cache.append(entries)
	ctx.RaftState.LastIndex = last.Index
	ctx.lastTerm = last.Term
	return nil
}

type rawBytes []byte

func (b rawBytes) Marshal() ([]byte, error) { return b, nil }

// applySnapshot implements spec.md §4.2's snapshot-application sequence:
// write RegionLocalState=Applying plus a RaftLocalState mirror into the
// same kv batch as the (already-fetched) snapshot data, update in-memory
// tracking, clear the entry cache, and schedule the region worker to copy
// the dumped rows into place.
func (ps *PeerStorage) applySnapshot(ctx *InvokeContext, snapshot *raftpb.Snapshot, kvWB, raftWB *engine_util.WriteBatch) error {
	snapData := new(raft_serverpb.RaftSnapshotData)
	if err := snapData.Unmarshal(snapshot.Data); err != nil {
		return err
	}
	if snapData.Region.Id != ps.region.Id {
		return errors.Errorf("%s mismatched region id in snapshot %d != %d", ps.tag, snapData.Region.Id, ps.region.Id)
	}

	if ps.isInitialized() {
		if err := ps.clearMeta(kvWB, raftWB); err != nil {
			return err
		}
	}

	ctx.RaftState.LastIndex = snapshot.Metadata.Index
	ctx.lastTerm = snapshot.Metadata.Term
	ctx.ApplyState.AppliedIndex = snapshot.Metadata.Index
	ctx.ApplyState.TruncatedState.Index = snapshot.Metadata.Index
	ctx.ApplyState.TruncatedState.Term = snapshot.Metadata.Term
	ctx.SnapRegion = snapData.Region

	if err := meta.WriteRegionState(kvWB, ps.region.Id, &raft_serverpb.RegionLocalState{
		State:  raft_serverpb.PeerState_Applying,
		Region: snapData.Region,
	}); err != nil {
		return err
	}
	if err := meta.WriteApplyState(kvWB, ps.region.Id, &ctx.ApplyState); err != nil {
		return err
	}
	if err := kvWB.SetMeta(meta.SnapshotRaftStateKey(ps.region.Id), &raft_serverpb.RaftLocalState{
		HardState: ctx.RaftState.HardState,
		LastIndex: snapshot.Metadata.Index,
	}); err != nil {
		return err
	}

	ps.cache.clear()
	ps.applySnapStatus.Store(int32(JobStatusPending))
	key := snap.Key{RegionID: ps.region.Id, Term: snapshot.Metadata.Term, Index: snapshot.Metadata.Index}
	task := &snapApplyTask{regionID: ps.region.Id, key: key, status: ps.applySnapStatus}
	if err := ps.regionSched.Send(task); err != nil {
		log.Error(fmt.Sprintf("%s failed to schedule snapshot apply: %v", ps.tag, err))
		ps.applySnapStatus.Store(int32(JobStatusFailed))
	}
	return nil
}

// clearMeta removes every bookkeeping row (raft log, RaftLocalState,
// RaftApplyState, RegionLocalState) this peer owns, in preparation for
// either destruction or overwrite by an incoming snapshot.
func (ps *PeerStorage) clearMeta(kvWB, raftWB *engine_util.WriteBatch) error {
	first, err := ps.FirstIndex()
	if err != nil {
		return err
	}
	last := ps.raftState.LastIndex
	for i := first; i <= last; i++ {
		raftWB.Delete(meta.RaftLogKey(ps.region.Id, i))
	}
	raftWB.Delete(meta.RaftStateKey(ps.region.Id))
	kvWB.DeleteCF(engine_util.CfRaft, meta.ApplyStateKey(ps.region.Id))
	kvWB.DeleteCF(engine_util.CfRaft, meta.RegionStateKey(ps.region.Id))
	return nil
}

// ClearData asynchronously deletes the region's user-data range, the
// second half of peer destruction (spec.md §3 "Peer destroyed").
func (ps *PeerStorage) ClearData() error {
	return ps.regionSched.Send(&regionDestroyTask{
		regionID: ps.region.Id,
		startKey: ps.region.StartKey,
		endKey:   ps.region.EndKey,
	})
}

// PostReadyPersistent commits ctx into the live PeerStorage fields after
// the caller has durably written both batches; returns the snapshot
// region when a snapshot was applied so the caller can emit an
// ApplySnapResult (spec.md §4.3 step 5).
func (ps *PeerStorage) PostReadyPersistent(ctx *InvokeContext) *metapb.Region {
	ps.raftState = &ctx.RaftState
	ps.applyState = &ctx.ApplyState
	ps.lastTerm = ctx.lastTerm
	if ctx.SnapRegion != nil {
		ps.region = ctx.SnapRegion
		return ctx.SnapRegion
	}
	return nil
}

// CheckApplyingSnap polls the snapshot-application status, per spec.md
// §4.2 step 6. It returns true while the job is pending, running or
// cancelling; a cancelled job is reset to Finished and reports false; a
// failed job panics.
func (ps *PeerStorage) CheckApplyingSnap() bool {
	switch ApplySnapStatus(ps.applySnapStatus.Load()) {
	case JobStatusPending, JobStatusRunning, JobStatusCancelling:
		return true
	case JobStatusCancelled:
		ps.applySnapStatus.Store(int32(JobStatusFinished))
		return false
	case JobStatusFailed:
		panic(fmt.Sprintf("%s snapshot application failed, diagnostic: last region %v", ps.tag, ps.region))
	default:
		return false
	}
}

func (ps *PeerStorage) IsApplyingSnapshot() bool {
	return ApplySnapStatus(ps.applySnapStatus.Load()) == JobStatusRunning
}

// RecoverFromApplyingState patches RaftLocalState from the snapshot-mirror
// written during a prior applySnapshot, the crash-recovery path of
// spec.md §4.2: if the kv write succeeded but the raft write didn't, the
// mirror is the only durable record of the snapshot's last_index.
func RecoverFromApplyingState(engines *engine_util.Engines, raftWB *engine_util.WriteBatch, regionID uint64) error {
	val, err := engine_util.GetMeta(engines.Kv, meta.SnapshotRaftStateKey(regionID))
	if err != nil {
		return err
	}
	if val == nil {
		return errors.Errorf("region %d failed to get raft local state from snapshot mirror", regionID)
	}
	snapState := new(raft_serverpb.RaftLocalState)
	if err := snapState.Unmarshal(val); err != nil {
		return err
	}
	curState, err := meta.GetRaftLocalState(engines, regionID)
	if err != nil {
		return err
	}
	if curState != nil && curState.LastIndex >= snapState.LastIndex {
		return nil
	}
	return raftWB.SetMeta(meta.RaftStateKey(regionID), snapState)
}
