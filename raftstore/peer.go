package raftstore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.etcd.io/etcd/raft"
	"go.etcd.io/etcd/raft/raftpb"

	"github.com/tinykv-io/tinykv/config"
	"github.com/tinykv-io/tinykv/engine_util"
	"github.com/tinykv-io/tinykv/proto/pkg/metapb"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_cmdpb"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_serverpb"
	"github.com/tinykv-io/tinykv/raftstore/message"
	"github.com/tinykv-io/tinykv/raftstore/meta"
	"github.com/tinykv-io/tinykv/raftstore/snap"
	"github.com/tinykv-io/tinykv/raftstore/util"
)

// Transport is the §6 RPC-transport collaborator: the only way a Peer
// reaches another store. Real network code is out of scope; the store
// wires a concrete implementation in.
type Transport interface {
	Send(msg *raft_serverpb.RaftMessage) error
}

// proposal records a successful Propose so the apply pipeline can match a
// committed entry back to its caller's callback (spec.md §4.1/§4.5).
type proposal struct {
	isConfChange bool
	index        uint64
	term         uint64
	cb           *message.Callback
}

// readIndexRequest is one coalesced batch of ReadIndex-eligible commands
// sharing a single Raft read-index round trip.
type readIndexRequest struct {
	id             uint64
	cmds           []readIndexCmd
	renewLeaseTime time.Time
}

type readIndexCmd struct {
	req *raft_cmdpb.RaftCmdRequest
	cb  *message.Callback
}

// ApplySnapResult is emitted by post_raft_ready_append when a ready
// carried a snapshot, driving the store's ExecResult::ChangePeer-style
// bookkeeping (spec.md §4.3 step 5).
type ApplySnapResult struct {
	PrevRegion *metapb.Region
	Region     *metapb.Region
}

// Peer owns one Raft group replica, per spec.md §4.1: the node, its
// LogStorage, a proposal queue, a pending-read queue, a leader lease and
// per-peer stats. All methods are called only from the store's single
// event-loop goroutine (spec.md §5/§9).
type Peer struct {
	Meta     *metapb.Peer
	regionId uint64
	Tag      string

	RaftGroup   *raft.RawNode
	peerStorage *PeerStorage

	peerCache map[uint64]*metapb.Peer

	proposals    []*proposal
	pendingReads []*readIndexRequest
	readIndexCtr uint64

	lease *Lease
	// role/term/leaderID cache the last Ready's SoftState/HardState so
	// IsLeader/Term/LeaderId are cheap and don't depend on the exact
	// shape of the raft library's Status() accessor.
	role     raft.StateType
	term     uint64
	leaderID uint64

	appliedIndexTerm uint64

	// pendingMessages buffers outbound messages while this peer is
	// applying a received snapshot, per spec.md §4.1 "Snapshot sending on
	// follower", flushed once application completes.
	pendingMessages []raftpb.Message

	PeersStartPendingTime map[uint64]time.Time

	SizeDiffHint    uint64
	ApproximateSize *uint64
	DeleteKeysHint  uint64

	LastApplyingIdx  uint64
	LastCompactedIdx uint64

	leaderMissingSince time.Time
	stopped            bool
	pendingRemove      bool

	cfg *config.Config
}

func createPeer(storeID uint64, cfg *config.Config, regionSched *Worker, snapMgr *snap.Manager, engines *engine_util.Engines, region *metapb.Region) (*Peer, error) {
	metaPeer := util.FindPeer(region, storeID)
	if metaPeer == nil {
		return nil, errors.Errorf("find no peer for store %d in region %v", storeID, region)
	}
	return NewPeer(storeID, cfg, engines, region, regionSched, snapMgr, metaPeer)
}

// replicatePeer constructs a peer that knows only its region_id and
// peer_id, because it was lazily created to receive an inbound Raft
// message for a region this store has never seen (spec.md §3 "Peer
// created... (c) receiving a Raft message addressed to an unknown
// region"). Its region descriptor fills in once the first snapshot lands.
func replicatePeer(storeID uint64, cfg *config.Config, regionSched *Worker, snapMgr *snap.Manager, engines *engine_util.Engines, regionID uint64, metaPeer *metapb.Peer) (*Peer, error) {
	region := &metapb.Region{Id: regionID, RegionEpoch: &metapb.RegionEpoch{}}
	return NewPeer(storeID, cfg, engines, region, regionSched, snapMgr, metaPeer)
}

func NewPeer(storeID uint64, cfg *config.Config, engines *engine_util.Engines, region *metapb.Region, regionSched *Worker, snapMgr *snap.Manager, meta_ *metapb.Peer) (*Peer, error) {
	if meta_.Id == util.InvalidID {
		return nil, errors.New("invalid peer id")
	}
	tag := fmt.Sprintf("[region %d] %d", region.Id, meta_.Id)

	ps, err := NewPeerStorage(engines, region, regionSched, snapMgr, meta_.Id, tag)
	if err != nil {
		return nil, err
	}

	appliedIndex := ps.AppliedIndex()
	raftCfg := &raft.Config{
		ID:              meta_.Id,
		ElectionTick:    cfg.RaftElectionTimeoutTicks,
		HeartbeatTick:   cfg.RaftHeartbeatTicks,
		Applied:         appliedIndex,
		Storage:         ps,
		MaxSizePerMsg:   1024 * 1024,
		MaxInflightMsgs: 256,
		CheckQuorum:     true,
		PreVote:         true,
	}

	var bootstrapPeers []raft.Peer
	if ps.isInitialized() {
		for _, p := range region.Peers {
			bootstrapPeers = append(bootstrapPeers, raft.Peer{ID: p.Id})
		}
	}
	raftGroup, err := raft.NewRawNode(raftCfg, bootstrapPeers)
	if err != nil {
		return nil, err
	}

	p := &Peer{
		Meta:                  meta_,
		regionId:              region.Id,
		Tag:                   tag,
		RaftGroup:             raftGroup,
		peerStorage:           ps,
		peerCache:             make(map[uint64]*metapb.Peer),
		PeersStartPendingTime: make(map[uint64]time.Time),
		lease:                 NewLease(cfg.RaftStoreMaxLeaderLease),
		LastApplyingIdx:       appliedIndex,
		appliedIndexTerm:      raftInitLogTerm,
		cfg:                   cfg,
	}

	if len(region.Peers) == 1 && region.Peers[0].StoreId == storeID {
		if err := p.RaftGroup.Campaign(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Peer) insertPeerCache(peer *metapb.Peer) { p.peerCache[peer.Id] = peer }

func (p *Peer) removePeerCache(peerID uint64) { delete(p.peerCache, peerID) }

func (p *Peer) getPeerFromCache(peerID uint64) *metapb.Peer {
	if pr, ok := p.peerCache[peerID]; ok {
		return pr
	}
	for _, pr := range p.peerStorage.Region().Peers {
		if pr.Id == peerID {
			p.insertPeerCache(pr)
			return pr
		}
	}
	return nil
}

func (p *Peer) nextProposalIndex() uint64 {
	last, _ := p.peerStorage.LastIndex()
	return last + 1
}

func (p *Peer) IsInitialized() bool { return p.peerStorage.isInitialized() }

func (p *Peer) storeID() uint64 { return p.Meta.StoreId }

func (p *Peer) Region() *metapb.Region { return p.peerStorage.Region() }

func (p *Peer) SetRegion(region *metapb.Region) { p.peerStorage.SetRegion(region) }

func (p *Peer) PeerId() uint64 { return p.Meta.Id }

func (p *Peer) IsLeader() bool { return p.role == raft.StateLeader }

func (p *Peer) Term() uint64 { return p.term }

func (p *Peer) LeaderId() uint64 { return p.leaderID }

func (p *Peer) HasPendingSnapshot() bool {
	snapshot, err := p.peerStorage.Snapshot()
	return err == nil && !raft.IsEmptySnap(snapshot)
}

// ReadyToHandlePendingSnap mirrors the teacher's guard against racing the
// apply worker: a pending snapshot must not be handed to Raft again while
// the previous one is still being applied.
func (p *Peer) ReadyToHandlePendingSnap() bool {
	return p.LastApplyingIdx == p.peerStorage.AppliedIndex()
}

// Destroy marks the region tombstone, clears meta and notifies pending
// callbacks, per spec.md §3 "Peer destroyed". keepData is true for a
// peer superseded by a newer peer_id in the same region (the data may
// still belong to the new peer's range).
func (p *Peer) Destroy(engines *engine_util.Engines, keepData bool) error {
	region := p.Region()
	log.Info(fmt.Sprintf("%s begin to destroy", p.Tag))

	kvWB := new(engine_util.WriteBatch)
	raftWB := new(engine_util.WriteBatch)
	if err := p.peerStorage.clearMeta(kvWB, raftWB); err != nil {
		return err
	}
	if err := meta.WriteRegionState(kvWB, region.Id, &raft_serverpb.RegionLocalState{
		State: raft_serverpb.PeerState_Tombstone, Region: region,
	}); err != nil {
		return err
	}
	if err := kvWB.WriteToDB(engines.Kv, true); err != nil {
		return err
	}
	if err := raftWB.WriteToDB(engines.Raft, true); err != nil {
		return err
	}

	if p.peerStorage.isInitialized() && !keepData {
		if err := p.peerStorage.ClearData(); err != nil {
			log.Error(fmt.Sprintf("%s failed to schedule data deletion: %v", p.Tag, err))
		}
	}

	for _, pr := range p.proposals {
		NotifyReqRegionRemoved(region.Id, pr.cb)
	}
	p.proposals = nil
	for _, rr := range p.pendingReads {
		for _, cmd := range rr.cmds {
			NotifyReqRegionRemoved(region.Id, cmd.cb)
		}
	}
	p.pendingReads = nil
	p.stopped = true
	return nil
}

// ---- tick / stale-state detection ----

func (p *Peer) Tick() {
	p.RaftGroup.Tick()
	if p.IsLeader() {
		return
	}
	if p.leaderID == 0 {
		if p.leaderMissingSince.IsZero() {
			p.leaderMissingSince = time.Now()
		}
	} else {
		p.leaderMissingSince = time.Time{}
	}
}

// StaleState reports whether this peer should ask PD to validate it,
// and separately whether it has gone missing a leader long enough to be
// worth logging, per spec.md §4.1 "Stale-state detection".
type StaleState int

const (
	StaleStateValid StaleState = iota
	StaleStateToValidate
	StaleStateLeaderMissing
)

func (p *Peer) CheckStaleState(cfg *config.Config) StaleState {
	if p.IsLeader() || p.leaderMissingSince.IsZero() {
		return StaleStateValid
	}
	missing := time.Since(p.leaderMissingSince)
	if p.IsInitialized() && missing >= cfg.AbnormalLeaderMissingDuration {
		return StaleStateLeaderMissing
	}
	if missing >= cfg.MaxLeaderMissingDuration {
		return StaleStateToValidate
	}
	return StaleStateValid
}

// ---- propose pipeline (spec.md §4.1 "Proposal pipeline") ----

type requestPolicy int

const (
	policyProposeNormal requestPolicy = iota
	policyProposeTransferLeader
	policyProposeConfChange
	policyReadLocal
	policyReadIndex
	policyInvalid
)

func (p *Peer) inspect(req *raft_cmdpb.RaftCmdRequest) (requestPolicy, error) {
	if req.AdminRequest != nil {
		if getChangePeerCmd(req) != nil {
			return policyProposeConfChange, nil
		}
		if getTransferLeaderCmd(req) != nil {
			return policyProposeTransferLeader, nil
		}
		return policyProposeNormal, nil
	}

	hasRead, hasWrite := false, false
	for _, r := range req.Requests {
		switch r.CmdType {
		case raft_cmdpb.CmdType_Get, raft_cmdpb.CmdType_Snap:
			hasRead = true
		case raft_cmdpb.CmdType_Put, raft_cmdpb.CmdType_Delete, raft_cmdpb.CmdType_DeleteRange:
			hasWrite = true
		case raft_cmdpb.CmdType_Invalid:
			return policyInvalid, errors.Errorf("invalid cmd type, message maybe corrupted")
		}
	}
	if hasRead && hasWrite {
		return policyInvalid, errors.New("read and write can't be mixed in one request")
	}
	if hasWrite {
		return policyProposeNormal, nil
	}
	if p.IsLeader() && p.lease.Check() == LeaseStateValid && p.appliedIndexTerm == p.Term() {
		return policyReadLocal, nil
	}
	return policyReadIndex, nil
}

// Propose classifies req per spec.md's table and drives it down the
// matching path, firing cb itself for anything that doesn't need to wait
// on a committed Raft entry.
func (p *Peer) Propose(cfg *config.Config, cb *message.Callback, req *raft_cmdpb.RaftCmdRequest) bool {
	if p.stopped {
		return false
	}

	policy, err := p.inspect(req)
	if err != nil {
		cb.Done(ErrResp(err))
		return false
	}

	switch policy {
	case policyReadLocal:
		cb.Done(p.execReadLocal(req))
		return false
	case policyReadIndex:
		p.proposeReadIndex(req, cb)
		return false
	case policyProposeTransferLeader:
		p.proposeTransferLeader(req, cb)
		return false
	}

	isConfChange := false
	var idx uint64
	switch policy {
	case policyProposeConfChange:
		isConfChange = true
		idx, err = p.proposeConfChange(cfg, req)
	default:
		idx, err = p.proposeNormal(cfg, req)
	}
	if err != nil {
		cb.Done(ErrResp(err))
		return false
	}

	p.proposals = append(p.proposals, &proposal{isConfChange: isConfChange, index: idx, term: p.Term(), cb: cb})
	sendTs := time.Now()
	if p.IsLeader() {
		p.lease.Renew(sendTs)
	}
	return true
}

func (p *Peer) proposeNormal(cfg *config.Config, req *raft_cmdpb.RaftCmdRequest) (uint64, error) {
	data, err := req.Marshal()
	if err != nil {
		return 0, err
	}
	if uint64(len(data)) > cfg.RaftEntryMaxSize {
		return 0, &util.ErrRaftEntryTooLarge{RegionId: p.regionId, EntrySize: uint64(len(data))}
	}

	proposeIndex := p.nextProposalIndex()
	if err := p.RaftGroup.Propose(data); err != nil {
		return 0, err
	}
	if p.nextProposalIndex() == proposeIndex {
		return 0, &util.ErrNotLeader{RegionId: p.regionId}
	}
	return proposeIndex, nil
}

// proposeConfChange runs the §4.1 safety check before ever touching
// Raft: simulate the change against the current progress map and reject
// unless the resulting quorum would still be healthy.
func (p *Peer) proposeConfChange(cfg *config.Config, req *raft_cmdpb.RaftCmdRequest) (uint64, error) {
	if err := p.checkConfChangeSafety(cfg, req); err != nil {
		return 0, err
	}

	data, err := req.Marshal()
	if err != nil {
		return 0, err
	}
	cp := getChangePeerCmd(req)
	cc := raftpb.ConfChange{Type: cp.ChangeType, NodeID: cp.Peer.Id, Context: data}

	proposeIndex := p.nextProposalIndex()
	if err := p.RaftGroup.ProposeConfChange(cc); err != nil {
		return 0, err
	}
	if p.nextProposalIndex() == proposeIndex {
		return 0, &util.ErrNotLeader{RegionId: p.regionId}
	}
	return proposeIndex, nil
}

func (p *Peer) checkConfChangeSafety(cfg *config.Config, req *raft_cmdpb.RaftCmdRequest) error {
	cp := getChangePeerCmd(req)
	status := p.RaftGroup.Status()
	progress := make(map[uint64]uint64, len(status.Progress))
	for id, pr := range status.Progress {
		progress[id] = pr.Match
	}
	total := len(progress)
	if total <= 1 {
		return nil
	}

	if cp.ChangeType == raftpb.ConfChangeRemoveNode {
		if cp.Peer.Id == p.Meta.Id && !cfg.AllowRemoveLeader && p.IsLeader() {
			return errors.New("unsafe conf change: removing the leader is not allowed")
		}
		if _, ok := progress[cp.Peer.Id]; !ok {
			return nil
		}
		delete(progress, cp.Peer.Id)
	} else {
		progress[cp.Peer.Id] = 0
	}

	truncated := p.peerStorage.TruncatedIndex()
	healthy := 0
	for id, match := range progress {
		if id == p.Meta.Id || match >= truncated {
			healthy++
		}
	}
	quorum := len(progress)/2 + 1
	if healthy < quorum {
		return errors.Errorf("unsafe conf change: total %d, healthy %d, quorum after change %d", total, healthy, quorum)
	}
	return nil
}

// proposeTransferLeader is advisory: it asks Raft to transfer only when
// the target has caught up enough, and always answers the caller
// immediately rather than waiting on a committed entry.
func (p *Peer) proposeTransferLeader(req *raft_cmdpb.RaftCmdRequest, cb *message.Callback) {
	transferPeer := getTransferLeaderCmd(req).Peer
	lastIndex, _ := p.peerStorage.LastIndex()
	status := p.RaftGroup.Status()
	if pr, ok := status.Progress[transferPeer.Id]; ok && lastIndex <= pr.Match+10 {
		log.Info(fmt.Sprintf("%s transfer leader to %v", p.Tag, transferPeer))
		p.lease.Suspect(time.Now())
		p.RaftGroup.TransferLeader(transferPeer.Id)
	}
	resp := &raft_cmdpb.RaftCmdResponse{
		Header: &raft_cmdpb.RaftResponseHeader{},
		AdminResponse: &raft_cmdpb.AdminResponse{
			CmdType:        raft_cmdpb.AdminCmdType_TransferLeader,
			TransferLeader: &raft_cmdpb.TransferLeaderResponse{},
		},
	}
	cb.Done(resp)
}

// execReadLocal answers a ReadLocal-eligible request immediately against
// the current state machine, with no Raft log entry involved.
func (p *Peer) execReadLocal(req *raft_cmdpb.RaftCmdRequest) *raft_cmdpb.RaftCmdResponse {
	reader := engine_util.NewBadgerReader(p.peerStorage.Engines.Kv)
	defer reader.Close()
	resp, err := execReadOnly(reader, p.Region(), req)
	if err != nil {
		return ErrResp(err)
	}
	return resp
}

// proposeReadIndex enqueues req against Raft's read-index protocol,
// coalescing with the most recent pending read if it's still within one
// lease window (spec.md §4.1 "Read-Index").
func (p *Peer) proposeReadIndex(req *raft_cmdpb.RaftCmdRequest, cb *message.Callback) {
	now := time.Now()
	if n := len(p.pendingReads); n > 0 {
		last := p.pendingReads[n-1]
		if now.Sub(last.renewLeaseTime) < p.cfg.RaftStoreMaxLeaderLease {
			last.cmds = append(last.cmds, readIndexCmd{req: req, cb: cb})
			return
		}
	}

	p.readIndexCtr++
	id := p.readIndexCtr
	ctx := make([]byte, 8)
	binary.BigEndian.PutUint64(ctx, id)

	rr := &readIndexRequest{id: id, renewLeaseTime: now, cmds: []readIndexCmd{{req: req, cb: cb}}}
	p.pendingReads = append(p.pendingReads, rr)
	if err := p.RaftGroup.ReadIndex(ctx); err != nil {
		cb.Done(ErrResp(err))
		p.pendingReads = p.pendingReads[:len(p.pendingReads)-1]
	}
}

// handleReadStates matches Raft's returned ReadStates back to pending
// requests in FIFO order, firing every matched batch's callbacks.
func (p *Peer) handleReadStates(readStates []raft.ReadState) {
	for _, rs := range readStates {
		if len(p.pendingReads) == 0 {
			continue
		}
		rr := p.pendingReads[0]
		if binary.BigEndian.Uint64(rs.RequestCtx) != rr.id {
			// Stale: term changed underneath the request; flush with
			// StaleCommand per spec.md §4.1/§5.
			for _, cmd := range rr.cmds {
				cmd.cb.Done(ErrRespStaleCommand(p.Term()))
			}
			p.pendingReads = p.pendingReads[1:]
			continue
		}
		p.pendingReads = p.pendingReads[1:]
		reader := engine_util.NewBadgerReader(p.peerStorage.Engines.Kv)
		for _, cmd := range rr.cmds {
			resp, err := execReadOnly(reader, p.Region(), cmd.req)
			if err != nil {
				cmd.cb.Done(ErrResp(err))
				continue
			}
			cmd.cb.Done(resp)
		}
		reader.Close()
	}
}

// flushStaleReads answers every still-pending read with StaleCommand,
// called when this peer's role changes away from leader.
func (p *Peer) flushStaleReads() {
	for _, rr := range p.pendingReads {
		for _, cmd := range rr.cmds {
			cmd.cb.Done(ErrRespStaleCommand(p.Term()))
		}
	}
	p.pendingReads = nil
}

func getTransferLeaderCmd(req *raft_cmdpb.RaftCmdRequest) *raft_cmdpb.TransferLeaderRequest {
	if req.AdminRequest == nil {
		return nil
	}
	return req.AdminRequest.TransferLeader
}

func getChangePeerCmd(req *raft_cmdpb.RaftCmdRequest) *raft_cmdpb.ChangePeerRequest {
	if req.AdminRequest == nil {
		return nil
	}
	return req.AdminRequest.ChangePeer
}

// NotifyStaleReq answers a proposal that has been superseded before its
// term could apply.
func NotifyStaleReq(term uint64, cb *message.Callback) {
	cb.Done(ErrRespStaleCommand(term))
}

// NotifyReqRegionRemoved answers a proposal whose region no longer exists.
func NotifyReqRegionRemoved(regionID uint64, cb *message.Callback) {
	cb.Done(ErrRespRegionNotFound(regionID))
}

// ---- ready cycle: handle_raft_ready_append / post_raft_ready_append /
// handle_raft_ready_apply (spec.md §4.1) ----

// readyState is a peer's view of the current ready cycle, threaded
// through append -> post-append -> apply, matching the three-phase
// contract spec.md §4.1 names.
type readyState struct {
	ready       raft.Ready
	invokeCtx   *InvokeContext
	hasSnapshot bool
	sync        bool
}

// HandleRaftReadyAppend is phase 1: if the peer has a ready, persist its
// entries/hardstate/snapshot into the shared kv/raft write batches
// (durability defers to the store's batched fsync) and return the ready
// plus whatever messages can be sent before fsync (only a leader may,
// per the Raft thesis §10.2.1 concurrent-replicate optimization).
func (p *Peer) HandleRaftReadyAppend(kvWB, raftWB *engine_util.WriteBatch, trans Transport) *readyState {
	if p.stopped {
		return nil
	}
	if p.HasPendingSnapshot() && !p.ReadyToHandlePendingSnap() {
		return nil
	}
	if !p.RaftGroup.HasReady() {
		return nil
	}

	ready := p.RaftGroup.Ready()
	if p.IsLeader() {
		p.send(trans, ready.Messages)
		ready.Messages = nil
	}

	if ready.SoftState != nil {
		wasLeader := p.IsLeader()
		p.role = ready.SoftState.RaftState
		p.leaderID = ready.SoftState.Lead
		if wasLeader && !p.IsLeader() {
			p.lease.Expire()
			p.flushStaleReads()
		}
		if p.IsLeader() && !wasLeader {
			p.lease.Renew(time.Now())
		}
	}
	if !raft.IsEmptyHardState(ready.HardState) {
		p.term = ready.HardState.Term
	}
	if len(ready.ReadStates) > 0 {
		p.handleReadStates(ready.ReadStates)
	}

	ctx, err := p.peerStorage.SaveReadyState(kvWB, raftWB, &ready)
	if err != nil {
		panic(fmt.Sprintf("%s failed to handle raft ready: %v", p.Tag, err))
	}

	sync := p.cfg.SyncLog || anyEntrySyncLog(ready.Entries)
	return &readyState{ready: ready, invokeCtx: ctx, hasSnapshot: !raft.IsEmptySnap(ready.Snapshot), sync: sync}
}

// anyEntrySyncLog reports whether any newly-appended entry's proposal
// requested sync_log, the per-request durability escalation spec.md §4.2
// describes: a single urgent write forces the whole ready batch's fsync.
func anyEntrySyncLog(entries []raftpb.Entry) bool {
	for i := range entries {
		e := &entries[i]
		if e.Type != raftpb.EntryNormal || len(e.Data) == 0 {
			continue
		}
		req := new(raft_cmdpb.RaftCmdRequest)
		if err := req.Unmarshal(e.Data); err != nil {
			continue
		}
		if req.Header != nil && req.Header.SyncLog {
			return true
		}
	}
	return false
}

// PostRaftReadyAppend is phase 2, called once both write batches have
// been durably fsynced: commit the InvokeContext into PeerStorage, flush
// any messages withheld during the durability window, and report a
// snapshot application result if one occurred.
func (p *Peer) PostRaftReadyAppend(rs *readyState, trans Transport) *ApplySnapResult {
	if rs == nil {
		return nil
	}
	prevRegion := p.Region()
	snapRegion := p.peerStorage.PostReadyPersistent(rs.invokeCtx)

	if !p.IsLeader() {
		p.send(trans, rs.ready.Messages)
	}
	if len(p.pendingMessages) > 0 && !p.peerStorage.IsApplyingSnapshot() {
		p.send(trans, p.pendingMessages)
		p.pendingMessages = nil
	}

	if snapRegion != nil {
		p.LastApplyingIdx = p.peerStorage.TruncatedIndex()
		return &ApplySnapResult{PrevRegion: prevRegion, Region: snapRegion}
	}
	return nil
}

// HandleRaftReadyApply is phase 3: ship the ready's committed entries to
// the apply worker and advance the Raft group. Returns the entries (the
// store batches these across peers into one Apply message per region).
func (p *Peer) HandleRaftReadyApply(rs *readyState) []raftpb.Entry {
	if rs == nil {
		return nil
	}
	var committed []raftpb.Entry
	if !rs.hasSnapshot {
		committed = rs.ready.CommittedEntries
		if len(committed) > 0 {
			p.LastApplyingIdx = committed[len(committed)-1].Index
		}
	}
	p.RaftGroup.Advance(rs.ready)
	return committed
}

// TakeProposals drains the proposals queued since the last call, handed
// to the apply worker so it can register callbacks before entries commit.
func (p *Peer) TakeProposals() []*proposal {
	if len(p.proposals) == 0 {
		return nil
	}
	props := p.proposals
	p.proposals = nil
	return props
}

func (p *Peer) send(trans Transport, msgs []raftpb.Message) {
	for _, msg := range msgs {
		if p.peerStorage.IsApplyingSnapshot() || (msg.Type == raftpb.MsgSnapshot && len(p.pendingMessages) > 0) {
			// Spec.md §4.1 "Snapshot sending on follower": don't interleave
			// outbound traffic with an in-flight snapshot stream.
			p.pendingMessages = append(p.pendingMessages, msg)
			continue
		}
		if err := p.sendRaftMessage(msg, trans); err != nil {
			log.Debug(fmt.Sprintf("%s send message err: %v", p.Tag, err))
		}
	}
}

func (p *Peer) sendRaftMessage(msg raftpb.Message, trans Transport) error {
	sendMsg := &raft_serverpb.RaftMessage{RegionId: p.regionId}
	region := p.Region()
	sendMsg.RegionEpoch = &metapb.RegionEpoch{ConfVer: region.RegionEpoch.ConfVer, Version: region.RegionEpoch.Version}

	fromPeer := *p.Meta
	toPeer := p.getPeerFromCache(msg.To)
	if toPeer == nil {
		return errors.Errorf("failed to look up recipient peer %d in region %d", msg.To, p.regionId)
	}
	sendMsg.FromPeer = &fromPeer
	sendMsg.ToPeer = toPeer

	if p.peerStorage.isInitialized() && isInitialRaftMsg(msg) {
		sendMsg.StartKey = append([]byte{}, region.StartKey...)
		sendMsg.EndKey = append([]byte{}, region.EndKey...)
	}
	m := msg
	sendMsg.Message = &m
	return trans.Send(sendMsg)
}

func isInitialRaftMsg(msg raftpb.Message) bool {
	return msg.Type == raftpb.MsgRequestVote || msg.Type == raftpb.MsgRequestPreVote ||
		(msg.Type == raftpb.MsgHeartbeat && msg.Commit == 0)
}

// CollectPendingPeers mirrors the teacher's pending-peer bookkeeping,
// used by the PD heartbeat tick to report peers still catching up on log
// replication.
func (p *Peer) CollectPendingPeers() []*metapb.Peer {
	var pending []*metapb.Peer
	truncated := p.peerStorage.TruncatedIndex()
	status := p.RaftGroup.Status()
	for id, pr := range status.Progress {
		if id == p.Meta.Id {
			continue
		}
		if pr.Match < truncated {
			if pr2 := p.getPeerFromCache(id); pr2 != nil {
				pending = append(pending, pr2)
				if _, ok := p.PeersStartPendingTime[id]; !ok {
					p.PeersStartPendingTime[id] = time.Now()
				}
			}
		}
	}
	return pending
}

func (p *Peer) MaybeCampaign(parentIsLeader bool) bool {
	if len(p.Region().Peers) <= 1 || !parentIsLeader {
		return false
	}
	p.RaftGroup.Campaign()
	return true
}
