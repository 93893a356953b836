// Package raftstore implements spec.md §3/§4: the per-node orchestrator
// that multiplexes many Raft-replicated region peers over a shared pair of
// Badger engines, the log storage and apply pipeline each peer drives, and
// the background workers that keep the whole thing healthy.
package raftstore

import (
	"bytes"
	"fmt"
	"hash/crc64"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/pingcap/log"
	"github.com/shirou/gopsutil/disk"
	"go.etcd.io/etcd/raft/raftpb"

	"github.com/tinykv-io/tinykv/config"
	"github.com/tinykv-io/tinykv/engine_util"
	"github.com/tinykv-io/tinykv/pd"
	"github.com/tinykv-io/tinykv/proto/pkg/metapb"
	"github.com/tinykv-io/tinykv/proto/pkg/pdpb"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_cmdpb"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_serverpb"
	"github.com/tinykv-io/tinykv/raftstore/message"
	"github.com/tinykv-io/tinykv/raftstore/meta"
	"github.com/tinykv-io/tinykv/raftstore/snap"
	"github.com/tinykv-io/tinykv/raftstore/util"
)

// regionItem is the btree.Item spec.md §4.3's range index sorts by
// end_key, so ProposeRaftCommand can resolve a user key to the owning
// region in O(log n). A region with an empty EndKey (covers the keyspace
// tail) always sorts last.
type regionItem struct {
	endKey   []byte
	regionID uint64
}

func (a *regionItem) Less(other btree.Item) bool {
	b := other.(*regionItem)
	if len(a.endKey) == 0 {
		return false
	}
	if len(b.endKey) == 0 {
		return true
	}
	return bytes.Compare(a.endKey, b.endKey) < 0
}

// regionDestroyTask asks the region worker to drop a destroyed peer's
// user-data range from the kv engine, the async half of Peer.Destroy.
type regionDestroyTask struct {
	regionID uint64
	startKey []byte
	endKey   []byte
}

// raftLogGCTask asks the raftlog-gc worker to drop log rows below endIdx,
// produced whenever a CompactLog admin command applies.
type raftLogGCTask struct {
	regionID          uint64
	startIdx, endIdx  uint64
}

// splitCheckTask asks the split-check worker to estimate a region's
// default-CF size and log when it has crossed RegionMaxSize.
type splitCheckTask struct {
	region *metapb.Region
}

// consistencyCheckTask asks the consistency-check worker to hash a
// region's CF ranges at a given applied index.
type consistencyCheckTask struct {
	region *metapb.Region
	index  uint64
}

// compactLockCfTask asks the compact worker to compact away lock-CF
// tombstones once they've accumulated past LockCfCompactBytesThreshold,
// keeping a long-lived region's lock CF from growing unbounded with
// resolved transactions' leftover deletes.
type compactLockCfTask struct {
	regionID uint64
}

// Store is spec.md §4.3's single-node orchestrator: one goroutine owns
// every Peer's state machine, serialized through msgCh, with a fixed set
// of named background workers doing the I/O-heavy or CPU-heavy work a
// peer can't block on.
type Store struct {
	id  uint64
	cfg *config.Config

	engines  *engine_util.Engines
	trans    Transport
	pdClient pd.Client
	snapMgr  *snap.Manager

	mu           sync.Mutex
	peers        map[uint64]*Peer
	delegates    map[uint64]*ApplyDelegate
	regionRanges *btree.BTree

	regionWorker      *Worker
	raftLogGCWorker    *Worker
	splitCheckWorker   *Worker
	compactWorker      *Worker
	consistencyWorker  *Worker
	pdWorker           *Worker

	msgCh chan message.Msg
	stop  chan struct{}
	wg    sync.WaitGroup
}

func NewStore(id uint64, cfg *config.Config, engines *engine_util.Engines, trans Transport, pdClient pd.Client, snapMgr *snap.Manager) *Store {
	s := &Store{
		id:                id,
		cfg:               cfg,
		engines:           engines,
		trans:             trans,
		pdClient:          pdClient,
		snapMgr:           snapMgr,
		peers:             make(map[uint64]*Peer),
		delegates:         make(map[uint64]*ApplyDelegate),
		regionRanges:      btree.New(32),
		regionWorker:      NewWorker("region", 64),
		raftLogGCWorker:   NewWorker("raftlog-gc", 64),
		splitCheckWorker:  NewWorker("split-check", 64),
		compactWorker:     NewWorker("compact", 64),
		consistencyWorker: NewWorker("consistency-check", 64),
		pdWorker:          NewWorker("pd", 64),
		msgCh:             make(chan message.Msg, 4096),
		stop:              make(chan struct{}),
	}
	return s
}

// ---- bootstrap / startup ----

// Bootstrap creates the cluster's first region, spanning the whole
// keyspace, and registers it with both the engine and PD. Called once,
// against a brand new pair of empty engines.
func (s *Store) Bootstrap() error {
	region := &metapb.Region{
		Id:          1,
		RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
		Peers:       []*metapb.Peer{{Id: 1, StoreId: s.id}},
	}
	kvWB := new(engine_util.WriteBatch)
	if err := meta.WriteRegionState(kvWB, region.Id, &raft_serverpb.RegionLocalState{State: raft_serverpb.PeerState_Normal, Region: region}); err != nil {
		return err
	}
	if err := meta.WriteApplyState(kvWB, region.Id, &raft_serverpb.RaftApplyState{
		AppliedIndex:   raftInitLogIndex,
		TruncatedState: raft_serverpb.RaftTruncatedState{Index: raftInitLogIndex, Term: raftInitLogTerm},
	}); err != nil {
		return err
	}
	if err := kvWB.WriteToDB(s.engines.Kv, true); err != nil {
		return err
	}
	storeMeta := &metapb.Store{Id: s.id, Address: s.cfg.StoreAddr, State: metapb.StoreState_Up}
	return s.pdClient.Bootstrap(storeMeta, region)
}

// LoadPeers scans every RegionLocalState row in the kv engine's raft CF
// and constructs a Peer for each non-tombstone region, the recovery path
// spec.md §3 "Peer created" (b) describes.
func (s *Store) LoadPeers() error {
	reader := engine_util.NewBadgerReader(s.engines.Kv)
	defer reader.Close()
	it := reader.IterCF(engine_util.CfRaft)
	defer it.Close()

	prefix := append(append([]byte{}, meta.LocalPrefix...), meta.RegionMeta...)
	for it.Seek(prefix); it.Valid(); it.Next() {
		key := it.Item().Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		val, err := it.Item().Value()
		if err != nil {
			return err
		}
		state := new(raft_serverpb.RegionLocalState)
		if err := state.Unmarshal(val); err != nil {
			return err
		}
		if state.State == raft_serverpb.PeerState_Tombstone {
			continue
		}
		peer, err := createPeer(s.id, s.cfg, s.regionWorker, s.snapMgr, s.engines, state.Region)
		if err != nil {
			return err
		}
		s.insertPeer(peer)
	}
	return nil
}

func (s *Store) insertPeer(peer *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[peer.regionId] = peer
	region := peer.Region()
	if len(region.Peers) > 0 {
		s.regionRanges.ReplaceOrInsert(&regionItem{endKey: region.EndKey, regionID: region.Id})
	}
}

func (s *Store) removePeer(regionID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peer, ok := s.peers[regionID]; ok {
		region := peer.Region()
		s.regionRanges.Delete(&regionItem{endKey: region.EndKey, regionID: region.Id})
		delete(s.peers, regionID)
	}
	delete(s.delegates, regionID)
}

// PeerCount reports how many regions this store currently serves, which
// cmd/tinykv uses to decide whether a fresh store still needs Bootstrap.
func (s *Store) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Store) getPeer(regionID uint64) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[regionID]
}

// seekRegion returns the region owning key, by finding the first range
// whose end_key is strictly greater than key.
func (s *Store) seekRegion(key []byte) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *regionItem
	visit := func(i btree.Item) bool {
		item := i.(*regionItem)
		if len(item.endKey) == 0 || bytes.Compare(item.endKey, key) > 0 {
			found = item
			return false
		}
		return true
	}
	if len(key) == 0 {
		s.regionRanges.Ascend(visit)
	} else {
		s.regionRanges.AscendGreaterOrEqual(&regionItem{endKey: key}, visit)
	}
	if found == nil {
		return nil
	}
	return s.peers[found.regionID]
}

// ---- driving loop ----

// Run starts the store's single event-loop goroutine plus its tick
// timers; it returns immediately, handing control to background
// goroutines exactly as spec.md §5/§9 describes (one goroutine owns all
// peer state, ticks are just another message on msgCh).
func (s *Store) Run() {
	s.regionWorker.Start(s.handleRegionTask)
	s.raftLogGCWorker.Start(s.handleRaftLogGCTask)
	s.splitCheckWorker.Start(s.handleSplitCheckTask)
	s.consistencyWorker.Start(s.handleConsistencyCheckTask)
	s.compactWorker.Start(s.handleCompactTask)
	s.pdWorker.Start(func(Task) {})

	s.wg.Add(1)
	go s.eventLoop()

	s.wg.Add(1)
	go s.tickLoop()
}

func (s *Store) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.regionWorker.Stop()
	s.raftLogGCWorker.Stop()
	s.splitCheckWorker.Stop()
	s.compactWorker.Stop()
	s.consistencyWorker.Stop()
	s.pdWorker.Stop()
}

func (s *Store) tickLoop() {
	defer s.wg.Done()
	raftTicker := time.NewTicker(s.cfg.RaftBaseTickInterval)
	pdTicker := time.NewTicker(s.cfg.PdStoreHeartbeatTickInterval)
	lockCfTicker := time.NewTicker(s.cfg.LockCfCompactInterval)
	defer raftTicker.Stop()
	defer pdTicker.Stop()
	defer lockCfTicker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-raftTicker.C:
			s.msgCh <- message.NewMsg(message.MsgTypeTick, nil)
		case <-pdTicker.C:
			s.msgCh <- message.NewMsg(message.MsgTypeStoreTick, message.StoreTickPdStoreHeartbeat)
		case <-lockCfTicker.C:
			s.scheduleLockCfCompaction()
		}
	}
}

// scheduleLockCfCompaction fans a compactLockCfTask out to every region
// this store holds; the worker itself decides whether there's enough
// garbage to bother compacting.
func (s *Store) scheduleLockCfCompaction() {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.compactWorker.Send(&compactLockCfTask{regionID: id}); err != nil {
			log.Warn(fmt.Sprintf("region %d failed to schedule lock-cf compaction: %v", id, err))
		}
	}
}

func (s *Store) SendRaftMessage(msg *raft_serverpb.RaftMessage) {
	s.msgCh <- message.NewPeerMsg(message.MsgTypeRaftMessage, msg.RegionId, &message.MsgRaftMessage{Message: msg})
}

// ProposeRaftCommand is the client-facing entry point: resolve req's key
// (or explicit region id, for an admin command) to the owning peer and
// hand it to Peer.Propose. cb is fired exactly once, possibly
// synchronously if the command resolves without ever touching Raft.
func (s *Store) ProposeRaftCommand(req *raft_cmdpb.RaftCmdRequest, cb *message.Callback) {
	var peer *Peer
	if req.Header != nil && req.Header.RegionId != 0 {
		peer = s.getPeer(req.Header.RegionId)
	} else if len(req.Requests) > 0 && req.Requests[0].Get != nil {
		peer = s.seekRegion(req.Requests[0].Get.Key)
	}
	if peer == nil {
		cb.Done(ErrRespRegionNotFound(0))
		return
	}
	if req.Header != nil {
		if err := util.CheckRegionEpoch(req, peer.Region(), false); err != nil {
			cb.Done(ErrResp(err))
			return
		}
		if !peer.IsLeader() {
			var leader *metapb.Peer
			if peer.leaderID != 0 {
				leader = peer.getPeerFromCache(peer.leaderID)
			}
			cb.Done(ErrResp(&util.ErrNotLeader{RegionId: peer.regionId, Leader: leader}))
			return
		}
	}
	peer.Propose(s.cfg, cb, req)
}

func (s *Store) eventLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case msg := <-s.msgCh:
			s.handleMsg(msg)
			s.drainAndProcessReady()
		}
	}
}

func (s *Store) handleMsg(msg message.Msg) {
	switch msg.Type {
	case message.MsgTypeRaftMessage:
		s.onRaftMessage(msg.Data.(*message.MsgRaftMessage).Message)
	case message.MsgTypeTick:
		s.mu.Lock()
		peers := make([]*Peer, 0, len(s.peers))
		for _, p := range s.peers {
			peers = append(peers, p)
		}
		s.mu.Unlock()
		for _, p := range peers {
			p.Tick()
			if st := p.CheckStaleState(s.cfg); st == StaleStateLeaderMissing {
				log.Warn(fmt.Sprintf("%s leader missing for a long time", p.Tag))
			}
		}
	case message.MsgTypeStoreTick:
		if msg.Data.(message.StoreTick) == message.StoreTickPdStoreHeartbeat {
			s.sendStoreHeartbeat()
		}
	}
}

// onRaftMessage routes an inbound wire message to its region's peer,
// lazily creating a replicate-only peer when the message is the first one
// addressed to a region this store has never seen (spec.md §3 "Peer
// created" (c)).
func (s *Store) onRaftMessage(msg *raft_serverpb.RaftMessage) {
	regionID := msg.RegionId
	peer := s.getPeer(regionID)
	if peer == nil {
		if !util.IsInitialMsg(msg) {
			log.Debug(fmt.Sprintf("region %d not found, dropping non-initial raft message", regionID))
			return
		}
		newPeer, err := replicatePeer(s.id, s.cfg, s.regionWorker, s.snapMgr, s.engines, regionID, msg.ToPeer)
		if err != nil {
			log.Error(fmt.Sprintf("failed to create replicate peer for region %d: %v", regionID, err))
			return
		}
		s.insertPeer(newPeer)
		peer = newPeer
	}
	peer.insertPeerCache(msg.FromPeer)
	if err := peer.RaftGroup.Step(*msg.Message); err != nil {
		log.Debug(fmt.Sprintf("%s raft step error: %v", peer.Tag, err))
	}
}

// drainAndProcessReady runs one pass of the ready pipeline across every
// peer that has one, batching their append writes into a single pair of
// write batches per spec.md §4.3 step 3 ("batch writes across all ready
// peers into one fsync").
func (s *Store) drainAndProcessReady() {
	s.mu.Lock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	kvWB := new(engine_util.WriteBatch)
	raftWB := new(engine_util.WriteBatch)
	states := make(map[uint64]*readyState, len(peers))
	sync := false

	for _, p := range peers {
		if rs := p.HandleRaftReadyAppend(kvWB, raftWB, s.trans); rs != nil {
			states[p.regionId] = rs
			sync = sync || rs.sync
		}
	}
	if len(states) == 0 {
		return
	}

	if err := kvWB.WriteToDB(s.engines.Kv, sync); err != nil {
		panic(fmt.Sprintf("store %d failed to persist kv write batch: %v", s.id, err))
	}
	if err := raftWB.WriteToDB(s.engines.Raft, sync); err != nil {
		panic(fmt.Sprintf("store %d failed to persist raft write batch: %v", s.id, err))
	}

	for regionID, rs := range states {
		peer := s.getPeer(regionID)
		if peer == nil {
			continue
		}
		if snapRes := peer.PostRaftReadyAppend(rs, s.trans); snapRes != nil {
			s.onApplySnapResult(peer, snapRes)
		}
		committed := peer.HandleRaftReadyApply(rs)
		if len(committed) == 0 {
			continue
		}
		s.applyCommittedEntries(peer, committed)
	}
}

func (s *Store) onApplySnapResult(peer *Peer, res *ApplySnapResult) {
	s.mu.Lock()
	if res.PrevRegion != nil {
		s.regionRanges.Delete(&regionItem{endKey: res.PrevRegion.EndKey, regionID: res.PrevRegion.Id})
	}
	s.regionRanges.ReplaceOrInsert(&regionItem{endKey: res.Region.EndKey, regionID: res.Region.Id})
	delete(s.delegates, res.Region.Id)
	s.mu.Unlock()
}

func (s *Store) getOrCreateDelegate(peer *Peer) *ApplyDelegate {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.delegates[peer.regionId]
	if !ok {
		applyState, _ := meta.GetApplyState(s.engines, peer.regionId)
		if applyState == nil {
			applyState = &raft_serverpb.RaftApplyState{}
		}
		d = NewApplyDelegate(s.engines, peer.Region(), peer.PeerId(), peer.Tag, applyState)
		s.delegates[peer.regionId] = d
	}
	return d
}

// applyCommittedEntries registers the peer's queued proposals against its
// apply delegate, replays the entries, then reacts to whatever
// ExecResults came back: ChangePeer feeds the raft library's own conf
// state, Split and CompactLog fan out to the store/worker side effects
// those admin commands require.
func (s *Store) applyCommittedEntries(peer *Peer, entries []raftpb.Entry) {
	delegate := s.getOrCreateDelegate(peer)
	delegate.RegisterProposals(peer.TakeProposals())

	results, err := delegate.HandleRaftEntries(s.cfg, entries)
	if err != nil {
		panic(fmt.Sprintf("%s failed to apply raft entries: %v", peer.Tag, err))
	}
	peer.SetRegion(delegate.Region())

	for _, res := range results {
		switch res.Type {
		case ExecResultChangePeer:
			s.onExecChangePeer(peer, res.ChangePeer)
		case ExecResultSplitRegion:
			s.onExecSplit(peer, res.Split)
		case ExecResultCompactLog:
			s.onExecCompactLog(peer, res.CompactLog)
		case ExecResultComputeHash:
			s.consistencyWorker.Send(&consistencyCheckTask{region: peer.Region(), index: res.Hash.Index})
		case ExecResultVerifyHash:
			log.Info(fmt.Sprintf("%s verify hash at index %d", peer.Tag, res.Hash.Index))
		}
	}
}

func (s *Store) onExecChangePeer(peer *Peer, res *ChangePeerExecResult) {
	cc := raftpb.ConfChange{Type: res.ChangeType, NodeID: res.Peer.Id}
	peer.RaftGroup.ApplyConfChange(cc)
	peer.SetRegion(res.Region)
	if res.ChangeType == raftpb.ConfChangeRemoveNode && res.Peer.StoreId == s.id {
		if err := peer.Destroy(s.engines, false); err != nil {
			log.Error(fmt.Sprintf("%s failed to destroy self after removal: %v", peer.Tag, err))
		}
		s.removePeer(peer.regionId)
		return
	}
	peer.removePeerCache(res.Peer.Id)
	s.mu.Lock()
	s.regionRanges.ReplaceOrInsert(&regionItem{endKey: res.Region.EndKey, regionID: res.Region.Id})
	s.mu.Unlock()
}

// onExecSplit installs every newly carved region, creating a fresh Peer
// for each one besides the original (which the existing Peer keeps
// serving under its shrunk range).
func (s *Store) onExecSplit(peer *Peer, res *SplitExecResult) {
	s.mu.Lock()
	s.regionRanges.Delete(&regionItem{endKey: peer.Region().EndKey, regionID: peer.regionId})
	s.mu.Unlock()

	last := res.Regions[len(res.Regions)-1]
	peer.SetRegion(last)
	wasLeader := peer.IsLeader()
	s.mu.Lock()
	s.regionRanges.ReplaceOrInsert(&regionItem{endKey: last.EndKey, regionID: last.Id})
	s.mu.Unlock()

	for _, region := range res.Regions[:len(res.Regions)-1] {
		newPeer, err := createPeer(s.id, s.cfg, s.regionWorker, s.snapMgr, s.engines, region)
		if err != nil {
			log.Error(fmt.Sprintf("failed to create peer for split region %d: %v", region.Id, err))
			continue
		}
		s.insertPeer(newPeer)
		newPeer.MaybeCampaign(wasLeader)
	}
}

func (s *Store) onExecCompactLog(peer *Peer, res *CompactLogExecResult) {
	if err := s.raftLogGCWorker.Send(&raftLogGCTask{regionID: peer.regionId, startIdx: res.FirstIndex, endIdx: res.TruncatedIdx + 1}); err != nil {
		log.Warn(fmt.Sprintf("%s failed to schedule raft log gc: %v", peer.Tag, err))
	}
}

// ---- background worker handlers ----

func (s *Store) handleRegionTask(t Task) {
	switch task := t.(type) {
	case *snapGenTask:
		data, err := snap.GenerateFromEngine(s.engines, task.region)
		if err == nil {
			s.snapMgr.Register(task.key, data)
		}
		task.notify <- err
	case *snapApplyTask:
		data, ok := s.snapMgr.Get(task.key)
		if !ok {
			task.status.Store(int32(JobStatusFailed))
			return
		}
		task.status.Store(int32(JobStatusRunning))
		if err := snap.ApplyToEngine(s.engines, data); err != nil {
			log.Error(fmt.Sprintf("region %d failed to apply snapshot: %v", task.regionID, err))
			task.status.Store(int32(JobStatusFailed))
			return
		}
		task.status.Store(int32(JobStatusFinished))
	case *regionDestroyTask:
		for _, cf := range engine_util.CFs {
			if err := engine_util.DeleteRange(s.engines.Kv, cf, task.startKey, task.endKey); err != nil {
				log.Error(fmt.Sprintf("region %d failed to delete data range: %v", task.regionID, err))
			}
		}
	}
}

func (s *Store) handleRaftLogGCTask(t Task) {
	task, ok := t.(*raftLogGCTask)
	if !ok {
		return
	}
	wb := new(engine_util.WriteBatch)
	for i := task.startIdx; i < task.endIdx; i++ {
		wb.Delete(meta.RaftLogKey(task.regionID, i))
	}
	if err := wb.WriteToDB(s.engines.Raft, false); err != nil {
		log.Error(fmt.Sprintf("region %d failed to gc raft log: %v", task.regionID, err))
	}
}

func (s *Store) handleSplitCheckTask(t Task) {
	task, ok := t.(*splitCheckTask)
	if !ok {
		return
	}
	reader := engine_util.NewBadgerReader(s.engines.Kv)
	defer reader.Close()
	var size uint64
	it := reader.IterCF(engine_util.CfDefault)
	for it.Seek(task.region.StartKey); it.Valid(); it.Next() {
		item := it.Item()
		if len(task.region.EndKey) > 0 && bytes.Compare(item.Key(), task.region.EndKey) >= 0 {
			break
		}
		size += uint64(len(item.Key())) + uint64(item.ValueSize())
	}
	it.Close()
	if size > s.cfg.RegionMaxSize {
		log.Info(fmt.Sprintf("region %d approximate size %d exceeds max %d, split check due", task.region.Id, size, s.cfg.RegionMaxSize))
	}
}

func (s *Store) handleConsistencyCheckTask(t Task) {
	task, ok := t.(*consistencyCheckTask)
	if !ok {
		return
	}
	reader := engine_util.NewBadgerReader(s.engines.Kv)
	defer reader.Close()
	h := newRegionHasher()
	for _, cf := range engine_util.CFs {
		it := reader.IterCF(cf)
		for it.Seek(task.region.StartKey); it.Valid(); it.Next() {
			item := it.Item()
			if len(task.region.EndKey) > 0 && bytes.Compare(item.Key(), task.region.EndKey) >= 0 {
				break
			}
			val, err := item.Value()
			if err != nil {
				it.Close()
				return
			}
			h.add(item.Key(), val)
		}
		it.Close()
	}
	log.Info(fmt.Sprintf("region %d computed consistency hash %x at index %d", task.region.Id, h.sum(), task.index))
}

// handleCompactTask estimates the lock CF's size within the region's
// range and, past LockCfCompactBytesThreshold, asks badger to reclaim
// space via its value-log GC — the closest non-destructive analogue to
// the teacher's manual RocksDB compact_range call, since a key/value
// store with its own LSM compaction has no separate "drop tombstones"
// operation to trigger by key range.
func (s *Store) handleCompactTask(t Task) {
	task, ok := t.(*compactLockCfTask)
	if !ok {
		return
	}
	peer := s.getPeer(task.regionID)
	if peer == nil {
		return
	}
	region := peer.Region()

	reader := engine_util.NewBadgerReader(s.engines.Kv)
	var size uint64
	it := reader.IterCF(engine_util.CfLock)
	for it.Seek(region.StartKey); it.Valid(); it.Next() {
		item := it.Item()
		if len(region.EndKey) > 0 && bytes.Compare(item.Key(), region.EndKey) >= 0 {
			break
		}
		size += uint64(item.ValueSize())
	}
	it.Close()
	reader.Close()

	if size < s.cfg.LockCfCompactBytesThreshold {
		return
	}
	if err := s.engines.Kv.RunValueLogGC(0.5); err != nil {
		log.Debug(fmt.Sprintf("region %d lock-cf compaction found nothing to reclaim: %v", task.regionID, err))
	}
}

// sendStoreHeartbeat reports this store's disk usage to PD, the same
// gopsutil-backed stats the teacher's onStoreHeartbeat collects.
func (s *Store) sendStoreHeartbeat() {
	s.mu.Lock()
	n := len(s.peers)
	s.mu.Unlock()

	stats := &pdpb.StoreStats{StoreId: s.id, IsBusy: false}
	if usage, err := disk.Usage(s.engines.KvPath); err == nil {
		stats.Capacity = usage.Total
		stats.UsedSize = usage.Used
		stats.Available = usage.Free
	} else {
		log.Warn(fmt.Sprintf("store %d failed to read disk usage for %s: %v", s.id, s.engines.KvPath, err))
	}

	req := &pdpb.StoreHeartbeatRequest{Stats: stats}
	if err := s.pdClient.StoreHeartbeat(req); err != nil {
		log.Warn(fmt.Sprintf("store %d heartbeat failed: %v", s.id, err))
	}
	log.Debug(fmt.Sprintf("store %d reporting %d regions", s.id, n))
}

// regionHasher folds a region's CF rows into a single digest for the
// ComputeHash/VerifyHash admin commands; crc64 is a plain consistency
// checksum, not a protocol or storage format, so the standard library's
// implementation is used directly rather than pulling in a dedicated hash
// library (spec.md's consistency check only needs a stable order-sensitive
// digest, not a cryptographic or distribution-quality one).
type regionHasher struct {
	h uint64
}

var crc64Table = crc64.MakeTable(crc64.ISO)

func newRegionHasher() *regionHasher { return &regionHasher{} }

func (h *regionHasher) add(key, value []byte) {
	h.h = crc64.Update(h.h, crc64Table, key)
	h.h = crc64.Update(h.h, crc64Table, value)
}

func (h *regionHasher) sum() uint64 { return h.h }
