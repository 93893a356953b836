// Package meta builds and parses the local-scope keys LogStorage and Store
// persist region and Raft bookkeeping under, and the accessors that read
// and write the records at those keys through engine_util.
package meta

import (
	"encoding/binary"

	"github.com/tinykv-io/tinykv/engine_util"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_serverpb"
)

// Key scope prefixes. LocalPrefix keeps all raftstore bookkeeping out of
// the user keyspace entirely; DataPrefix namespaces user rows under it so
// the two can share a single default CF without colliding.
var (
	LocalPrefix  = []byte{0x01}
	RegionRaft   = []byte{0x02}
	RegionMeta   = []byte{0x03}
	DataPrefix   = []byte{0x04}
)

const (
	raftStateSuffix   = 0x01
	raftLogSuffix     = 0x02
	applyStateSuffix  = 0x03
	snapshotRaftState = 0x04
)

func makePrefix(prefix []byte, regionId uint64, suffix byte) []byte {
	key := make([]byte, 0, len(prefix)+1+8+1)
	key = append(key, prefix...)
	key = append(key, RegionRaft...)
	key = append(key, encodeUint64(regionId)...)
	key = append(key, suffix)
	return key
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// RaftStateKey -> RaftLocalState (raft backend).
func RaftStateKey(regionId uint64) []byte {
	return makePrefix(LocalPrefix, regionId, raftStateSuffix)
}

// RaftLogKey -> Entry (raft backend), one per log index.
func RaftLogKey(regionId, index uint64) []byte {
	key := make([]byte, 0, 1+1+8+1+8)
	key = append(key, LocalPrefix...)
	key = append(key, RegionRaft...)
	key = append(key, encodeUint64(regionId)...)
	key = append(key, raftLogSuffix)
	key = append(key, encodeUint64(index)...)
	return key
}

// RaftLogFirstKey / RaftLogLastKey bound the range of log entry keys for a
// region, used by range-scans during log GC and snapshot recovery.
func RaftLogFirstKey(regionId uint64) []byte { return RaftLogKey(regionId, 0) }
func RaftLogLastKey(regionId uint64) []byte  { return RaftLogKey(regionId, ^uint64(0)) }

// RegionStateKey -> RegionLocalState (data backend, raft CF).
func RegionStateKey(regionId uint64) []byte {
	key := make([]byte, 0, 1+1+8+1)
	key = append(key, LocalPrefix...)
	key = append(key, RegionMeta...)
	key = append(key, encodeUint64(regionId)...)
	key = append(key, 0x01)
	return key
}

// ApplyStateKey -> RaftApplyState (data backend, raft CF).
func ApplyStateKey(regionId uint64) []byte {
	return makePrefix(LocalPrefix, regionId, applyStateSuffix)
}

// SnapshotRaftStateKey -> a mirror of RaftLocalState taken when a
// snapshot is generated, so snapshot application can detect whether the
// receiving peer's log has since diverged.
func SnapshotRaftStateKey(regionId uint64) []byte {
	return makePrefix(LocalPrefix, regionId, snapshotRaftState)
}

// DataKey prefixes a user key into the shared default-CF keyspace.
func DataKey(userKey []byte) []byte {
	key := make([]byte, 0, len(DataPrefix)+len(userKey))
	key = append(key, DataPrefix...)
	key = append(key, userKey...)
	return key
}

func GetRaftLocalState(engines *engine_util.Engines, regionId uint64) (*raft_serverpb.RaftLocalState, error) {
	val, err := engine_util.GetMeta(engines.Raft, RaftStateKey(regionId))
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, nil
	}
	state := new(raft_serverpb.RaftLocalState)
	if err := state.Unmarshal(val); err != nil {
		return nil, err
	}
	return state, nil
}

func GetApplyState(engines *engine_util.Engines, regionId uint64) (*raft_serverpb.RaftApplyState, error) {
	val, err := engine_util.GetCF(engines.Kv, engine_util.CfRaft, ApplyStateKey(regionId))
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, nil
	}
	state := new(raft_serverpb.RaftApplyState)
	if err := state.Unmarshal(val); err != nil {
		return nil, err
	}
	return state, nil
}

func GetRegionLocalState(engines *engine_util.Engines, regionId uint64) (*raft_serverpb.RegionLocalState, error) {
	val, err := engine_util.GetCF(engines.Kv, engine_util.CfRaft, RegionStateKey(regionId))
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, nil
	}
	state := new(raft_serverpb.RegionLocalState)
	if err := state.Unmarshal(val); err != nil {
		return nil, err
	}
	return state, nil
}

func WriteRegionState(wb *engine_util.WriteBatch, regionId uint64, state *raft_serverpb.RegionLocalState) error {
	val, err := state.Marshal()
	if err != nil {
		return err
	}
	wb.SetCF(engine_util.CfRaft, RegionStateKey(regionId), val)
	return nil
}

func WriteApplyState(wb *engine_util.WriteBatch, regionId uint64, state *raft_serverpb.RaftApplyState) error {
	val, err := state.Marshal()
	if err != nil {
		return err
	}
	wb.SetCF(engine_util.CfRaft, ApplyStateKey(regionId), val)
	return nil
}

// WriteRaftState writes to the raft backend's default keyspace (no CF
// prefix): the raft backend holds nothing but LogStorage's own records, so
// there is no column family to disambiguate against.
func WriteRaftState(wb *engine_util.WriteBatch, regionId uint64, state *raft_serverpb.RaftLocalState) error {
	return wb.SetMeta(RaftStateKey(regionId), state)
}
