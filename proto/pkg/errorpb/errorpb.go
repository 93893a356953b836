// Package errorpb carries the region-routing error envelope returned to
// clients so they know how to retry (NotLeader, region gone, stale epoch...).
package errorpb

import (
	"encoding/json"

	"github.com/tinykv-io/tinykv/proto/pkg/metapb"
)

type NotLeader struct {
	RegionId    uint64       `json:"region_id"`
	Leader      *metapb.Peer `json:"leader,omitempty"`
}

type RegionNotFound struct {
	RegionId uint64 `json:"region_id"`
}

type KeyNotInRegion struct {
	Key      []byte         `json:"key"`
	RegionId uint64         `json:"region_id"`
	StartKey []byte         `json:"start_key"`
	EndKey   []byte         `json:"end_key"`
}

type StaleEpoch struct {
	NewRegions []*metapb.Region `json:"new_regions"`
}

type StaleCommand struct{}

type ServerIsBusy struct {
	Reason string `json:"reason"`
}

type RaftEntryTooLarge struct {
	RegionId  uint64 `json:"region_id"`
	EntrySize uint64 `json:"entry_size"`
}

// Error is the union of region-level errors the raftstore can report; only
// one field is populated at a time, mirroring the teacher's oneof-by-struct
// convention for hand-written protobuf-shaped messages.
type Error struct {
	Message           string             `json:"message,omitempty"`
	NotLeader         *NotLeader         `json:"not_leader,omitempty"`
	RegionNotFound    *RegionNotFound    `json:"region_not_found,omitempty"`
	KeyNotInRegion    *KeyNotInRegion    `json:"key_not_in_region,omitempty"`
	StaleEpoch        *StaleEpoch        `json:"stale_epoch,omitempty"`
	StaleCommand      *StaleCommand      `json:"stale_command,omitempty"`
	ServerIsBusy      *ServerIsBusy      `json:"server_is_busy,omitempty"`
	RaftEntryTooLarge *RaftEntryTooLarge `json:"raft_entry_too_large,omitempty"`
}

func (e *Error) Marshal() ([]byte, error)    { return json.Marshal(e) }
func (e *Error) Unmarshal(data []byte) error { return json.Unmarshal(data, e) }
