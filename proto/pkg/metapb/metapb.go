// Package metapb describes cluster topology: stores, regions and peers.
package metapb

import "encoding/json"

type Peer struct {
	Id      uint64 `json:"id"`
	StoreId uint64 `json:"store_id"`
}

func (p *Peer) GetId() uint64      { return p.Id }
func (p *Peer) GetStoreId() uint64 { return p.StoreId }

func (p *Peer) Marshal() ([]byte, error)    { return json.Marshal(p) }
func (p *Peer) Unmarshal(data []byte) error { return json.Unmarshal(data, p) }

type RegionEpoch struct {
	ConfVer uint64 `json:"conf_ver"`
	Version uint64 `json:"version"`
}

func (e *RegionEpoch) GetConfVer() uint64 { return e.ConfVer }
func (e *RegionEpoch) GetVersion() uint64 { return e.Version }

type Region struct {
	Id          uint64       `json:"id"`
	StartKey    []byte       `json:"start_key"`
	EndKey      []byte       `json:"end_key"`
	RegionEpoch *RegionEpoch `json:"region_epoch"`
	Peers       []*Peer      `json:"peers"`
}

func (r *Region) GetId() uint64             { return r.Id }
func (r *Region) GetPeers() []*Peer         { return r.Peers }
func (r *Region) GetRegionEpoch() *RegionEpoch { return r.RegionEpoch }
func (r *Region) GetStartKey() []byte       { return r.StartKey }
func (r *Region) GetEndKey() []byte         { return r.EndKey }

func (r *Region) Marshal() ([]byte, error)    { return json.Marshal(r) }
func (r *Region) Unmarshal(data []byte) error { return json.Unmarshal(data, r) }

// Clone returns a deep copy, used wherever the apply pipeline needs to
// mutate a region descriptor without aliasing the peer's current one.
func (r *Region) Clone() *Region {
	out := &Region{
		Id:       r.Id,
		StartKey: append([]byte{}, r.StartKey...),
		EndKey:   append([]byte{}, r.EndKey...),
	}
	if r.RegionEpoch != nil {
		epoch := *r.RegionEpoch
		out.RegionEpoch = &epoch
	}
	for _, p := range r.Peers {
		peer := *p
		out.Peers = append(out.Peers, &peer)
	}
	return out
}

type StoreState int32

const (
	StoreState_Up StoreState = iota
	StoreState_Offline
	StoreState_Tombstone
)

type Store struct {
	Id      uint64     `json:"id"`
	Address string     `json:"address"`
	State   StoreState `json:"state"`
}

func (s *Store) Marshal() ([]byte, error)    { return json.Marshal(s) }
func (s *Store) Unmarshal(data []byte) error { return json.Unmarshal(data, s) }
