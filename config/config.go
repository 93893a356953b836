// Package config holds the raftstore-wide tunables threaded into Store,
// Peer and the apply pipeline: tick intervals, GC thresholds, size
// limits. Loading itself (flags/env layering) is out of scope
// per spec.md §1; NewDefaultConfig and the TOML decode path below exist
// because the ambient-stack rule carries config machinery regardless.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// Config mirrors the teacher's kv/config.Config field set, trimmed to what
// the core raftstore/mvcc packages actually consult.
type Config struct {
	// StoreAddr is this node's advertised address, reported to PD.
	StoreAddr string `toml:"store-addr"`

	// Raft tuning.
	RaftBaseTickInterval       time.Duration `toml:"raft-base-tick-interval"`
	RaftHeartbeatTicks         int           `toml:"raft-heartbeat-ticks"`
	RaftElectionTimeoutTicks   int           `toml:"raft-election-timeout-ticks"`
	RaftLogGCTickInterval      time.Duration `toml:"raft-log-gc-tick-interval"`
	RaftLogGCThreshold         uint64        `toml:"raft-log-gc-threshold"`
	RaftLogGCCountLimit        uint64        `toml:"raft-log-gc-count-limit"`
	RaftLogGCSizeLimit         uint64        `toml:"raft-log-gc-size-limit"`
	RaftEntryMaxSize           uint64        `toml:"raft-entry-max-size"`
	SyncLog                    bool          `toml:"sync-log"`
	AllowRemoveLeader          bool          `toml:"allow-remove-leader"`

	// Leader lease.
	RaftStoreMaxLeaderLease time.Duration `toml:"raft-store-max-leader-lease"`

	// Split check.
	SplitRegionCheckTickInterval time.Duration `toml:"split-region-check-tick-interval"`
	RegionMaxSize                uint64        `toml:"region-max-size"`
	RegionSplitSize               uint64       `toml:"region-split-size"`

	// Compaction / lock-cf compaction.
	RegionCompactCheckInterval     time.Duration `toml:"region-compact-check-interval"`
	RegionCompactCheckStep         uint64        `toml:"region-compact-check-step"`
	RegionCompactMinTombstones     uint64        `toml:"region-compact-min-tombstones"`
	LockCfCompactInterval          time.Duration `toml:"lock-cf-compact-interval"`
	LockCfCompactBytesThreshold    uint64        `toml:"lock-cf-compact-bytes-threshold"`

	// Consistency check.
	ConsistencyCheckInterval time.Duration `toml:"consistency-check-interval"`

	// PD heartbeats.
	PdHeartbeatTickInterval      time.Duration `toml:"pd-heartbeat-tick-interval"`
	PdStoreHeartbeatTickInterval time.Duration `toml:"pd-store-heartbeat-tick-interval"`

	// Snapshot handling.
	SnapGCTimeout     time.Duration `toml:"snap-gc-timeout"`
	SnapMgrGCTickInterval time.Duration `toml:"snap-mgr-gc-tick-interval"`

	// Stale peer detection (spec.md §4.1 "Stale-state detection").
	MaxLeaderMissingDuration      time.Duration `toml:"max-leader-missing-duration"`
	AbnormalLeaderMissingDuration time.Duration `toml:"abnormal-leader-missing-duration"`

	// Apply pipeline.
	WriteBatchMaxKeys int `toml:"write-batch-max-keys"`

	// MVCC GC.
	GCRatioThreshold float64 `toml:"gc-ratio-threshold"`
}

// NewDefaultConfig returns the same defaults the teacher ships, scaled for
// a single-binary test deployment.
func NewDefaultConfig() *Config {
	return &Config{
		StoreAddr:                    "127.0.0.1:20160",
		RaftBaseTickInterval:         1 * time.Second,
		RaftHeartbeatTicks:           2,
		RaftElectionTimeoutTicks:     10,
		RaftLogGCTickInterval:        10 * time.Second,
		RaftLogGCThreshold:           50,
		RaftLogGCCountLimit:          48000,
		RaftLogGCSizeLimit:           72 * 1024 * 1024,
		RaftEntryMaxSize:             8 * 1024 * 1024,
		SyncLog:                     true,
		AllowRemoveLeader:            false,
		RaftStoreMaxLeaderLease:      9 * time.Second,
		SplitRegionCheckTickInterval: 10 * time.Second,
		RegionMaxSize:                144 * 1024 * 1024,
		RegionSplitSize:              96 * 1024 * 1024,
		RegionCompactCheckInterval:   5 * time.Minute,
		RegionCompactCheckStep:       100,
		RegionCompactMinTombstones:   10000,
		LockCfCompactInterval:        10 * time.Minute,
		LockCfCompactBytesThreshold:  256 * 1024 * 1024,
		ConsistencyCheckInterval:     60 * time.Second,
		PdHeartbeatTickInterval:      60 * time.Second,
		PdStoreHeartbeatTickInterval: 10 * time.Second,
		SnapGCTimeout:                4 * time.Hour,
		SnapMgrGCTickInterval:        1 * time.Minute,
		MaxLeaderMissingDuration:     2 * time.Minute,
		AbnormalLeaderMissingDuration: 10 * time.Minute,
		WriteBatchMaxKeys:            128,
		GCRatioThreshold:             1.1,
	}
}

// LoadFromFile decodes a TOML config on top of the defaults. Flag/env
// layering is explicitly out of scope; this is the one loading path the
// ambient stack still carries.
func LoadFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Annotatef(err, "failed to load config from %s", path)
	}
	return cfg, nil
}

// Validate rejects a few combinations that would make the raftstore
// non-functional, matching the teacher's fail-fast config check.
func (c *Config) Validate() error {
	if c.RaftHeartbeatTicks == 0 {
		return errors.New("raft-heartbeat-ticks must be greater than 0")
	}
	if c.RaftElectionTimeoutTicks <= c.RaftHeartbeatTicks {
		return errors.New("raft-election-timeout-ticks must be greater than raft-heartbeat-ticks")
	}
	return nil
}
