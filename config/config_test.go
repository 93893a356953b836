package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfigValidates(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 10, cfg.RaftElectionTimeoutTicks)
	require.Equal(t, 2, cfg.RaftHeartbeatTicks)
}

func TestValidateRejectsBadTickRatio(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.RaftHeartbeatTicks = 0
	require.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.RaftElectionTimeoutTicks = cfg.RaftHeartbeatTicks
	require.Error(t, cfg.Validate())
}

func TestLoadFromFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tinykv.toml")
	contents := `
store-addr = "10.0.0.1:20160"
raft-heartbeat-ticks = 3
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:20160", cfg.StoreAddr)
	require.Equal(t, 3, cfg.RaftHeartbeatTicks)
	// Untouched fields keep their defaults.
	require.Equal(t, 144*1024*1024, int(cfg.RegionMaxSize))
	require.Equal(t, 9*time.Second, cfg.RaftStoreMaxLeaderLease)
}

func TestLoadFromFileMissingPath(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
