// Command tinykv brings up a single raftstore node: it opens the pair of
// Badger engines spec.md §4.2 describes, wires them into a Store against a
// deterministic in-memory PD mock (a real PD client speaks gRPC, which is
// out of scope per spec.md §1), and runs the store's event loop until
// interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Connor1996/badger"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"

	"github.com/tinykv-io/tinykv/config"
	"github.com/tinykv-io/tinykv/engine_util"
	"github.com/tinykv-io/tinykv/pd"
	"github.com/tinykv-io/tinykv/proto/pkg/raft_serverpb"
	"github.com/tinykv-io/tinykv/raftstore"
	"github.com/tinykv-io/tinykv/raftstore/snap"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tinykv: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tinykv-server",
	Short: "tinykv-server runs a single raftstore node",
	Long: `tinykv-server hosts one store's worth of Raft-replicated regions:
the log/apply pipeline, the background GC and consistency-check workers,
and a store-heartbeat loop against a placement driver.`,
	RunE: runServer,
}

func init() {
	rootCmd.Flags().Uint64("store-id", 1, "this node's store id")
	rootCmd.Flags().Uint64("cluster-id", 1, "cluster id reported to the placement driver")
	rootCmd.Flags().String("data-dir", "./tinykv-data", "directory holding the kv and raft engines")
	rootCmd.Flags().String("config", "", "path to a TOML config file, overlaid onto the defaults")
	rootCmd.Flags().String("addr", "127.0.0.1:20160", "this store's advertised address")
}

func runServer(cmd *cobra.Command, args []string) error {
	storeID, _ := cmd.Flags().GetUint64("store-id")
	clusterID, _ := cmd.Flags().GetUint64("cluster-id")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	configPath, _ := cmd.Flags().GetString("config")
	addr, _ := cmd.Flags().GetString("addr")

	cfg := config.NewDefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	cfg.StoreAddr = addr
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	engines, err := openEngines(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open engines: %w", err)
	}
	defer engines.Close()

	snapPath := filepath.Join(dataDir, "snap")
	if err := os.MkdirAll(snapPath, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	snapMgr := snap.NewManager()

	pdClient := pd.NewMockClient(clusterID)

	store := raftstore.NewStore(storeID, cfg, engines, &loopbackTransport{}, pdClient, snapMgr)

	if err := store.LoadPeers(); err != nil {
		return fmt.Errorf("failed to load peers: %w", err)
	}
	if store.PeerCount() == 0 {
		log.Info(fmt.Sprintf("store %d has no regions, bootstrapping", storeID))
		if err := store.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap store: %w", err)
		}
		if err := store.LoadPeers(); err != nil {
			return fmt.Errorf("failed to load peers after bootstrap: %w", err)
		}
	}

	store.Run()
	log.Info(fmt.Sprintf("store %d running, serving %d region(s) at %s", storeID, store.PeerCount(), addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info(fmt.Sprintf("store %d shutting down", storeID))
	store.Stop()
	return nil
}

// openEngines opens the kv and raft Badger databases under dataDir,
// matching spec.md §4.2's two-engine split: one holds region/apply/user
// state, the other holds the raft log.
func openEngines(dataDir string) (*engine_util.Engines, error) {
	kvPath := filepath.Join(dataDir, "kv")
	raftPath := filepath.Join(dataDir, "raft")
	if err := os.MkdirAll(kvPath, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(raftPath, 0755); err != nil {
		return nil, err
	}

	kvOpts := badger.DefaultOptions
	kvOpts.Dir = kvPath
	kvOpts.ValueDir = kvPath
	kvDB, err := badger.Open(kvOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv engine: %w", err)
	}

	raftOpts := badger.DefaultOptions
	raftOpts.Dir = raftPath
	raftOpts.ValueDir = raftPath
	raftDB, err := badger.Open(raftOpts)
	if err != nil {
		kvDB.Close()
		return nil, fmt.Errorf("failed to open raft engine: %w", err)
	}

	return engine_util.NewEngines(kvDB, raftDB, kvPath, raftPath), nil
}

// loopbackTransport is the Transport spec.md §6 carves out as an interface
// only: a single-node store never has another peer to send to, so every
// message is simply logged and dropped rather than placed on a real
// network socket.
type loopbackTransport struct{}

func (t *loopbackTransport) Send(msg *raft_serverpb.RaftMessage) error {
	log.Debug(fmt.Sprintf("loopback transport dropping message for region %d, no peer store reachable", msg.RegionId))
	return nil
}
