// Package meta implements the Raft-replicated cluster state machine:
// node/shard/segment/MQTT-resource commands applied to the KV store,
// cache-invalidation broadcast to registered targets, and
// the two leader-only placement functions (share-sub-group leader
// assignment, segment replica placement).
package meta

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/pkg/log"
	"github.com/robustmq/robustmq/pkg/metrics"
	"github.com/robustmq/robustmq/pkg/rmqerr"
)

// Config holds configuration for creating a Node.
type Config struct {
	NodeID   uint64
	Cluster  string
	BindAddr string
	DataDir  string
}

// Node is one meta-service cluster member: a Raft participant wrapping
// the replicated state machine and its cache-invalidation broadcaster.
type Node struct {
	cfg Config

	raft        *raft.Raft
	fsm         *FSM
	store       *kv.Store
	broadcaster *Broadcaster
}

// New creates a meta Node, opening its KV store and constructing the FSM,
// but does not start Raft — call Bootstrap or Join next.
func New(cfg Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := kv.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}

	broadcaster := NewBroadcaster()
	fsm := NewFSM(store, broadcaster)

	return &Node{
		cfg:         cfg,
		fsm:         fsm,
		store:       store,
		broadcaster: broadcaster,
	}, nil
}

func raftConfig(nodeID uint64) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(fmt.Sprintf("%d", nodeID))

	// Tuned for LAN/edge deployments rather than Hashicorp's WAN-conservative
	// defaults, to keep leader failover well under the cluster's heartbeat
	// interval.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (n *Node) newRaft() (*raft.Raft, error) {
	config := raftConfig(n.cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", n.cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(n.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(n.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(n.cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(n.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(config, n.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}
	return r, nil
}

// Bootstrap initializes a brand-new single-node Raft cluster and starts
// the cache-invalidation broadcaster.
func (n *Node) Bootstrap() error {
	r, err := n.newRaft()
	if err != nil {
		return err
	}
	n.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(fmt.Sprintf("%d", n.cfg.NodeID)), Address: raft.ServerAddress(n.cfg.BindAddr)},
		},
	}
	future := n.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}

	n.broadcaster.Start()
	log.WithNode(n.cfg.NodeID).Info().Msg("meta node bootstrapped")
	return nil
}

// Join starts Raft for this node without bootstrapping a configuration;
// the caller is expected to already be added as a voter by the leader
// (via AddVoter on the leader's Node, reached over internal/client).
func (n *Node) Join() error {
	r, err := n.newRaft()
	if err != nil {
		return err
	}
	n.raft = r
	n.broadcaster.Start()
	log.WithNode(n.cfg.NodeID).Info().Msg("meta node joined cluster")
	return nil
}

// AddVoter adds a new node to the Raft cluster. Must be called on the
// current leader.
func (n *Node) AddVoter(nodeID uint64, address string) error {
	if n.raft == nil {
		return rmqerr.New(rmqerr.KindNotLeader, "raft not initialized")
	}
	if !n.IsLeader() {
		return rmqerr.New(rmqerr.KindNotLeader, "add voter must run on the leader").WithHint(n.LeaderAddr())
	}

	future := n.raft.AddVoter(raft.ServerID(fmt.Sprintf("%d", nodeID)), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a node from the Raft cluster and releases any
// share-sub-group leader assignments it held.
func (n *Node) RemoveServer(nodeID uint64) error {
	if n.raft == nil {
		return rmqerr.New(rmqerr.KindNotLeader, "raft not initialized")
	}
	if !n.IsLeader() {
		return rmqerr.New(rmqerr.KindNotLeader, "remove server must run on the leader").WithHint(n.LeaderAddr())
	}

	future := n.raft.RemoveServer(raft.ServerID(fmt.Sprintf("%d", nodeID)), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("remove server: %w", err)
	}

	return n.fsm.placement.ReleaseNode(n.cfg.Cluster, nodeID)
}

// GetClusterServers returns the Raft configuration's server list.
func (n *Node) GetClusterServers() ([]raft.Server, error) {
	if n.raft == nil {
		return nil, rmqerr.New(rmqerr.KindNotLeader, "raft not initialized")
	}
	future := n.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (n *Node) IsLeader() bool {
	return n.raft != nil && n.raft.State() == raft.Leader
}

// LeaderAddr returns the current Raft leader's transport address.
func (n *Node) LeaderAddr() string {
	if n.raft == nil {
		return ""
	}
	return string(n.raft.Leader())
}

// Stats reports a snapshot of Raft health for metrics/readiness.
type Stats struct {
	State         string
	LastLogIndex  uint64
	AppliedIndex  uint64
	Leader        string
	Peers         uint64
}

func (n *Node) Stats() Stats {
	if n.raft == nil {
		return Stats{}
	}
	s := Stats{
		State:        n.raft.State().String(),
		LastLogIndex: n.raft.LastIndex(),
		AppliedIndex: n.raft.AppliedIndex(),
		Leader:       string(n.raft.Leader()),
	}
	if cf := n.raft.GetConfiguration(); cf.Error() == nil {
		s.Peers = uint64(len(cf.Configuration().Servers))
	}
	metrics.RaftLogIndex.Set(float64(s.LastLogIndex))
	metrics.RaftAppliedIndex.Set(float64(s.AppliedIndex))
	metrics.RaftPeers.Set(float64(s.Peers))
	if n.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}
	return s
}

// Apply submits a Command to the Raft log and waits for it to commit,
// returning the domain error (if any) the FSM's apply path produced.
func (n *Node) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if n.raft == nil {
		return rmqerr.New(rmqerr.KindNotLeader, "raft not initialized")
	}
	if !n.IsLeader() {
		return rmqerr.New(rmqerr.KindNotLeader, "apply must run on the leader").WithHint(n.LeaderAddr())
	}

	data, err := cmd.Encode()
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	future := n.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return rmqerr.Wrap(rmqerr.KindRaftLogCommitTimeout, err, "raft apply did not commit")
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// Broadcaster exposes the node's cache-invalidation broadcaster, on
// which targets are registered and unregistered.
func (n *Node) Broadcaster() *Broadcaster {
	return n.broadcaster
}

// Store exposes the node's KV store for direct reads by the RPC layer's
// List/Get handlers, which read the local cache rather than going
// through Raft.
func (n *Node) Store() *kv.Store {
	return n.store
}

// Placement exposes the leader-only placement functions.
func (n *Node) Placement() *PlacementFunctions {
	return n.fsm.placement
}

// Shutdown stops the broadcaster, shuts down Raft, and closes the store.
func (n *Node) Shutdown() error {
	n.broadcaster.Stop()

	if n.raft != nil {
		if err := n.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			return fmt.Errorf("close kv store: %w", err)
		}
	}
	return nil
}
