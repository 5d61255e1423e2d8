package controller

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/nodequorum/controld/pkg/metrics"
	"github.com/nodequorum/controld/pkg/types"
)

// noopFSM is the Raft FSM this election group runs. Raft here decides DC
// leadership only; it never replicates cluster state (the CIB owns
// that), so Apply/Snapshot/Restore have nothing to do.
type noopFSM struct{}

func (noopFSM) Apply(*raft.Log) interface{}         { return nil }
func (noopFSM) Snapshot() (raft.FSMSnapshot, error) { return noopSnapshot{}, nil }
func (noopFSM) Restore(rc io.ReadCloser) error      { return rc.Close() }

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}

// ElectionConfig configures one node's participation in the DC election
// group. Timeout is both the Raft election and heartbeat timeout (and,
// halved, its leader lease timeout); a zero Timeout uses the
// fast-failover default.
type ElectionConfig struct {
	NodeID   string
	BindAddr string
	DataDir  string
	Timeout  time.Duration
}

// defaultElectionTimeout matches cuemby-warren's own Raft group's
// failover target of under 10s on a LAN.
const defaultElectionTimeout = 500 * time.Millisecond

// Election wraps a Raft group whose only purpose is deciding which node
// is DC. Leadership changes are observed and translated into the FSM's
// own I_ELECTION_DC/I_RELEASE_DC inputs, posted to a Context, rather
// than handled by callers reading Raft state directly.
type Election struct {
	raft     *raft.Raft
	observer *raft.Observer
	obsCh    chan raft.Observation
	stopCh   chan struct{}
}

// NewElection brings up a single-node Raft group tuned for fast
// failover by default, overridable per cfg.Timeout for WAN deployments.
func NewElection(cfg ElectionConfig) (*Election, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("election: create data dir: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultElectionTimeout
	}

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(cfg.NodeID)
	config.HeartbeatTimeout = timeout
	config.ElectionTimeout = timeout
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = timeout / 2

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("election: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("election: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("election: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "election-log.db"))
	if err != nil {
		return nil, fmt.Errorf("election: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "election-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("election: create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, noopFSM{}, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("election: create raft: %w", err)
	}

	e := &Election{raft: r, stopCh: make(chan struct{})}
	e.obsCh = make(chan raft.Observation, 8)
	e.observer = raft.NewObserver(e.obsCh, true, nil)
	r.RegisterObserver(e.observer)
	return e, nil
}

// Bootstrap forms a single-node cluster with cfg's node as the only
// voter, for the first node up. Joiners call AddVoter on the DC instead.
func (e *Election) Bootstrap(cfg ElectionConfig) error {
	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(cfg.NodeID), Address: raft.ServerAddress(cfg.BindAddr)},
		},
	}
	return e.raft.BootstrapCluster(configuration).Error()
}

// AddVoter admits a joining node into the election group. Only the
// current DC can do this, matching Raft's single-writer membership rule.
func (e *Election) AddVoter(nodeID, addr string) error {
	return e.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second).Error()
}

// IsDC reports whether this node currently holds the DC role.
func (e *Election) IsDC() bool {
	return e.raft.State() == raft.Leader
}

// Watch drives leadership-change observations into ctx's input queue
// until Stop is called. Run this in its own goroutine.
func (e *Election) Watch(ctx *Context) {
	for {
		select {
		case <-e.obsCh:
			e.reportLeadership(ctx)
		case <-e.stopCh:
			return
		}
	}
}

func (e *Election) reportLeadership(ctx *Context) {
	isDC := e.IsDC()
	if isDC {
		metrics.RaftLeader.Set(1)
		ctx.Post(InputEvent{Input: types.InputElectionDC, Reason: "raft leadership acquired"})
	} else {
		metrics.RaftLeader.Set(0)
		ctx.Post(InputEvent{Input: types.InputReleaseDC, Reason: "raft leadership lost"})
	}
}

// Stop ends the election group's leadership-change watch and shuts down
// the Raft instance.
func (e *Election) Stop() {
	close(e.stopCh)
	e.raft.DeregisterObserver(e.observer)
	e.raft.Shutdown()
}

// ReportStats pushes the current log index, applied index, and peer
// count into the Raft gauges. These don't have a natural edge to
// observe the way leadership changes do, so the metrics collector
// calls this on a timer instead.
func (e *Election) ReportStats() {
	stats := e.raft.Stats()
	metrics.RaftLogIndex.Set(float64(e.raft.LastIndex()))
	metrics.RaftAppliedIndex.Set(float64(e.raft.AppliedIndex()))
	if n, err := strconv.Atoi(stats["num_peers"]); err == nil {
		metrics.RaftPeers.Set(float64(n + 1))
	}
}

// Probe reports DC-election health for the metrics collector: degraded
// whenever the Raft group has no leader at all.
func (e *Election) Probe() (bool, string) {
	if e.raft.Leader() == "" {
		return false, "no raft leader"
	}
	return true, "raft group has a leader"
}
