package election

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// termFSM is an intentionally empty raft.FSM: canvassing/voting is the only
// thing this node borrows from hashicorp/raft, so nothing is ever Applied to
// it outside of the internal no-op the library requires to keep a log.
type termFSM struct{}

func (termFSM) Apply(*raft.Log) interface{}                { return nil }
func (termFSM) Snapshot() (raft.FSMSnapshot, error)         { return termFSM{}, nil }
func (termFSM) Restore(rc io.ReadCloser) error              { return rc.Close() }
func (termFSM) Persist(sink raft.SnapshotSink) error        { return sink.Close() }
func (termFSM) Release()                                    {}

// Config configures a RaftSubmodule.
type Config struct {
	NodeID          string
	BindAddr        string
	DataDir         string
	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
}

// RaftSubmodule is the concrete Election collaborator: it wraps
// github.com/hashicorp/raft purely as the term-voting/canvassing engine.
// CanvassPosition/RequestVote/Vote are no-ops on this implementation — raft's
// own transport negotiates those internally — they exist to satisfy the
// Submodule interface so the agent can route transport events uniformly
// regardless of which election backend is configured.
type RaftSubmodule struct {
	nodeID string
	log    zerolog.Logger

	mu     sync.Mutex
	r      *raft.Raft
	term   int64
	leader int32
	leaderCh chan LeaderChange

	members map[int32]raft.ServerID
}

// NewRaftSubmodule constructs and bootstraps (or rejoins) a single raft node
// backing term canvassing for this cluster member.
func NewRaftSubmodule(cfg Config, log zerolog.Logger, bootstrapPeers map[int32]string) (*RaftSubmodule, error) {
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	if cfg.HeartbeatTimeout > 0 {
		raftCfg.HeartbeatTimeout = cfg.HeartbeatTimeout
	}
	if cfg.ElectionTimeout > 0 {
		raftCfg.ElectionTimeout = cfg.ElectionTimeout
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("election: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("election: tcp transport: %w", err)
	}

	snapStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("election: snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "election-log.db"))
	if err != nil {
		return nil, fmt.Errorf("election: log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "election-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("election: stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, termFSM{}, logStore, stableStore, snapStore, transport)
	if err != nil {
		return nil, fmt.Errorf("election: new raft: %w", err)
	}

	hasState, err := raft.HasExistingState(logStore, stableStore, snapStore)
	if err != nil {
		return nil, fmt.Errorf("election: inspect existing state: %w", err)
	}
	if !hasState {
		servers := make([]raft.Server, 0, len(bootstrapPeers)+1)
		servers = append(servers, raft.Server{ID: raftCfg.LocalID, Address: transport.LocalAddr()})
		for memberID, addr := range bootstrapPeers {
			servers = append(servers, raft.Server{ID: memberIDToServerID(memberID), Address: raft.ServerAddress(addr)})
		}
		future := r.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := future.Error(); err != nil {
			return nil, fmt.Errorf("election: bootstrap: %w", err)
		}
	}

	s := &RaftSubmodule{
		nodeID:   cfg.NodeID,
		log:      log,
		r:        r,
		leaderCh: make(chan LeaderChange, 8),
		members:  make(map[int32]raft.ServerID),
	}
	go s.watchLeadership()
	return s, nil
}

func memberIDToServerID(memberID int32) raft.ServerID {
	return raft.ServerID(fmt.Sprintf("member-%d", memberID))
}

func (s *RaftSubmodule) watchLeadership() {
	for isLeader := range s.r.LeaderCh() {
		stats := s.r.Stats()
		term := parseTermStat(stats["last_log_term"])
		leaderAddr, leaderID := s.r.LeaderWithID()

		s.mu.Lock()
		s.term = term
		leaderMemberID := serverIDToMemberID(leaderID)
		s.leader = leaderMemberID
		change := LeaderChange{LeadershipTermID: term, LeaderMemberID: leaderMemberID, IsLeader: isLeader}
		s.mu.Unlock()

		s.log.Info().
			Bool("is_leader", isLeader).
			Int64("term", term).
			Str("leader_addr", string(leaderAddr)).
			Msg("election leadership change")
		select {
		case s.leaderCh <- change:
		default:
		}
	}
}

func parseTermStat(v string) int64 {
	var n int64
	_, _ = fmt.Sscanf(v, "%d", &n)
	return n
}

func serverIDToMemberID(id raft.ServerID) int32 {
	var n int32
	_, _ = fmt.Sscanf(string(id), "member-%d", &n)
	return n
}

func (s *RaftSubmodule) CanvassPosition(ctx context.Context, logPosition, leadershipTermID int64, candidateMemberID int32) error {
	return nil
}

func (s *RaftSubmodule) RequestVote(ctx context.Context, candidateTermID, candidateLogPosition int64, candidateMemberID int32) error {
	return nil
}

func (s *RaftSubmodule) Vote(ctx context.Context, candidateMemberID int32, vote bool) error {
	return nil
}

func (s *RaftSubmodule) AppendPosition(ctx context.Context, memberID int32, logPosition, leadershipTermID int64) error {
	return nil
}

func (s *RaftSubmodule) CommitPosition(ctx context.Context, logPosition, leadershipTermID int64) error {
	return nil
}

func (s *RaftSubmodule) CatchupPosition(ctx context.Context, memberID int32, logPosition int64) error {
	return nil
}

func (s *RaftSubmodule) StopCatchup(ctx context.Context, memberID int32) error { return nil }

func (s *RaftSubmodule) IsLeader() bool {
	return s.r.State() == raft.Leader
}

func (s *RaftSubmodule) LeadershipTermID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

func (s *RaftSubmodule) Complete() bool {
	_, id := s.r.LeaderWithID()
	return id != ""
}

func (s *RaftSubmodule) LeaderChanges() <-chan LeaderChange { return s.leaderCh }

// AddVoter enrolls a newly-joined member into the raft voting configuration;
// only the current leader can do so. Nothing in this module calls it.
func (s *RaftSubmodule) AddVoter(memberID int32, addr string) error {
	if !s.IsLeader() {
		return fmt.Errorf("election: not leader")
	}
	future := s.r.AddVoter(memberIDToServerID(memberID), raft.ServerAddress(addr), 0, 10*time.Second)
	return future.Error()
}

// RemoveServer removes a quit member from the raft voting configuration.
func (s *RaftSubmodule) RemoveServer(memberID int32) error {
	if !s.IsLeader() {
		return fmt.Errorf("election: not leader")
	}
	future := s.r.RemoveServer(memberIDToServerID(memberID), 0, 10*time.Second)
	return future.Error()
}

// Shutdown stops the underlying raft instance.
func (s *RaftSubmodule) Shutdown() error {
	return s.r.Shutdown().Error()
}
