package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/concord/pkg/cerrors"
	"github.com/cuemby/concord/pkg/config"
	"github.com/cuemby/concord/pkg/dynamicjoin"
	"github.com/cuemby/concord/pkg/election"
	"github.com/cuemby/concord/pkg/idle"
	"github.com/cuemby/concord/pkg/logstream"
	"github.com/cuemby/concord/pkg/markfile"
	"github.com/cuemby/concord/pkg/membership"
	"github.com/cuemby/concord/pkg/metrics"
	"github.com/cuemby/concord/pkg/pending"
	"github.com/cuemby/concord/pkg/recording"
	"github.com/cuemby/concord/pkg/servicehost"
	"github.com/cuemby/concord/pkg/session"
	"github.com/cuemby/concord/pkg/snapshot"
	"github.com/cuemby/concord/pkg/timer"
	"github.com/cuemby/concord/pkg/transport"
	"github.com/cuemby/concord/pkg/types"
	"github.com/cuemby/concord/pkg/uncommitted"
)

// Deps bundles every external collaborator the agent is constructed with.
// The replicated log stream is not part of Deps: AttachLog wires it once a
// leadership term's log stream is known.
type Deps struct {
	Config       *config.Config
	Log          zerolog.Logger
	NodeID       int32
	RecordingLog *recording.Log
	Archive      recording.ArchiveClient
	Election     election.Submodule
	ServiceHost  *servicehost.Broker
	MarkWriter   *markfile.Writer
	Idle         idle.Strategy
	Hook         func() // host-provided termination hook, run once on entering CLOSED
}

// Agent is the single-threaded consensus module control component of one
// cluster node. Every exported method except Submit, SetControl and metrics
// reads must only ever be called from the goroutine driving DoWork.
type Agent struct {
	cfg *config.Config
	log zerolog.Logger

	nodeID int32
	state  ModuleState
	role   Role

	leadershipTermID    int64
	leaderMemberID      int32
	termBaseLogPosition int64

	sessions    *session.Registry
	wheel       *timer.Wheel
	pendingQ    *pending.Queue
	uncommitted *uncommitted.Ledger
	members     *membership.Set

	recordingLog *recording.Log
	archive      recording.ArchiveClient
	election     election.Submodule
	svcHost      *servicehost.Broker
	markWriter   *markfile.Writer
	idleStrategy idle.Strategy

	logPub             *logstream.Publisher
	logAdapter         *logstream.Adapter
	currentRecordingID int64

	appendPosition         int64
	commitPosition         int64
	notifiedCommitPosition int64
	logServiceSessionID    int64

	control   atomic.Int32
	inbox     *Inbox
	dynJoin   *dynamicjoin.Join
	joinPeers []int32
	joinQuery dynamicjoin.PeerQuery

	lastSlowTickNs        int64
	lastHeartbeatSentNs   int64
	lastHeartbeatRecvNs   int64

	snapshotTargetPosition int64 // 0 when no snapshot is in flight
	snapshotAcked          map[int32]bool
	terminationPosition    int64 // 0 when none set
	terminationReason      TerminationReason
	terminationAcked       map[int32]bool

	hook func()

	// counters incremented together with their prometheus metric as each event happens
	snapshotsTaken      int64
	timedOutClients     int64
	invalidRequests     int64
}

// New constructs an Agent in module state INIT. members seeds the initial
// MembershipSet — empty for a node that must dynamic-join, populated for a
// node bootstrapping (or recovering) a known cluster.
func New(deps Deps, members *membership.Set) *Agent {
	cfg := deps.Config
	a := &Agent{
		cfg:          cfg,
		log:          deps.Log,
		nodeID:       deps.NodeID,
		state:        StateInit,
		role:         RoleFollower,
		sessions:     session.New(cfg.MaxConcurrentSessions),
		wheel:        timer.NewWheel(cfg.WheelTickResolution, cfg.TicksPerWheel, 0),
		pendingQ:     pending.New(cfg.PendingQueueCapacity),
		uncommitted:  uncommitted.New(),
		members:      members,
		recordingLog: deps.RecordingLog,
		archive:      deps.Archive,
		election:     deps.Election,
		svcHost:      deps.ServiceHost,
		markWriter:   deps.MarkWriter,
		idleStrategy: deps.Idle,
		inbox:        NewInbox(1024),
		hook:             deps.Hook,
		snapshotAcked:    make(map[int32]bool),
		terminationAcked: make(map[int32]bool),
	}
	if a.idleStrategy == nil {
		a.idleStrategy = idle.DefaultBackoff()
	}
	return a
}

// Submit implements Sink: it enqueues ev for processing on the next tick,
// never blocking the caller.
func (a *Agent) Submit(ev IngressEvent) {
	if !a.inbox.push(ev) {
		a.invalidRequests++
		metrics.InvalidRequestCounter.Inc()
		a.log.Warn().Msg("ingress inbox full, dropping event")
	}
}

// State reports the current module state.
func (a *Agent) State() ModuleState { return a.state }

// Role reports the current cluster role.
func (a *Agent) Role() Role { return a.role }

// CommitPosition reports the highest committed log position.
func (a *Agent) CommitPosition() int64 { return a.commitPosition }

// LeadershipTermID reports the current term id.
func (a *Agent) LeadershipTermID() int64 { return a.leadershipTermID }

// SetControl sets the operator-facing control toggle (§6); safe to call
// from any goroutine.
func (a *Agent) SetControl(t ControlToggle) { a.control.Store(int32(t)) }

func (a *Agent) setState(s ModuleState) {
	if a.state == s {
		return
	}
	a.log.Info().Stringer("from", a.state).Stringer("to", s).Msg("module state transition")
	a.state = s
	metrics.ModuleState.Set(float64(s))
}

func (a *Agent) setRole(r Role) {
	if a.role == r {
		return
	}
	a.role = r
	metrics.ClusterRole.Set(float64(r))
}

// AttachLog wires the replicated log stream once a leadership term begins
// (either on recovery, or via election_complete).
func (a *Agent) AttachLog(pub transport.Publication, image transport.Image) {
	if pub != nil {
		a.logPub = logstream.NewPublisher(pub)
	}
	if image != nil {
		a.logAdapter = logstream.NewAdapter(image)
	}
}

// Recover runs the INIT-state recovery sequence: build the recovery plan
// from the RecordingLog, load the most recent snapshot (if any), and replay
// the log segment forward. Per §4.1, if the control toggle was already
// flipped to SUSPEND before recovery finishes, the agent enters SUSPENDED
// instead of ACTIVE.
func (a *Agent) Recover(ctx context.Context) error {
	plan, err := a.recordingLog.BuildRecoveryPlan()
	if err != nil {
		return cerrors.New(cerrors.ArchiveOperation, err)
	}

	a.leadershipTermID = plan.LastLeadershipTermID
	a.appendPosition = plan.AppendedLogPosition
	a.commitPosition = plan.AppendedLogPosition
	a.notifiedCommitPosition = plan.AppendedLogPosition

	if len(plan.Snapshots) > 0 {
		for _, entry := range plan.Snapshots {
			if entry.ServiceID != types.ModuleServiceID {
				continue
			}
			data, err := a.archive.Replay(ctx, entry.RecordingID, 0, 0)
			if err != nil {
				return cerrors.New(cerrors.ArchiveOperation, err)
			}
			img, err := snapshot.Decode(data)
			if err != nil {
				return cerrors.New(cerrors.ArchiveOperation, err)
			}
			sessions := snapshot.Load(img, a.members, a.wheel, a.pendingQ)
			for _, s := range sessions {
				a.sessions.SetNextSessionID(img.ModuleState.NextSessionID)
				if s.State == types.SessionOpen {
					a.sessions.Open(s.ID, s.OpenedLogPosition)
				}
			}
			a.logServiceSessionID = img.ModuleState.LogServiceSessionID
		}
	}

	if plan.Log != nil && a.logAdapter != nil {
		a.replayForward(plan.Log.StopPosition)
	}

	if ControlToggle(a.control.Load()) == ToggleSuspend {
		a.setState(StateSuspended)
	} else {
		a.setState(StateActive)
	}
	return nil
}

func (a *Agent) replayForward(stopPosition int64) {
	h := a.followerHandlers()
	for a.logAdapter.Position() < stopPosition {
		n := a.logAdapter.Poll(h, stopPosition, 64)
		if n == 0 {
			break
		}
	}
}

func nowNs() int64 { return time.Now().UnixNano() }
