// Package types holds the data model shared across the consensus module agent:
// cluster sessions, cluster members, timer entries and the recovery plan built
// from the recording log at startup.
package types

import "time"

// SessionState is the state of a ClusterSession.
type SessionState int

const (
	SessionInit SessionState = iota
	SessionConnected
	SessionChallenged
	SessionAuthenticated
	SessionOpen
	SessionRejected
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionInit:
		return "INIT"
	case SessionConnected:
		return "CONNECTED"
	case SessionChallenged:
		return "CHALLENGED"
	case SessionAuthenticated:
		return "AUTHENTICATED"
	case SessionOpen:
		return "OPEN"
	case SessionRejected:
		return "REJECTED"
	case SessionClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// CloseReason explains why a ClusterSession was closed.
type CloseReason int

const (
	CloseNone CloseReason = iota
	CloseClientAction
	CloseServiceAction
	CloseTimeout
)

func (r CloseReason) String() string {
	switch r {
	case CloseClientAction:
		return "CLIENT_ACTION"
	case CloseServiceAction:
		return "SERVICE_ACTION"
	case CloseTimeout:
		return "TIMEOUT"
	default:
		return "NONE"
	}
}

// ClusterSession is a client (or backup) session admitted by the leader.
//
// Invariants: a session reaches OPEN only after a SessionOpen entry appears at
// a known log position; once CLOSED no further entries reference its id except
// the committing close.
type ClusterSession struct {
	ID                      int64
	ResponseStreamID        int32
	ResponseChannel         string
	CorrelationID           int64
	State                   SessionState
	OpenedLogPosition       int64
	ClosedLogPosition       int64
	TimeOfLastActivityNs    int64
	CloseReason             CloseReason
	HasNewLeaderEventPending bool
	IsBackupSession         bool
}

// Clone returns a deep copy suitable for uncommitted rollback bookkeeping.
func (s *ClusterSession) Clone() *ClusterSession {
	clone := *s
	return &clone
}

// ClusterMember is one voting (or passive) member of the cluster.
type ClusterMember struct {
	ID                          int32
	ClientEndpoint              string
	MemberEndpoint              string
	TransferEndpoint            string
	LogEndpoint                 string
	LogPosition                 int64
	TimeOfLastAppendPositionNs  int64
	CatchupReplaySessionID      int64
	CatchupReplayCorrelationID  int64
	RemovalPosition             int64
	IsLeader                    bool
	HasRequestedJoin            bool
	HasRequestedRemove          bool
	HasTerminated               bool
}

// TimerEntry is a single scheduled timer keyed by correlation id.
type TimerEntry struct {
	CorrelationID int64
	Deadline      int64
}

// SentinelNotAppended marks a PendingServiceMessage timestamp slot that has not
// yet been assigned a log-append position.
const SentinelNotAppended = int64(1<<63 - 1) // I64_MAX

// ServiceSessionIDBase is the first id in the reserved service-session-id
// range (I64_MIN + 1); ids are allocated monotonically upward from here.
const ServiceSessionIDBase = int64(-1<<63 + 1)

// PendingServiceMessage is a service-originated command awaiting log append.
type PendingServiceMessage struct {
	ServiceSessionID int64
	Timestamp        int64 // sentinel SentinelNotAppended until appended, then the append position
	Payload          []byte
}

// RecoveryPlan is the result of replaying the RecordingLog at startup: one
// snapshot per service id plus one for the module, and the log segment (if
// any) to replay forward from.
type RecoveryPlan struct {
	Snapshots             []SnapshotEntry
	Log                   *LogRecoveryInfo
	LastLeadershipTermID  int64
	AppendedLogPosition   int64
}

// LogRecoveryInfo describes the log segment to be replayed during recovery.
type LogRecoveryInfo struct {
	RecordingID        int64
	InitialTermID       int64
	TermBaseLogPosition int64
	StartPosition       int64
	StopPosition        int64
	SessionID           int64
}

// RecordKind tags a RecordingLog entry.
type RecordKind int

const (
	RecordTerm RecordKind = iota
	RecordSnapshot
)

// ModuleServiceID is the sentinel service id used for the consensus module's
// own snapshot entry (as opposed to a hosted service's).
const ModuleServiceID = int32(-1)

// TermEntry records one leadership term in the RecordingLog.
type TermEntry struct {
	LeadershipTermID    int64
	TermBaseLogPosition int64
	LogPosition         int64
	Timestamp           time.Time
	RecordingID         int64
}

// SnapshotEntry records one snapshot (per service id, plus the module) in the
// RecordingLog.
type SnapshotEntry struct {
	LeadershipTermID    int64
	TermBaseLogPosition int64
	LogPosition         int64
	Timestamp           time.Time
	ServiceID           int32
	RecordingID         int64
}
