// Package session implements the SessionRegistry of §4.2: the cluster
// session table, its pending/rejected/redirect queues, and the per-session
// state machine (INIT -> CONNECTED -> CHALLENGED -> AUTHENTICATED -> OPEN /
// REJECTED / CLOSED).
package session

import (
	"github.com/cuemby/concord/pkg/types"
)

// RejectReason explains a SessionRejected outcome.
type RejectReason int

const (
	RejectVersionMismatch RejectReason = iota
	RejectTooManySessions
	RejectAuthenticationDenied
)

// PendingEntry is a session still going through the authenticator handshake.
type PendingEntry struct {
	Session *types.ClusterSession
}

// Registry holds every cluster session known to this node.
type Registry struct {
	byID map[int64]*types.ClusterSession

	pending  []PendingEntry
	rejected []*types.ClusterSession
	redirect []*types.ClusterSession

	nextSessionID         int64
	maxConcurrentSessions int
}

// New creates an empty Registry whose session id allocator starts at 1;
// SetNextSessionID restores the recovered value after a snapshot/replay.
func New(maxConcurrentSessions int) *Registry {
	return &Registry{
		byID:                  make(map[int64]*types.ClusterSession),
		nextSessionID:         1,
		maxConcurrentSessions: maxConcurrentSessions,
	}
}

// NextSessionID reports the id that would be assigned to the next admitted
// session, without consuming it.
func (r *Registry) NextSessionID() int64 { return r.nextSessionID }

// SetNextSessionID restores the allocator after a snapshot load.
func (r *Registry) SetNextSessionID(id int64) { r.nextSessionID = id }

// ConnectResult is the outcome of OnSessionConnect.
type ConnectResult int

const (
	ConnectRedirect ConnectResult = iota // this node is a follower
	ConnectPending
	ConnectRejected
)

// OnSessionConnect handles an incoming SessionConnect request. isLeader
// distinguishes the follower "enqueue for REDIRECT" path from the leader
// admission path of §4.2.
func (r *Registry) OnSessionConnect(correlationID int64, responseStreamID int32, versionMajor, clusterMajor int32, responseChannel string, isLeader bool) (ConnectResult, *types.ClusterSession, RejectReason) {
	if !isLeader {
		return ConnectRedirect, nil, 0
	}

	if versionMajor != clusterMajor {
		return ConnectRejected, nil, RejectVersionMismatch
	}
	if len(r.byID) >= r.maxConcurrentSessions {
		return ConnectRejected, nil, RejectTooManySessions
	}

	id := r.nextSessionID
	r.nextSessionID++

	s := &types.ClusterSession{
		ID:                id,
		ResponseStreamID:  responseStreamID,
		ResponseChannel:   responseChannel,
		CorrelationID:     correlationID,
		State:             types.SessionConnected,
	}
	r.byID[id] = s
	r.pending = append(r.pending, PendingEntry{Session: s})
	return ConnectPending, s, 0
}

// OnChallengeResponse advances a pending session from CHALLENGED to
// AUTHENTICATED, or rejects it.
func (r *Registry) OnChallengeResponse(sessionID int64, ok bool) *types.ClusterSession {
	s, found := r.byID[sessionID]
	if !found || s.State != types.SessionChallenged {
		return nil
	}
	if ok {
		s.State = types.SessionAuthenticated
	} else {
		r.reject(s, RejectAuthenticationDenied)
	}
	return s
}

// Challenge moves a CONNECTED session to CHALLENGED once the authenticator
// requests a challenge.
func (r *Registry) Challenge(sessionID int64) {
	if s, ok := r.byID[sessionID]; ok && s.State == types.SessionConnected {
		s.State = types.SessionChallenged
	}
}

func (r *Registry) reject(s *types.ClusterSession, reason RejectReason) {
	s.State = types.SessionRejected
	delete(r.byID, s.ID)
	r.rejected = append(r.rejected, s)
}

// Open marks a session OPEN once its SessionOpen entry has been durably
// appended at openedLogPosition (§3's invariant: "a session reaches OPEN
// only after a SessionOpen entry appears at a known log position").
func (r *Registry) Open(sessionID, openedLogPosition int64) {
	if s, ok := r.byID[sessionID]; ok && s.State == types.SessionAuthenticated {
		s.State = types.SessionOpen
		s.OpenedLogPosition = openedLogPosition
	}
}

// Close transitions an OPEN session toward CLOSED: the caller must first
// append the SessionClose entry and only call Close once that succeeds, per
// §4.2 ("Closing a session while OPEN requires appending a SessionClose log
// entry *and* succeeding"). Returns the session so the caller can push it
// onto the uncommitted ledger.
func (r *Registry) Close(sessionID, closedLogPosition int64, reason types.CloseReason) *types.ClusterSession {
	s, ok := r.byID[sessionID]
	if !ok || s.State != types.SessionOpen {
		return nil
	}
	s.State = types.SessionClosed
	s.ClosedLogPosition = closedLogPosition
	s.CloseReason = reason
	delete(r.byID, sessionID)
	return s
}

// ReinstateClosed restores a session that was optimistically closed but
// whose close did not commit before a leadership change (§4.6 rollback).
func (r *Registry) ReinstateClosed(s *types.ClusterSession) {
	s.State = types.SessionOpen
	s.ClosedLogPosition = 0
	s.CloseReason = types.CloseNone
	r.byID[s.ID] = s
}

// Get returns the session with the given id, if currently active.
func (r *Registry) Get(id int64) (*types.ClusterSession, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// All returns every currently active (non-rejected, non-closed) session.
func (r *Registry) All() []*types.ClusterSession {
	out := make([]*types.ClusterSession, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// TimedOut returns every OPEN session whose last activity predates the
// timeout threshold, for the leader's slow-tick "check session timeouts"
// step.
func (r *Registry) TimedOut(nowNs, timeoutNs int64) []*types.ClusterSession {
	var out []*types.ClusterSession
	for _, s := range r.byID {
		if s.State == types.SessionOpen && nowNs-s.TimeOfLastActivityNs > timeoutNs {
			out = append(out, s)
		}
	}
	return out
}

// Touch records activity (a keep-alive or any message) for a session.
func (r *Registry) Touch(sessionID, nowNs int64) {
	if s, ok := r.byID[sessionID]; ok {
		s.TimeOfLastActivityNs = nowNs
	}
}

// DrainPending removes and returns every session still in the authenticator
// handshake, for the leader's slow-tick "process pending sessions" step.
func (r *Registry) DrainPending() []PendingEntry {
	out := r.pending
	r.pending = nil
	return out
}

// Requeue puts a pending entry back if its handshake did not finish this
// tick.
func (r *Registry) Requeue(e PendingEntry) { r.pending = append(r.pending, e) }

// DrainRejected removes and returns every rejected session awaiting a
// rejection reply.
func (r *Registry) DrainRejected() []*types.ClusterSession {
	out := r.rejected
	r.rejected = nil
	return out
}

// EnqueueRedirect records a session a follower must reply REDIRECT to.
func (r *Registry) EnqueueRedirect(s *types.ClusterSession) { r.redirect = append(r.redirect, s) }

// DrainRedirect removes and returns every session awaiting a REDIRECT reply.
func (r *Registry) DrainRedirect() []*types.ClusterSession {
	out := r.redirect
	r.redirect = nil
	return out
}

// Count returns the number of currently active sessions.
func (r *Registry) Count() int { return len(r.byID) }
