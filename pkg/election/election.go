// Package election models the Election submodule of §4.9 as a black-box
// collaborator: the agent forwards transport events into it and reacts to
// its completion, but the term-voting/canvassing protocol itself is
// implemented elsewhere (by hashicorp/raft, vendored in RaftSubmodule) —
// "implementing the Raft-style voting protocol" is explicitly out of scope
// for this module (§1).
package election

import "context"

// Submodule is the callback surface §4.9 routes transport events through.
type Submodule interface {
	CanvassPosition(ctx context.Context, logPosition, leadershipTermID int64, candidateMemberID int32) error
	RequestVote(ctx context.Context, candidateTermID, candidateLogPosition int64, candidateMemberID int32) error
	Vote(ctx context.Context, candidateMemberID int32, vote bool) error
	AppendPosition(ctx context.Context, memberID int32, logPosition, leadershipTermID int64) error
	CommitPosition(ctx context.Context, logPosition, leadershipTermID int64) error
	CatchupPosition(ctx context.Context, memberID int32, logPosition int64) error
	StopCatchup(ctx context.Context, memberID int32) error

	// IsLeader reports whether this node currently holds leadership
	// according to the submodule.
	IsLeader() bool
	// LeadershipTermID returns the submodule's current term id.
	LeadershipTermID() int64
	// Complete reports whether an in-progress election has finished.
	Complete() bool
	// LeaderChanges yields a notification each time the submodule's leader
	// (or term) changes, for the agent's election-complete handling (§4.9).
	LeaderChanges() <-chan LeaderChange
}

// LeaderChange is delivered whenever the submodule settles on a (possibly
// new) leader and term.
type LeaderChange struct {
	LeadershipTermID int64
	LeaderMemberID   int32
	IsLeader         bool
}
