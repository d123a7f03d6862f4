package agent

import (
	"time"

	"github.com/cuemby/concord/pkg/logstream"
	"github.com/cuemby/concord/pkg/metrics"
	"github.com/cuemby/concord/pkg/types"
)

// pollMemberStatus reconciles the member-status transport (heartbeats and
// append-position reports from followers, or leader commit-position
// broadcasts on a follower) into the MembershipSet. A follower's half of
// this is reporting its own append position upstream through the election
// submodule's inter-node transport, so the leader's QuorumPosition() has
// something besides its own position to work with; the inbound half (a
// leader learning another member's position, or a follower learning the
// leader's commit position) arrives via NotifyMemberAppendPosition /
// NotifyCommitPosition, called by whatever routes the election submodule's
// transport (cmd/concord does not wire this routing). Both roles end their tick this way per
// §4.1 ("Both roles end each tick by: polling member-status...").
func (a *Agent) pollMemberStatus() int {
	if a.role == RoleLeader || a.election == nil || a.logAdapter == nil {
		return 0
	}
	pos := a.logAdapter.Available()
	if pos == 0 {
		return 0
	}
	if err := a.election.AppendPosition(bgCtx, a.nodeID, pos, a.leadershipTermID); err != nil {
		return 0
	}
	return 1
}

// updateMemberPosition runs the leader's commit-advancement step (§4.6):
// recompute the quorum position, release uncommitted entries up to the new
// commit position, sweep the pending queue, and effect any member removals
// whose position has now committed. On a follower it does nothing and
// returns 0: a follower's commit position advances from the leader's commit
// broadcasts as followerConsensusTick consumes the log.
func (a *Agent) updateMemberPosition(now int64) int {
	if a.role != RoleLeader {
		return 0
	}
	if a.members.Size() == 0 {
		return 0
	}

	a.members.UpdatePosition(a.nodeID, a.appendPosition, now)

	quorumPosition := a.members.QuorumPosition()
	newCommit := quorumPosition
	if a.appendPosition < newCommit {
		newCommit = a.appendPosition
	}
	if newCommit <= a.commitPosition {
		if now-a.lastHeartbeatSentNs >= a.cfg.LeaderHeartbeatInterval.Nanoseconds() {
			a.broadcastCommitPosition()
		}
		return 0
	}
	start := time.Now()
	a.commitPosition = newCommit
	a.notifiedCommitPosition = newCommit
	metrics.CommitPosition.Set(float64(a.commitPosition))

	timers, sessions, _ := a.uncommitted.Release(a.commitPosition)
	for _, t := range timers {
		a.wheel.Cancel(t.CorrelationID)
	}
	for _, s := range sessions {
		_ = s // already removed from the registry's active map by Close
	}
	a.pendingQ.LeaderSweep(a.commitPosition)
	a.broadcastCommitPosition()

	for _, m := range a.members.PendingRemovals(a.commitPosition) {
		a.effectMemberRemoval(m)
	}

	metrics.CommitAdvanceDuration.Observe(time.Since(start).Seconds())
	return 1
}

// broadcastCommitPosition runs §4.6 step 4: route the current commit
// position through the election submodule so it reaches followers over
// whatever inter-node transport that submodule owns. updateMemberPosition
// calls it on every commit advance, and re-sends an unchanged position once
// leader_heartbeat_interval has passed since the last send.
func (a *Agent) broadcastCommitPosition() {
	if a.election == nil {
		return
	}
	_ = a.election.CommitPosition(bgCtx, a.commitPosition, a.leadershipTermID)
	a.lastHeartbeatSentNs = nowNs()
}

// NotifyCommitPosition applies a commit position learned from the leader
// (via the election submodule's inter-node transport) on a follower. It is
// monotonic: a stale or reordered notification is ignored. Like every other
// Agent method besides Submit and SetControl, it must only be called from
// the goroutine driving DoWork — the transport callback that receives the
// broadcast is expected to route it through the same ingress path as other
// tick-scoped work, not call in concurrently.
func (a *Agent) NotifyCommitPosition(pos int64) {
	if pos > a.notifiedCommitPosition {
		a.notifiedCommitPosition = pos
	}
}

// NotifyMemberAppendPosition applies an append-position report from another
// member (routed through the election submodule's transport) into the
// MembershipSet, giving the leader's QuorumPosition() a non-self position to
// work with. Same single-goroutine caveat as NotifyCommitPosition.
func (a *Agent) NotifyMemberAppendPosition(memberID int32, pos int64, now int64) {
	a.members.UpdatePosition(memberID, pos, now)
}

func (a *Agent) effectMemberRemoval(m *types.ClusterMember) {
	if a.logPub == nil {
		return
	}
	encoded, err := encodeMembers(a.members)
	if err != nil {
		return
	}
	pos, err := a.logPub.AppendMembershipChangeEvent(logstream.MembershipChangeBody{
		ChangeType: "QUIT",
		MemberID:   m.ID,
		Members:    encoded,
	})
	if err != nil || pos == 0 {
		return
	}
	a.appendPosition = pos
	a.members.Remove(m.ID)
}
