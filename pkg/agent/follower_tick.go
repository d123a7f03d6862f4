package agent

import (
	"github.com/cuemby/concord/pkg/cerrors"
)

// followerSlowTick runs the follower slow-tick work of §4.1: termination
// handoff once the log has replayed past a set termination position, and
// leader-heartbeat-timeout detection.
func (a *Agent) followerSlowTick(now int64) int {
	work := 0

	a.writeMarkFile(now)

	if a.logAdapter != nil {
		work += a.checkTerminationPositionReached(a.logAdapter.Position())
	}

	if a.state == StateActive || a.state == StateSuspended {
		if now-a.lastHeartbeatRecvNs > a.cfg.LeaderHeartbeatTimeout.Nanoseconds() && a.lastHeartbeatRecvNs != 0 {
			a.log.Warn().Msg("no leader heartbeat, entering election")
			a.setRole(RoleFollower)
			work++
		}
	}

	return work
}

// followerConsensusTick runs the follower ACTIVE/SUSPENDED consensus work of
// §4.1: ingress is polled only to reject/redirect (a follower never admits a
// session directly), and the log adapter is polled up to the leader's
// last-notified commit position.
func (a *Agent) followerConsensusTick(now int64) int {
	work := a.pollIngressAsFollower()

	if a.logAdapter == nil {
		return work
	}

	// The ceiling is the leader's notified commit position alone: bounding it
	// by a.appendPosition too would be circular, since appendPosition only
	// advances once a poll at that ceiling has already succeeded.
	n := a.logAdapter.Poll(a.followerHandlers(), a.notifiedCommitPosition, 64)
	if n > 0 {
		a.appendPosition = a.logAdapter.Position()
		// Every consumed entry lies at or below the poll ceiling, the
		// leader's notified commit position, so it is committed.
		if a.appendPosition > a.commitPosition {
			a.commitPosition = a.appendPosition
		}
		a.lastHeartbeatRecvNs = now
		work += n
	} else if a.logAdapter.IsClosed() {
		a.log.Error().Msg("log image closed with no progress, entering election")
		a.enterElection(cerrors.New(cerrors.TransportClosed, nil))
		work++
	}

	return work
}
