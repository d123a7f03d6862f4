package agent

import (
	"github.com/cuemby/concord/pkg/logstream"
	"github.com/cuemby/concord/pkg/servicehost"
)

// beginShutdown runs the graceful-termination trigger of §4.1/§6: the
// leader appends a ClusterAction(SHUTDOWN) entry at the current append
// position and self-applies it immediately (the leader never polls its own
// log adapter, so applyClusterAction's follower-side replay path would never
// run for it otherwise). This records terminationPosition right away; the
// next slow tick finds the leader's appendPosition already at it and moves
// to TERMINATING, notifying services, without waiting for the entry to
// commit. Followers reach the same bookkeeping when the entry replays back
// through applyClusterAction.
func (a *Agent) beginShutdown() {
	if a.logPub == nil || a.role != RoleLeader {
		return
	}
	body := logstream.ClusterActionBody{
		Action:           logstream.ActionShutdown,
		LeadershipTermID: a.leadershipTermID,
	}
	pos, err := a.logPub.AppendClusterAction(body)
	if err != nil || pos == 0 {
		return
	}
	a.appendPosition = pos
	a.applyClusterAction(body, pos)
}

// beginAbort runs the immediate-termination trigger: unlike SHUTDOWN, ABORT
// moves straight to TERMINATING without waiting for the log to catch up to
// any particular position (§6's "Graceful termination ... Fatal errors ...
// move the state machine to CLOSED").
func (a *Agent) beginAbort() {
	a.terminationReason = TerminationAbort
	a.terminationPosition = a.appendPosition
	a.notifyServicesTerminate()
	a.setState(StateTerminating)
}

func (a *Agent) notifyServicesTerminate() {
	if a.svcHost != nil {
		a.svcHost.Notify(servicehost.Notification{
			Type:        servicehost.NotifyTerminationPosition,
			LogPosition: a.terminationPosition,
		})
	}
}

// checkTerminationPositionReached is the shared half of followerSlowTick's
// and leaderSlowTick's termination handoff: once currentPos (a follower's
// logAdapter.Position(), or the leader's own appendPosition, since a leader
// has no logAdapter to poll) reaches the recorded terminationPosition, move
// to TERMINATING and notify hosted services. The leader reaches this on the
// very next slow tick after beginShutdown's self-apply, since its
// appendPosition already equals terminationPosition by construction.
func (a *Agent) checkTerminationPositionReached(currentPos int64) int {
	if a.terminationPosition != 0 && currentPos >= a.terminationPosition && a.state != StateTerminating {
		a.notifyServicesTerminate()
		a.setState(StateTerminating)
		return 1
	}
	return 0
}

// checkTerminationDone waits for every hosted service to ack the
// termination position (reusing the same Inbound ack channel snapshotting
// uses), then forces the recording log to disk and runs the host-provided
// hook, moving to CLOSED (§3's "Exit/termination"). No record of the final
// commit position is written to the recording log.
func (a *Agent) checkTerminationDone() int {
	acked := a.pollServiceAcks()
	if expected := a.expectedServiceAcks(); expected > 0 && len(a.terminationAcked) < expected {
		return acked
	}

	if a.recordingLog != nil {
		_ = a.recordingLog.Force()
	}
	a.setState(StateClosed)
	if a.hook != nil {
		a.hook()
	}
	return acked + 1
}
