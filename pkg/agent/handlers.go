package agent

import (
	"encoding/json"

	"github.com/cuemby/concord/pkg/logstream"
	"github.com/cuemby/concord/pkg/servicehost"
	"github.com/cuemby/concord/pkg/types"
)

// followerHandlers builds the logstream.Handlers dispatch table used both
// during startup replay and during a follower's ongoing fast-tick log
// consumption (§4.5/§4.1): each entry is applied to local state and then
// surfaced to hosted services in log order.
func (a *Agent) followerHandlers() logstream.Handlers {
	return logstream.Handlers{
		OnSessionOpen: func(b logstream.SessionOpenBody, pos int64) {
			a.sessions.Open(b.SessionID, pos)
			a.notifyJoinLog(pos)
		},
		OnSessionClose: func(b logstream.SessionCloseBody, pos int64) {
			reason := types.CloseClientAction
			switch b.Reason {
			case "SERVICE_ACTION":
				reason = types.CloseServiceAction
			case "TIMEOUT":
				reason = types.CloseTimeout
			}
			a.sessions.Close(b.SessionID, pos, reason)
			a.notifyJoinLog(pos)
		},
		OnSessionMessage: func(b logstream.SessionMessageBody, pos int64) {
			a.sessions.Touch(b.SessionID, nowNs())
			a.notifyJoinLog(pos)
		},
		OnTimer: func(b logstream.TimerBody, pos int64) {
			a.wheel.Cancel(b.CorrelationID)
			a.notifyJoinLog(pos)
		},
		OnClusterAction: func(b logstream.ClusterActionBody, pos int64) {
			a.applyClusterAction(b, pos)
		},
		OnNewLeadershipTermEvent: func(b logstream.NewLeadershipTermBody, pos int64) {
			a.leadershipTermID = b.LeadershipTermID
			a.termBaseLogPosition = b.TermBaseLogPosition
			a.leaderMemberID = b.LeaderMemberID
			a.logServiceSessionID = b.LogSessionID
			a.notifyJoinLog(pos)
		},
		OnMembershipChangeEvent: func(b logstream.MembershipChangeBody, pos int64) {
			a.applyMembershipChange(b)
			a.notifyJoinLog(pos)
		},
		OnServiceSessionMessage: func(b logstream.ServiceSessionMessageBody, pos int64) {
			if b.ServiceSessionID > a.logServiceSessionID {
				a.logServiceSessionID = b.ServiceSessionID
			}
			a.pendingQ.FollowerSweep(a.logServiceSessionID)
			a.notifyJoinLog(pos)
		},
	}
}

func (a *Agent) notifyJoinLog(pos int64) {
	if a.svcHost != nil {
		a.svcHost.Notify(servicehost.Notification{Type: servicehost.NotifyJoinLog, LogPosition: pos})
	}
}

func (a *Agent) applyClusterAction(b logstream.ClusterActionBody, pos int64) {
	switch b.Action {
	case logstream.ActionSnapshot:
		a.snapshotTargetPosition = pos
		a.snapshotAcked = make(map[int32]bool)
		a.setState(StateSnapshot)
	case logstream.ActionShutdown:
		a.terminationPosition = pos
		a.terminationReason = TerminationShutdown
	case logstream.ActionAbort:
		a.terminationPosition = pos
		a.terminationReason = TerminationAbort
		a.setState(StateTerminating)
	case logstream.ActionSuspend:
		a.setState(StateSuspended)
	}
}

func (a *Agent) applyMembershipChange(b logstream.MembershipChangeBody) {
	var encoded []types.ClusterMember
	if err := json.Unmarshal(b.Members, &encoded); err != nil {
		return
	}
	switch b.ChangeType {
	case "JOIN":
		for i := range encoded {
			if encoded[i].ID == b.MemberID {
				a.members.AddActive(&encoded[i])
				return
			}
		}
	case "QUIT":
		a.members.Remove(b.MemberID)
	}
}
