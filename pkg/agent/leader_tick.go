package agent

import (
	"github.com/cuemby/concord/pkg/cerrors"
	"github.com/cuemby/concord/pkg/logstream"
	"github.com/cuemby/concord/pkg/metrics"
	"github.com/cuemby/concord/pkg/types"
)

// leaderSlowTick runs the leader ACTIVE slow-tick work of §4.1: archive
// health, mark file, redirect/rejected session replies, the control toggle,
// termination handoff (a leader has no logAdapter to poll, so it checks its
// own appendPosition instead of the follower's logAdapter.Position()),
// session admission, session timeouts, passive-member promotion, and quorum
// loss detection.
func (a *Agent) leaderSlowTick(now int64) int {
	work := 0

	if a.archive != nil && !a.archive.Healthy(bgCtx) {
		a.log.Error().Msg("archive unhealthy, stepping down")
		a.enterElection(cerrors.New(cerrors.ArchiveOperation, nil))
		return work
	}

	a.writeMarkFile(now)

	for _, s := range a.sessions.DrainRedirect() {
		a.replyRedirect(s)
		work++
	}
	for _, s := range a.sessions.DrainRejected() {
		a.replyRejected(s)
		work++
	}

	work += a.handleControlToggle()
	work += a.checkTerminationPositionReached(a.appendPosition)
	work += a.processPendingSessions(now)
	work += a.checkSessionTimeouts(now)
	work += a.processPassiveMembers()

	if a.members.Size() > 1 && a.members.QuorumHeartbeatAge(now) > a.cfg.LeaderHeartbeatTimeout.Nanoseconds() {
		a.log.Warn().Msg("leader lost quorum, stepping down")
		a.enterElection(cerrors.New(cerrors.QuorumLost, nil))
		work++
	}

	return work
}

// leaderConsensusTick runs the leader ACTIVE consensus work of §4.1: expired
// timers become log-appended Timer entries, the pending queue's head is
// drained to the log up to the per-tick service message limit, and the
// ingress adapter is polled for session/command admission.
func (a *Agent) leaderConsensusTick(now int64) int {
	if a.state != StateActive {
		return 0
	}
	work := 0

	for _, expiry := range a.wheel.Poll(now) {
		pos, err := a.logPub.AppendTimer(logstream.TimerBody{CorrelationID: expiry.CorrelationID})
		if err != nil || pos == 0 {
			a.wheel.Schedule(expiry.CorrelationID, expiry.Deadline)
			continue
		}
		a.appendPosition = pos
		a.uncommitted.PushTimer(pos, expiry.CorrelationID)
		work++
	}

	limit := a.cfg.ServiceMessageLimit
	if limit <= 0 {
		limit = 20
	}
	for i := 0; i < limit; i++ {
		msg, idx, ok := a.pendingQ.HeadUnappended()
		if !ok {
			break
		}
		pos, err := a.logPub.AppendServiceSessionMessage(logstream.ServiceSessionMessageBody{
			ServiceSessionID: msg.ServiceSessionID,
			Payload:          msg.Payload,
		})
		if err != nil || pos == 0 {
			break
		}
		a.pendingQ.MarkAppended(idx, pos)
		a.appendPosition = pos
		a.uncommitted.PushServiceMessage(pos)
		work++
	}

	work += a.pollIngressAsLeader()
	return work
}

// replyRedirect and replyRejected are the reply half of session admission:
// the actual wire send goes out over the session's own response channel
// (s.ResponseChannel/ResponseStreamID), which is wired by the transport
// layer hosting this agent; here the registry has already dequeued the
// session, so this just logs the outcome.
func (a *Agent) replyRedirect(s *types.ClusterSession) {
	a.log.Debug().Int64("session_id", s.ID).Msg("reply REDIRECT to client")
}

func (a *Agent) replyRejected(s *types.ClusterSession) {
	a.invalidRequests++
	metrics.InvalidRequestCounter.Inc()
	a.log.Debug().Int64("session_id", s.ID).Msg("reply REJECTED to client")
}

func (a *Agent) handleControlToggle() int {
	toggle := ControlToggle(a.control.Load())
	switch toggle {
	case ToggleNeutral:
		return 0
	case ToggleSuspend:
		a.setState(StateSuspended)
	case ToggleResume:
		if a.state == StateSuspended {
			a.setState(StateActive)
		}
	case ToggleSnapshot:
		a.beginSnapshot()
	case ToggleShutdown:
		a.beginShutdown()
	case ToggleAbort:
		a.beginAbort()
	}
	a.control.Store(int32(ToggleNeutral))
	return 1
}

func (a *Agent) processPendingSessions(now int64) int {
	work := 0
	for _, entry := range a.sessions.DrainPending() {
		s := entry.Session
		switch s.State {
		case types.SessionConnected:
			a.sessions.Challenge(s.ID)
			a.sessions.Requeue(entry)
		case types.SessionChallenged:
			a.sessions.Requeue(entry)
		case types.SessionAuthenticated:
			pos, err := a.logPub.AppendSessionOpen(logstream.SessionOpenBody{
				SessionID:        s.ID,
				ResponseStreamID: s.ResponseStreamID,
				ResponseChannel:  s.ResponseChannel,
				TimestampNs:      now,
			})
			if err != nil || pos == 0 {
				a.sessions.Requeue(entry)
				continue
			}
			a.appendPosition = pos
			a.sessions.Open(s.ID, pos)
			work++
		default:
			work++
		}
	}
	return work
}

func (a *Agent) checkSessionTimeouts(now int64) int {
	work := 0
	timeoutNs := a.cfg.SessionTimeout.Nanoseconds()
	for _, s := range a.sessions.TimedOut(now, timeoutNs) {
		pos, err := a.logPub.AppendSessionClose(logstream.SessionCloseBody{SessionID: s.ID, Reason: "TIMEOUT"})
		if err != nil || pos == 0 {
			continue
		}
		a.appendPosition = pos
		closed := a.sessions.Close(s.ID, pos, types.CloseTimeout)
		if closed != nil {
			a.uncommitted.PushSessionClose(closed)
			a.timedOutClients++
			metrics.TimedOutClientCounter.Inc()
			work++
		}
	}
	return work
}

// processPassiveMembers promotes passive members that requested to join by
// appending a JOIN MembershipChangeEvent. It refuses to run while a snapshot
// is in flight: admitting a join mid-snapshot would change cluster
// membership underneath the image §4.8 is capturing, so join admission
// waits for the snapshot to complete (SPEC_FULL.md §9's join/snapshot
// resolution).
func (a *Agent) processPassiveMembers() int {
	if a.state == StateSnapshot {
		return 0
	}
	work := 0
	for _, m := range a.members.Passive() {
		if !m.HasRequestedJoin {
			continue
		}
		if !a.members.Promote(m.ID) {
			continue
		}
		encoded, err := encodeMembers(a.members)
		if err != nil {
			continue
		}
		pos, err := a.logPub.AppendMembershipChangeEvent(logstream.MembershipChangeBody{
			ChangeType: "JOIN",
			MemberID:   m.ID,
			Members:    encoded,
		})
		if err != nil || pos == 0 {
			continue
		}
		a.appendPosition = pos
		work++
	}
	return work
}

// enterElection steps a leader down immediately, logging the triggering
// error kind (§7), and lets the election submodule drive the next leader
// choice; DoWork's next pollElection call observes the resulting
// LeaderChange.
func (a *Agent) enterElection(err *cerrors.AgentError) {
	a.log.Error().Stringer("kind", err.Kind).Msg("entering election")
	metrics.ErrorsByKind.WithLabelValues(err.Kind.String()).Inc()
	a.prepareForNewLeadership()
	a.setRole(RoleFollower)
}
