package agent

import (
	"context"
	"fmt"

	"github.com/cuemby/concord/pkg/election"
	"github.com/cuemby/concord/pkg/logstream"
	"github.com/cuemby/concord/pkg/types"
	"github.com/cuemby/concord/pkg/uncommitted"
)

// pollElection drains any pending leader-change notifications from the
// election submodule and applies them (§4.9's election_complete / role
// transitions). It never blocks: the channel is polled, not waited on.
func (a *Agent) pollElection() int {
	work := 0
	for {
		select {
		case change := <-a.election.LeaderChanges():
			a.applyLeaderChange(change)
			work++
		default:
			return work
		}
	}
}

func (a *Agent) applyLeaderChange(change election.LeaderChange) {
	wasLeader := a.role == RoleLeader
	a.leaderMemberID = change.LeaderMemberID

	if !change.IsLeader {
		if wasLeader {
			a.prepareForNewLeadership()
		}
		a.setRole(RoleFollower)
		a.lastHeartbeatRecvNs = nowNs()
		return
	}

	// This node just became (or remains) leader for change.LeadershipTermID.
	if wasLeader && a.leadershipTermID == change.LeadershipTermID {
		return
	}
	a.leadershipTermID = change.LeadershipTermID
	a.termBaseLogPosition = a.appendPosition
	a.setRole(RoleLeader)
	a.electionComplete()
}

// electionComplete runs the leader-side steps of §4.9's election_complete:
// append the term marker, reset heartbeat timing, and activate the control
// toggle. The append is attempted once: if it is flow-controlled, no term
// marker is written for this term.
func (a *Agent) electionComplete() {
	if a.logPub == nil {
		return
	}
	if a.currentRecordingID == 0 {
		ctx := context.Background()
		channel := fmt.Sprintf("term-%d", a.leadershipTermID)
		recordingID, err := a.archive.StartRecording(ctx, channel, 0)
		if err != nil {
			a.log.Warn().Err(err).Msg("start recording for new leadership term")
			return
		}
		a.currentRecordingID = recordingID
	}
	pos, err := a.logPub.AppendNewLeadershipTermEvent(logstream.NewLeadershipTermBody{
		LeadershipTermID:    a.leadershipTermID,
		TermBaseLogPosition: a.termBaseLogPosition,
		LeaderMemberID:      a.nodeID,
		LogSessionID:        a.logServiceSessionID,
	})
	if err != nil || pos == 0 {
		// flow-controlled; nothing calls electionComplete again for this
		// term (applyLeaderChange returns early once role/term are set).
		return
	}
	a.appendPosition = pos
	a.lastHeartbeatSentNs = nowNs()
	a.control.Store(int32(ToggleNeutral))
}

// prepareForNewLeadership runs the LEADER->FOLLOWER steps of §4.1: stop the
// log recording, reconcile the recording's stop position against the last
// known append position, reset position counters, roll back uncommitted
// entries, and disconnect sessions opened after the rollback point.
func (a *Agent) prepareForNewLeadership() {
	ctx := context.Background()

	if a.currentRecordingID != 0 {
		if err := a.archive.StopRecording(ctx, a.currentRecordingID); err != nil {
			a.log.Warn().Err(err).Msg("stop recording on leadership loss")
		} else if stopPos, err := a.archive.StopPosition(ctx, a.currentRecordingID); err == nil && stopPos > a.appendPosition {
			_ = a.archive.TruncateRecording(ctx, a.currentRecordingID, a.appendPosition)
		}
		a.currentRecordingID = 0
	}
	if a.logPub != nil {
		_ = a.logPub.Close()
		a.logPub = nil
	}

	logPosition := a.appendPosition
	a.commitPosition = logPosition
	a.notifiedCommitPosition = logPosition

	rolledBack := a.uncommitted.Restore(logPosition)
	for _, e := range rolledBack {
		switch e.Kind {
		case uncommitted.KindTimer:
			if e.Timer != nil {
				a.wheel.Schedule(e.Timer.CorrelationID, e.Timer.Deadline)
			}
		case uncommitted.KindSessionClose:
			if e.Session != nil {
				a.sessions.ReinstateClosed(e.Session)
			}
		}
	}
	a.pendingQ.RestoreUncommitted()

	for _, s := range a.sessions.All() {
		if s.OpenedLogPosition > logPosition {
			a.sessions.Close(s.ID, logPosition, types.CloseNone)
		}
	}
}
