package agent

import (
	"time"

	"github.com/cuemby/concord/pkg/logstream"
	"github.com/cuemby/concord/pkg/markfile"
	"github.com/cuemby/concord/pkg/metrics"
	"github.com/cuemby/concord/pkg/servicehost"
	"github.com/cuemby/concord/pkg/snapshot"
	"github.com/cuemby/concord/pkg/types"
)

// beginSnapshot runs the first step of §4.8's snapshot sequence: the leader
// appends a ClusterAction(SNAPSHOT) entry and applies it to its own state
// immediately (a leader never polls its own log adapter, so it must self-apply
// the entries it appends the same way effectMemberRemoval self-applies its
// QUIT). The module enters StateSnapshot right away, at which point
// pollServiceAcks starts tracking acknowledgements. Followers reach the same
// state when the entry replays back through applyClusterAction.
func (a *Agent) beginSnapshot() {
	if a.logPub == nil || a.role != RoleLeader {
		return
	}
	body := logstream.ClusterActionBody{
		Action:           logstream.ActionSnapshot,
		LeadershipTermID: a.leadershipTermID,
	}
	pos, err := a.logPub.AppendClusterAction(body)
	if err != nil || pos == 0 {
		return
	}
	a.appendPosition = pos
	a.applyClusterAction(body, pos)
}

// pollServiceAcks drains service_ack/on_service_message deliveries from the
// service-host broker: acks at or past the snapshot (or termination) target
// position are recorded, and service messages are offered to the pending
// queue. It does not finish the snapshot itself; DoWork calls
// completeSnapshot once snapshotAckComplete reports every service acked.
func (a *Agent) pollServiceAcks() int {
	if a.svcHost == nil {
		return 0
	}
	work := 0
	for {
		select {
		case in := <-a.svcHost.Inbound():
			switch in.Kind {
			case servicehost.InboundServiceAck:
				switch {
				case a.state == StateSnapshot && in.LogPosition >= a.snapshotTargetPosition:
					a.snapshotAcked[in.ServiceID] = true
				case a.state == StateTerminating && in.LogPosition >= a.terminationPosition:
					a.terminationAcked[in.ServiceID] = true
				}
			case servicehost.InboundServiceMessage:
				if _, err := a.pendingQ.Offer(in.Payload); err == nil {
					work++
				}
			}
			work++
		default:
			return work
		}
	}
}

func (a *Agent) snapshotAckComplete(expected int) bool {
	if expected == 0 {
		return true
	}
	return len(a.snapshotAcked) >= expected
}

// completeSnapshot finishes §4.8 once every service has acked: it captures
// the module-level image, writes it to a new archive recording, appends one
// SnapshotEntry for the module (ServiceID = types.ModuleServiceID) to the
// recording log, forces the log only when FileSyncLevel > 0, and returns the
// module to ACTIVE (or forward to TERMINATING if a termination position was
// set while snapshotting). No SnapshotEntry is appended per hosted service,
// and it does not wait for a recording to reach a publication position.
func (a *Agent) completeSnapshot() {
	start := time.Now()
	img := snapshot.Take(a.snapshotTargetPosition, a.leadershipTermID, "ns", a.cfg.AppVersion,
		snapshot.ModuleState{
			NextSessionID:        a.sessions.NextSessionID(),
			NextServiceSessionID: a.pendingQ.NextServiceSessionID(),
			LogServiceSessionID:  a.logServiceSessionID,
			PendingQueueCapacity: a.cfg.PendingQueueCapacity,
		},
		a.members, a.sessions.All(), a.wheel, a.pendingQ)

	data, err := snapshot.Encode(img)
	if err != nil {
		a.log.Error().Err(err).Msg("encode module snapshot")
		return
	}

	recordingID, err := a.archive.StartRecording(bgCtx, "module-snapshot", 0)
	if err != nil {
		a.log.Error().Err(err).Msg("start snapshot recording")
		return
	}
	if _, err := a.archive.Append(bgCtx, recordingID, data); err != nil {
		a.log.Error().Err(err).Msg("append module snapshot")
		return
	}
	if err := a.archive.StopRecording(bgCtx, recordingID); err != nil {
		a.log.Error().Err(err).Msg("stop snapshot recording")
		return
	}

	entry := types.SnapshotEntry{
		LeadershipTermID:    a.leadershipTermID,
		TermBaseLogPosition: a.termBaseLogPosition,
		LogPosition:         a.snapshotTargetPosition,
		ServiceID:           types.ModuleServiceID,
		RecordingID:         recordingID,
		Timestamp:           time.Now(),
	}
	if err := a.recordingLog.AppendSnapshot(entry); err != nil {
		a.log.Error().Err(err).Msg("append snapshot entry to recording log")
		return
	}
	if a.cfg.FileSyncLevel > 0 {
		_ = a.recordingLog.Force()
	}

	a.snapshotsTaken++
	metrics.SnapshotCounter.Inc()
	metrics.SnapshotTakeDuration.Observe(time.Since(start).Seconds())
	a.snapshotTargetPosition = 0
	a.snapshotAcked = make(map[int32]bool)

	if a.svcHost != nil {
		a.svcHost.Notify(servicehost.Notification{Type: servicehost.NotifySnapshotTaken, LogPosition: a.commitPosition})
	}

	if a.terminationPosition != 0 {
		a.setState(StateTerminating)
	} else {
		a.setState(StateActive)
	}
}

func (a *Agent) writeMarkFile(now int64) {
	if a.markWriter == nil {
		return
	}
	healthy := a.archive == nil || a.archive.Healthy(bgCtx)
	_, err := a.markWriter.MaybeWrite(markfile.Status{
		ModuleState:      a.state.String(),
		Role:             a.role.String(),
		LeadershipTermID: a.leadershipTermID,
		CommitPosition:   a.commitPosition,
		FileSyncLevel:    a.cfg.FileSyncLevel,
		ArchiveHealthy:   healthy,
	}, time.Unix(0, now))
	if err != nil {
		a.log.Warn().Err(err).Msg("write mark file")
	}
}
