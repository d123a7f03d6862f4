// Package dynamicjoin implements the bootstrap state machine of §4.9: a node
// that starts with an empty cluster membership queries peers for snapshots
// and cluster state, replicates the chosen snapshot into a local recording,
// then hands off to a normal (non-initial) election.
package dynamicjoin

import (
	"context"
	"fmt"

	"github.com/cuemby/concord/pkg/recording"
	"github.com/rs/zerolog"
)

// Phase is a step of the join bootstrap.
type Phase int

const (
	PhaseQueryingPeers Phase = iota
	PhaseRetrievingSnapshot
	PhaseCaughtUp
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseQueryingPeers:
		return "QUERYING_PEERS"
	case PhaseRetrievingSnapshot:
		return "RETRIEVING_SNAPSHOT"
	case PhaseCaughtUp:
		return "CAUGHT_UP"
	case PhaseDone:
		return "DONE"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// PeerQuery is the subset of a member-status client this adapter needs to
// run SnapshotRecordingQuery against a candidate peer.
type PeerQuery interface {
	QuerySnapshotRecording(ctx context.Context, memberID int32) (SnapshotDescriptor, error)
	FetchRecording(ctx context.Context, memberID int32, desc SnapshotDescriptor) ([]byte, error)
}

// SnapshotDescriptor identifies the snapshot recording a peer is offering, so
// the joiner can pick the most advanced candidate before replicating it.
type SnapshotDescriptor struct {
	MemberID         int32
	LeadershipTermID int64
	LogPosition      int64
	RecordingID      int64
}

// Join drives the bootstrap sequence against the configured peer set,
// returning the chosen snapshot descriptor once the local archive holds a
// full copy of it. The caller is responsible for loading the snapshot body
// (pkg/snapshot.Load) and then starting a normal election.
type Join struct {
	log     zerolog.Logger
	peers   []int32
	query   PeerQuery
	archive recording.ArchiveClient

	phase    Phase
	chosen   SnapshotDescriptor
	lastErr  error
}

// New constructs a Join bootstrap over the given candidate peer set.
func New(log zerolog.Logger, peers []int32, query PeerQuery, archive recording.ArchiveClient) *Join {
	return &Join{log: log, peers: peers, query: query, archive: archive, phase: PhaseQueryingPeers}
}

// Phase reports the current bootstrap step.
func (j *Join) Phase() Phase { return j.phase }

// Err returns the error that moved the bootstrap to PhaseFailed, if any.
func (j *Join) Err() error { return j.lastErr }

// Poll advances the bootstrap by one step; the agent's DoWork calls this on
// every iteration in place of election and consensus work (per §4.1's
// "dynamic-join work takes priority over normal consensus work") until
// Phase() reports PhaseCaughtUp or PhaseFailed.
func (j *Join) Poll(ctx context.Context) {
	switch j.phase {
	case PhaseQueryingPeers:
		j.queryPeers(ctx)
	case PhaseRetrievingSnapshot:
		j.retrieveSnapshot(ctx)
	case PhaseCaughtUp, PhaseDone, PhaseFailed:
		// terminal for this adapter; the agent moves on.
	}
}

func (j *Join) queryPeers(ctx context.Context) {
	var best *SnapshotDescriptor
	for _, memberID := range j.peers {
		desc, err := j.query.QuerySnapshotRecording(ctx, memberID)
		if err != nil {
			j.log.Warn().Int32("peer", memberID).Err(err).Msg("dynamic join: peer snapshot query failed")
			continue
		}
		if best == nil || desc.LeadershipTermID > best.LeadershipTermID ||
			(desc.LeadershipTermID == best.LeadershipTermID && desc.LogPosition > best.LogPosition) {
			d := desc
			best = &d
		}
	}
	if best == nil {
		j.lastErr = fmt.Errorf("dynamic join: no peer offered a snapshot recording")
		j.phase = PhaseFailed
		return
	}
	j.chosen = *best
	j.phase = PhaseRetrievingSnapshot
}

func (j *Join) retrieveSnapshot(ctx context.Context) {
	data, err := j.query.FetchRecording(ctx, j.chosen.MemberID, j.chosen)
	if err != nil {
		j.lastErr = fmt.Errorf("dynamic join: fetch recording: %w", err)
		j.phase = PhaseFailed
		return
	}
	recordingID, err := j.archive.StartRecording(ctx, fmt.Sprintf("dynamic-join-%d", j.chosen.RecordingID), 0)
	if err != nil {
		j.lastErr = fmt.Errorf("dynamic join: start recording: %w", err)
		j.phase = PhaseFailed
		return
	}
	if _, err := j.archive.Append(ctx, recordingID, data); err != nil {
		j.lastErr = fmt.Errorf("dynamic join: replicate entry: %w", err)
		j.phase = PhaseFailed
		return
	}
	if err := j.archive.StopRecording(ctx, recordingID); err != nil {
		j.lastErr = fmt.Errorf("dynamic join: stop recording: %w", err)
		j.phase = PhaseFailed
		return
	}
	j.phase = PhaseCaughtUp
}

// Chosen reports the snapshot descriptor this join settled on, once
// PhaseCaughtUp or later.
func (j *Join) Chosen() SnapshotDescriptor { return j.chosen }

// Complete marks the bootstrap finished; called once the agent has loaded
// the replicated snapshot and is ready to enter its normal election.
func (j *Join) Complete() { j.phase = PhaseDone }
