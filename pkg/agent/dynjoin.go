package agent

import (
	"context"

	"github.com/cuemby/concord/pkg/dynamicjoin"
	"github.com/cuemby/concord/pkg/snapshot"
	"github.com/cuemby/concord/pkg/types"
)

// StartDynamicJoin puts the agent into the §4.9 bootstrap path: it takes
// priority over election and consensus work on every tick until the chosen
// snapshot has been replicated and loaded locally.
func (a *Agent) StartDynamicJoin(peers []int32, query dynamicjoin.PeerQuery) {
	a.joinPeers = peers
	a.joinQuery = query
	a.dynJoin = dynamicjoin.New(a.log, peers, query, a.archive)
}

// loadDynamicJoinSnapshot replays the snapshot recording the join settled on
// into local module state, the same way Recover loads a snapshot from the
// RecoveryPlan, then hands off to a normal (non-initial) election.
func (a *Agent) loadDynamicJoinSnapshot() {
	chosen := a.dynJoin.Chosen()
	ctx := context.Background()

	data, err := a.archive.Replay(ctx, chosen.RecordingID, 0, 0)
	if err != nil {
		a.log.Error().Err(err).Msg("dynamic join: replay local snapshot recording")
		return
	}
	img, err := snapshot.Decode(data)
	if err != nil {
		a.log.Error().Err(err).Msg("dynamic join: decode replicated snapshot")
		return
	}

	sessions := snapshot.Load(img, a.members, a.wheel, a.pendingQ)
	for _, s := range sessions {
		a.sessions.SetNextSessionID(img.ModuleState.NextSessionID)
		if s.State == types.SessionOpen {
			a.sessions.Open(s.ID, s.OpenedLogPosition)
		}
	}
	a.logServiceSessionID = img.ModuleState.LogServiceSessionID
	a.leadershipTermID = chosen.LeadershipTermID
	a.appendPosition = chosen.LogPosition
	a.commitPosition = chosen.LogPosition
	a.notifiedCommitPosition = chosen.LogPosition
	a.setState(StateActive)

	a.log.Info().Int32("member", chosen.MemberID).Int64("log_position", chosen.LogPosition).
		Msg("dynamic join caught up, entering election")
}
