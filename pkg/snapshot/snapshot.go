// Package snapshot implements the SnapshotTaker/Loader of §4.8: the
// serialized image of agent state at a specific log position, written to an
// archive recording and read back symmetrically on recovery.
package snapshot

import (
	"encoding/json"

	"github.com/cuemby/concord/pkg/membership"
	"github.com/cuemby/concord/pkg/pending"
	"github.com/cuemby/concord/pkg/timer"
	"github.com/cuemby/concord/pkg/types"
)

// MarkerType distinguishes the BEGIN/END framing markers from the body.
type MarkerType string

const (
	MarkerBegin MarkerType = "BEGIN"
	MarkerEnd   MarkerType = "END"
)

// Header is the BEGIN marker: type id, log position, leadership term id,
// time unit, and app version (§4.8 step 3).
type Header struct {
	Marker           MarkerType
	LogPosition      int64
	LeadershipTermID int64
	TimeUnit         string
	AppVersion       int32
}

// ModuleState is the snapshot_consensus_module_state record: next session
// id, next/log service session ids, and pending message capacity.
type ModuleState struct {
	NextSessionID        int64
	NextServiceSessionID int64
	LogServiceSessionID  int64
	PendingQueueCapacity int
}

// Image is the full serialized snapshot body written between the BEGIN and
// END markers.
type Image struct {
	Header          Header
	ModuleState     ModuleState
	Members         []types.ClusterMember
	Sessions        []types.ClusterSession // every session whose state is OPEN or CLOSED
	Timers          []timer.Expiry
	PendingMessages []types.PendingServiceMessage
}

// Encode serializes an Image to bytes for writing to the snapshot
// publication.
func Encode(img Image) ([]byte, error) {
	return json.Marshal(img)
}

// Decode parses a previously-written snapshot image.
func Decode(data []byte) (Image, error) {
	var img Image
	err := json.Unmarshal(data, &img)
	return img, err
}

// Taker builds an Image from the agent's live components at a given log
// position. Its caller (the agent's completeSnapshot) encodes the image,
// writes it to a new archive recording, and records it in the RecordingLog
// with AppendSnapshot.
type Taker struct{}

// Take assembles the snapshot body. Only OPEN and CLOSED sessions are
// included, per §4.8 step 3.
func Take(
	logPosition, leadershipTermID int64,
	timeUnit string,
	appVersion int32,
	moduleState ModuleState,
	members *membership.Set,
	allSessions []*types.ClusterSession,
	wheel *timer.Wheel,
	queue *pending.Queue,
) Image {
	sessions := make([]types.ClusterSession, 0, len(allSessions))
	for _, s := range allSessions {
		if s.State == types.SessionOpen || s.State == types.SessionClosed {
			sessions = append(sessions, *s)
		}
	}

	return Image{
		Header: Header{
			Marker:           MarkerBegin,
			LogPosition:      logPosition,
			LeadershipTermID: leadershipTermID,
			TimeUnit:         timeUnit,
			AppVersion:       appVersion,
		},
		ModuleState:     moduleState,
		Members:         members.Encode(),
		Sessions:        sessions,
		Timers:          wheel.Snapshot(),
		PendingMessages: queue.Snapshot(),
	}
}

// Loader restores agent components from a decoded Image. Pending-message
// timestamp slots are reset to the not-yet-appended sentinel by
// pending.Queue.Restore, per §4.8's "they are not yet re-appended in this
// term."
func Load(img Image, members *membership.Set, wheel *timer.Wheel, queue *pending.Queue) (sessions []*types.ClusterSession) {
	for i := range img.Members {
		members.AddActive(&img.Members[i])
	}

	wheel.Restore(img.Timers)
	queue.Restore(img.PendingMessages, img.ModuleState.NextServiceSessionID)

	sessions = make([]*types.ClusterSession, 0, len(img.Sessions))
	for i := range img.Sessions {
		s := img.Sessions[i]
		sessions = append(sessions, &s)
	}
	return sessions
}
