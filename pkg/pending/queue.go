// Package pending implements the PendingMessageQueue of §4.3: a ring buffer
// of service-originated messages awaiting log append, identified by a
// reserved service-session-id range, with leader and follower sweepers that
// reconcile committed state back into the ring.
package pending

import (
	"errors"

	"github.com/cuemby/concord/pkg/types"
)

// ErrCapacityExceeded is returned when the ring cannot grow to accept a new
// message (§7 CapacityExceeded, a fatal error kind).
var ErrCapacityExceeded = errors.New("pending message queue: capacity exceeded")

// Queue is the ring buffer of pending service messages.
type Queue struct {
	capacity int
	slots    []types.PendingServiceMessage
	head     int // index of the next slot to attempt appending

	nextServiceSessionID int64
}

// New creates a Queue with the given capacity and the starting
// service-session-id allocator.
func New(capacity int) *Queue {
	return &Queue{
		capacity:             capacity,
		nextServiceSessionID: types.ServiceSessionIDBase,
	}
}

// Offer stamps payload with a fresh service-session-id and the
// not-yet-appended sentinel, then appends it to the ring. Returns
// ErrCapacityExceeded if the ring is full.
func (q *Queue) Offer(payload []byte) (int64, error) {
	if len(q.slots)-q.head >= q.capacity {
		return 0, ErrCapacityExceeded
	}

	id := q.nextServiceSessionID
	q.nextServiceSessionID++

	q.slots = append(q.slots, types.PendingServiceMessage{
		ServiceSessionID: id,
		Timestamp:        types.SentinelNotAppended,
		Payload:          payload,
	})
	return id, nil
}

// NextServiceSessionID reports the id that would be assigned to the next
// Offer, without consuming it — used by the invariant
// next_service_session_id > log_service_session_id.
func (q *Queue) NextServiceSessionID() int64 { return q.nextServiceSessionID }

// HeadUnappended returns the next not-yet-appended slot (for the leader tick
// to attempt appending), or false if there is none.
func (q *Queue) HeadUnappended() (types.PendingServiceMessage, int, bool) {
	for i := q.head; i < len(q.slots); i++ {
		if q.slots[i].Timestamp == types.SentinelNotAppended {
			return q.slots[i], i, true
		}
	}
	return types.PendingServiceMessage{}, 0, false
}

// MarkAppended records the log position a slot was appended at, and advances
// the head offset past any now-contiguous appended prefix.
func (q *Queue) MarkAppended(index int, appendPosition int64) {
	q.slots[index].Timestamp = appendPosition
	for q.head < len(q.slots) && q.slots[q.head].Timestamp != types.SentinelNotAppended {
		q.head++
	}
}

// LeaderSweep removes every slot whose recorded append position is <=
// commitPosition, as the leader does once commit advances (§4.3).
func (q *Queue) LeaderSweep(commitPosition int64) (removed int) {
	kept := q.slots[:0:0]
	for _, s := range q.slots {
		if s.Timestamp != types.SentinelNotAppended && s.Timestamp <= commitPosition {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	q.slots = kept
	q.head = 0
	for q.head < len(q.slots) && q.slots[q.head].Timestamp != types.SentinelNotAppended {
		q.head++
	}
	return removed
}

// FollowerSweep removes every slot whose embedded service-session-id is <=
// logServiceSessionID, the highest id the follower has observed committed in
// the replicated log (§4.3).
func (q *Queue) FollowerSweep(logServiceSessionID int64) (removed int) {
	kept := q.slots[:0:0]
	for _, s := range q.slots {
		if s.ServiceSessionID <= logServiceSessionID {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	q.slots = kept
	q.head = 0
	return removed
}

// RestoreUncommitted resets every unappended... actually every slot's
// timestamp sentinel back to I64_MAX and zeroes the head offset, so a new
// leader (or subsequent catch-up) can re-append cleanly after a role loss.
func (q *Queue) RestoreUncommitted() {
	for i := range q.slots {
		q.slots[i].Timestamp = types.SentinelNotAppended
	}
	q.head = 0
}

// Len returns the number of messages currently held (appended or not).
func (q *Queue) Len() int { return len(q.slots) }

// Snapshot returns every message currently held, for inclusion in a module
// snapshot (§4.8).
func (q *Queue) Snapshot() []types.PendingServiceMessage {
	out := make([]types.PendingServiceMessage, len(q.slots))
	copy(out, q.slots)
	return out
}

// Restore replaces the ring's contents from a snapshot. Per §4.8, loaded
// entries have their timestamp slots reset to the not-yet-appended sentinel
// since they have not been re-appended in the new term.
func (q *Queue) Restore(messages []types.PendingServiceMessage, nextServiceSessionID int64) {
	q.slots = make([]types.PendingServiceMessage, len(messages))
	copy(q.slots, messages)
	for i := range q.slots {
		q.slots[i].Timestamp = types.SentinelNotAppended
	}
	q.head = 0
	q.nextServiceSessionID = nextServiceSessionID
}
