// Package uncommitted tracks leader-side state mutations that anticipate
// commit — fired timers, closed sessions, and appended service messages —
// so they can be released on commit advancement or rolled back on
// leadership loss. Per the design notes (§9) this is modeled as one
// time-ordered log of tagged entries rather than three parallel queues.
package uncommitted

import "github.com/cuemby/concord/pkg/types"

// Kind tags an Entry.
type Kind int

const (
	KindTimer Kind = iota
	KindSessionClose
	KindServiceMessage
)

// Entry is one uncommitted mutation, keyed by the append position it was
// appended at.
type Entry struct {
	Kind          Kind
	AppendPosition int64
	Timer         *types.TimerEntry
	Session       *types.ClusterSession
}

// Ledger is the ordered log of uncommitted entries.
type Ledger struct {
	entries []Entry
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{}
}

// PushTimer records a fired timer awaiting commit.
func (l *Ledger) PushTimer(appendPosition, correlationID int64) {
	l.entries = append(l.entries, Entry{
		Kind:           KindTimer,
		AppendPosition: appendPosition,
		Timer:          &types.TimerEntry{CorrelationID: correlationID},
	})
}

// PushSessionClose records a closed session awaiting commit.
func (l *Ledger) PushSessionClose(session *types.ClusterSession) {
	l.entries = append(l.entries, Entry{
		Kind:           KindSessionClose,
		AppendPosition: session.ClosedLogPosition,
		Session:        session,
	})
}

// PushServiceMessage increments the uncommitted service-message count; the
// message payload itself lives in pkg/pending's ring, this only tracks that
// one more slot is unreleased.
func (l *Ledger) PushServiceMessage(appendPosition int64) {
	l.entries = append(l.entries, Entry{Kind: KindServiceMessage, AppendPosition: appendPosition})
}

// ServiceMessageCount returns the number of unreleased service-message
// entries, i.e. uncommitted_service_messages_count.
func (l *Ledger) ServiceMessageCount() int {
	n := 0
	for _, e := range l.entries {
		if e.Kind == KindServiceMessage {
			n++
		}
	}
	return n
}

// Release pops every entry whose append position is <= commitPosition,
// returning the timers and sessions that are now safely committed (for the
// caller to sweep from the timer wheel / session map) plus the count of
// service messages released.
func (l *Ledger) Release(commitPosition int64) (timers []*types.TimerEntry, sessions []*types.ClusterSession, serviceMessagesReleased int) {
	var kept []Entry
	for _, e := range l.entries {
		if e.AppendPosition <= commitPosition {
			switch e.Kind {
			case KindTimer:
				timers = append(timers, e.Timer)
			case KindSessionClose:
				sessions = append(sessions, e.Session)
			case KindServiceMessage:
				serviceMessagesReleased++
			}
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return timers, sessions, serviceMessagesReleased
}

// Restore rolls back every entry whose append position exceeds
// safeCommitPosition: timers are re-armed by the caller, closed sessions are
// reinstated into the active session map, and service-message slots are
// reset. Entries at or below safeCommitPosition are left untouched (they are
// presumed durably committed). Returns the entries that were rolled back.
func (l *Ledger) Restore(safeCommitPosition int64) []Entry {
	var rolledBack []Entry
	var kept []Entry
	for _, e := range l.entries {
		if e.AppendPosition > safeCommitPosition {
			rolledBack = append(rolledBack, e)
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return rolledBack
}

// Len returns the total number of pending (unreleased) entries of any kind.
func (l *Ledger) Len() int { return len(l.entries) }
