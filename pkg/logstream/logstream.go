// Package logstream implements the LogPublisher/LogAdapter pair of §4.5:
// typed appends for the leader's replicated-log entry kinds, and a handler
// dispatch for followers consuming the same stream.
package logstream

import (
	"encoding/json"

	"github.com/cuemby/concord/pkg/transport"
)

// EntryKind tags a replicated-log frame.
type EntryKind string

const (
	EntrySessionOpen            EntryKind = "SessionOpen"
	EntrySessionClose           EntryKind = "SessionClose"
	EntrySessionMessage         EntryKind = "SessionMessage"
	EntryTimer                  EntryKind = "Timer"
	EntryClusterAction          EntryKind = "ClusterAction"
	EntryNewLeadershipTermEvent EntryKind = "NewLeadershipTermEvent"
	EntryMembershipChangeEvent  EntryKind = "MembershipChangeEvent"
	EntryServiceSessionMessage  EntryKind = "ServiceSessionMessage"
)

// ClusterActionKind is the payload of an EntryClusterAction frame.
type ClusterActionKind string

const (
	ActionSnapshot    ClusterActionKind = "SNAPSHOT"
	ActionShutdown    ClusterActionKind = "SHUTDOWN"
	ActionAbort       ClusterActionKind = "ABORT"
	ActionSuspend     ClusterActionKind = "SUSPEND"
)

// Frame is one replicated-log entry as carried on the wire.
type Frame struct {
	Kind EntryKind       `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Publisher appends typed entries to the replicated log, returning the
// resulting stream position (>0), or 0 on flow control (§4.5: "to be
// retried next tick — this is the key backpressure signal").
type Publisher struct {
	pub transport.Publication
}

// NewPublisher wraps a Publication as a typed log appender.
func NewPublisher(pub transport.Publication) *Publisher {
	return &Publisher{pub: pub}
}

// Close closes the underlying publication, e.g. when a leader steps down
// (§4.1's prepareForNewLeadership).
func (p *Publisher) Close() error { return p.pub.Close() }

func (p *Publisher) append(kind EntryKind, body interface{}) (int64, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	frame, err := json.Marshal(Frame{Kind: kind, Body: payload})
	if err != nil {
		return 0, err
	}
	return p.pub.Offer(frame)
}

// SessionOpenBody is the payload of an EntrySessionOpen frame.
type SessionOpenBody struct {
	SessionID        int64
	ResponseStreamID int32
	ResponseChannel  string
	TimestampNs      int64
}

func (p *Publisher) AppendSessionOpen(b SessionOpenBody) (int64, error) {
	return p.append(EntrySessionOpen, b)
}

// SessionCloseBody is the payload of an EntrySessionClose frame.
type SessionCloseBody struct {
	SessionID int64
	Reason    string
}

func (p *Publisher) AppendSessionClose(b SessionCloseBody) (int64, error) {
	return p.append(EntrySessionClose, b)
}

// SessionMessageBody is the payload of a client-originated command.
type SessionMessageBody struct {
	SessionID int64
	Payload   []byte
}

func (p *Publisher) AppendSessionMessage(b SessionMessageBody) (int64, error) {
	return p.append(EntrySessionMessage, b)
}

// TimerBody is the payload of a fired-timer entry.
type TimerBody struct {
	CorrelationID int64
}

func (p *Publisher) AppendTimer(b TimerBody) (int64, error) {
	return p.append(EntryTimer, b)
}

// ClusterActionBody is the payload of a ClusterAction entry.
type ClusterActionBody struct {
	Action           ClusterActionKind
	LeadershipTermID int64
}

func (p *Publisher) AppendClusterAction(b ClusterActionBody) (int64, error) {
	return p.append(EntryClusterAction, b)
}

// NewLeadershipTermBody is the payload of a NewLeadershipTermEvent entry.
type NewLeadershipTermBody struct {
	LeadershipTermID    int64
	TermBaseLogPosition int64
	LeaderMemberID      int32
	LogSessionID        int64
}

func (p *Publisher) AppendNewLeadershipTermEvent(b NewLeadershipTermBody) (int64, error) {
	return p.append(EntryNewLeadershipTermEvent, b)
}

// MembershipChangeBody is the payload of a MembershipChangeEvent entry.
type MembershipChangeBody struct {
	ChangeType string // "JOIN" or "QUIT"
	MemberID   int32
	Members    json.RawMessage // encoded full member set
}

func (p *Publisher) AppendMembershipChangeEvent(b MembershipChangeBody) (int64, error) {
	return p.append(EntryMembershipChangeEvent, b)
}

// ServiceSessionMessageBody is the payload of a service-originated command
// once it has been chosen for append by the leader tick.
type ServiceSessionMessageBody struct {
	ServiceSessionID int64
	Payload          []byte
}

func (p *Publisher) AppendServiceSessionMessage(b ServiceSessionMessageBody) (int64, error) {
	return p.append(EntryServiceSessionMessage, b)
}

// Handlers dispatches decoded frames to per-kind callbacks; a follower
// (or the leader, replaying its own entries) implements only the kinds it
// cares about.
type Handlers struct {
	OnSessionOpen            func(SessionOpenBody, int64)
	OnSessionClose            func(SessionCloseBody, int64)
	OnSessionMessage          func(SessionMessageBody, int64)
	OnTimer                   func(TimerBody, int64)
	OnClusterAction           func(ClusterActionBody, int64)
	OnNewLeadershipTermEvent  func(NewLeadershipTermBody, int64)
	OnMembershipChangeEvent   func(MembershipChangeBody, int64)
	OnServiceSessionMessage   func(ServiceSessionMessageBody, int64)
}

// Adapter polls a replicated-log Image and dispatches decoded frames to a
// Handlers set, up to a caller-supplied commit ceiling.
type Adapter struct {
	image transport.Image
}

// NewAdapter wraps an Image as a typed log consumer.
func NewAdapter(image transport.Image) *Adapter {
	return &Adapter{image: image}
}

// Position is the adapter's local replay position (the spec's
// local_append_position on a follower).
func (a *Adapter) Position() int64 { return a.image.Position() }

// IsClosed reports whether the underlying image closed.
func (a *Adapter) IsClosed() bool { return a.image.IsClosed() }

// Available is the highest position offered to the underlying image so far,
// independent of ceiling or this adapter's own replay progress — a
// follower's raw append-position report (§4.6).
func (a *Adapter) Available() int64 { return a.image.Available() }

// Poll consumes frames up to ceiling (a follower's notified commit position,
// per §4.1), dispatching each to h. fragmentLimit bounds how many frames a
// single call may consume. A fragment past ceiling aborts the batch without
// being consumed, so it is re-offered once ceiling advances.
func (a *Adapter) Poll(h Handlers, ceiling int64, fragmentLimit int) int {
	return a.image.Poll(func(raw []byte, position int64) bool {
		if position > ceiling {
			return false
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return true
		}
		dispatch(h, frame, position)
		return true
	}, fragmentLimit)
}

func dispatch(h Handlers, frame Frame, position int64) {
	switch frame.Kind {
	case EntrySessionOpen:
		if h.OnSessionOpen != nil {
			var b SessionOpenBody
			_ = json.Unmarshal(frame.Body, &b)
			h.OnSessionOpen(b, position)
		}
	case EntrySessionClose:
		if h.OnSessionClose != nil {
			var b SessionCloseBody
			_ = json.Unmarshal(frame.Body, &b)
			h.OnSessionClose(b, position)
		}
	case EntrySessionMessage:
		if h.OnSessionMessage != nil {
			var b SessionMessageBody
			_ = json.Unmarshal(frame.Body, &b)
			h.OnSessionMessage(b, position)
		}
	case EntryTimer:
		if h.OnTimer != nil {
			var b TimerBody
			_ = json.Unmarshal(frame.Body, &b)
			h.OnTimer(b, position)
		}
	case EntryClusterAction:
		if h.OnClusterAction != nil {
			var b ClusterActionBody
			_ = json.Unmarshal(frame.Body, &b)
			h.OnClusterAction(b, position)
		}
	case EntryNewLeadershipTermEvent:
		if h.OnNewLeadershipTermEvent != nil {
			var b NewLeadershipTermBody
			_ = json.Unmarshal(frame.Body, &b)
			h.OnNewLeadershipTermEvent(b, position)
		}
	case EntryMembershipChangeEvent:
		if h.OnMembershipChangeEvent != nil {
			var b MembershipChangeBody
			_ = json.Unmarshal(frame.Body, &b)
			h.OnMembershipChangeEvent(b, position)
		}
	case EntryServiceSessionMessage:
		if h.OnServiceSessionMessage != nil {
			var b ServiceSessionMessageBody
			_ = json.Unmarshal(frame.Body, &b)
			h.OnServiceSessionMessage(b, position)
		}
	}
}
