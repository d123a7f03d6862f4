// Package cerrors classifies agent errors into the kinds of §7: each kind is
// either fatal (the agent terminates) or recoverable (the agent runs an
// explicit recovery transition, usually entering an election).
package cerrors

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds the agent recognizes.
type Kind int

const (
	TransportClosed Kind = iota
	RecordingStopped
	IncompatibleVersion
	IncompatibleTimeUnit
	CapacityExceeded
	QuorumLost
	LeaderHeartbeatTimeout
	UnexpectedRoleMessage
	SnapshotInvalidAck
	ArchiveOperation
	SessionTimeout
)

func (k Kind) String() string {
	switch k {
	case TransportClosed:
		return "TransportClosed"
	case RecordingStopped:
		return "RecordingStopped"
	case IncompatibleVersion:
		return "IncompatibleVersion"
	case IncompatibleTimeUnit:
		return "IncompatibleTimeUnit"
	case CapacityExceeded:
		return "CapacityExceeded"
	case QuorumLost:
		return "QuorumLost"
	case LeaderHeartbeatTimeout:
		return "LeaderHeartbeatTimeout"
	case UnexpectedRoleMessage:
		return "UnexpectedRoleMessage"
	case SnapshotInvalidAck:
		return "SnapshotInvalidAck"
	case ArchiveOperation:
		return "ArchiveOperation"
	case SessionTimeout:
		return "SessionTimeout"
	default:
		return "Unknown"
	}
}

// Fatal reports whether an error of this kind moves the module state to
// CLOSED and runs the termination hook, rather than being recovered from.
func (k Kind) Fatal() bool {
	switch k {
	case TransportClosed, RecordingStopped, IncompatibleVersion, IncompatibleTimeUnit,
		CapacityExceeded, SnapshotInvalidAck:
		return true
	default:
		return false
	}
}

// AgentError wraps an underlying error with its classification.
type AgentError struct {
	Kind Kind
	Err  error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// New wraps err with the given kind. A nil err still produces a non-nil
// *AgentError carrying just the kind, for sentinel-style checks.
func New(kind Kind, err error) *AgentError {
	return &AgentError{Kind: kind, Err: err}
}

// Newf is a convenience constructor mirroring fmt.Errorf.
func Newf(kind Kind, format string, args ...interface{}) *AgentError {
	return &AgentError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *AgentError.
func KindOf(err error) (Kind, bool) {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return 0, false
}
