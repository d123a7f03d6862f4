// Package agent implements the consensus module agent's run loop: the
// single-threaded tick dispatch, the module-state and role state machines,
// leader/follower consensus work, and coordinated termination. Every other
// package in this module is a narrow collaborator the agent drives.
package agent

// ModuleState is the consensus module's top-level lifecycle state (§4.1).
type ModuleState int

const (
	StateInit ModuleState = iota
	StateActive
	StateSuspended
	StateSnapshot
	StateTerminating
	StateQuitting
	StateClosed
)

func (s ModuleState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateActive:
		return "ACTIVE"
	case StateSuspended:
		return "SUSPENDED"
	case StateSnapshot:
		return "SNAPSHOT"
	case StateTerminating:
		return "TERMINATING"
	case StateQuitting:
		return "QUITTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Role is the node's role within the current leadership term (§4.1).
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "FOLLOWER"
	case RoleCandidate:
		return "CANDIDATE"
	case RoleLeader:
		return "LEADER"
	default:
		return "UNKNOWN"
	}
}

// ControlToggle is the operator-facing atomic control value of §6.
type ControlToggle int32

const (
	ToggleNeutral ControlToggle = iota
	ToggleSuspend
	ToggleResume
	ToggleSnapshot
	ToggleShutdown
	ToggleAbort
)

// TerminationReason records why the agent is moving to TERMINATING/CLOSED.
type TerminationReason int

const (
	TerminationNone TerminationReason = iota
	TerminationShutdown
	TerminationAbort
	TerminationFatalError
)
