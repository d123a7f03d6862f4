package agent

import (
	"context"
	"time"

	"github.com/cuemby/concord/pkg/dynamicjoin"
)

// DoWork runs one iteration of the agent's cooperative tick loop (§4.1):
// slow-tick work on its own cadence, then dispatch in priority order between
// dynamic-join, election, and normal consensus work. It returns the amount
// of work done, for the caller's idle strategy to back off on zero.
func (a *Agent) DoWork() int {
	work := 0
	now := nowNs()

	interval := a.cfg.SlowTickInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	if now-a.lastSlowTickNs >= interval.Nanoseconds() {
		a.lastSlowTickNs = now
		work += a.slowTick(now)
	}

	switch {
	case a.dynJoin != nil:
		work += a.tickDynamicJoin()
	default:
		work += a.pollElection()
		work += a.consensusTick(now)
	}

	if a.state == StateSnapshot {
		work += a.pollServiceAcks()
		if a.snapshotAckComplete(a.expectedServiceAcks()) {
			a.completeSnapshot()
			work++
		}
	}

	if a.state == StateTerminating {
		work += a.checkTerminationDone()
	}

	work += a.pollMemberStatus()
	work += a.updateMemberPosition(now)

	return work
}

// expectedServiceAcks is the number of hosted services that must ack before
// a snapshot completes; zero services means the module-only snapshot
// completes immediately.
func (a *Agent) expectedServiceAcks() int {
	if a.svcHost == nil {
		return 0
	}
	return a.svcHost.SubscriberCount()
}

// Run drives DoWork in a loop using the configured idle strategy until stop
// is closed, or the module reaches CLOSED.
func (a *Agent) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if a.state == StateClosed {
			return
		}
		n := a.DoWork()
		if n > 0 {
			a.idleStrategy.Reset()
		} else {
			a.idleStrategy.Idle()
		}
	}
}

func (a *Agent) tickDynamicJoin() int {
	a.dynJoin.Poll(context.Background())
	switch a.dynJoin.Phase() {
	case dynamicjoin.PhaseCaughtUp:
		a.loadDynamicJoinSnapshot()
		a.dynJoin.Complete()
		a.dynJoin = nil
		return 1
	case dynamicjoin.PhaseFailed:
		a.log.Error().Err(a.dynJoin.Err()).Msg("dynamic join failed, retrying from peer query")
		a.dynJoin = dynamicjoin.New(a.log, a.joinPeers, a.joinQuery, a.archive)
		return 1
	default:
		return 0
	}
}

func (a *Agent) slowTick(now int64) int {
	switch a.role {
	case RoleLeader:
		return a.leaderSlowTick(now)
	default:
		return a.followerSlowTick(now)
	}
}

func (a *Agent) consensusTick(now int64) int {
	switch a.state {
	case StateClosed, StateQuitting:
		return 0
	}
	switch a.role {
	case RoleLeader:
		return a.leaderConsensusTick(now)
	default:
		return a.followerConsensusTick(now)
	}
}
