// Package membership implements the MembershipSet of §4.7: the active
// (voting) and passive (non-voting) member sets, quorum arithmetic, and the
// JOIN/QUIT lifecycle that is log-replicated and takes effect at replay time
// on every node.
package membership

import (
	"sort"

	"github.com/cuemby/concord/pkg/types"
)

// Set holds the active and passive member sets of the cluster.
type Set struct {
	active  map[int32]*types.ClusterMember
	passive map[int32]*types.ClusterMember
}

// New creates an empty Set.
func New() *Set {
	return &Set{
		active:  make(map[int32]*types.ClusterMember),
		passive: make(map[int32]*types.ClusterMember),
	}
}

// AddActive adds or replaces an active (voting) member.
func (s *Set) AddActive(m *types.ClusterMember) { s.active[m.ID] = m }

// AddPassive adds a non-voting member awaiting promotion.
func (s *Set) AddPassive(m *types.ClusterMember) { s.passive[m.ID] = m }

// Promote moves a passive member into the active set, as happens when the
// leader appends a JOIN MembershipChangeEvent for it (§4.7).
func (s *Set) Promote(id int32) bool {
	m, ok := s.passive[id]
	if !ok {
		return false
	}
	delete(s.passive, id)
	s.active[id] = m
	return true
}

// Remove deletes a member (active or passive) from the set, as happens at
// QUIT replay time.
func (s *Set) Remove(id int32) {
	delete(s.active, id)
	delete(s.passive, id)
}

// Active returns every active (voting) member.
func (s *Set) Active() []*types.ClusterMember {
	out := make([]*types.ClusterMember, 0, len(s.active))
	for _, m := range s.active {
		out = append(out, m)
	}
	return out
}

// Passive returns every passive (non-voting) member.
func (s *Set) Passive() []*types.ClusterMember {
	out := make([]*types.ClusterMember, 0, len(s.passive))
	for _, m := range s.passive {
		out = append(out, m)
	}
	return out
}

// Get returns the member with the given id from either set.
func (s *Set) Get(id int32) (*types.ClusterMember, bool) {
	if m, ok := s.active[id]; ok {
		return m, true
	}
	m, ok := s.passive[id]
	return m, ok
}

// Size returns the number of active (voting) members.
func (s *Set) Size() int { return len(s.active) }

// QuorumSize returns floor(n/2)+1 for n active members.
func QuorumSize(n int) int {
	return n/2 + 1
}

// QuorumPosition returns the (n-quorum+1)-th largest log position across
// active members, i.e. the position replicated to a quorum. Ties break by
// position descending (no special casing needed: a stable sort already
// orders equal positions together).
func (s *Set) QuorumPosition() int64 {
	n := len(s.active)
	if n == 0 {
		return 0
	}
	positions := make([]int64, 0, n)
	for _, m := range s.active {
		positions = append(positions, m.LogPosition)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] > positions[j] })

	quorum := QuorumSize(n)
	idx := n - quorum // zero-based index of the (n-quorum+1)-th largest
	return positions[idx]
}

// UpdatePosition records the log position reported by member id.
func (s *Set) UpdatePosition(id int32, position int64, nowNs int64) {
	if m, ok := s.active[id]; ok {
		m.LogPosition = position
		m.TimeOfLastAppendPositionNs = nowNs
	} else if m, ok := s.passive[id]; ok {
		m.LogPosition = position
		m.TimeOfLastAppendPositionNs = nowNs
	}
}

// QuorumHeartbeatAge returns how long ago (in ns, relative to nowNs) the
// most recently received of a quorum's worth of append positions arrived;
// used to detect leader quorum loss (§4.1's "no append from quorum within
// leader_heartbeat_timeout_ns").
func (s *Set) QuorumHeartbeatAge(nowNs int64) int64 {
	n := len(s.active)
	if n == 0 {
		return 0
	}
	times := make([]int64, 0, n)
	for _, m := range s.active {
		times = append(times, m.TimeOfLastAppendPositionNs)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] > times[j] })
	quorum := QuorumSize(n)
	newestOfQuorum := times[quorum-1]
	return nowNs - newestOfQuorum
}

// PendingRemovals returns active members flagged for removal whose
// removal_position has been committed, i.e. removalPosition != 0 and
// removalPosition <= commitPosition.
func (s *Set) PendingRemovals(commitPosition int64) []*types.ClusterMember {
	var out []*types.ClusterMember
	for _, m := range s.active {
		if m.HasRequestedRemove && m.RemovalPosition != 0 && m.RemovalPosition <= commitPosition {
			out = append(out, m)
		}
	}
	return out
}

// Encode serializes the full member set (active + passive) for embedding in
// a MembershipChangeEvent log entry or a snapshot.
func (s *Set) Encode() []types.ClusterMember {
	out := make([]types.ClusterMember, 0, len(s.active)+len(s.passive))
	for _, m := range s.active {
		out = append(out, *m)
	}
	for _, m := range s.passive {
		mm := *m
		out = append(out, mm)
	}
	return out
}
