package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/concord/pkg/types"
)

func newMember(id int32, pos int64) *types.ClusterMember {
	return &types.ClusterMember{ID: id, LogPosition: pos}
}

func TestQuorumSize(t *testing.T) {
	cases := []struct {
		n        int
		expected int
	}{
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 3},
		{5, 3},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, QuorumSize(c.n))
	}
}

func TestQuorumPosition(t *testing.T) {
	s := New()
	s.AddActive(newMember(1, 100))
	s.AddActive(newMember(2, 80))
	s.AddActive(newMember(3, 50))

	// QuorumSize(3) == 2, so the position replicated to a quorum is the
	// 2nd largest: 80.
	assert.Equal(t, int64(80), s.QuorumPosition())
}

func TestQuorumPositionEmptySet(t *testing.T) {
	s := New()
	assert.Equal(t, int64(0), s.QuorumPosition())
}

func TestPromoteMovesPassiveToActive(t *testing.T) {
	s := New()
	s.AddPassive(newMember(9, 0))
	assert.Equal(t, 0, s.Size())

	ok := s.Promote(9)
	require.True(t, ok)
	assert.Equal(t, 1, s.Size())

	_, ok = s.Get(9)
	assert.True(t, ok)
}

func TestPromoteUnknownMemberFails(t *testing.T) {
	s := New()
	assert.False(t, s.Promote(42))
}

func TestRemoveDeletesFromBothSets(t *testing.T) {
	s := New()
	s.AddActive(newMember(1, 0))
	s.AddPassive(newMember(2, 0))

	s.Remove(1)
	s.Remove(2)
	_, ok1 := s.Get(1)
	_, ok2 := s.Get(2)
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestPendingRemovals(t *testing.T) {
	s := New()
	m := newMember(1, 0)
	m.HasRequestedRemove = true
	m.RemovalPosition = 50
	s.AddActive(m)
	s.AddActive(newMember(2, 0))

	assert.Empty(t, s.PendingRemovals(49))
	removed := s.PendingRemovals(50)
	require.Len(t, removed, 1)
	assert.Equal(t, int32(1), removed[0].ID)
}

func TestUpdatePositionAndQuorumHeartbeatAge(t *testing.T) {
	s := New()
	s.AddActive(newMember(1, 0))
	s.AddActive(newMember(2, 0))
	s.AddActive(newMember(3, 0))

	s.UpdatePosition(1, 10, 1000)
	s.UpdatePosition(2, 10, 2000)
	s.UpdatePosition(3, 10, 3000)

	// QuorumSize(3) == 2, so the age is relative to the 2nd-newest report.
	assert.Equal(t, int64(1000), s.QuorumHeartbeatAge(3000))
}
