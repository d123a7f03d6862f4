package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/concord/pkg/membership"
	"github.com/cuemby/concord/pkg/pending"
	"github.com/cuemby/concord/pkg/timer"
	"github.com/cuemby/concord/pkg/types"
)

func TestTakeOnlyIncludesOpenAndClosedSessions(t *testing.T) {
	members := membership.New()
	members.AddActive(&types.ClusterMember{ID: 1})
	wheel := timer.NewWheel(10*time.Millisecond, 16, 0)
	wheel.Schedule(7, 100)
	queue := pending.New(8)
	_, _ = queue.Offer([]byte("msg"))

	sessions := []*types.ClusterSession{
		{ID: 1, State: types.SessionOpen},
		{ID: 2, State: types.SessionClosed},
		{ID: 3, State: types.SessionConnected},
	}

	img := Take(50, 1, "ns", 1, ModuleState{NextSessionID: 4}, members, sessions, wheel, queue)

	require.Len(t, img.Sessions, 2)
	assert.Equal(t, MarkerBegin, img.Header.Marker)
	assert.Equal(t, int64(50), img.Header.LogPosition)
	assert.Len(t, img.Members, 1)
	assert.Len(t, img.Timers, 1)
	assert.Len(t, img.PendingMessages, 1)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	members := membership.New()
	members.AddActive(&types.ClusterMember{ID: 1})
	wheel := timer.NewWheel(10*time.Millisecond, 16, 0)
	queue := pending.New(8)

	img := Take(10, 2, "ns", 1, ModuleState{NextSessionID: 2}, members, nil, wheel, queue)

	data, err := Encode(img)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, img.Header, decoded.Header)
	assert.Equal(t, img.ModuleState, decoded.ModuleState)
}

func TestLoadRestoresMembersTimersAndQueue(t *testing.T) {
	srcMembers := membership.New()
	srcMembers.AddActive(&types.ClusterMember{ID: 1, LogPosition: 5})
	srcWheel := timer.NewWheel(10*time.Millisecond, 16, 0)
	srcWheel.Schedule(9, 100)
	srcQueue := pending.New(8)
	_, _ = srcQueue.Offer([]byte("a"))

	sessions := []*types.ClusterSession{{ID: 1, State: types.SessionOpen}}
	img := Take(20, 1, "ns", 1, ModuleState{NextSessionID: 2, NextServiceSessionID: types.ServiceSessionIDBase + 1}, srcMembers, sessions, srcWheel, srcQueue)

	dstMembers := membership.New()
	dstWheel := timer.NewWheel(10*time.Millisecond, 16, 0)
	dstQueue := pending.New(8)

	loaded := Load(img, dstMembers, dstWheel, dstQueue)

	require.Len(t, loaded, 1)
	assert.Equal(t, types.SessionOpen, loaded[0].State)

	m, ok := dstMembers.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(5), m.LogPosition)

	assert.Equal(t, 1, dstWheel.Len())

	msg, _, ok := dstQueue.HeadUnappended()
	require.True(t, ok)
	assert.Equal(t, types.SentinelNotAppended, msg.Timestamp)
}
