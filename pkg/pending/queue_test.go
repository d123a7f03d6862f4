package pending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/concord/pkg/types"
)

func TestQueueOfferAssignsIncreasingServiceSessionIDs(t *testing.T) {
	q := New(4)

	id1, err := q.Offer([]byte("a"))
	require.NoError(t, err)
	id2, err := q.Offer([]byte("b"))
	require.NoError(t, err)

	assert.Equal(t, types.ServiceSessionIDBase, id1)
	assert.Equal(t, id1+1, id2)
	assert.Equal(t, id2+1, q.NextServiceSessionID())
}

func TestQueueOfferCapacityExceeded(t *testing.T) {
	q := New(2)
	_, err := q.Offer([]byte("a"))
	require.NoError(t, err)
	_, err = q.Offer([]byte("b"))
	require.NoError(t, err)

	_, err = q.Offer([]byte("c"))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestQueueHeadUnappendedAndMarkAppended(t *testing.T) {
	q := New(4)
	_, _ = q.Offer([]byte("a"))
	_, _ = q.Offer([]byte("b"))

	msg, idx, ok := q.HeadUnappended()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), msg.Payload)

	q.MarkAppended(idx, 10)
	assert.Equal(t, 1, q.head)

	msg, idx, ok = q.HeadUnappended()
	require.True(t, ok)
	assert.Equal(t, []byte("b"), msg.Payload)
	q.MarkAppended(idx, 11)
	assert.Equal(t, 2, q.head)

	_, _, ok = q.HeadUnappended()
	assert.False(t, ok)
}

func TestQueueLeaderSweep(t *testing.T) {
	q := New(4)
	_, _ = q.Offer([]byte("a"))
	_, _ = q.Offer([]byte("b"))
	_, _ = q.Offer([]byte("c"))

	_, i0, _ := q.HeadUnappended()
	q.MarkAppended(i0, 5)
	_, i1, _ := q.HeadUnappended()
	q.MarkAppended(i1, 6)

	removed := q.LeaderSweep(5)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, q.Len())
}

func TestQueueFollowerSweep(t *testing.T) {
	q := New(4)
	id1, _ := q.Offer([]byte("a"))
	_, _ = q.Offer([]byte("b"))

	removed := q.FollowerSweep(id1)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, q.Len())
}

func TestQueueRestoreUncommittedResetsSentinels(t *testing.T) {
	q := New(4)
	_, _ = q.Offer([]byte("a"))
	_, idx, _ := q.HeadUnappended()
	q.MarkAppended(idx, 5)

	q.RestoreUncommitted()
	msg, _, ok := q.HeadUnappended()
	require.True(t, ok)
	assert.Equal(t, types.SentinelNotAppended, msg.Timestamp)
}

func TestQueueSnapshotRestore(t *testing.T) {
	q := New(4)
	_, _ = q.Offer([]byte("a"))
	_, idx, _ := q.HeadUnappended()
	q.MarkAppended(idx, 5)

	snap := q.Snapshot()
	restored := New(4)
	restored.Restore(snap, q.NextServiceSessionID())

	msg, _, ok := restored.HeadUnappended()
	require.True(t, ok)
	assert.Equal(t, types.SentinelNotAppended, msg.Timestamp)
	assert.Equal(t, q.NextServiceSessionID(), restored.NextServiceSessionID())
}
