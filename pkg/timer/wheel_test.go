package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWheelScheduleAndPoll(t *testing.T) {
	w := NewWheel(10*time.Millisecond, 16, 0)

	w.Schedule(1, 100)
	w.Schedule(2, 200)
	require.Equal(t, 2, w.Len())

	expired := w.Poll(100)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(1), expired[0].CorrelationID)
	assert.Equal(t, 1, w.Len())

	expired = w.Poll(200)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(2), expired[0].CorrelationID)
	assert.Equal(t, 0, w.Len())
}

func TestWheelCancel(t *testing.T) {
	w := NewWheel(10*time.Millisecond, 16, 0)
	w.Schedule(1, 100)

	assert.True(t, w.Cancel(1))
	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Poll(1000))
}

func TestWheelRescheduleReplacesPrior(t *testing.T) {
	w := NewWheel(10*time.Millisecond, 16, 0)
	w.Schedule(1, 100)
	w.Schedule(1, 500)

	assert.Empty(t, w.Poll(100))
	expired := w.Poll(500)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(500), expired[0].Deadline)
}

func TestWheelDuplicateFireSuppression(t *testing.T) {
	w := NewWheel(10*time.Millisecond, 16, 0)

	// Cancel with nothing scheduled (replay observed the fire before the
	// schedule): records a suppression count.
	assert.False(t, w.Cancel(7))

	// The next Schedule for the same correlation id is swallowed rather
	// than arming a new timer.
	w.Schedule(7, 1000)
	assert.Equal(t, 0, w.Len())

	// A further Schedule behaves normally again.
	w.Schedule(7, 2000)
	assert.Equal(t, 1, w.Len())
}

func TestWheelTickIndexCollisionKeepsBothTimers(t *testing.T) {
	w := NewWheel(10*time.Millisecond, 16, 0)

	// ticksPerWheel*tickResolution is 160ms; a deadline this far out wraps to
	// the same tick index as correlation 1's, which previously clobbered it.
	w.Schedule(1, 100)
	w.Schedule(2, 100+160*10*int64(time.Millisecond))
	require.Equal(t, 2, w.Len())

	expired := w.Poll(100)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(1), expired[0].CorrelationID)
	assert.Equal(t, 1, w.Len(), "the colliding timer for correlation 2 must survive")

	assert.True(t, w.Cancel(2))
	assert.Equal(t, 0, w.Len())
}

func TestWheelSnapshotRestore(t *testing.T) {
	w := NewWheel(10*time.Millisecond, 16, 0)
	w.Schedule(1, 100)
	w.Schedule(2, 200)

	snap := w.Snapshot()
	require.Len(t, snap, 2)

	restored := NewWheel(10*time.Millisecond, 16, 0)
	restored.Restore(snap)
	assert.Equal(t, 2, restored.Len())

	expired := restored.Poll(200)
	assert.Len(t, expired, 2)
}
