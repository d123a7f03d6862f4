package uncommitted

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/concord/pkg/types"
)

func TestLedgerReleaseSplitsByCommitPosition(t *testing.T) {
	l := New()
	l.PushTimer(10, 1)
	l.PushSessionClose(&types.ClusterSession{ID: 5, ClosedLogPosition: 20})
	l.PushServiceMessage(30)
	require.Equal(t, 3, l.Len())

	timers, sessions, serviceMsgs := l.Release(20)
	assert.Len(t, timers, 1)
	assert.Len(t, sessions, 1)
	assert.Equal(t, 0, serviceMsgs)
	assert.Equal(t, 1, l.Len())

	_, _, serviceMsgs = l.Release(30)
	assert.Equal(t, 1, serviceMsgs)
	assert.Equal(t, 0, l.Len())
}

func TestLedgerRestoreRollsBackAboveSafePosition(t *testing.T) {
	l := New()
	l.PushTimer(10, 1)
	l.PushTimer(20, 2)
	l.PushServiceMessage(30)

	rolledBack := l.Restore(15)
	require.Len(t, rolledBack, 2)
	assert.Equal(t, 1, l.Len())
}

func TestLedgerServiceMessageCount(t *testing.T) {
	l := New()
	l.PushServiceMessage(1)
	l.PushServiceMessage(2)
	l.PushTimer(3, 9)

	assert.Equal(t, 2, l.ServiceMessageCount())
}
