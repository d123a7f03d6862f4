package markfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaybeWriteRespectsCadence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "concord.mark")
	w := NewWriter(path, 1*time.Second)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	wrote, err := w.MaybeWrite(Status{ModuleState: "ACTIVE"}, base)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = w.MaybeWrite(Status{ModuleState: "ACTIVE"}, base.Add(500*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, wrote, "write within cadence should be skipped")

	wrote, err = w.MaybeWrite(Status{ModuleState: "SUSPENDED"}, base.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, wrote)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Status
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "SUSPENDED", got.ModuleState)
}

func TestMaybeWriteCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "concord.mark")
	w := NewWriter(path, 0)

	wrote, err := w.MaybeWrite(Status{ModuleState: "ACTIVE"}, time.Now())
	require.NoError(t, err)
	assert.True(t, wrote)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
