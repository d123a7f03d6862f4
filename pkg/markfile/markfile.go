// Package markfile periodically writes a small status file describing this
// node's agent state, read by external health probes. Grounded on the
// component health-status-registration shape used elsewhere in this stack
// (a per-component status with a last-updated timestamp), narrowed here to a
// single flat status record written to disk on the slow-tick cadence rather
// than served over HTTP.
package markfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Status is the point-in-time snapshot written to the mark file.
type Status struct {
	ModuleState      string    `json:"module_state"`
	Role             string    `json:"role"`
	LeadershipTermID int64     `json:"leadership_term_id"`
	CommitPosition   int64     `json:"commit_position"`
	FileSyncLevel    int       `json:"file_sync_level"`
	ArchiveHealthy   bool      `json:"archive_healthy"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Writer writes Status to a file at a minimum cadence, matching the
// slow-tick's "update mark file on cadence" step.
type Writer struct {
	path     string
	cadence  time.Duration
	lastWrite time.Time
}

// NewWriter creates a Writer targeting path, written no more often than
// cadence.
func NewWriter(path string, cadence time.Duration) *Writer {
	return &Writer{path: path, cadence: cadence}
}

// MaybeWrite writes status to disk if at least cadence has elapsed since the
// last write at nowWall; returns whether a write occurred.
func (w *Writer) MaybeWrite(status Status, nowWall time.Time) (bool, error) {
	if !w.lastWrite.IsZero() && nowWall.Sub(w.lastWrite) < w.cadence {
		return false, nil
	}
	status.UpdatedAt = nowWall

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return false, err
	}

	tmp := w.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return false, err
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return false, err
	}

	w.lastWrite = nowWall
	return true, nil
}
