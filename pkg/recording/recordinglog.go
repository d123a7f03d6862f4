// Package recording implements the RecordingLog of §4/§6: a durable,
// fsync'able index of leadership terms and snapshots keyed by leadership
// term id, on top of go.etcd.io/bbolt — the same bucket-per-kind pattern the
// rest of this stack uses for its durable state.
package recording

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/cuemby/concord/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTerms     = []byte("terms")
	bucketSnapshots = []byte("snapshots")
)

// Log is the durable sequence of TermEntry and SnapshotEntry records.
type Log struct {
	db            *bolt.DB
	fileSyncLevel int
}

// Open opens (creating if necessary) the recording log database under
// dataDir.
func Open(dataDir string, fileSyncLevel int) (*Log, error) {
	path := filepath.Join(dataDir, "recording-log.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open recording log: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTerms, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Log{db: db, fileSyncLevel: fileSyncLevel}, nil
}

func termKey(leadershipTermID int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(leadershipTermID))
	return key
}

func snapshotKey(leadershipTermID int64, serviceID int32) []byte {
	key := make([]byte, 12)
	binary.BigEndian.PutUint64(key[:8], uint64(leadershipTermID))
	binary.BigEndian.PutUint32(key[8:], uint32(serviceID))
	return key
}

// AppendTerm records a new leadership term.
func (l *Log) AppendTerm(entry types.TermEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTerms).Put(termKey(entry.LeadershipTermID), data)
	})
}

// AppendSnapshot records one SnapshotEntry (one per service id plus one for
// the module with ModuleServiceID), per §4.8 step 4. It fsyncs the database
// file when fileSyncLevel > 0, per §6's persistent-layout requirement.
func (l *Log) AppendSnapshot(entry types.SnapshotEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put(snapshotKey(entry.LeadershipTermID, entry.ServiceID), data)
	}); err != nil {
		return err
	}
	if l.fileSyncLevel > 0 {
		return l.db.Sync()
	}
	return nil
}

// Terms returns every recorded TermEntry in leadership-term order.
func (l *Log) Terms() ([]types.TermEntry, error) {
	var out []types.TermEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTerms).ForEach(func(_, v []byte) error {
			var e types.TermEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeadershipTermID < out[j].LeadershipTermID })
	return out, nil
}

// LatestSnapshotSet returns the snapshot entries (one per service id plus the
// module) recorded for the most recent leadership term that has any
// snapshot at all, or nil if none exist yet.
func (l *Log) LatestSnapshotSet() ([]types.SnapshotEntry, error) {
	var all []types.SnapshotEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(_, v []byte) error {
			var e types.SnapshotEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			all = append(all, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	latestTerm := all[0].LeadershipTermID
	for _, e := range all {
		if e.LeadershipTermID > latestTerm {
			latestTerm = e.LeadershipTermID
		}
	}

	var out []types.SnapshotEntry
	for _, e := range all {
		if e.LeadershipTermID == latestTerm {
			out = append(out, e)
		}
	}
	return out, nil
}

// BuildRecoveryPlan assembles the RecoveryPlan used on recovery: the most
// recent snapshot set plus the log segment to replay forward from.
func (l *Log) BuildRecoveryPlan() (*types.RecoveryPlan, error) {
	snapshots, err := l.LatestSnapshotSet()
	if err != nil {
		return nil, err
	}
	terms, err := l.Terms()
	if err != nil {
		return nil, err
	}

	plan := &types.RecoveryPlan{Snapshots: snapshots}

	var snapshotTerm int64 = -1
	var appendedPosition int64
	if len(snapshots) > 0 {
		snapshotTerm = snapshots[0].LeadershipTermID
		for _, s := range snapshots {
			if s.LogPosition > appendedPosition {
				appendedPosition = s.LogPosition
			}
		}
	}

	for _, t := range terms {
		if t.LeadershipTermID < snapshotTerm {
			continue
		}
		plan.LastLeadershipTermID = t.LeadershipTermID
		plan.Log = &types.LogRecoveryInfo{
			RecordingID:         t.RecordingID,
			InitialTermID:       t.LeadershipTermID,
			TermBaseLogPosition: t.TermBaseLogPosition,
			StartPosition:       appendedPosition,
			StopPosition:        t.LogPosition,
		}
		if t.LogPosition > appendedPosition {
			appendedPosition = t.LogPosition
		}
	}
	plan.AppendedLogPosition = appendedPosition

	return plan, nil
}

// Force fsyncs the underlying database file regardless of fileSyncLevel,
// used once at the end of a snapshot take (§4.8 step 4: "forces the file").
func (l *Log) Force() error { return l.db.Sync() }

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }
