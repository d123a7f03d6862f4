// Package timer implements the hashed timer wheel of §4.4: correlation-id
// keyed timers, granular to a configured tick resolution, snapshotable and
// restorable, with the duplicate-fire suppression rule needed for idempotent
// replay.
package timer

import (
	"math/bits"
	"time"
)

// Expiry is one fired timer, ready to be turned into a log-appended Timer
// entry by the caller.
type Expiry struct {
	CorrelationID int64
	Deadline      int64
}

// Wheel is a hashed timer wheel keyed by correlation id. Each tick index
// holds a bucket of entries rather than a single slot, since distinct
// correlation ids routinely collide on the same index — both for two
// deadlines landing in the same tick, and for any deadline more than
// ticksPerWheel*tickResolution out, since nothing tracks wheel rotation.
type Wheel struct {
	tickResolution time.Duration
	ticksPerWheel  int
	mask           int

	startTime   int64 // cluster-time units at wheel creation
	currentTick int64

	byCorrelation map[int64]int // correlationID -> bucket index
	buckets       [][]Expiry

	// expiredTimerCount suppresses a subsequent schedule() for a correlation
	// that already fired during replay but whose cancel has not yet been
	// observed — see §4.4's duplicate-fire rule.
	expiredTimerCount map[int64]int
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// NewWheel creates a Wheel. ticksPerWheel is rounded up to a power of two.
func NewWheel(tickResolution time.Duration, ticksPerWheel int, startTime int64) *Wheel {
	capacity := nextPowerOfTwo(ticksPerWheel)
	return &Wheel{
		tickResolution:    tickResolution,
		ticksPerWheel:     capacity,
		mask:              capacity - 1,
		startTime:         startTime,
		byCorrelation:     make(map[int64]int),
		buckets:           make([][]Expiry, capacity),
		expiredTimerCount: make(map[int64]int),
	}
}

func (w *Wheel) tickFor(deadline int64) int64 {
	if deadline <= w.startTime {
		return 0
	}
	return (deadline - w.startTime) / int64(w.tickResolution)
}

// Schedule arms a timer for correlationID at deadline (cluster-time units).
// If a duplicate fire was already recorded for this correlation id during
// replay, the schedule is suppressed and the counter is decremented instead,
// preserving idempotence across restart.
func (w *Wheel) Schedule(correlationID, deadline int64) {
	if n := w.expiredTimerCount[correlationID]; n > 0 {
		if n == 1 {
			delete(w.expiredTimerCount, correlationID)
		} else {
			w.expiredTimerCount[correlationID] = n - 1
		}
		return
	}

	w.cancelLocked(correlationID)

	idx := int(w.tickFor(deadline)) & w.mask
	w.buckets[idx] = append(w.buckets[idx], Expiry{CorrelationID: correlationID, Deadline: deadline})
	w.byCorrelation[correlationID] = idx
}

// Cancel removes a scheduled timer, if present. If no timer is scheduled for
// this correlation id (the duplicate-fire case during replay), it records an
// expired-timer count so a future Schedule for the same id is suppressed.
func (w *Wheel) Cancel(correlationID int64) bool {
	if w.cancelLocked(correlationID) {
		return true
	}
	w.expiredTimerCount[correlationID]++
	return false
}

func (w *Wheel) cancelLocked(correlationID int64) bool {
	idx, ok := w.byCorrelation[correlationID]
	if !ok {
		return false
	}
	bucket := w.buckets[idx]
	for i, e := range bucket {
		if e.CorrelationID == correlationID {
			w.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	delete(w.byCorrelation, correlationID)
	return true
}

// Poll returns every timer whose deadline is <= now, removing them from the
// wheel.
func (w *Wheel) Poll(now int64) []Expiry {
	var expired []Expiry
	for idx, bucket := range w.buckets {
		if len(bucket) == 0 {
			continue
		}
		kept := make([]Expiry, 0, len(bucket))
		for _, e := range bucket {
			if e.Deadline <= now {
				expired = append(expired, e)
				delete(w.byCorrelation, e.CorrelationID)
			} else {
				kept = append(kept, e)
			}
		}
		w.buckets[idx] = kept
	}
	return expired
}

// Len returns the number of currently scheduled timers.
func (w *Wheel) Len() int { return len(w.byCorrelation) }

// Snapshot captures every live timer for inclusion in a module snapshot.
func (w *Wheel) Snapshot() []Expiry {
	out := make([]Expiry, 0, len(w.byCorrelation))
	for _, bucket := range w.buckets {
		out = append(out, bucket...)
	}
	return out
}

// Restore repopulates the wheel from a prior Snapshot, e.g. after a snapshot
// load during recovery.
func (w *Wheel) Restore(entries []Expiry) {
	w.byCorrelation = make(map[int64]int, len(entries))
	w.buckets = make([][]Expiry, len(w.buckets))
	w.expiredTimerCount = make(map[int64]int)
	for _, e := range entries {
		idx := int(w.tickFor(e.Deadline)) & w.mask
		w.buckets[idx] = append(w.buckets[idx], e)
		w.byCorrelation[e.CorrelationID] = idx
	}
}
