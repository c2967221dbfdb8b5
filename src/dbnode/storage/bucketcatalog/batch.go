// Copyright (c) 2016 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package bucketcatalog

import (
	"sync"

	"go.uber.org/atomic"
)

// WriteBatch buffers the measurements a single session has appended to a
// single bucket since the batch was created. At most one batch per session
// is active on a bucket at a time; exactly one caller ever earns the right
// to prepare/finish/abort it, decided by ClaimCommitRights.
type WriteBatch struct {
	bucket     *Bucket
	session    SessionID
	stats      *ExecutionStats
	commitFlag atomic.Bool

	mu                    sync.Mutex
	measurements          []Measurement
	newFieldNames         map[string]struct{}
	newFieldNamesToInsert []string
	active                bool
	numPrevCommitted      int
	minDiff               interface{}
	maxDiff               interface{}

	once     sync.Once
	done     chan struct{}
	result   CommitInfo
	numWaits atomic.Uint64
}

func newWriteBatch(bucket *Bucket, session SessionID, stats *ExecutionStats) *WriteBatch {
	return &WriteBatch{
		bucket:        bucket,
		session:       session,
		stats:         stats,
		active:        true,
		newFieldNames: make(map[string]struct{}),
		done:          make(chan struct{}),
	}
}

// Bucket returns the bucket this batch is attached to. It stays set after
// prepare and is nil once the batch has been finished or aborted.
func (b *WriteBatch) Bucket() *Bucket {
	return b.bucket
}

// Session returns the batch's owning session id.
func (b *WriteBatch) Session() SessionID {
	return b.session
}

// Measurements returns the buffered measurements in submission order. Only
// safe to call once the batch is no longer active for concurrent writers
// (i.e. after PrepareCommit), or under the bucket's own synchronization
// otherwise.
func (b *WriteBatch) Measurements() []Measurement {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Measurement, len(b.measurements))
	copy(out, b.measurements)
	return out
}

// NumPreviouslyCommitted is the bucket's committed-measurement count as of
// the moment this batch was prepared.
func (b *WriteBatch) NumPreviouslyCommitted() int {
	return b.numPrevCommitted
}

// MinDiff/MaxDiff hold the min/max structural update materialized by
// Prepare: a full document for the bucket's first commit, or an
// incremental diff thereafter.
func (b *WriteBatch) MinDiff() interface{} { return b.minDiff }
func (b *WriteBatch) MaxDiff() interface{} { return b.maxDiff }

// NewFieldNames returns the field names this batch introduced to its
// bucket's schema, as decided at prepare time: names another batch already
// committed in the meantime are excluded. Empty until PrepareCommit runs.
func (b *WriteBatch) NewFieldNames() []string {
	out := make([]string, len(b.newFieldNamesToInsert))
	copy(out, b.newFieldNamesToInsert)
	return out
}

// ClaimCommitRights is a single atomic compare-and-set: exactly one caller
// ever observes true.
func (b *WriteBatch) ClaimCommitRights() bool {
	return b.commitFlag.CAS(false, true)
}

// addMeasurement appends doc while the batch is still active. Must be
// called under the owning bucket's mutex.
func (b *WriteBatch) addMeasurement(doc Measurement) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return
	}
	b.measurements = append(b.measurements, doc)
}

// recordNewFields unions names into the batch's not-yet-committed field
// set. Must be called under the owning bucket's mutex.
func (b *WriteBatch) recordNewFields(names []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return
	}
	for _, n := range names {
		b.newFieldNames[n] = struct{}{}
	}
}

// prepare finalizes the batch against its bucket. Caller must hold the
// bucket mutex and must have already won ClaimCommitRights.
func (b *WriteBatch) prepare() {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket := b.bucket
	b.numPrevCommitted = bucket.numCommittedMeasurements

	// Re-filter new field names: anything another batch already
	// committed since we started buffering is dropped, survivors are
	// folded into the bucket's field set here (still under the bucket
	// mutex, so this is race-free with concurrent inserts) and kept on
	// the batch for the caller to persist alongside the commit.
	for name := range b.newFieldNames {
		if _, exists := bucket.fieldNames[name]; !exists {
			bucket.fieldNames[name] = struct{}{}
			b.newFieldNamesToInsert = append(b.newFieldNamesToInsert, name)
		}
	}

	oldMinSize := bucket.min.MemoryUsage()
	oldMaxSize := bucket.max.MemoryUsage()
	bucket.memoryUsage -= oldMinSize + oldMaxSize

	for _, m := range b.measurements {
		bucket.min.Update(m, bucket.metaFieldName, bucket.comparator)
		bucket.max.Update(m, bucket.metaFieldName, bucket.comparator)
	}

	bucket.memoryUsage += bucket.min.MemoryUsage() + bucket.max.MemoryUsage()

	if b.numPrevCommitted == 0 {
		b.minDiff = bucket.min.ToBSON()
		b.maxDiff = bucket.max.ToBSON()
	} else {
		b.minDiff = bucket.min.GetUpdates()
		b.maxDiff = bucket.max.GetUpdates()
	}

	b.active = false
}

// finish delivers info to whoever is waiting on Result and detaches the
// batch from its bucket. Only the first call (of finish or abort) has any
// effect; subsequent calls are no-ops (idempotent abort/finish).
func (b *WriteBatch) finish(info CommitInfo) {
	b.once.Do(func() {
		b.result = info
		close(b.done)
		b.bucket = nil
	})
}

// abort delivers ErrBucketCleared to any waiter. Idempotent: calling abort
// twice, or abort after finish, has no additional effect.
func (b *WriteBatch) abort() {
	b.finish(CommitInfo{Result: CommitResult{Err: ErrBucketCleared}})
}

// Result blocks until the batch has been finished or aborted, then returns
// the outcome. Every call that observes the batch not yet finished
// increments the batch's (and, if attached, the namespace's) num_waits
// counter.
func (b *WriteBatch) Result() CommitInfo {
	select {
	case <-b.done:
		return b.result
	default:
	}
	b.numWaits.Inc()
	if b.stats != nil {
		b.stats.numWaits.Inc()
	}
	<-b.done
	return b.result
}
