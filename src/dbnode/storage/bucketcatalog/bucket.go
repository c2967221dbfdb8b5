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
	"time"
)

// bucketState is the lifecycle state of a Bucket, tracked separately (in
// the catalog's state map) from the Bucket struct itself so that Clear can
// flip it without first locating and locking the bucket.
type bucketState int

const (
	stateNormal bucketState = iota
	statePrepared
	stateCleared
	statePreparedAndCleared
)

// fullReason records which condition (§4.D) triggered a rollover, for
// ExecutionStats bookkeeping.
type fullReason int

const (
	notFull fullReason = iota
	fullDueToCount
	fullDueToSize
	fullDueToTimeForward
	fullDueToTimeBackward
	fullDueToMemoryThreshold
)

// idleListElem is the intrusive doubly-linked-list node backing the
// catalog's idle LRU. A Bucket holds a pointer to its own element (nil
// when not idle) rather than the list owning separate wrapper structs.
type idleListElem struct {
	bucket     *Bucket
	prev, next *idleListElem
}

// Bucket is the in-memory aggregate for one open (namespace, metadata)
// grouping: identity, size/count/time bounds, the field-name set, active
// batches keyed by session, an at-most-one prepared batch slot, and the
// memory footprint the catalog charges against its global budget.
//
// Every mutable field below is guarded by mu; nothing reaches into a
// Bucket without holding it (per BucketAccess).
type Bucket struct {
	mu sync.Mutex

	id        BucketID
	namespace Namespace
	metadata  BucketMetadata
	hasMeta   bool

	timeField     string
	metaFieldName string
	comparator    Comparator
	maxSpan       time.Duration

	numMeasurements          int
	numCommittedMeasurements int
	sizeBytes                int
	latestTime               time.Time

	fieldNames map[string]struct{}
	min        *MinMax
	max        *MinMax

	batches       map[SessionID]*WriteBatch
	preparedBatch *WriteBatch

	full        bool
	idleElem    *idleListElem
	memoryUsage int
}

func newBucket(id BucketID, ns Namespace, tsOpts TimeSeriesOptions, cmp Comparator) *Bucket {
	if cmp == nil {
		cmp = DefaultComparator
	}
	b := &Bucket{
		id:            id,
		namespace:     ns,
		timeField:     tsOpts.TimeField,
		metaFieldName: tsOpts.MetaField,
		comparator:    cmp,
		maxSpan:       tsOpts.MaxSpan,
		fieldNames:    make(map[string]struct{}),
		min:           NewMinMax(true),
		max:           NewMinMax(false),
		batches:       make(map[SessionID]*WriteBatch),
	}
	return b
}

// ID returns the bucket's identifier. Safe without holding mu: the id
// field is only ever rewritten under mu by relocateID, and callers that
// need a coherent read call ID while already holding the bucket (as
// BucketAccess always does).
func (b *Bucket) ID() BucketID { return b.id }

// Namespace returns the bucket's namespace.
func (b *Bucket) Namespace() Namespace { return b.namespace }

// Metadata returns the bucket's canonicalized grouping key. Returns the
// empty sentinel until the first measurement has been assigned.
func (b *Bucket) Metadata() BucketMetadata {
	if !b.hasMeta {
		return emptyMetadata
	}
	return b.metadata
}

// NumMeasurements is the total count ever accepted (committed or not).
func (b *Bucket) NumMeasurements() int { return b.numMeasurements }

// NumCommittedMeasurements is the count folded into a finished commit.
func (b *Bucket) NumCommittedMeasurements() int { return b.numCommittedMeasurements }

// SizeBytes is the running serialized-size estimate.
func (b *Bucket) SizeBytes() int { return b.sizeBytes }

// MemoryUsage is the cached footprint the catalog charges to its global
// budget for this bucket.
func (b *Bucket) MemoryUsage() int { return b.memoryUsage }

// isIdle reports whether the bucket currently has no attached batches and
// no prepared batch — the condition under which it belongs on the idle
// LRU (invariant 3, §8).
func (b *Bucket) isIdle() bool {
	return len(b.batches) == 0 && b.preparedBatch == nil
}

// newFieldNamesAndSize computes, for doc, the top-level names not already
// tracked by the bucket (and not the metadata field), plus the byte cost
// of storing their names the first time they appear on disk.
func (b *Bucket) newFieldNamesAndSize(doc Measurement) ([]string, int) {
	var names []string
	size := 0
	for _, name := range doc.FieldNames() {
		if name == b.metaFieldName {
			continue
		}
		if _, ok := b.fieldNames[name]; ok {
			continue
		}
		names = append(names, name)
		// Overhead of a fresh {"<name>": {}} placeholder.
		size += len(name) + len(`{"": {}}`)
	}
	return names, size
}

// sizeToBeAdded is the projected size delta from accepting doc, given the
// new field names already computed for it.
func (b *Bucket) sizeToBeAdded(doc Measurement, newFieldNamesSize int) int {
	size := newFieldNamesSize
	for _, name := range doc.FieldNames() {
		if name == b.metaFieldName {
			continue
		}
		v := doc.Value(name)
		// Field names are eventually stored as positional integers on
		// disk; approximate the element's contribution net of its
		// current (string) field-name cost, plus that positional cost.
		elemSize := len(name) + len(v.Raw) + 2
		size += elemSize - len(name) + digits10(b.numMeasurements) + 1
	}
	return size
}

// isFull evaluates the §4.D full conditions in order and returns the first
// one triggered, along with whether the caller should lower the bucket's
// nominal time for a backward-time insert that did NOT trigger rollover.
// isFull itself changes nothing on the bucket.
func (b *Bucket) isFull(docTime time.Time, sizeToBeAdded int, maxCount, maxSize int) (fullReason, bool) {
	if b.numMeasurements == 0 {
		return notFull, false
	}
	if b.numMeasurements >= maxCount {
		return fullDueToCount, false
	}
	if b.sizeBytes+sizeToBeAdded > maxSize {
		return fullDueToSize, false
	}
	nominal := b.id.Time()
	if docTime.Sub(nominal) >= b.maxSpan {
		return fullDueToTimeForward, false
	}
	if docTime.Before(nominal) {
		gap := b.latestTime.Sub(docTime)
		if b.numCommittedMeasurements == 0 && gap < b.maxSpan {
			return notFull, true
		}
		return fullDueToTimeBackward, false
	}
	return notFull, false
}

// relocateID rewrites the bucket's id to carry a new nominal timestamp.
// Caller must hold mu; the caller is also responsible for moving the
// corresponding entry in the catalog's id->bucket-state map atomically
// with this call (see BucketCatalog.moveState).
func (b *Bucket) relocateID(t time.Time) BucketID {
	old := b.id
	b.id = b.id.WithTime(t)
	return old
}

// accept attaches doc to the active batch for session (creating one if
// absent), updates counters, and returns that batch. Caller must hold mu
// and must already have determined the bucket is not full for doc.
func (b *Bucket) accept(doc Measurement, session SessionID, docTime time.Time, stats *ExecutionStats) (*WriteBatch, bool) {
	newNames, newNamesSize := b.newFieldNamesAndSize(doc)
	sizeDelta := b.sizeToBeAdded(doc, newNamesSize)

	isNewSession := false
	batch, ok := b.batches[session]
	if !ok {
		batch = newWriteBatch(b, session, stats)
		b.batches[session] = batch
		isNewSession = true
	}

	if b.numMeasurements == 0 {
		// Metadata is assigned by the caller via assignMetadata before
		// accept is invoked; seed the per-bucket bookkeeping overhead
		// now that the identity is fixed for good.
		b.memoryUsage += 2*len(b.namespace.String()) + 2*len(b.metadata.AsBSON()) + 64
	}

	batch.addMeasurement(doc)
	batch.recordNewFields(newNames)

	b.numMeasurements++
	b.sizeBytes += sizeDelta
	if docTime.After(b.latestTime) {
		b.latestTime = docTime
	}

	return batch, isNewSession
}

// assignMetadata seeds the bucket's namespace/metadata on first
// measurement, per §4.D "on first measurement — initialise namespace,
// metadata".
func (b *Bucket) assignMetadata(ns Namespace, meta BucketMetadata) {
	if b.numMeasurements > 0 || b.hasMeta {
		return
	}
	b.namespace = ns
	b.metadata = meta
	b.hasMeta = true
}
