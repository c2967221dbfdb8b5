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
	"time"

	"go.uber.org/zap"
)

// Insert accepts one measurement document into the bucket for
// (ns, metadata-extracted-from-doc), creating or rolling over buckets as
// needed, and returns the WriteBatch it was buffered into. cmp orders
// metadata fields for both bucket grouping and min/max leaf comparisons.
//
// The returned error is always ErrBadValue: the only recoverable, local
// failure mode of insert per §7.
func (c *BucketCatalog) Insert(
	ns Namespace,
	tsOpts TimeSeriesOptions,
	cmp Comparator,
	raw []byte,
	policy CombinePolicy,
	callerSession SessionID,
) (*WriteBatch, error) {
	if cmp == nil {
		cmp = c.opts.Comparator()
	}

	doc, err := ParseMeasurement(raw)
	if err != nil {
		return nil, ErrBadValue
	}
	docTime, ok := doc.TimeField(tsOpts.TimeField)
	if !ok {
		return nil, ErrBadValue
	}

	var metaRaw []byte
	if tsOpts.MetaField != "" {
		if v := doc.Value(tsOpts.MetaField); v.Exists() {
			metaRaw = []byte(v.Raw)
		}
	}
	meta, err := NewBucketMetadata(metaRaw, cmp)
	if err != nil {
		return nil, ErrBadValue
	}

	session := policy.resolve(callerSession)
	key := newOpenKey(ns, meta)

	acc := c.findOpenBucketAndLock(key)
	if !acc.found() {
		acc.release()
		acc, _ = c.findOrCreateBucketAndLock(ns, meta, tsOpts, cmp, docTime)
	}

	b := acc.bucket
	for {
		_, newNamesSize := b.newFieldNamesAndSize(doc)
		sizeDelta := b.sizeToBeAdded(doc, newNamesSize)

		reason, lowered := b.isFull(docTime, sizeDelta, c.opts.MaxBucketCount(), c.opts.MaxBucketSizeBytes())
		if lowered {
			oldID := b.id
			newID := b.relocateID(docTime)
			c.moveState(oldID, newID)
			break
		}
		if reason == notFull {
			break
		}

		// Full: roll over to a fresh bucket for the same key and
		// re-evaluate against it. rollover releases acc's bucket mutex
		// itself before taking the catalog's exclusive lock.
		acc = c.rollover(acc, reason, ns, meta, tsOpts, cmp, docTime)
		b = acc.bucket
	}

	b.assignMetadata(ns, meta)
	stats := c.stats.getOrCreate(ns)
	memBefore := b.memoryUsage
	batch, _ := b.accept(doc, session, docTime, stats)
	c.addMemory(b.memoryUsage - memBefore)
	c.metrics.inserts.Inc(1)
	acc.release()

	return batch, nil
}

// rollover implements §4.E's rollover algorithm: retire the bucket that
// was found full (removing it outright if it is already idle, otherwise
// latching it as full so it drains and is removed on its last Finish),
// then resolve a fresh bucket for the same key under the catalog's
// exclusive lock.
//
// prevAcc must be holding its bucket's mutex on entry; rollover releases it
// before taking the catalog's exclusive lock so it never inverts §5's lock
// order (catalog lock before bucket mutex) or re-locks a bucket it already
// holds.
func (c *BucketCatalog) rollover(
	prevAcc *bucketAccess,
	reason fullReason,
	ns Namespace,
	meta BucketMetadata,
	tsOpts TimeSeriesOptions,
	cmp Comparator,
	docTime time.Time,
) *bucketAccess {
	prevID := prevAcc.bucket.id
	key := prevAcc.key
	prevAcc.release()

	c.logger.Debug("rolling over bucket",
		zap.Stringer("bucket", prevID),
		zap.Stringer("namespace", ns),
		zap.Int("reason", int(reason)),
	)

	c.stats.getOrCreate(ns).recordFull(reason)
	c.metrics.rollovers.Inc(1)

	c.lock.Lock()
	defer c.lock.Unlock()

	if b, ok := c.openBuckets[key]; ok && b.id == prevID {
		b.mu.Lock()
		if b.isIdle() {
			c.removeBucketLocked(b)
			b.mu.Unlock()
		} else {
			b.full = true
			delete(c.openBuckets, key)
			b.mu.Unlock()
		}
	} else if ok {
		// A concurrent rollover already produced a fresh bucket for
		// this key; use it directly instead of allocating another.
		b.mu.Lock()
		c.idle.remove(b)
		return &bucketAccess{cat: c, key: key, exclusive: true, bucket: b, state: c.stateOf(b.id), bucketLocked: true}
	}

	nb := c.allocateBucketLocked(key, ns, meta, tsOpts, cmp, docTime)
	nb.mu.Lock()
	return &bucketAccess{cat: c, key: key, exclusive: true, bucket: nb, state: stateNormal, bucketLocked: true}
}
