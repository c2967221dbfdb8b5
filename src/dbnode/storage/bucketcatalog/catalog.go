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

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// BucketCatalog is the top-level write-side coordinator: a namespace+
// metadata to open-bucket map, an id to bucket-state map, the set of all
// live buckets, an idle LRU, per-namespace stats, and catalog-wide memory
// accounting.
//
// Lock hierarchy (§5): lock (striped) > bucket.mu > stateMu > idle.mu >
// stats shard mutexes. Once released, a lock is never re-acquired at a
// higher position in this order while holding one lower down.
type BucketCatalog struct {
	opts   Options
	logger *zap.Logger
	metrics catalogMetrics

	lock        *stripedLock
	openBuckets map[openKey]*Bucket

	stateMu  sync.Mutex
	stateMap map[BucketID]bucketState

	allBucketsMu sync.Mutex
	allBuckets   map[BucketID]*Bucket

	idle *idleList

	stats *statsRegistry

	memoryUsage atomic.Int64
	everRecorded atomic.Bool
}

// NewBucketCatalog constructs an empty catalog. opts must Validate cleanly.
func NewBucketCatalog(opts Options) (*BucketCatalog, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	iOpts := opts.InstrumentOptions()
	return &BucketCatalog{
		opts:        opts,
		logger:      iOpts.Logger,
		metrics:     newCatalogMetrics(iOpts.Scope),
		lock:        newStripedLock(),
		openBuckets: make(map[openKey]*Bucket),
		stateMap:    make(map[BucketID]bucketState),
		allBuckets:  make(map[BucketID]*Bucket),
		idle:        &idleList{},
		stats:       newStatsRegistry(),
	}, nil
}

func hashKey(ns Namespace, meta BucketMetadata) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(ns.String())
	_, _ = h.Write(meta.sorted)
	return h.Sum64()
}

func hashNamespace(ns Namespace) uint64 {
	return xxhash.Sum64String(ns.String())
}

func (c *BucketCatalog) stateOf(id BucketID) bucketState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.stateMap[id]
}

func (c *BucketCatalog) setState(id BucketID, s bucketState) {
	c.stateMu.Lock()
	c.stateMap[id] = s
	c.stateMu.Unlock()
}

func (c *BucketCatalog) deleteState(id BucketID) {
	c.stateMu.Lock()
	delete(c.stateMap, id)
	c.stateMu.Unlock()
}

// moveState relocates a state-map entry from oldID to newID, used when a
// bucket's nominal timestamp (and therefore id) is lowered in place.
func (c *BucketCatalog) moveState(oldID, newID BucketID) {
	c.stateMu.Lock()
	s := c.stateMap[oldID]
	delete(c.stateMap, oldID)
	c.stateMap[newID] = s
	c.stateMu.Unlock()

	c.allBucketsMu.Lock()
	if b, ok := c.allBuckets[oldID]; ok {
		delete(c.allBuckets, oldID)
		c.allBuckets[newID] = b
	}
	c.allBucketsMu.Unlock()
}

func (c *BucketCatalog) addMemory(delta int) {
	if delta == 0 {
		return
	}
	c.memoryUsage.Add(int64(delta))
	c.everRecorded.Store(true)
}

// allocateBucketLocked builds and registers a brand new bucket for key.
// Caller must hold the catalog's exclusive lock.
func (c *BucketCatalog) allocateBucketLocked(
	key openKey,
	ns Namespace,
	meta BucketMetadata,
	tsOpts TimeSeriesOptions,
	cmp Comparator,
	nominal time.Time,
) *Bucket {
	c.expireIdleBucketsLocked()

	b := newBucket(NewBucketID(nominal), ns, tsOpts, cmp)
	b.assignMetadata(ns, meta)

	c.openBuckets[key] = b
	c.setState(b.id, stateNormal)
	c.allBucketsMu.Lock()
	c.allBuckets[b.id] = b
	c.allBucketsMu.Unlock()
	c.stats.getOrCreate(ns).numBucketsOpenedDueToMetadata.Inc()
	return b
}

// expireIdleBucketsLocked implements §4.F's idle-eviction pass: pop the LRU
// tail while catalog memory usage exceeds the configured threshold,
// verifying each candidate is genuinely unused before removing it. Caller
// must hold the catalog's exclusive lock.
func (c *BucketCatalog) expireIdleBucketsLocked() {
	threshold := c.opts.IdleExpiryThreshold()
	for c.memoryUsage.Load() > threshold {
		b := c.idle.popTail()
		if b == nil {
			return
		}
		b.mu.Lock()
		unused := b.isIdle()
		if unused {
			c.logger.Debug("evicting idle bucket over memory threshold",
				zap.Stringer("bucket", b.id),
				zap.Stringer("namespace", b.namespace),
				zap.Int64("memoryUsage", c.memoryUsage.Load()),
				zap.Int64("threshold", threshold),
			)
			c.removeBucketLocked(b)
			c.stats.getOrCreate(b.namespace).numBucketsClosedDueToMemoryThreshold.Inc()
			c.metrics.idleEvictions.Inc(1)
		}
		b.mu.Unlock()
	}
}

// removeBucketLocked deletes b from every catalog-owned index: the open
// map (if present under its key), the state map, the all-buckets set, and
// deducts its memory usage. Caller must hold both the catalog's exclusive
// lock and b.mu.
func (c *BucketCatalog) removeBucketLocked(b *Bucket) {
	key := newOpenKey(b.namespace, b.metadata)
	if existing, ok := c.openBuckets[key]; ok && existing.id == b.id {
		delete(c.openBuckets, key)
	}
	c.deleteState(b.id)
	c.allBucketsMu.Lock()
	delete(c.allBuckets, b.id)
	c.allBucketsMu.Unlock()
	c.addMemory(-b.memoryUsage)
	c.idle.remove(b)
}

// abortEveryBatchLocked aborts every active batch and the prepared batch
// (if any) attached to b. Caller must hold b.mu.
func (c *BucketCatalog) abortEveryBatchLocked(b *Bucket) {
	for session, batch := range b.batches {
		batch.abort()
		delete(b.batches, session)
	}
	if b.preparedBatch != nil {
		b.preparedBatch.abort()
		b.preparedBatch = nil
	}
}

// abortAndRemoveLocked aborts every batch on b and removes it from the
// catalog entirely. Caller must hold the catalog's exclusive lock; takes
// and releases b.mu itself.
func (c *BucketCatalog) abortAndRemoveLocked(b *Bucket) {
	b.mu.Lock()
	c.abortEveryBatchLocked(b)
	c.removeBucketLocked(b)
	b.mu.Unlock()
}
