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

// PrepareCommit claims the bucket's single Prepared slot for batch and
// materializes its min/max diff. Returns false (with no state change) if
// the batch was already finished or aborted by the time this is called.
func (c *BucketCatalog) PrepareCommit(batch *WriteBatch) bool {
	select {
	case <-batch.done:
		return false
	default:
	}
	if !batch.commitFlag.Load() {
		// Caller must win ClaimCommitRights before calling PrepareCommit;
		// this is a programming error, not a race to resolve here.
		return false
	}

	b := c.waitToCommit(batch)
	if b == nil {
		return false
	}
	defer b.mu.Unlock()

	state := c.stateOf(b.id)
	if state != stateNormal {
		// Raced with a clear between waitToCommit's last check and
		// here; treat exactly like bucket-gone.
		batch.abort()
		return false
	}

	c.setState(b.id, statePrepared)
	b.preparedBatch = batch
	delete(b.batches, batch.session)

	memBefore := b.memoryUsage
	batch.prepare()
	c.addMemory(b.memoryUsage - memBefore)

	return true
}

// waitToCommit loops acquiring batch's bucket until either it wins the
// Prepared slot or the bucket is gone/cleared. On success it returns the
// bucket still locked (caller must unlock); on failure it returns nil,
// having already aborted batch if appropriate.
func (c *BucketCatalog) waitToCommit(batch *WriteBatch) *Bucket {
	for {
		b := batch.bucket
		if b == nil {
			batch.abort()
			return nil
		}

		b.mu.Lock()
		state := c.stateOf(b.id)
		switch state {
		case stateCleared, statePreparedAndCleared:
			b.mu.Unlock()
			batch.abort()
			return nil
		}

		if b.preparedBatch == nil {
			return b
		}

		// Another batch is being committed; wait for it off the
		// bucket mutex, then retry.
		waiting := b.preparedBatch
		b.mu.Unlock()
		waiting.Result()
	}
}

// Finish delivers info to batch's waiters, advances the owning bucket's
// commit bookkeeping, and either drops the bucket (if it is drained and
// full) or returns it to the idle LRU.
func (c *BucketCatalog) Finish(batch *WriteBatch, info CommitInfo) {
	bucket := batch.bucket
	if bucket == nil {
		batch.finish(info)
		return
	}

	c.lock.RLock(newOpenKey(bucket.namespace, bucket.metadata).hash)
	bucket.mu.Lock()

	state := c.stateOf(bucket.id)
	switch state {
	case statePrepared:
		c.setState(bucket.id, stateNormal)
	case statePreparedAndCleared:
		// A ClearID raced the in-flight commit. Whatever the caller's
		// persistence result was, the bucket is being torn down, so
		// every waiter must observe ErrBucketCleared and retry.
		c.setState(bucket.id, stateCleared)
		info.Result = CommitResult{Err: ErrBucketCleared}
	}
	bucket.preparedBatch = nil
	batch.finish(info)

	if info.Result.Err == nil {
		stats := c.stats.getOrCreate(bucket.namespace)
		firstCommit := batch.numPrevCommitted == 0
		stats.recordCommitKind(firstCommit)
		stats.recordCommit(len(batch.measurements))
		bucket.numCommittedMeasurements += len(batch.measurements)
		c.metrics.commits.Inc(1)
	}

	drained := bucket.isIdle()
	full := bucket.full
	// Mark the bucket idle while its mutex is still held, exactly like
	// the drained-and-full removal below: letting go first would leave a
	// window where a concurrent Insert attaches a fresh batch (its
	// idle.remove a no-op, since we haven't pushed yet) and this call
	// then pushes an already-busy bucket onto the idle LRU.
	if drained && !full {
		c.idle.pushFront(bucket)
	}
	bucket.mu.Unlock()
	c.lock.RUnlock(newOpenKey(bucket.namespace, bucket.metadata).hash)

	if drained && full {
		c.lock.Lock()
		bucket.mu.Lock()
		if bucket.isIdle() && bucket.full {
			c.removeBucketLocked(bucket)
		}
		bucket.mu.Unlock()
		c.lock.Unlock()
	}
}

// Abort aborts every batch attached to batch's bucket (the active batches
// of all sessions and the prepared batch, if any), then removes the bucket
// from the catalog. If the bucket was already removed from the catalog,
// this only aborts batch.
func (c *BucketCatalog) Abort(batch *WriteBatch) {
	bucket := batch.bucket
	if bucket == nil {
		batch.abort()
		return
	}

	c.allBucketsMu.Lock()
	_, exists := c.allBuckets[bucket.id]
	c.allBucketsMu.Unlock()
	if !exists {
		batch.abort()
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	bucket.mu.Lock()
	c.abortEveryBatchLocked(bucket)
	c.removeBucketLocked(bucket)
	bucket.mu.Unlock()
}

// ClearID transitions id to Cleared. If it was Prepared, it escalates to
// PreparedAndCleared and returns ErrWriteConflict; the caller is expected
// to yield and retry while the committing batch observes
// ErrBucketCleared through Finish.
func (c *BucketCatalog) ClearID(id BucketID) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	switch c.stateMap[id] {
	case statePrepared:
		c.stateMap[id] = statePreparedAndCleared
		c.metrics.writeConflicts.Inc(1)
		return ErrWriteConflict
	case stateCleared, statePreparedAndCleared:
		return nil
	default:
		c.stateMap[id] = stateCleared
		return nil
	}
}

// ClearNamespace aborts and removes every bucket for ns.
func (c *BucketCatalog) ClearNamespace(ns Namespace) {
	c.clearMatching(func(candidate Namespace) bool { return candidate == ns })
	c.stats.drop(ns)
}

// ClearDatabase aborts and removes every bucket whose namespace belongs to
// database db.
func (c *BucketCatalog) ClearDatabase(db string) {
	c.clearMatching(func(candidate Namespace) bool { return candidate.DatabasePrefix(db) })
	c.stats.dropDatabase(db)
}

func (c *BucketCatalog) clearMatching(match func(Namespace) bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.allBucketsMu.Lock()
	victims := make([]*Bucket, 0)
	for _, b := range c.allBuckets {
		if match(b.namespace) {
			victims = append(victims, b)
		}
	}
	c.allBucketsMu.Unlock()

	for _, b := range victims {
		c.abortAndRemoveLocked(b)
	}
}

// GetMetadata returns b's raw metadata document, or nil if b is nil or is no
// longer in the catalog (it has been removed or cleared).
func (c *BucketCatalog) GetMetadata(b *Bucket) []byte {
	if b == nil {
		return nil
	}

	c.allBucketsMu.Lock()
	_, exists := c.allBuckets[b.id]
	c.allBucketsMu.Unlock()
	if !exists {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Metadata().AsBSON()
}

// AppendExecutionStats snapshots ns's counters into out.
func (c *BucketCatalog) AppendExecutionStats(ns Namespace, out *ExecutionStatsSnapshot) {
	c.stats.getOrCreate(ns).AppendExecutionStats(out)
}

// ServerStatus renders the catalog-wide "bucketCatalog" server-status
// document. ok is false if nothing has ever been recorded, in which case
// callers should omit the section entirely rather than emit zeros.
func (c *BucketCatalog) ServerStatus() (ServerStatus, bool) {
	if !c.everRecorded.Load() {
		return ServerStatus{}, false
	}

	c.allBucketsMu.Lock()
	numBuckets := uint64(len(c.allBuckets))
	numOpen := 0
	for _, b := range c.allBuckets {
		if !b.full {
			numOpen++
		}
	}
	c.allBucketsMu.Unlock()

	status := ServerStatus{
		NumBuckets:     numBuckets,
		NumOpenBuckets: uint64(numOpen),
		NumIdleBuckets: uint64(c.idle.len()),
		MemoryUsage:    uint64(c.memoryUsage.Load()),
	}
	c.metrics.numBucketsGauge.Update(float64(status.NumBuckets))
	c.metrics.numOpenGauge.Update(float64(status.NumOpenBuckets))
	c.metrics.numIdleGauge.Update(float64(status.NumIdleBuckets))
	c.metrics.memoryUsageGauge.Update(float64(status.MemoryUsage))
	return status, true
}
