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

// ExecutionStats holds per-namespace atomic counters. Shared via reference
// (the catalog hands out the same *ExecutionStats to every WriteBatch
// under a namespace) so no outer lock is needed once obtained.
type ExecutionStats struct {
	numBucketInserts atomic.Uint64
	numBucketUpdates atomic.Uint64

	numBucketsOpenedDueToMetadata atomic.Uint64

	numBucketsClosedDueToCount           atomic.Uint64
	numBucketsClosedDueToSize            atomic.Uint64
	numBucketsClosedDueToTimeForward     atomic.Uint64
	numBucketsClosedDueToTimeBackward    atomic.Uint64
	numBucketsClosedDueToMemoryThreshold atomic.Uint64

	numCommits              atomic.Uint64
	numWaits                atomic.Uint64
	numMeasurementsCommitted atomic.Uint64
}

func newExecutionStats() *ExecutionStats {
	return &ExecutionStats{}
}

func (s *ExecutionStats) recordFull(reason fullReason) {
	switch reason {
	case fullDueToCount:
		s.numBucketsClosedDueToCount.Inc()
	case fullDueToSize:
		s.numBucketsClosedDueToSize.Inc()
	case fullDueToTimeForward:
		s.numBucketsClosedDueToTimeForward.Inc()
	case fullDueToTimeBackward:
		s.numBucketsClosedDueToTimeBackward.Inc()
	case fullDueToMemoryThreshold:
		s.numBucketsClosedDueToMemoryThreshold.Inc()
	}
}

// recordCommitKind bumps the insert-vs-update counters at commit time: a
// bucket's first commit inserts a brand new on-disk document, every commit
// after that updates the document the first commit created.
func (s *ExecutionStats) recordCommitKind(firstCommit bool) {
	if firstCommit {
		s.numBucketInserts.Inc()
	} else {
		s.numBucketUpdates.Inc()
	}
}

func (s *ExecutionStats) recordCommit(numMeasurements int) {
	s.numCommits.Inc()
	s.numMeasurementsCommitted.Add(uint64(numMeasurements))
}

// ExecutionStatsSnapshot is a point-in-time copy of ExecutionStats suitable
// for rendering into a server-status document.
type ExecutionStatsSnapshot struct {
	NumBucketInserts                     uint64
	NumBucketUpdates                     uint64
	NumBucketsOpenedDueToMetadata         uint64
	NumBucketsClosedDueToCount            uint64
	NumBucketsClosedDueToSize             uint64
	NumBucketsClosedDueToTimeForward      uint64
	NumBucketsClosedDueToTimeBackward     uint64
	NumBucketsClosedDueToMemoryThreshold  uint64
	NumCommits                            uint64
	NumWaits                              uint64
	NumMeasurementsCommitted              uint64
	AvgMeasurementsPerCommit              float64
}

// AppendExecutionStats snapshots s into out, computing the derived average
// only when at least one commit has happened.
func (s *ExecutionStats) AppendExecutionStats(out *ExecutionStatsSnapshot) {
	out.NumBucketInserts = s.numBucketInserts.Load()
	out.NumBucketUpdates = s.numBucketUpdates.Load()
	out.NumBucketsOpenedDueToMetadata = s.numBucketsOpenedDueToMetadata.Load()
	out.NumBucketsClosedDueToCount = s.numBucketsClosedDueToCount.Load()
	out.NumBucketsClosedDueToSize = s.numBucketsClosedDueToSize.Load()
	out.NumBucketsClosedDueToTimeForward = s.numBucketsClosedDueToTimeForward.Load()
	out.NumBucketsClosedDueToTimeBackward = s.numBucketsClosedDueToTimeBackward.Load()
	out.NumBucketsClosedDueToMemoryThreshold = s.numBucketsClosedDueToMemoryThreshold.Load()
	out.NumCommits = s.numCommits.Load()
	out.NumWaits = s.numWaits.Load()
	out.NumMeasurementsCommitted = s.numMeasurementsCommitted.Load()
	if out.NumCommits > 0 {
		out.AvgMeasurementsPerCommit = float64(out.NumMeasurementsCommitted) / float64(out.NumCommits)
	}
}

// statsShard is one stripe of the catalog's per-namespace stats map,
// guarded by its own mutex (leaf in the lock hierarchy, independent of the
// catalog's striped bucket lock).
type statsShard struct {
	mu sync.RWMutex
	m  map[Namespace]*ExecutionStats
}

// statsRegistry is the sharded map from namespace to ExecutionStats.
type statsRegistry struct {
	shards []*statsShard
}

func newStatsRegistry() *statsRegistry {
	shards := make([]*statsShard, numStripes())
	for i := range shards {
		shards[i] = &statsShard{m: make(map[Namespace]*ExecutionStats)}
	}
	return &statsRegistry{shards: shards}
}

func (r *statsRegistry) shardFor(ns Namespace) *statsShard {
	h := hashNamespace(ns)
	return r.shards[h%uint64(len(r.shards))]
}

// getOrCreate returns the ExecutionStats for ns, creating it on first use.
func (r *statsRegistry) getOrCreate(ns Namespace) *ExecutionStats {
	shard := r.shardFor(ns)
	shard.mu.RLock()
	stats, ok := shard.m[ns]
	shard.mu.RUnlock()
	if ok {
		return stats
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if stats, ok := shard.m[ns]; ok {
		return stats
	}
	stats = newExecutionStats()
	shard.m[ns] = stats
	return stats
}

// drop removes ns's stats entirely, used when a namespace is dropped.
func (r *statsRegistry) drop(ns Namespace) {
	shard := r.shardFor(ns)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.m, ns)
}

// dropDatabase removes every namespace whose Database matches db.
func (r *statsRegistry) dropDatabase(db string) {
	for _, shard := range r.shards {
		shard.mu.Lock()
		for ns := range shard.m {
			if ns.DatabasePrefix(db) {
				delete(shard.m, ns)
			}
		}
		shard.mu.Unlock()
	}
}

// ServerStatus is the "bucketCatalog" server-status document (§6):
// omitted entirely by the caller if no stats have ever been recorded.
type ServerStatus struct {
	NumBuckets     uint64
	NumOpenBuckets uint64
	NumIdleBuckets uint64
	MemoryUsage    uint64
}
