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
	"fmt"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestCatalog(t *testing.T) *BucketCatalog {
	t.Helper()
	opts := NewOptions().
		SetMaxBucketCount(3).
		SetMaxBucketSizeBytes(100000).
		SetMaxBucketSpan(time.Hour)
	c, err := NewBucketCatalog(opts)
	require.NoError(t, err)
	return c
}

var testNS = Namespace{Database: "d", Collection: "c"}
var testTSOpts = TimeSeriesOptions{TimeField: "ts", MetaField: "tags", MaxSpan: time.Hour}

func measurementAt(tm time.Time, host string, value float64) []byte {
	return []byte(fmt.Sprintf(
		`{"ts":%q,"tags":{"host":%q},"value":%v}`,
		tm.UTC().Format(time.RFC3339Nano), host, value))
}

func TestCatalogInsertCreatesBucketOnFirstWrite(t *testing.T) {
	c := newTestCatalog(t)
	now := time.Now()

	batch, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", 1), CombineDisallow, SessionID("s1"))
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.Equal(t, 1, batch.Bucket().NumMeasurements())
}

func TestCatalogInsertGroupsByMetadata(t *testing.T) {
	c := newTestCatalog(t)
	now := time.Now()

	b1, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", 1), CombineDisallow, SessionID("s1"))
	require.NoError(t, err)
	b2, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", 2), CombineDisallow, SessionID("s1"))
	require.NoError(t, err)
	b3, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "b", 3), CombineDisallow, SessionID("s1"))
	require.NoError(t, err)

	require.Same(t, b1.Bucket(), b2.Bucket(), "same metadata must land in the same bucket")
	require.NotSame(t, b1.Bucket(), b3.Bucket(), "different metadata must land in a different bucket")
}

func TestCatalogInsertRollsOverWhenBucketFull(t *testing.T) {
	c := newTestCatalog(t) // maxBucketCount = 3
	now := time.Now()

	var firstBucket *Bucket
	var lastBucket *Bucket
	for i := 0; i < 4; i++ {
		batch, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", float64(i)), CombineDisallow, SessionID("s1"))
		require.NoError(t, err)
		if i == 0 {
			firstBucket = batch.Bucket()
		}
		lastBucket = batch.Bucket()
	}

	require.NotSame(t, firstBucket, lastBucket, "4th insert should have rolled over a 3-max-count bucket")
}

func TestCatalogInsertRejectsMissingTimeField(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.Insert(testNS, testTSOpts, nil, []byte(`{"tags":{"host":"a"}}`), CombineDisallow, SessionID("s1"))
	require.ErrorIs(t, err, ErrBadValue)
}

func TestCatalogPrepareCommitAndFinishHappyPath(t *testing.T) {
	c := newTestCatalog(t)
	now := time.Now()

	batch, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", 1), CombineDisallow, SessionID("s1"))
	require.NoError(t, err)

	require.True(t, batch.ClaimCommitRights())
	require.True(t, c.PrepareCommit(batch))

	c.Finish(batch, CommitInfo{Result: CommitResult{}})

	info := batch.Result()
	require.NoError(t, info.Result.Err)

	var snap ExecutionStatsSnapshot
	c.AppendExecutionStats(testNS, &snap)
	require.EqualValues(t, 1, snap.NumBucketInserts)
	require.EqualValues(t, 1, snap.NumCommits)
}

func TestCatalogSecondCommitIsRecordedAsUpdate(t *testing.T) {
	c := newTestCatalog(t)
	now := time.Now()

	batch1, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", 1), CombineDisallow, SessionID("s1"))
	require.NoError(t, err)
	require.True(t, batch1.ClaimCommitRights())
	require.True(t, c.PrepareCommit(batch1))
	c.Finish(batch1, CommitInfo{Result: CommitResult{}})

	batch2, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", 2), CombineDisallow, SessionID("s2"))
	require.NoError(t, err)
	require.True(t, batch2.ClaimCommitRights())
	require.True(t, c.PrepareCommit(batch2))
	require.Equal(t, 1, batch2.NumPreviouslyCommitted())
	c.Finish(batch2, CommitInfo{Result: CommitResult{}})

	var snap ExecutionStatsSnapshot
	c.AppendExecutionStats(testNS, &snap)
	require.EqualValues(t, 1, snap.NumBucketInserts)
	require.EqualValues(t, 1, snap.NumBucketUpdates)
}

func TestCatalogAbortDeliversErrBucketClearedAndDropsBucket(t *testing.T) {
	c := newTestCatalog(t)
	now := time.Now()

	batch, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", 1), CombineDisallow, SessionID("s1"))
	require.NoError(t, err)
	bucket := batch.Bucket()

	c.Abort(batch)

	info := batch.Result()
	require.ErrorIs(t, info.Result.Err, ErrBucketCleared)

	c.allBucketsMu.Lock()
	_, stillPresent := c.allBuckets[bucket.id]
	c.allBucketsMu.Unlock()
	require.False(t, stillPresent)
}

func TestCatalogClearIDOnPreparedBucketReturnsWriteConflict(t *testing.T) {
	c := newTestCatalog(t)
	now := time.Now()

	batch, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", 1), CombineDisallow, SessionID("s1"))
	require.NoError(t, err)
	require.True(t, batch.ClaimCommitRights())
	require.True(t, c.PrepareCommit(batch))

	id := batch.Bucket().ID()
	err = c.ClearID(id)
	require.ErrorIs(t, err, ErrWriteConflict)

	c.Finish(batch, CommitInfo{Result: CommitResult{}})
	info := batch.Result()
	require.ErrorIs(t, info.Result.Err, ErrBucketCleared,
		"a batch prepared before a racing ClearID must observe ErrBucketCleared, not its own persisted result")
}

func TestCatalogClearNamespaceAbortsOpenBatches(t *testing.T) {
	c := newTestCatalog(t)
	now := time.Now()

	batch, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", 1), CombineDisallow, SessionID("s1"))
	require.NoError(t, err)

	c.ClearNamespace(testNS)

	info := batch.Result()
	require.ErrorIs(t, info.Result.Err, ErrBucketCleared)
}

func TestCatalogServerStatusOmittedBeforeAnyActivity(t *testing.T) {
	c := newTestCatalog(t)
	_, ok := c.ServerStatus()
	require.False(t, ok)
}

func TestCatalogServerStatusReflectsOpenBuckets(t *testing.T) {
	c := newTestCatalog(t)
	now := time.Now()

	_, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", 1), CombineDisallow, SessionID("s1"))
	require.NoError(t, err)

	status, ok := c.ServerStatus()
	require.True(t, ok)
	require.EqualValues(t, 1, status.NumBuckets)
}

func TestCatalogWaitToCommitReleasesBucketMutexBeforeBlocking(t *testing.T) {
	defer leaktest.CheckTimeout(t, 2*time.Second)()
	defer goleak.VerifyNone(t)

	c := newTestCatalog(t)
	now := time.Now()

	batchA, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", 1), CombineDisallow, SessionID("s1"))
	require.NoError(t, err)
	require.True(t, batchA.ClaimCommitRights())
	require.True(t, c.PrepareCommit(batchA))

	// A second insert against the same bucket must still be possible even
	// though batchA currently holds the bucket's prepared slot, proving
	// PrepareCommit released the bucket mutex before its own batch moved
	// on rather than holding it across the whole commit.
	batchB, err := c.Insert(testNS, testTSOpts, nil, measurementAt(now, "a", 2), CombineDisallow, SessionID("s2"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		require.True(t, batchB.ClaimCommitRights())
		require.True(t, c.PrepareCommit(batchB))
		c.Finish(batchB, CommitInfo{Result: CommitResult{}})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Finish(batchA, CommitInfo{Result: CommitResult{}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("batchB's PrepareCommit never unblocked after batchA finished")
	}
}
