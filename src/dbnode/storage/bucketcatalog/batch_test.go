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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteBatchClaimCommitRightsIsSingleWinner(t *testing.T) {
	b := newTestBucket(t, time.Now(), time.Hour)
	batch := newWriteBatch(b, SessionID("s1"), nil)

	wins := 0
	for i := 0; i < 8; i++ {
		if batch.ClaimCommitRights() {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestWriteBatchAbortIsIdempotent(t *testing.T) {
	b := newTestBucket(t, time.Now(), time.Hour)
	batch := newWriteBatch(b, SessionID("s1"), nil)

	batch.abort()
	batch.abort()

	info := batch.Result()
	assert.ErrorIs(t, info.Result.Err, ErrBucketCleared)
}

func TestWriteBatchFinishThenAbortDoesNotOverwriteResult(t *testing.T) {
	b := newTestBucket(t, time.Now(), time.Hour)
	batch := newWriteBatch(b, SessionID("s1"), nil)

	batch.finish(CommitInfo{Result: CommitResult{}})
	batch.abort()

	info := batch.Result()
	assert.NoError(t, info.Result.Err)
}

func TestWriteBatchResultUnblocksEveryWaiter(t *testing.T) {
	b := newTestBucket(t, time.Now(), time.Hour)
	batch := newWriteBatch(b, SessionID("s1"), nil)

	const numWaiters = 20
	results := make(chan error, numWaiters)
	for i := 0; i < numWaiters; i++ {
		go func() {
			results <- batch.Result().Result.Err
		}()
	}

	time.Sleep(10 * time.Millisecond)
	batch.finish(CommitInfo{Result: CommitResult{}})

	for i := 0; i < numWaiters; i++ {
		assert.NoError(t, <-results)
	}
}

func TestWriteBatchPrepareFirstCommitEmitsFullSnapshot(t *testing.T) {
	b := newTestBucket(t, time.Now(), time.Hour)
	batch := newWriteBatch(b, SessionID("s1"), nil)

	doc := mustMeasurement(t, `{"ts":"2026-08-06T00:00:00Z","v":1}`)
	docTime, _ := doc.TimeField("ts")
	b.accept(doc, SessionID("s1"), docTime, nil)
	batch.addMeasurement(doc)

	batch.prepare()

	assert.Equal(t, 0, batch.NumPreviouslyCommitted())
	assert.NotNil(t, batch.MinDiff())
	assert.NotNil(t, batch.MaxDiff())
}

func TestWriteBatchAddMeasurementNoopAfterActive(t *testing.T) {
	b := newTestBucket(t, time.Now(), time.Hour)
	batch := newWriteBatch(b, SessionID("s1"), nil)
	batch.prepare()

	doc := mustMeasurement(t, `{"ts":"2026-08-06T00:00:00Z","v":1}`)
	batch.addMeasurement(doc)

	assert.Empty(t, batch.Measurements())
}
