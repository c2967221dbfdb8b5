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

	"github.com/stretchr/testify/require"
)

func TestFindOpenBucketAndLockMissingKeyReportsCleared(t *testing.T) {
	c := newTestCatalog(t)
	meta, err := NewBucketMetadata([]byte(`{"host":"a"}`), nil)
	require.NoError(t, err)
	key := newOpenKey(testNS, meta)

	acc := c.findOpenBucketAndLock(key)
	defer acc.release()

	require.False(t, acc.found())
	require.Nil(t, acc.bucket)
}

func TestFindOrCreateBucketAndLockAllocatesOnFirstUse(t *testing.T) {
	c := newTestCatalog(t)
	meta, err := NewBucketMetadata([]byte(`{"host":"a"}`), nil)
	require.NoError(t, err)

	acc, created := c.findOrCreateBucketAndLock(testNS, meta, testTSOpts, DefaultComparator, time.Now())
	defer acc.release()

	require.True(t, created)
	require.True(t, acc.found())
	require.NotNil(t, acc.bucket)
}

func TestFindOrCreateBucketAndLockReusesExistingBucket(t *testing.T) {
	c := newTestCatalog(t)
	meta, err := NewBucketMetadata([]byte(`{"host":"a"}`), nil)
	require.NoError(t, err)
	now := time.Now()

	first, created := c.findOrCreateBucketAndLock(testNS, meta, testTSOpts, DefaultComparator, now)
	firstBucket := first.bucket
	first.release()
	require.True(t, created)

	second, created := c.findOrCreateBucketAndLock(testNS, meta, testTSOpts, DefaultComparator, now)
	defer second.release()

	require.False(t, created)
	require.Same(t, firstBucket, second.bucket)
}

func TestFindOpenBucketAndLockRemovesBucketFromIdleList(t *testing.T) {
	c := newTestCatalog(t)
	meta, err := NewBucketMetadata([]byte(`{"host":"a"}`), nil)
	require.NoError(t, err)
	now := time.Now()

	acc, _ := c.findOrCreateBucketAndLock(testNS, meta, testTSOpts, DefaultComparator, now)
	b := acc.bucket
	acc.release()

	c.idle.pushFront(b)
	require.Equal(t, 1, c.idle.len())

	key := newOpenKey(testNS, meta)
	reused := c.findOpenBucketAndLock(key)
	defer reused.release()

	require.True(t, reused.found())
	require.Equal(t, 0, c.idle.len(), "resolving a bucket for use must drop it from the idle LRU")
}

func TestBucketAccessReleaseIsIdempotent(t *testing.T) {
	c := newTestCatalog(t)
	meta, err := NewBucketMetadata([]byte(`{"host":"a"}`), nil)
	require.NoError(t, err)

	acc, _ := c.findOrCreateBucketAndLock(testNS, meta, testTSOpts, DefaultComparator, time.Now())
	acc.release()
	require.NotPanics(t, acc.release)
}

func TestFindOrCreateBucketAndLockReplacesClearedBucket(t *testing.T) {
	c := newTestCatalog(t)
	meta, err := NewBucketMetadata([]byte(`{"host":"a"}`), nil)
	require.NoError(t, err)
	now := time.Now()

	first, _ := c.findOrCreateBucketAndLock(testNS, meta, testTSOpts, DefaultComparator, now)
	staleID := first.bucket.id
	first.release()

	require.NoError(t, c.ClearID(staleID))

	second, created := c.findOrCreateBucketAndLock(testNS, meta, testTSOpts, DefaultComparator, now)
	defer second.release()

	require.True(t, created)
	require.NotEqual(t, staleID, second.bucket.id)
}
