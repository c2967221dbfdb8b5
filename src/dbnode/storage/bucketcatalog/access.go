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

import "time"

// openKey identifies one open-bucket slot: a namespace plus a canonicalized
// metadata grouping.
type openKey struct {
	ns     Namespace
	meta   string // BucketMetadata's sorted form, used as a plain map key
	hash   uint64
}

func newOpenKey(ns Namespace, meta BucketMetadata) openKey {
	return openKey{
		ns:   ns,
		meta: string(meta.sorted),
		hash: hashKey(ns, meta),
	}
}

// bucketAccess is the scoped guard around one bucket lookup: it records
// which mode of the catalog's striped lock resolved it (that lock is
// already released by the time the access is returned) and, once resolved,
// holds the bucket's own mutex. Callers must end every access with release
// on every code path (including early returns on bad state); further
// release calls are no-ops.
type bucketAccess struct {
	cat       *BucketCatalog
	key       openKey
	exclusive bool

	bucket      *Bucket
	state       bucketState
	bucketLocked bool
}

// findOpenBucketAndLock implements §4.E's shared path: look the key up
// under the catalog's shared stripe, then move to holding just the
// bucket's own mutex before consulting bucket state.
//
// The shared stripe stays held across the map lookup and the b.mu acquire,
// and is released once b.mu is held, before the state read (removal needs
// b.mu too): releasing it any earlier would let a concurrent exclusive
// locker (the only way to remove a bucket, per removeBucketLocked's
// contract) delete the bucket out from under us between the lookup and the
// lock, leaving stateOf to miss the state map and this call to hand back a
// bucket that looks Normal but is no longer tracked anywhere.
func (c *BucketCatalog) findOpenBucketAndLock(key openKey) *bucketAccess {
	c.lock.RLock(key.hash)
	b, ok := c.openBuckets[key]
	if !ok {
		c.lock.RUnlock(key.hash)
		return &bucketAccess{cat: c, key: key, state: stateCleared}
	}

	b.mu.Lock()
	c.lock.RUnlock(key.hash)

	acc := &bucketAccess{cat: c, key: key, bucket: b, bucketLocked: true}
	acc.state = c.stateOf(b.id)
	if acc.state == stateCleared || acc.state == statePreparedAndCleared {
		return acc
	}
	c.idle.remove(b)
	return acc
}

// findOrCreateBucketAndLock implements §4.E's exclusive path: on a cleared
// or missing bucket, allocate a fresh one under the catalog's exclusive
// lock instead of just reporting the bad state back to the caller.
func (c *BucketCatalog) findOrCreateBucketAndLock(
	ns Namespace,
	meta BucketMetadata,
	tsOpts TimeSeriesOptions,
	cmp Comparator,
	nominal time.Time,
) (*bucketAccess, bool) {
	key := newOpenKey(ns, meta)

	c.lock.Lock()
	defer c.lock.Unlock()

	if b, ok := c.openBuckets[key]; ok {
		b.mu.Lock()
		state := c.stateOf(b.id)
		if state == stateCleared || state == statePreparedAndCleared {
			b.mu.Unlock()
			c.abortAndRemoveLocked(b)
		} else {
			c.idle.remove(b)
			return &bucketAccess{cat: c, key: key, exclusive: true, bucket: b, state: state, bucketLocked: true}, false
		}
	}

	b := c.allocateBucketLocked(key, ns, meta, tsOpts, cmp, nominal)
	b.mu.Lock()
	return &bucketAccess{cat: c, key: key, exclusive: true, bucket: b, state: stateNormal, bucketLocked: true}, true
}

// release unlocks whatever this access is still holding. Safe to call
// multiple times.
func (a *bucketAccess) release() {
	if a.bucketLocked {
		a.bucket.mu.Unlock()
		a.bucketLocked = false
	}
}

// found reports whether a usable (Normal or Prepared) bucket was resolved.
func (a *bucketAccess) found() bool {
	return a.bucket != nil && a.state != stateCleared && a.state != statePreparedAndCleared
}
