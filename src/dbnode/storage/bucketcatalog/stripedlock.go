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
	"runtime"
	"sync"
)

// numStripes mirrors the teacher's xsync package convention of sizing
// concurrency primitives off the detected core count: enough stripes that
// independent readers rarely collide, without allocating one per goroutine.
func numStripes() int {
	n := runtime.GOMAXPROCS(0)
	if n < 4 {
		return 4
	}
	if n > 64 {
		return 64
	}
	return n
}

// stripedLock is a read/write lock sharded across a fixed number of
// stripes, selected by hashing the caller-supplied key. Reader operations
// take a single stripe in shared mode; RLock/RUnlock never contend across
// stripes. Exclusive mode acquires every stripe, always in the same
// ascending order, so it can never deadlock against a concurrent exclusive
// acquisition.
type stripedLock struct {
	stripes []sync.RWMutex
}

func newStripedLock() *stripedLock {
	return &stripedLock{stripes: make([]sync.RWMutex, numStripes())}
}

func (s *stripedLock) stripeFor(hash uint64) *sync.RWMutex {
	return &s.stripes[hash%uint64(len(s.stripes))]
}

// RLock acquires the single stripe hash maps to for reading.
func (s *stripedLock) RLock(hash uint64) {
	s.stripeFor(hash).RLock()
}

// RUnlock releases the stripe hash maps to.
func (s *stripedLock) RUnlock(hash uint64) {
	s.stripeFor(hash).RUnlock()
}

// Lock acquires every stripe for writing, in a fixed ascending order.
func (s *stripedLock) Lock() {
	for i := range s.stripes {
		s.stripes[i].Lock()
	}
}

// Unlock releases every stripe, in descending order (irrelevant for
// correctness with sync.RWMutex, but mirrors the acquire order's mirror
// image the way the teacher's own lock-ordering comments prescribe).
func (s *stripedLock) Unlock() {
	for i := len(s.stripes) - 1; i >= 0; i-- {
		s.stripes[i].Unlock()
	}
}
