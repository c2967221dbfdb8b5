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

import "sync"

// idleList is an intrusive doubly-linked list of idle buckets, ordered
// most-recently-used at the head. Buckets own their own list element
// (Bucket.idleElem) rather than the list owning wrapper structs, so
// removal from an arbitrary position is O(1) without a secondary lookup.
type idleList struct {
	mu         sync.Mutex
	head, tail *idleListElem
}

// pushFront places bucket at the head of the list. bucket must not already
// be a member.
func (l *idleList) pushFront(b *Bucket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	elem := &idleListElem{bucket: b}
	b.idleElem = elem
	elem.next = l.head
	if l.head != nil {
		l.head.prev = elem
	}
	l.head = elem
	if l.tail == nil {
		l.tail = elem
	}
}

// remove detaches bucket from the list if it is currently a member; a
// no-op otherwise.
func (l *idleList) remove(b *Bucket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(b)
}

func (l *idleList) removeLocked(b *Bucket) {
	elem := b.idleElem
	if elem == nil {
		return
	}
	if elem.prev != nil {
		elem.prev.next = elem.next
	} else {
		l.head = elem.next
	}
	if elem.next != nil {
		elem.next.prev = elem.prev
	} else {
		l.tail = elem.prev
	}
	elem.prev, elem.next = nil, nil
	b.idleElem = nil
}

// popTail removes and returns the least-recently-used bucket, or nil if
// the list is empty.
func (l *idleList) popTail() *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tail == nil {
		return nil
	}
	b := l.tail.bucket
	l.removeLocked(b)
	return b
}

// len reports the current list length by walking it; only used by tests
// and diagnostics, never on a hot path.
func (l *idleList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for e := l.head; e != nil; e = e.next {
		n++
	}
	return n
}
