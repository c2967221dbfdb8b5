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
	"github.com/stretchr/testify/require"
)

func TestIdleListPushFrontAndPopTailOrdering(t *testing.T) {
	l := &idleList{}
	a := newTestBucket(t, time.Now(), time.Hour)
	b := newTestBucket(t, time.Now(), time.Hour)
	c := newTestBucket(t, time.Now(), time.Hour)

	l.pushFront(a)
	l.pushFront(b)
	l.pushFront(c)
	require.Equal(t, 3, l.len())

	assert.Same(t, a, l.popTail())
	assert.Same(t, b, l.popTail())
	assert.Same(t, c, l.popTail())
	assert.Nil(t, l.popTail())
	assert.Equal(t, 0, l.len())
}

func TestIdleListRemoveFromMiddle(t *testing.T) {
	l := &idleList{}
	a := newTestBucket(t, time.Now(), time.Hour)
	b := newTestBucket(t, time.Now(), time.Hour)
	c := newTestBucket(t, time.Now(), time.Hour)

	l.pushFront(a)
	l.pushFront(b)
	l.pushFront(c)

	l.remove(b)
	require.Equal(t, 2, l.len())
	assert.Nil(t, b.idleElem)

	assert.Same(t, a, l.popTail())
	assert.Same(t, c, l.popTail())
}

func TestIdleListRemoveIsNoopWhenNotMember(t *testing.T) {
	l := &idleList{}
	a := newTestBucket(t, time.Now(), time.Hour)

	assert.NotPanics(t, func() { l.remove(a) })
	assert.Equal(t, 0, l.len())
}

func TestIdleListPopTailOnEmptyListReturnsNil(t *testing.T) {
	l := &idleList{}
	assert.Nil(t, l.popTail())
}

func TestIdleListPushFrontSetsBucketElem(t *testing.T) {
	l := &idleList{}
	a := newTestBucket(t, time.Now(), time.Hour)

	l.pushFront(a)
	require.NotNil(t, a.idleElem)

	l.remove(a)
	require.Nil(t, a.idleElem)
}
