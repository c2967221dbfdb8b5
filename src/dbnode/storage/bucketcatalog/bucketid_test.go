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

func TestNewBucketIDRoundTripsTime(t *testing.T) {
	nominal := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	id := NewBucketID(nominal)
	assert.Equal(t, nominal, id.Time())
}

func TestNewBucketIDRandomSuffixDiffers(t *testing.T) {
	nominal := time.Now()
	a := NewBucketID(nominal)
	b := NewBucketID(nominal)
	assert.NotEqual(t, a, b, "random suffix should differ between allocations")
	assert.Equal(t, a.Time(), b.Time(), "nominal time prefix should still match")
}

func TestBucketIDWithTimeKeepsSuffix(t *testing.T) {
	id := NewBucketID(time.Unix(1000, 0))
	relocated := id.WithTime(time.Unix(2000, 0))

	assert.Equal(t, time.Unix(2000, 0).UTC(), relocated.Time())
	assert.Equal(t, id[4:12], relocated[4:12], "random suffix must survive relocation")
	assert.NotEqual(t, id, relocated)
}

func TestBucketIDStringIsHex(t *testing.T) {
	id := NewBucketID(time.Unix(0, 0))
	s := id.String()
	assert.Len(t, s, 24)
}
