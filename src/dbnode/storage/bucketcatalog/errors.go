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

import "errors"

var (
	// ErrBadValue is returned by Insert when the measurement lacks a
	// valid timestamp in the configured time field.
	ErrBadValue = errors.New("bucketcatalog: measurement missing a valid time field")

	// ErrBucketCleared is delivered through a WriteBatch's result when
	// its owning bucket was cleared before or during commit.
	ErrBucketCleared = errors.New("bucketcatalog: bucket was cleared")

	// ErrWriteConflict is raised synchronously from ClearID when the
	// target bucket is currently Prepared.
	ErrWriteConflict = errors.New("bucketcatalog: write conflict, bucket is prepared")
)
