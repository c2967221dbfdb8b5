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

// NowFn returns the current time. Passed through Options so tests can
// substitute a deterministic clock.
type NowFn func() time.Time

// Comparator orders two metadata field values. Implementations must be a
// total order consistent with equality: Compare(a, b) == 0 iff a and b are
// considered equal metadata values.
type Comparator interface {
	// Compare returns <0, 0 or >0 depending on whether a sorts before,
	// equal to, or after b.
	Compare(a, b string) int
}

// stringComparator is the default Comparator: plain byte-wise ordering,
// matching Go's built-in string comparison.
type stringComparator struct{}

// Compare implements Comparator.
func (stringComparator) Compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// DefaultComparator is the byte-wise string Comparator used when the caller
// does not supply one.
var DefaultComparator Comparator = stringComparator{}

// Namespace identifies the time-series target a measurement belongs to.
type Namespace struct {
	Database   string
	Collection string
}

// String renders the namespace as "database.collection".
func (n Namespace) String() string {
	return n.Database + "." + n.Collection
}

// DatabasePrefix reports whether this namespace belongs to db, used by
// database-scoped clears.
func (n Namespace) DatabasePrefix(db string) bool {
	return n.Database == db
}

// SessionID identifies the writer session an active batch belongs to.
type SessionID string

// sharedSessionID is used by every writer when CombinePolicy is
// CombineAllow, so they all land in the same active batch per bucket.
const sharedSessionID SessionID = "__combined__"

// CombinePolicy controls whether concurrent writers to the same bucket
// share one active WriteBatch or each get their own.
type CombinePolicy int

const (
	// CombineAllow routes every writer through the shared session id.
	CombineAllow CombinePolicy = iota
	// CombineDisallow gives each caller-supplied session its own batch.
	CombineDisallow
)

func (p CombinePolicy) resolve(caller SessionID) SessionID {
	if p == CombineAllow {
		return sharedSessionID
	}
	return caller
}

// TimeSeriesOptions describes how to interpret a measurement document for a
// single insert call.
type TimeSeriesOptions struct {
	// TimeField is the name of the required timestamp field.
	TimeField string
	// MetaField, if non-empty, names the metadata grouping field.
	MetaField string
	// MaxSpan bounds how far apart the earliest and latest measurement in
	// a bucket may be.
	MaxSpan time.Duration
}

// CommitResult is the outcome of a bucket write batch as decided by the
// external committer.
type CommitResult struct {
	Err error
}

// CommitInfo is passed to Finish once the external writer has (attempted
// to) persist a batch.
type CommitInfo struct {
	Result CommitResult
}

// PersistFn is the external hook responsible for durably writing a
// prepared batch. The catalog never calls it directly; it is documented
// here as the collaborator prepare/finish is designed around.
type PersistFn func(*WriteBatch) CommitInfo
