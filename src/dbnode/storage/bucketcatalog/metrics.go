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

import "github.com/uber-go/tally"

// catalogMetrics mirrors the teacher's dbShardInsertQueueMetrics pattern:
// a small struct of tally instruments built once off a sub-scope and
// referenced directly from the hot paths, no lookups by name at runtime.
type catalogMetrics struct {
	inserts          tally.Counter
	rollovers        tally.Counter
	commits          tally.Counter
	aborts           tally.Counter
	writeConflicts   tally.Counter
	idleEvictions    tally.Counter
	numBucketsGauge  tally.Gauge
	numOpenGauge     tally.Gauge
	numIdleGauge     tally.Gauge
	memoryUsageGauge tally.Gauge
}

func newCatalogMetrics(scope tally.Scope) catalogMetrics {
	scope = scope.SubScope("bucket-catalog")
	return catalogMetrics{
		inserts:          scope.Counter("inserts"),
		rollovers:        scope.Counter("rollovers"),
		commits:          scope.Counter("commits"),
		aborts:           scope.Counter("aborts"),
		writeConflicts:   scope.Counter("write-conflicts"),
		idleEvictions:    scope.Counter("idle-evictions"),
		numBucketsGauge:  scope.Gauge("num-buckets"),
		numOpenGauge:     scope.Gauge("num-open-buckets"),
		numIdleGauge:     scope.Gauge("num-idle-buckets"),
		memoryUsageGauge: scope.Gauge("memory-usage"),
	}
}
