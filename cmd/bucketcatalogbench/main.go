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

// Command bucketcatalogbench drives concurrent inserts against a shared
// BucketCatalog and periodically prints its server-status snapshot. It
// exists to exercise the catalog end to end, the way the teacher's
// load-generation tools exercise a live dbnode.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/danglifei-006/bucketcatalog/src/dbnode/storage/bucketcatalog"
	"github.com/danglifei-006/bucketcatalog/src/dbnode/storage/bucketcatalog/bucketcatalogtest"
)

func main() {
	var (
		writers     = flag.Int("writers", 8, "number of concurrent inserting goroutines")
		duration    = flag.Duration("duration", 10*time.Second, "how long to run")
		numSeries   = flag.Int("series", 50, "number of distinct metadata series")
		reportEvery = flag.Duration("report-every", 2*time.Second, "server-status print interval")
		combine     = flag.Bool("combine", true, "combine=allow (shared session per bucket) vs disallow (per-writer session)")
	)
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	scope, closer := tally.NewRootScope(tally.ScopeOptions{Prefix: "bucketcatalogbench"}, time.Second)
	defer closer.Close() //nolint:errcheck

	opts := bucketcatalog.NewOptions().
		SetInstrumentOptions(bucketcatalog.InstrumentOptions{Logger: logger, Scope: scope})

	catalog, err := bucketcatalog.NewBucketCatalog(opts)
	if err != nil {
		logger.Fatal("failed to construct catalog", zap.Error(err))
	}

	ns := bucketcatalog.Namespace{Database: "bench", Collection: "metrics"}
	tsOpts := bucketcatalog.TimeSeriesOptions{
		TimeField: "ts",
		MetaField: "tags",
		MaxSpan:   time.Hour,
	}
	policy := bucketcatalog.CombineDisallow
	if *combine {
		policy = bucketcatalog.CombineAllow
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < *writers; i++ {
		wg.Add(1)
		go runWriter(&wg, stop, catalog, ns, tsOpts, policy, *numSeries, i)
	}

	ticker := time.NewTicker(*reportEvery)
	defer ticker.Stop()
	deadline := time.After(*duration)

loop:
	for {
		select {
		case <-ticker.C:
			printStatus(logger, catalog)
		case <-deadline:
			break loop
		}
	}

	close(stop)
	wg.Wait()
	printStatus(logger, catalog)
}

func runWriter(
	wg *sync.WaitGroup,
	stop <-chan struct{},
	catalog *bucketcatalog.BucketCatalog,
	ns bucketcatalog.Namespace,
	tsOpts bucketcatalog.TimeSeriesOptions,
	policy bucketcatalog.CombinePolicy,
	numSeries int,
	writerIdx int,
) {
	defer wg.Done()

	session := bucketcatalogtest.NewSessionID()
	rnd := rand.New(rand.NewSource(int64(writerIdx) + time.Now().UnixNano()))

	for {
		select {
		case <-stop:
			return
		default:
		}

		series := rnd.Intn(numSeries)
		doc := bucketcatalogtest.NewMeasurement().
			Time("ts", time.Now()).
			Meta("tags", map[string]interface{}{"series": series, "writer": writerIdx}).
			Set("value", rnd.Float64()*100).
			Build()

		batch, err := catalog.Insert(ns, tsOpts, nil, doc, policy, session)
		if err != nil {
			continue
		}

		if batch.ClaimCommitRights() {
			if !catalog.PrepareCommit(batch) {
				continue
			}
			catalog.Finish(batch, bucketcatalog.CommitInfo{Result: bucketcatalog.CommitResult{}})
		}
	}
}

func printStatus(logger *zap.Logger, catalog *bucketcatalog.BucketCatalog) {
	status, ok := catalog.ServerStatus()
	if !ok {
		logger.Info("server status: no activity recorded yet")
		return
	}
	logger.Info("server status",
		zap.Uint64("numBuckets", status.NumBuckets),
		zap.Uint64("numOpenBuckets", status.NumOpenBuckets),
		zap.Uint64("numIdleBuckets", status.NumIdleBuckets),
		zap.Uint64("memoryUsage", status.MemoryUsage),
	)
}
