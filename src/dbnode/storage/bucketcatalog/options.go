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
	"errors"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

const (
	defaultMaxBucketCount           = 1000
	defaultMaxBucketSizeBytes       = 125000
	defaultMaxBucketSpanSeconds     = 3600
	defaultIdleExpiryThresholdBytes = 128 << 20 // 128MiB
)

// Options configures a BucketCatalog. Follows the teacher's copy-on-write
// functional-options convention: every Set returns a new Options rather
// than mutating the receiver.
type Options interface {
	// Validate returns an error if the options are not usable.
	Validate() error

	// SetMaxBucketCount sets the maximum number of measurements a
	// bucket may hold before it is rolled over.
	SetMaxBucketCount(value int) Options
	// MaxBucketCount returns the current value.
	MaxBucketCount() int

	// SetMaxBucketSizeBytes sets the maximum serialized bucket size.
	SetMaxBucketSizeBytes(value int) Options
	// MaxBucketSizeBytes returns the current value.
	MaxBucketSizeBytes() int

	// SetMaxBucketSpan sets the maximum time span a bucket may cover.
	SetMaxBucketSpan(value time.Duration) Options
	// MaxBucketSpan returns the current value.
	MaxBucketSpan() time.Duration

	// SetIdleExpiryThreshold sets the catalog memory usage above which
	// idle buckets are eagerly reaped.
	SetIdleExpiryThreshold(value int64) Options
	// IdleExpiryThreshold returns the current value.
	IdleExpiryThreshold() int64

	// SetClockOptions sets the NowFn carried by these options. The
	// catalog does not read it: bucket nominal timestamps come from the
	// measurements' own time fields.
	SetClockOptions(value NowFn) Options
	// ClockOptions returns the current value.
	ClockOptions() NowFn

	// SetInstrumentOptions sets the logger and metrics scope.
	SetInstrumentOptions(value InstrumentOptions) Options
	// InstrumentOptions returns the current value.
	InstrumentOptions() InstrumentOptions

	// SetComparator sets the default string Comparator used for
	// metadata ordering and min/max leaf comparisons.
	SetComparator(value Comparator) Options
	// Comparator returns the current value.
	Comparator() Comparator
}

// InstrumentOptions bundles a logger and a metrics scope, matching the
// teacher's convention of threading both through Options as a pair rather
// than as two independent setters.
type InstrumentOptions struct {
	Logger *zap.Logger
	Scope  tally.Scope
}

type options struct {
	maxBucketCount       int
	maxBucketSizeBytes   int
	maxBucketSpan        time.Duration
	idleExpiryThreshold  int64
	nowFn                NowFn
	instrumentOpts       InstrumentOptions
	comparator           Comparator
}

// NewOptions returns Options populated with the package defaults.
func NewOptions() Options {
	return &options{
		maxBucketCount:      defaultMaxBucketCount,
		maxBucketSizeBytes:  defaultMaxBucketSizeBytes,
		maxBucketSpan:       defaultMaxBucketSpanSeconds * time.Second,
		idleExpiryThreshold: defaultIdleExpiryThresholdBytes,
		nowFn:               time.Now,
		instrumentOpts:      InstrumentOptions{Logger: zap.NewNop(), Scope: tally.NoopScope},
		comparator:          DefaultComparator,
	}
}

func (o *options) Validate() error {
	if o.maxBucketCount <= 0 {
		return errors.New("bucketcatalog options invalid: max bucket count must be positive")
	}
	if o.maxBucketSizeBytes <= 0 {
		return errors.New("bucketcatalog options invalid: max bucket size must be positive")
	}
	if o.maxBucketSpan <= 0 {
		return errors.New("bucketcatalog options invalid: max bucket span must be positive")
	}
	if o.idleExpiryThreshold <= 0 {
		return errors.New("bucketcatalog options invalid: idle expiry threshold must be positive")
	}
	if o.nowFn == nil {
		return errors.New("bucketcatalog options invalid: no clock")
	}
	if o.comparator == nil {
		return errors.New("bucketcatalog options invalid: no comparator")
	}
	return nil
}

func (o *options) SetMaxBucketCount(value int) Options {
	opts := *o
	opts.maxBucketCount = value
	return &opts
}

func (o *options) MaxBucketCount() int { return o.maxBucketCount }

func (o *options) SetMaxBucketSizeBytes(value int) Options {
	opts := *o
	opts.maxBucketSizeBytes = value
	return &opts
}

func (o *options) MaxBucketSizeBytes() int { return o.maxBucketSizeBytes }

func (o *options) SetMaxBucketSpan(value time.Duration) Options {
	opts := *o
	opts.maxBucketSpan = value
	return &opts
}

func (o *options) MaxBucketSpan() time.Duration { return o.maxBucketSpan }

func (o *options) SetIdleExpiryThreshold(value int64) Options {
	opts := *o
	opts.idleExpiryThreshold = value
	return &opts
}

func (o *options) IdleExpiryThreshold() int64 { return o.idleExpiryThreshold }

func (o *options) SetClockOptions(value NowFn) Options {
	opts := *o
	opts.nowFn = value
	return &opts
}

func (o *options) ClockOptions() NowFn { return o.nowFn }

func (o *options) SetInstrumentOptions(value InstrumentOptions) Options {
	opts := *o
	opts.instrumentOpts = value
	return &opts
}

func (o *options) InstrumentOptions() InstrumentOptions { return o.instrumentOpts }

func (o *options) SetComparator(value Comparator) Options {
	opts := *o
	opts.comparator = value
	return &opts
}

func (o *options) Comparator() Comparator { return o.comparator }
