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

// Package bucketcatalogtest holds fixtures shared by the bucketcatalog
// package's own tests and by callers exercising it as a library: a
// deterministic clock, a fluent measurement builder, and session-id
// generation for combine=disallow scenarios.
package bucketcatalogtest

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danglifei-006/bucketcatalog/src/dbnode/storage/bucketcatalog"
)

// FakeClock is a settable NowFn source for tests that need a deterministic
// clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a FakeClock initialized to t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

// Now implements bucketcatalog.NowFn.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set overwrites the clock's current value.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new value.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// MeasurementBuilder assembles a synthetic measurement document field by
// field, keeping insertion order so tests can exercise document-order
// sensitive code (BucketMetadata.MetaFieldName, MinMax leaf ordering).
type MeasurementBuilder struct {
	fields []fieldEntry
}

type fieldEntry struct {
	name  string
	value interface{}
}

// NewMeasurement starts an empty builder.
func NewMeasurement() *MeasurementBuilder {
	return &MeasurementBuilder{}
}

// Set appends (or, if already present, overwrites in place) a field.
func (b *MeasurementBuilder) Set(name string, value interface{}) *MeasurementBuilder {
	for i, f := range b.fields {
		if f.name == name {
			b.fields[i].value = value
			return b
		}
	}
	b.fields = append(b.fields, fieldEntry{name: name, value: value})
	return b
}

// Time is shorthand for Set(name, value.Format(time.RFC3339Nano)).
func (b *MeasurementBuilder) Time(name string, value time.Time) *MeasurementBuilder {
	return b.Set(name, value.UTC().Format(time.RFC3339Nano))
}

// Meta is shorthand for Set(name, tags) where tags is rendered as a nested
// JSON object.
func (b *MeasurementBuilder) Meta(name string, tags map[string]interface{}) *MeasurementBuilder {
	return b.Set(name, tags)
}

// Build renders the accumulated fields as a JSON object, preserving
// insertion order.
func (b *MeasurementBuilder) Build() []byte {
	buf := []byte{'{'}
	for i, f := range b.fields {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, _ := json.Marshal(f.name)
		valBytes, _ := json.Marshal(f.value)
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')
		buf = append(buf, valBytes...)
	}
	buf = append(buf, '}')
	return buf
}

// NewSessionID returns a fresh random session id suitable for a
// combine=disallow writer, matching the reference CLI's per-writer identity
// scheme.
func NewSessionID() bucketcatalog.SessionID {
	return bucketcatalog.SessionID(uuid.NewString())
}
