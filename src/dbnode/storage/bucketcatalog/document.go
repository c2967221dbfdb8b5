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
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

var errNotAnObject = errors.New("bucketcatalog: measurement is not a JSON object")

// Measurement is an opaque nested document. The catalog only ever reads the
// configured time field, the configured metadata field, and the set of
// top-level field names; everything else passes through untouched. It is
// backed by gjson so that field access does not require a full unmarshal of
// documents the catalog will mostly just count and bound.
type Measurement struct {
	raw    []byte
	parsed gjson.Result
}

// ParseMeasurement parses raw as a JSON object measurement.
func ParseMeasurement(raw []byte) (Measurement, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return Measurement{}, errNotAnObject
	}
	return Measurement{raw: raw, parsed: parsed}, nil
}

// Raw returns the original document bytes.
func (m Measurement) Raw() []byte {
	return m.raw
}

// EstimatedSize approximates the on-disk footprint of the document; callers
// needing the precise accept-path delta use Bucket.sizeToBeAdded instead.
func (m Measurement) EstimatedSize() int {
	return len(m.raw)
}

// FieldNames returns the top-level field names in document order.
func (m Measurement) FieldNames() []string {
	var names []string
	m.parsed.ForEach(func(key, _ gjson.Result) bool {
		names = append(names, key.String())
		return true
	})
	return names
}

// Value returns the top-level field named name, or the zero gjson.Result
// (Type == gjson.Null) if absent.
func (m Measurement) Value(name string) gjson.Result {
	return m.parsed.Get(gjsonEscape(name))
}

// TimeField reads name as either an RFC3339 timestamp or epoch-millis
// integer, matching the two encodings real ingest clients tend to send.
func (m Measurement) TimeField(name string) (time.Time, bool) {
	v := m.Value(name)
	switch v.Type {
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, v.Str)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case gjson.Number:
		millis := v.Int()
		if millis == 0 && v.Raw != "0" {
			// gjson.Result.Int() truncates floats; fall back to Num.
			millis = int64(v.Num)
		}
		return time.UnixMilli(millis).UTC(), true
	default:
		return time.Time{}, false
	}
}

// gjsonEscape escapes path metacharacters ('.', '*', '?', '|', '#', '@') in a literal
// top-level field name so Value never treats it as a gjson path expression.
func gjsonEscape(name string) string {
	needsEscape := false
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '.', '*', '?', '|', '#', '@':
			needsEscape = true
		}
	}
	if !needsEscape {
		return name
	}
	out := make([]byte, 0, len(name)*2)
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch c {
		case '.', '*', '?', '|', '#', '@':
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

// digits10 returns the number of base-10 digits of n, matching the
// positional field-name encoding cost used by Bucket.sizeToBeAdded. Like the
// original's numDigits, digits10(0) is 0: a bucket's first measurement pays
// no positional-index overhead yet.
func digits10(n int) int {
	if n == 0 {
		return 0
	}
	if n < 10 {
		return 1
	}
	return len(strconv.Itoa(n))
}
