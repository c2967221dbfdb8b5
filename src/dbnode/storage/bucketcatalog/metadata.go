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
	"bytes"
	"encoding/json"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// BucketMetadata is the canonicalized grouping key attached to a bucket: the
// original metadata document plus a deterministic sorted form used for
// equality and hashing. Two metadata documents that differ only in the
// ordering of their object keys canonicalize to the same BucketMetadata and
// therefore land in the same bucket.
type BucketMetadata struct {
	raw    []byte
	sorted []byte
	field  string
	cmp    Comparator
	hash   uint64
}

// emptyMetadata is the sentinel used before a bucket has accepted its first
// measurement.
var emptyMetadata = BucketMetadata{raw: []byte("{}"), sorted: []byte("{}"), cmp: DefaultComparator}

// NewBucketMetadata canonicalizes raw (a JSON object, possibly empty) under
// cmp. cmp defaults to DefaultComparator when nil.
func NewBucketMetadata(raw []byte, cmp Comparator) (BucketMetadata, error) {
	if cmp == nil {
		cmp = DefaultComparator
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return BucketMetadata{}, err
	}

	field := firstFieldName(raw)

	canon := canonicalize(decoded, cmp)
	sorted, err := json.Marshal(canon)
	if err != nil {
		return BucketMetadata{}, err
	}

	return BucketMetadata{
		raw:    raw,
		sorted: sorted,
		field:  field,
		cmp:    cmp,
		hash:   xxhash.Sum64(sorted),
	}, nil
}

// AsBSON returns the original, uncanonicalized metadata document. Named to
// match the wire concept it stands in for: the value exactly as the caller
// supplied it, before any key reordering.
func (m BucketMetadata) AsBSON() []byte {
	return m.raw
}

// MetaFieldName returns the name of the first field in the original
// (pre-canonicalization) document, or "" if the document was empty.
func (m BucketMetadata) MetaFieldName() string {
	return m.field
}

// Comparator returns the comparator this metadata was canonicalized under.
func (m BucketMetadata) Comparator() Comparator {
	return m.cmp
}

// Equal reports whether m and other canonicalize to byte-identical sorted
// forms.
func (m BucketMetadata) Equal(other BucketMetadata) bool {
	return string(m.sorted) == string(other.sorted)
}

// Hash returns a hash derived from the canonical sorted form, suitable for
// map/stripe selection.
func (m BucketMetadata) Hash() uint64 {
	return m.hash
}

// canonicalize recursively sorts object keys using cmp; array element order
// is preserved.
func canonicalize(v interface{}, cmp Comparator) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return cmp.Compare(keys[i], keys[j]) < 0 })
		out := make(orderedObject, 0, len(keys))
		for _, k := range keys {
			out = append(out, orderedField{key: k, value: canonicalize(val[k], cmp)})
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = canonicalize(e, cmp)
		}
		return out
	default:
		return val
	}
}

// orderedField/orderedObject implement json.Marshaler to emit object keys
// in a fixed order instead of encoding/json's own (also-sorted, but
// comparator-agnostic) map ordering.
type orderedField struct {
	key   string
	value interface{}
}

type orderedObject []orderedField

// MarshalJSON implements json.Marshaler.
func (o orderedObject) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, f := range o {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')
		valBytes, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, valBytes...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// firstFieldName returns the name of the first key in a JSON object, in
// original document order, without invoking the (order-erasing) map
// unmarshal path.
func firstFieldName(raw []byte) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return ""
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ""
	}
	tok, err = dec.Token()
	if err != nil {
		return ""
	}
	name, ok := tok.(string)
	if !ok {
		return ""
	}
	return name
}
