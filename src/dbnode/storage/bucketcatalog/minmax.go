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
	"strconv"

	"github.com/tidwall/gjson"
)

// diff format markers, opaque to the catalog itself and consumed only by
// the external persistence layer that applies these diffs on top of a
// previously written full document.
const (
	diffUpdateSectionKey = "u"
	diffSubDiffPrefix    = "s:"
	diffArrayHeaderKey   = "a"
)

type nodeKind int

const (
	kindUnset nodeKind = iota
	kindObject
	kindArray
	kindValue
)

// node is one location in a MinMax tree: a running object, array or scalar
// value along with whether it changed since the last GetUpdates call.
type node struct {
	kind        nodeKind
	object      map[string]*node
	array       map[int]*node
	value       gjson.Result
	updated     bool
	memoryUsage int
}

// MinMax tracks, per document location, the running minimum or maximum
// value seen across every measurement folded into a bucket. It emits
// structural diffs (GetUpdates) so a committer can apply the second and
// later commits as partial updates instead of rewriting the whole
// min/max document each time.
type MinMax struct {
	root  *node
	isMin bool
}

// NewMinMax constructs an empty tracker. isMin selects min-tracking
// (true) or max-tracking (false) semantics.
func NewMinMax(isMin bool) *MinMax {
	return &MinMax{root: &node{kind: kindUnset}, isMin: isMin}
}

// MemoryUsage returns the cached size estimate of the tracked tree.
func (m *MinMax) MemoryUsage() int {
	return m.root.memoryUsage
}

// Update folds every top-level field of doc (except metaField) into the
// tree. It returns whether anything changed and the resulting delta in
// MemoryUsage, so the caller can fold it into the bucket's own footprint
// without re-summing the whole tree.
func (m *MinMax) Update(doc Measurement, metaField string, cmp Comparator) (updated bool, memoryDelta int) {
	before := m.root.memoryUsage
	if m.root.kind == kindUnset {
		m.root.kind = kindObject
		m.root.object = make(map[string]*node)
	}
	doc.parsed.ForEach(func(key, val gjson.Result) bool {
		name := key.String()
		if name == metaField {
			return true
		}
		child, ok := m.root.object[name]
		if !ok {
			child = &node{kind: kindUnset}
			m.root.object[name] = child
		}
		childBefore := child.memoryUsage
		if child.update(val, m.isMin, cmp) {
			updated = true
		}
		m.root.memoryUsage += child.memoryUsage - childBefore
		return true
	})
	return updated, m.root.memoryUsage - before
}

// ToBSON emits the full tracked document, used for the first commit of a
// bucket's lifetime (there is nothing yet to diff against).
func (m *MinMax) ToBSON() interface{} {
	return m.root.toBSON()
}

// GetUpdates emits a structural diff of everything that changed since the
// last call (or since construction), then clears the change markers.
func (m *MinMax) GetUpdates() map[string]interface{} {
	return m.root.getUpdates()
}

func valueRank(v gjson.Result) int {
	switch {
	case v.Type == gjson.Null:
		return 0
	case v.Type == gjson.Number:
		return 1
	case v.Type == gjson.String:
		return 2
	case v.Type == gjson.True || v.Type == gjson.False:
		return 3
	case v.IsObject():
		return 4
	case v.IsArray():
		return 5
	default:
		return 6
	}
}

func shapeOf(v gjson.Result) nodeKind {
	switch {
	case v.IsObject():
		return kindObject
	case v.IsArray():
		return kindArray
	default:
		return kindValue
	}
}

func (n *node) currentRank() int {
	switch n.kind {
	case kindUnset:
		return -1
	case kindObject:
		return 4
	case kindArray:
		return 5
	default:
		return valueRank(n.value)
	}
}

// compareLeaf orders two scalar gjson values: differing kinds fall back to
// canonical type rank, equal kinds compare by value (numeric, string via
// cmp, or bool false < true).
func compareLeaf(a, b gjson.Result, cmp Comparator) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.Type {
	case gjson.Number:
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		default:
			return 0
		}
	case gjson.String:
		return cmp.Compare(a.Str, b.Str)
	case gjson.True, gjson.False:
		if a.Type == b.Type {
			return 0
		}
		if a.Type == gjson.False {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// update applies one incoming value to this node, returning whether it
// changed. The three cases from spec §4.B: adopt on Unset, recurse on
// matching shape, and type-rank-gated replacement on shape mismatch.
func (n *node) update(val gjson.Result, isMin bool, cmp Comparator) bool {
	incomingShape := shapeOf(val)

	if n.kind == kindUnset {
		n.adopt(val, incomingShape)
		n.updated = true
		return true
	}

	if n.kind == incomingShape {
		switch n.kind {
		case kindObject:
			return n.updateObjectChildren(val, isMin, cmp)
		case kindArray:
			return n.updateArrayChildren(val, isMin, cmp)
		default:
			if compareWins(compareLeaf(val, n.value, cmp), isMin) {
				n.setLeaf(val)
				n.updated = true
				return true
			}
			return false
		}
	}

	// Shapes differ: canonical type ordering decides whether the
	// incoming shape displaces the current one entirely.
	if compareWins(rankCompare(incomingShape, val, n), isMin) {
		n.adopt(val, incomingShape)
		n.updated = true
		return true
	}
	return false
}

func rankCompare(incomingShape nodeKind, val gjson.Result, n *node) int {
	var incomingRank int
	if incomingShape == kindObject {
		incomingRank = 4
	} else if incomingShape == kindArray {
		incomingRank = 5
	} else {
		incomingRank = valueRank(val)
	}
	currentRank := n.currentRank()
	switch {
	case incomingRank < currentRank:
		return -1
	case incomingRank > currentRank:
		return 1
	default:
		return 0
	}
}

// compareWins interprets a three-way compare result under the tracker's
// direction: for min, "less" wins; for max, "greater" wins.
func compareWins(cmp int, isMin bool) bool {
	if isMin {
		return cmp < 0
	}
	return cmp > 0
}

// adopt discards this node's previous contents and replaces it wholesale
// with val, recursing to build fresh children for containers.
func (n *node) adopt(val gjson.Result, shape nodeKind) {
	n.kind = shape
	n.object = nil
	n.array = nil
	switch shape {
	case kindObject:
		n.object = make(map[string]*node)
		val.ForEach(func(k, v gjson.Result) bool {
			child := &node{}
			child.adopt(v, shapeOf(v))
			child.updated = true
			n.object[k.String()] = child
			n.memoryUsage += child.memoryUsage
			return true
		})
	case kindArray:
		n.array = make(map[int]*node)
		idx := 0
		val.ForEach(func(_, v gjson.Result) bool {
			child := &node{}
			child.adopt(v, shapeOf(v))
			child.updated = true
			n.array[idx] = child
			n.memoryUsage += child.memoryUsage
			idx++
			return true
		})
	default:
		n.setLeaf(val)
	}
}

func (n *node) setLeaf(val gjson.Result) {
	n.kind = kindValue
	n.value = val
	n.memoryUsage = len(val.Raw)
}

func (n *node) updateObjectChildren(val gjson.Result, isMin bool, cmp Comparator) bool {
	updated := false
	val.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		child, ok := n.object[key]
		if !ok {
			child = &node{kind: kindUnset}
			n.object[key] = child
		}
		before := child.memoryUsage
		if child.update(v, isMin, cmp) {
			updated = true
		}
		n.memoryUsage += child.memoryUsage - before
		return true
	})
	return updated
}

func (n *node) updateArrayChildren(val gjson.Result, isMin bool, cmp Comparator) bool {
	updated := false
	idx := 0
	val.ForEach(func(_, v gjson.Result) bool {
		child, ok := n.array[idx]
		if !ok {
			child = &node{kind: kindUnset}
			n.array[idx] = child
		}
		before := child.memoryUsage
		if child.update(v, isMin, cmp) {
			updated = true
		}
		n.memoryUsage += child.memoryUsage - before
		idx++
		return true
	})
	return updated
}

func (n *node) toBSON() interface{} {
	switch n.kind {
	case kindObject:
		out := make(map[string]interface{}, len(n.object))
		for k, c := range n.object {
			out[k] = c.toBSON()
		}
		return out
	case kindArray:
		maxIdx := -1
		for idx := range n.array {
			if idx > maxIdx {
				maxIdx = idx
			}
		}
		out := make([]interface{}, maxIdx+1)
		for idx, c := range n.array {
			out[idx] = c.toBSON()
		}
		return out
	case kindValue:
		return n.value.Value()
	default:
		return nil
	}
}

func (n *node) getUpdates() map[string]interface{} {
	out := make(map[string]interface{})
	if n.kind == kindArray {
		out[diffArrayHeaderKey] = true
	}
	updates := make(map[string]interface{})
	switch n.kind {
	case kindObject:
		for k, child := range n.object {
			n.collectChildDiff(k, child, updates, out)
		}
	case kindArray:
		for idx, child := range n.array {
			n.collectChildDiff(strconv.Itoa(idx), child, updates, out)
		}
	}
	if len(updates) > 0 {
		out[diffUpdateSectionKey] = updates
	}
	n.clearUpdated()
	return out
}

func (n *node) collectChildDiff(key string, child *node, updates, out map[string]interface{}) {
	if child.updated {
		updates[key] = child.toBSON()
		return
	}
	if child.kind == kindObject || child.kind == kindArray {
		sub := child.getUpdates()
		if len(sub) > 0 {
			out[diffSubDiffPrefix+key] = sub
		}
	}
}

func (n *node) clearUpdated() {
	n.updated = false
	for _, c := range n.object {
		c.clearUpdated()
	}
	for _, c := range n.array {
		c.clearUpdated()
	}
}
