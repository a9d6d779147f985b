// Package ordmap implements a persistent ordered map backed by a red-black
// tree with subtree counts.
//
// A *Tree is an immutable version. Insert, Remove and Update return a new
// version that shares every untouched subtree with the one it was derived
// from, so older versions stay valid and may be read concurrently.
package ordmap

import (
	"errors"
	"iter"
)

// ErrInvalidCursor is returned when an operation needs a cursor that points
// at an element and the given cursor does not.
var ErrInvalidCursor = errors.New("ordmap: invalid cursor")

// Compare orders two keys. It must be a strict total order: negative when
// a < b, zero when equal, positive when a > b.
type Compare[K any] func(a, b K) int

// Tree is one version of the map.
type Tree[K, V any] struct {
	cmp  Compare[K]
	root *node[K, V]
}

// New returns an empty map ordered by cmp.
func New[K, V any](cmp Compare[K]) *Tree[K, V] {
	return &Tree[K, V]{cmp: cmp}
}

func (t *Tree[K, V]) derive(root *node[K, V]) *Tree[K, V] {
	return &Tree[K, V]{cmp: t.cmp, root: root}
}

// Len returns the number of entries.
func (t *Tree[K, V]) Len() int {
	return size(t.root)
}

// Compare returns the comparator the tree was built with.
func (t *Tree[K, V]) Compare() Compare[K] {
	return t.cmp
}

// Get returns the value stored at key.
func (t *Tree[K, V]) Get(key K) (V, bool) {
	n := t.root
	for n != nil {
		d := t.cmp(key, n.key)
		switch {
		case d == 0:
			return n.value, true
		case d < 0:
			n = n.left
		default:
			n = n.right
		}
	}
	var zero V
	return zero, false
}

// Keys returns all keys in ascending order.
func (t *Tree[K, V]) Keys() []K {
	out := make([]K, 0, t.Len())
	t.ForEach(func(k K, _ V) bool {
		out = append(out, k)
		return true
	})
	return out
}

// Values returns all values in key order.
func (t *Tree[K, V]) Values() []V {
	out := make([]V, 0, t.Len())
	t.ForEach(func(_ K, v V) bool {
		out = append(out, v)
		return true
	})
	return out
}

// All iterates over every entry in ascending key order.
func (t *Tree[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		t.ForEach(yield)
	}
}

// Begin returns a cursor at the smallest key.
func (t *Tree[K, V]) Begin() *Cursor[K, V] {
	var stack []*node[K, V]
	for n := t.root; n != nil; n = n.left {
		stack = append(stack, n)
	}
	return &Cursor[K, V]{tree: t, stack: stack}
}

// End returns a cursor at the largest key.
func (t *Tree[K, V]) End() *Cursor[K, V] {
	var stack []*node[K, V]
	for n := t.root; n != nil; n = n.right {
		stack = append(stack, n)
	}
	return &Cursor[K, V]{tree: t, stack: stack}
}

// At returns a cursor at the index-th smallest key, or an invalid cursor
// when index is out of range.
func (t *Tree[K, V]) At(index int) *Cursor[K, V] {
	if index < 0 || t.root == nil {
		return &Cursor[K, V]{tree: t}
	}
	var stack []*node[K, V]
	n := t.root
	for {
		stack = append(stack, n)
		if n.left != nil {
			if index < n.left.count {
				n = n.left
				continue
			}
			index -= n.left.count
		}
		if index == 0 {
			return &Cursor[K, V]{tree: t, stack: stack}
		}
		index--
		if n.right == nil || index >= n.right.count {
			break
		}
		n = n.right
	}
	return &Cursor[K, V]{tree: t}
}

// Find returns a cursor at key, or an invalid cursor if key is absent.
func (t *Tree[K, V]) Find(key K) *Cursor[K, V] {
	var stack []*node[K, V]
	n := t.root
	for n != nil {
		d := t.cmp(key, n.key)
		stack = append(stack, n)
		if d == 0 {
			return &Cursor[K, V]{tree: t, stack: stack}
		}
		if d < 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
	return &Cursor[K, V]{tree: t}
}

// GE returns a cursor at the smallest key >= key.
func (t *Tree[K, V]) GE(key K) *Cursor[K, V] {
	return t.bound(key, func(d int) bool { return d <= 0 }, func(d int) bool { return d <= 0 })
}

// GT returns a cursor at the smallest key > key.
func (t *Tree[K, V]) GT(key K) *Cursor[K, V] {
	return t.bound(key, func(d int) bool { return d < 0 }, func(d int) bool { return d < 0 })
}

// LE returns a cursor at the largest key <= key.
func (t *Tree[K, V]) LE(key K) *Cursor[K, V] {
	return t.bound(key, func(d int) bool { return d >= 0 }, func(d int) bool { return d < 0 })
}

// LT returns a cursor at the largest key < key.
func (t *Tree[K, V]) LT(key K) *Cursor[K, V] {
	return t.bound(key, func(d int) bool { return d > 0 }, func(d int) bool { return d <= 0 })
}

// bound descends towards key remembering the deepest ancestor for which
// match holds; goLeft decides the direction at every step.
func (t *Tree[K, V]) bound(key K, match, goLeft func(d int) bool) *Cursor[K, V] {
	var stack []*node[K, V]
	last := 0
	n := t.root
	for n != nil {
		d := t.cmp(key, n.key)
		stack = append(stack, n)
		if match(d) {
			last = len(stack)
		}
		if goLeft(d) {
			n = n.left
		} else {
			n = n.right
		}
	}
	return &Cursor[K, V]{tree: t, stack: stack[:last]}
}

// ForEach visits every entry in ascending order until visit returns false.
func (t *Tree[K, V]) ForEach(visit func(K, V) bool) {
	if t.root != nil {
		visitAll(t.root, visit)
	}
}

// ForEachFrom visits entries with key >= lo in ascending order until visit
// returns false.
func (t *Tree[K, V]) ForEachFrom(lo K, visit func(K, V) bool) {
	if t.root != nil {
		t.visitFrom(lo, t.root, visit)
	}
}

// ForEachRange visits entries with lo <= key < hi in ascending order until
// visit returns false.
func (t *Tree[K, V]) ForEachRange(lo, hi K, visit func(K, V) bool) {
	if t.root == nil || t.cmp(lo, hi) >= 0 {
		return
	}
	t.visitRange(lo, hi, t.root, visit)
}

// Each visitor returns false once visiting must stop.

func visitAll[K, V any](n *node[K, V], visit func(K, V) bool) bool {
	if n.left != nil && !visitAll(n.left, visit) {
		return false
	}
	if !visit(n.key, n.value) {
		return false
	}
	if n.right != nil {
		return visitAll(n.right, visit)
	}
	return true
}

func (t *Tree[K, V]) visitFrom(lo K, n *node[K, V], visit func(K, V) bool) bool {
	if t.cmp(lo, n.key) <= 0 {
		if n.left != nil && !t.visitFrom(lo, n.left, visit) {
			return false
		}
		if !visit(n.key, n.value) {
			return false
		}
	}
	if n.right != nil {
		return t.visitFrom(lo, n.right, visit)
	}
	return true
}

func (t *Tree[K, V]) visitRange(lo, hi K, n *node[K, V], visit func(K, V) bool) bool {
	l := t.cmp(lo, n.key)
	h := t.cmp(hi, n.key)
	if l <= 0 {
		if n.left != nil && !t.visitRange(lo, hi, n.left, visit) {
			return false
		}
		if h > 0 && !visit(n.key, n.value) {
			return false
		}
	}
	if h > 0 && n.right != nil {
		return t.visitRange(lo, hi, n.right, visit)
	}
	return true
}

// Min returns the smallest entry.
func (t *Tree[K, V]) Min() (K, V, bool) {
	return entry(t.Begin())
}

// Max returns the largest entry.
func (t *Tree[K, V]) Max() (K, V, bool) {
	return entry(t.End())
}

func entry[K, V any](c *Cursor[K, V]) (K, V, bool) {
	if !c.Valid() {
		var (
			k K
			v V
		)
		return k, v, false
	}
	return c.Key(), c.Value(), true
}
