package ordmap

// Cursor points at one entry of a specific tree version. It holds the path
// from the root to that entry, so moving it never needs parent pointers.
// A cursor with an empty path is invalid.
type Cursor[K, V any] struct {
	tree  *Tree[K, V]
	stack []*node[K, V]
}

// Valid reports whether the cursor points at an entry.
func (c *Cursor[K, V]) Valid() bool {
	return len(c.stack) > 0
}

// Tree returns the version the cursor walks.
func (c *Cursor[K, V]) Tree() *Tree[K, V] {
	return c.tree
}

// Key returns the key under the cursor. It panics on an invalid cursor.
func (c *Cursor[K, V]) Key() K {
	return c.stack[len(c.stack)-1].key
}

// Value returns the value under the cursor. It panics on an invalid cursor.
func (c *Cursor[K, V]) Value() V {
	return c.stack[len(c.stack)-1].value
}

// Clone returns an independent cursor at the same position.
func (c *Cursor[K, V]) Clone() *Cursor[K, V] {
	stack := make([]*node[K, V], len(c.stack))
	copy(stack, c.stack)
	return &Cursor[K, V]{tree: c.tree, stack: stack}
}

// Index returns the position of the current entry in key order, or -1.
func (c *Cursor[K, V]) Index() int {
	if !c.Valid() {
		return -1
	}
	n := c.stack[len(c.stack)-1]
	idx := size(n.left)
	for i := len(c.stack) - 2; i >= 0; i-- {
		if c.stack[i].right == c.stack[i+1] {
			idx += size(c.stack[i].left) + 1
		}
	}
	return idx
}

// HasNext reports whether an entry follows the current one.
func (c *Cursor[K, V]) HasNext() bool {
	if !c.Valid() {
		return false
	}
	if c.stack[len(c.stack)-1].right != nil {
		return true
	}
	for i := len(c.stack) - 2; i >= 0; i-- {
		if c.stack[i].left == c.stack[i+1] {
			return true
		}
	}
	return false
}

// HasPrev reports whether an entry precedes the current one.
func (c *Cursor[K, V]) HasPrev() bool {
	if !c.Valid() {
		return false
	}
	if c.stack[len(c.stack)-1].left != nil {
		return true
	}
	for i := len(c.stack) - 2; i >= 0; i-- {
		if c.stack[i].right == c.stack[i+1] {
			return true
		}
	}
	return false
}

// Next moves to the following entry. Past the last entry the cursor becomes
// invalid.
func (c *Cursor[K, V]) Next() {
	if !c.Valid() {
		return
	}
	n := c.stack[len(c.stack)-1]
	if n.right != nil {
		for n = n.right; n != nil; n = n.left {
			c.stack = append(c.stack, n)
		}
		return
	}
	for {
		last := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
		if len(c.stack) == 0 || c.stack[len(c.stack)-1].left == last {
			return
		}
	}
}

// Prev moves to the preceding entry. Before the first entry the cursor
// becomes invalid.
func (c *Cursor[K, V]) Prev() {
	if !c.Valid() {
		return
	}
	n := c.stack[len(c.stack)-1]
	if n.left != nil {
		for n = n.left; n != nil; n = n.right {
			c.stack = append(c.stack, n)
		}
		return
	}
	for {
		last := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
		if len(c.stack) == 0 || c.stack[len(c.stack)-1].right == last {
			return
		}
	}
}

// Remove returns a version of the cursor's tree without the current entry.
// The tree itself is returned for an invalid cursor.
func (c *Cursor[K, V]) Remove() *Tree[K, V] {
	if !c.Valid() {
		return c.tree
	}
	return c.tree.derive(removePath(c.stack))
}

// Update returns a version of the cursor's tree where the current entry
// holds value.
func (c *Cursor[K, V]) Update(value V) (*Tree[K, V], error) {
	if c == nil || !c.Valid() {
		return nil, ErrInvalidCursor
	}
	return c.tree.Update(c, value)
}
