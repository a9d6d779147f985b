package ordmap

type color uint8

const (
	red color = iota
	black
)

// node is a single tree entry. Once a node is reachable from a returned Tree
// it is never modified; operations copy the nodes they need to change.
type node[K, V any] struct {
	color color
	key   K
	value V
	left  *node[K, V]
	right *node[K, V]
	// count is the size of the subtree rooted at this node
	count int
}

func newLeaf[K, V any](key K, value V) *node[K, V] {
	return &node[K, V]{
		color: red,
		key:   key,
		value: value,
		count: 1,
	}
}

func (n *node[K, V]) clone() *node[K, V] {
	c := *n
	return &c
}

func (n *node[K, V]) repaint(c color) *node[K, V] {
	cp := n.clone()
	cp.color = c
	return cp
}

func (n *node[K, V]) recount() {
	n.count = 1 + size(n.left) + size(n.right)
}

func size[K, V any](n *node[K, V]) int {
	if n == nil {
		return 0
	}
	return n.count
}

func isRed[K, V any](n *node[K, V]) bool {
	return n != nil && n.color == red
}

// relink points whichever child of parent equals old at repl.
func relink[K, V any](parent, old, repl *node[K, V]) {
	if parent.left == old {
		parent.left = repl
	} else {
		parent.right = repl
	}
}

// copyPath clones every node of path and links the copies together so that
// the result is a private spine the caller may modify freely.
func copyPath[K, V any](path []*node[K, V]) []*node[K, V] {
	spine := make([]*node[K, V], len(path))
	for i, n := range path {
		spine[i] = n.clone()
	}
	for i := len(path) - 2; i >= 0; i-- {
		relink(spine[i], path[i+1], spine[i+1])
	}
	return spine
}
