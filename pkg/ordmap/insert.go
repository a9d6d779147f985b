package ordmap

// Insert returns a version of the map with key set to value. If key is
// already present only the path to its node is copied and the value is
// replaced.
func (t *Tree[K, V]) Insert(key K, value V) *Tree[K, V] {
	var (
		path []*node[K, V]
		dirs []int
	)
	n := t.root
	for n != nil {
		d := t.cmp(key, n.key)
		path = append(path, n)
		if d == 0 {
			spine := copyPath(path)
			spine[len(spine)-1].value = value
			return t.derive(spine[0])
		}
		dirs = append(dirs, d)
		if d <= 0 {
			n = n.left
		} else {
			n = n.right
		}
	}

	spine := make([]*node[K, V], len(path)+1)
	spine[len(path)] = newLeaf(key, value)
	for i := len(path) - 1; i >= 0; i-- {
		c := path[i].clone()
		c.count++
		if dirs[i] <= 0 {
			c.left = spine[i+1]
		} else {
			c.right = spine[i+1]
		}
		spine[i] = c
	}

	return t.derive(rebalanceInsert(spine))
}

// rebalanceInsert fixes red-red violations along a freshly copied spine whose
// last element is the new red leaf. Every node in spine is private to the
// operation; siblings hanging off it are shared and get copied before any
// change. It returns the new root.
func rebalanceInsert[K, V any](s []*node[K, V]) *node[K, V] {
	for i := len(s) - 1; i > 1; i-- {
		n, p := s[i], s[i-1]
		if p.color == black {
			break
		}
		pp := s[i-2]
		if pp.left == p {
			uncle := pp.right
			if isRed(uncle) {
				p.color = black
				pp.right = uncle.repaint(black)
				pp.color = red
				i--
				continue
			}
			var top *node[K, V]
			if p.left == n {
				// left-left: rotate right around pp
				pp.left = p.right
				p.right = pp
				pp.color = red
				p.color = black
				pp.recount()
				p.recount()
				top = p
			} else {
				// left-right: n becomes the subtree root
				p.right = n.left
				pp.left = n.right
				n.left = p
				n.right = pp
				n.color = black
				pp.color = red
				p.recount()
				pp.recount()
				n.recount()
				top = n
			}
			if i > 2 {
				relink(s[i-3], pp, top)
			}
			s[i-2] = top
			break
		}

		uncle := pp.left
		if isRed(uncle) {
			p.color = black
			pp.left = uncle.repaint(black)
			pp.color = red
			i--
			continue
		}
		var top *node[K, V]
		if p.right == n {
			// right-right: rotate left around pp
			pp.right = p.left
			p.left = pp
			pp.color = red
			p.color = black
			pp.recount()
			p.recount()
			top = p
		} else {
			// right-left
			p.left = n.right
			pp.right = n.left
			n.right = p
			n.left = pp
			n.color = black
			pp.color = red
			p.recount()
			pp.recount()
			n.recount()
			top = n
		}
		if i > 2 {
			relink(s[i-3], pp, top)
		}
		s[i-2] = top
		break
	}
	s[0].color = black
	return s[0]
}
