package ordmap

// Remove returns a version of the map without key. The same tree is returned
// when key is absent.
func (t *Tree[K, V]) Remove(key K) *Tree[K, V] {
	c := t.Find(key)
	if !c.Valid() {
		return t
	}
	return c.Remove()
}

// Update returns a version of the map where the entry under cursor holds
// value. Colors and shape are unchanged. The cursor must belong to t.
func (t *Tree[K, V]) Update(c *Cursor[K, V], value V) (*Tree[K, V], error) {
	if c == nil || !c.Valid() || c.tree != t {
		return nil, ErrInvalidCursor
	}
	spine := copyPath(c.stack)
	spine[len(spine)-1].value = value
	return t.derive(spine[0]), nil
}

// removePath deletes the last node of path, a root-to-node sequence taken
// from t, and returns the resulting root.
func removePath[K, V any](path []*node[K, V]) *node[K, V] {
	s := copyPath(path)
	n := s[len(s)-1]

	if n.left != nil && n.right != nil {
		// Swap with the in-order predecessor and delete that node instead.
		split := len(s)
		var walk []*node[K, V]
		for x := n.left; x != nil; x = x.right {
			walk = append(walk, x)
		}
		pred := walk[len(walk)-1]
		n.key, n.value = pred.key, pred.value
		for _, x := range walk {
			s = append(s, x.clone())
		}
		s[split-1].left = s[split]
		for i := split; i < len(s)-1; i++ {
			s[i].right = s[i+1]
		}
		n = s[len(s)-1]
	}

	if n.color == red {
		// A red node with at most one child is a leaf.
		p := s[len(s)-2]
		relink(p, n, nil)
		for _, x := range s[:len(s)-1] {
			x.count--
		}
		return s[0]
	}

	if n.left != nil || n.right != nil {
		// A black node with a single child: the child is red.
		child := n.left
		if child == nil {
			child = n.right
		}
		repl := child.repaint(black)
		if len(s) == 1 {
			return repl
		}
		relink(s[len(s)-2], n, repl)
		for _, x := range s[:len(s)-1] {
			x.count--
		}
		return s[0]
	}

	if len(s) == 1 {
		return nil
	}

	// Black leaf. Zero its count so rotations during the fixup already see
	// the subtree sizes without it, then unlink it from its parent, which
	// the fixup never changes.
	for _, x := range s {
		x.count--
	}
	p := s[len(s)-2]
	root := fixDoubleBlack(s)
	relink(p, n, nil)
	return root
}

// fixDoubleBlack restores the black-height after the black leaf at the end
// of s is removed and returns the new root. s is a private spine; it is
// rewritten as rotations change the ancestors of the deficient node.
func fixDoubleBlack[K, V any](s []*node[K, V]) *node[K, V] {
	for i := len(s) - 1; i >= 0; i-- {
		n := s[i]
		if i == 0 {
			n.color = black
			return s[0]
		}
		p := s[i-1]
		if p.left == n {
			sib := p.right
			if isRed(sib.right) {
				// red far nephew
				sib = sib.clone()
				z := sib.right.repaint(black)
				p.right = sib.left
				sib.left = p
				sib.right = z
				sib.color = p.color
				p.color = black
				n.color = black
				p.recount()
				sib.recount()
				replaceChild(s, i-1, sib)
				return s[0]
			}
			if isRed(sib.left) {
				// red near nephew
				sib = sib.clone()
				z := sib.left.clone()
				p.right = z.left
				sib.left = z.right
				z.left = p
				z.right = sib
				z.color = p.color
				p.color = black
				sib.color = black
				n.color = black
				p.recount()
				sib.recount()
				z.recount()
				replaceChild(s, i-1, z)
				return s[0]
			}
			if sib.color == black {
				p.right = sib.repaint(red)
				if p.color == red {
					p.color = black
					return s[0]
				}
				continue
			}
			// red sibling: rotate it above p, then revisit n one level deeper
			sib = sib.clone()
			p.right = sib.left
			sib.left = p
			sib.color = p.color
			p.color = red
			p.recount()
			sib.recount()
			s = pushDown(s, i, sib, p, n)
			i += 2
			continue
		}

		sib := p.left
		if isRed(sib.left) {
			sib = sib.clone()
			z := sib.left.repaint(black)
			p.left = sib.right
			sib.right = p
			sib.left = z
			sib.color = p.color
			p.color = black
			n.color = black
			p.recount()
			sib.recount()
			replaceChild(s, i-1, sib)
			return s[0]
		}
		if isRed(sib.right) {
			sib = sib.clone()
			z := sib.right.clone()
			p.left = z.right
			sib.right = z.left
			z.right = p
			z.left = sib
			z.color = p.color
			p.color = black
			sib.color = black
			n.color = black
			p.recount()
			sib.recount()
			z.recount()
			replaceChild(s, i-1, z)
			return s[0]
		}
		if sib.color == black {
			p.left = sib.repaint(red)
			if p.color == red {
				p.color = black
				return s[0]
			}
			continue
		}
		sib = sib.clone()
		p.left = sib.right
		sib.right = p
		sib.color = p.color
		p.color = red
		p.recount()
		sib.recount()
		s = pushDown(s, i, sib, p, n)
		i += 2
	}
	return s[0]
}

// replaceChild puts top where s[at] used to hang and records it in s.
func replaceChild[K, V any](s []*node[K, V], at int, top *node[K, V]) {
	if at > 0 {
		relink(s[at-1], s[at], top)
	}
	s[at] = top
}

// pushDown rewrites s after sib was rotated above p so that the path reads
// ..., sib, p, n. Entries past n are stale and never read again.
func pushDown[K, V any](s []*node[K, V], i int, sib, p, n *node[K, V]) []*node[K, V] {
	replaceChild(s, i-1, sib)
	s[i] = p
	if i+1 < len(s) {
		s[i+1] = n
		return s
	}
	return append(s, n)
}
