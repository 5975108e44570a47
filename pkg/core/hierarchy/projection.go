package hierarchy

// Filter selects which mapping leaves a [Projection] keeps.
type Filter struct {
	// Keep reports whether a mapping leaf stays visible. Nil keeps every leaf.
	Keep func(n *Node) bool
	// OnlyMapped hides controls left without a visible mapping, and then any
	// category or domain left empty.
	OnlyMapped bool
}

// Projection is a read-only view of a tree under a [Filter]. Hidden nodes are
// absent from the projection, not merely flagged: they have no weight and no
// place in their parent's child list.
//
// The visible mapping leaves of a control share the control's intrinsic weight
// evenly, so a control contributes the same weight whichever regimes are
// selected (unless it has no visible leaves and is hidden by OnlyMapped).
type Projection struct {
	tree     *Tree
	weights  map[int]float64
	children map[int][]int
}

// Project computes the projection of t under f.
func (t *Tree) Project(f Filter) *Projection {
	p := &Projection{
		tree:     t,
		weights:  make(map[int]float64, len(t.nodes)),
		children: make(map[int][]int),
	}
	p.visit(t.Root(), f)
	return p
}

// visit returns whether n is visible and records its weight.
func (p *Projection) visit(n *Node, f Filter) bool {
	switch n.Kind {
	case KindMapping:
		if f.Keep != nil && !f.Keep(n) {
			return false
		}
		return true

	case KindControl:
		var kept []int
		for _, cid := range n.Children {
			if p.visit(p.tree.nodes[cid], f) {
				kept = append(kept, cid)
			}
		}
		if len(kept) == 0 {
			if f.OnlyMapped {
				return false
			}
			p.weights[n.ID] = n.Intrinsic
			return true
		}
		share := n.Intrinsic / float64(len(kept))
		sum := 0.0
		for _, cid := range kept {
			p.weights[cid] = share
			sum += share
		}
		p.children[n.ID] = kept
		p.weights[n.ID] = sum
		return true

	default:
		var kept []int
		sum := 0.0
		for _, cid := range n.Children {
			if p.visit(p.tree.nodes[cid], f) {
				kept = append(kept, cid)
				sum += p.weights[cid]
			}
		}
		if len(kept) == 0 && f.OnlyMapped && n.Kind != KindRoot {
			return false
		}
		if len(kept) == 0 && len(n.Children) == 0 {
			sum = n.Intrinsic
		}
		p.children[n.ID] = kept
		p.weights[n.ID] = sum
		return true
	}
}

// Tree returns the underlying tree.
func (p *Projection) Tree() *Tree { return p.tree }

// Visible reports whether id is part of the projection.
func (p *Projection) Visible(id int) bool {
	_, ok := p.weights[id]
	return ok
}

// Weight returns the projected weight of id, or 0 when hidden.
func (p *Projection) Weight(id int) float64 { return p.weights[id] }

// Children returns the visible children of id in order.
func (p *Projection) Children(id int) []int { return p.children[id] }

// IsLeaf reports whether id has no visible children.
func (p *Projection) IsLeaf(id int) bool { return len(p.children[id]) == 0 }

// NearestContainer returns id when it has visible children, otherwise the
// closest visible ancestor. Hidden or unknown ids fall back to the root.
func (p *Projection) NearestContainer(id int) *Node {
	n, ok := p.tree.Lookup(id)
	if !ok || !p.Visible(id) {
		return p.tree.Root()
	}
	for n.Parent != NoParent && p.IsLeaf(n.ID) {
		n = p.tree.nodes[n.Parent]
	}
	return n
}
