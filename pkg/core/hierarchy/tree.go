package hierarchy

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// NoParent is the Parent value of the root node.
const NoParent = -1

var (
	// ErrUnknownNode is returned when an identifier does not resolve.
	ErrUnknownNode = errors.New("unknown node")

	// ErrParentMismatch is returned by [Tree.Validate] when a child's Parent
	// does not point back at the node listing it.
	ErrParentMismatch = errors.New("parent/child mismatch")

	// ErrWeightMismatch is returned by [Tree.Validate] when a container's
	// weight differs from the sum of its children's weights.
	ErrWeightMismatch = errors.New("container weight differs from child sum")

	// ErrUnreachable is returned by [Tree.Validate] when a node in the lookup
	// map cannot be reached from the root.
	ErrUnreachable = errors.New("node unreachable from root")
)

var idSeq atomic.Int64

// NextID returns the next process-unique node identifier.
func NextID() int {
	return int(idSeq.Add(1))
}

// Node is a vertex of the taxonomy. Nodes only hold structure and weights;
// positions and radii are computed by the layout package and kept there.
type Node struct {
	ID          int    // Process-unique, never reused
	Name        string // Display name (control identifier for controls, token for mappings)
	FullName    string // Long name (control title, "regime token" for mappings)
	Description string
	Kind        Kind

	// Weight is the aggregate weight: the float sum of the children's
	// weights for containers, the intrinsic weight for leaves.
	Weight float64
	// Intrinsic is the node's own weight. For controls it is the parsed
	// record weight, for mappings their share of the control.
	Intrinsic float64

	// Regime names the regime a mapping belongs to. Empty for other kinds.
	Regime string

	Parent   int   // Parent ID, NoParent for the root
	Children []int // Child IDs in discovery order
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Tree is an arena of nodes indexed by ID with a single root.
//
// The zero value is not usable; trees are produced by [Builder]. Tree is not
// safe for concurrent mutation, but concurrent reads of a built tree are fine.
type Tree struct {
	// Revision changes every time the builder re-aggregates the tree.
	Revision uuid.UUID

	root  int
	nodes map[int]*Node
	order []int
}

func newTree(rootName string, alloc func() int) *Tree {
	root := &Node{ID: alloc(), Name: rootName, FullName: rootName, Kind: KindRoot, Parent: NoParent}
	return &Tree{
		root:  root.ID,
		nodes: map[int]*Node{root.ID: root},
		order: []int{root.ID},
	}
}

func (t *Tree) attach(parent *Node, n *Node) {
	n.Parent = parent.ID
	parent.Children = append(parent.Children, n.ID)
	t.nodes[n.ID] = n
	t.order = append(t.order, n.ID)
}

// Root returns the root node.
func (t *Tree) Root() *Node { return t.nodes[t.root] }

// RootID returns the identifier of the root node.
func (t *Tree) RootID() int { return t.root }

// Len returns the number of nodes including the root.
func (t *Tree) Len() int { return len(t.nodes) }

// Lookup resolves an identifier.
func (t *Tree) Lookup(id int) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Nodes returns all nodes in creation order.
func (t *Tree) Nodes() []*Node {
	out := make([]*Node, len(t.order))
	for i, id := range t.order {
		out[i] = t.nodes[id]
	}
	return out
}

// Children returns the children of id in order, or nil for unknown ids.
func (t *Tree) Children(id int) []*Node {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*Node, len(n.Children))
	for i, c := range n.Children {
		out[i] = t.nodes[c]
	}
	return out
}

// Parent returns the parent of id. It reports false for the root and for
// unknown ids.
func (t *Tree) Parent(id int) (*Node, bool) {
	n, ok := t.nodes[id]
	if !ok || n.Parent == NoParent {
		return nil, false
	}
	return t.Lookup(n.Parent)
}

// Path returns the nodes from the root down to id (inclusive), or nil when id
// is unknown.
func (t *Tree) Path(id int) []*Node {
	var rev []*Node
	for cur, ok := t.nodes[id]; ok; cur, ok = t.nodes[cur.Parent] {
		rev = append(rev, cur)
		if cur.Parent == NoParent {
			break
		}
	}
	if len(rev) == 0 {
		return nil
	}
	out := make([]*Node, len(rev))
	for i, n := range rev {
		out[len(rev)-1-i] = n
	}
	return out
}

// Depth returns the number of edges between the root and id, or -1 when id is
// unknown.
func (t *Tree) Depth(id int) int {
	return len(t.Path(id)) - 1
}

// NearestContainer returns id itself when it has children, otherwise its
// parent. Unknown ids report false.
func (t *Tree) NearestContainer(id int) (*Node, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	if !n.IsLeaf() || n.Parent == NoParent {
		return n, true
	}
	return t.Lookup(n.Parent)
}

// Walk visits the subtree rooted at id in pre-order. Returning false from fn
// skips the node's descendants.
func (t *Tree) Walk(id int, fn func(n *Node, depth int) bool) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	t.walk(n, 0, fn)
}

func (t *Tree) walk(n *Node, depth int, fn func(*Node, int) bool) {
	if !fn(n, depth) {
		return
	}
	for _, c := range n.Children {
		t.walk(t.nodes[c], depth+1, fn)
	}
}

// Leaves returns the leaves below id in pre-order.
func (t *Tree) Leaves(id int) []*Node {
	var out []*Node
	t.Walk(id, func(n *Node, _ int) bool {
		if n.IsLeaf() {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Find returns nodes whose name or full name contains term, ignoring case, in
// creation order. An empty term matches nothing.
func (t *Tree) Find(term string) []*Node {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}
	var out []*Node
	for _, id := range t.order {
		n := t.nodes[id]
		if strings.Contains(strings.ToLower(n.Name), term) ||
			strings.Contains(strings.ToLower(n.FullName), term) {
			out = append(out, n)
		}
	}
	return out
}

// Resolve walks down from the root following child names. It returns the
// deepest node reached and whether every name matched.
func (t *Tree) Resolve(names []string) (*Node, bool) {
	cur := t.Root()
	for _, name := range names {
		var next *Node
		for _, c := range cur.Children {
			if t.nodes[c].Name == name {
				next = t.nodes[c]
				break
			}
		}
		if next == nil {
			return cur, false
		}
		cur = next
	}
	return cur, true
}

// Validate checks the structural invariants: every child points back at its
// parent, every node is reachable from the root, and every container's weight
// equals the ordered sum of its children's weights.
func (t *Tree) Validate() error {
	seen := make(map[int]bool, len(t.nodes))
	var check func(n *Node) error
	check = func(n *Node) error {
		seen[n.ID] = true
		if n.IsLeaf() {
			return nil
		}
		sum := 0.0
		for _, cid := range n.Children {
			c, ok := t.nodes[cid]
			if !ok {
				return fmt.Errorf("%w: child %d of %d", ErrUnknownNode, cid, n.ID)
			}
			if c.Parent != n.ID {
				return fmt.Errorf("%w: %d lists %d, which points at %d", ErrParentMismatch, n.ID, cid, c.Parent)
			}
			if err := check(c); err != nil {
				return err
			}
			sum += c.Weight
		}
		if sum != n.Weight {
			return fmt.Errorf("%w: %s %q has %v, children sum to %v", ErrWeightMismatch, n.Kind, n.Name, n.Weight, sum)
		}
		return nil
	}
	if err := check(t.Root()); err != nil {
		return err
	}
	for id := range t.nodes {
		if !seen[id] {
			return fmt.Errorf("%w: %d", ErrUnreachable, id)
		}
	}
	return nil
}

// aggregate recomputes mapping shares and container weights bottom-up.
func (t *Tree) aggregate(n *Node) {
	if n.Kind == KindControl {
		if len(n.Children) == 0 {
			n.Weight = n.Intrinsic
			return
		}
		share := n.Intrinsic / float64(len(n.Children))
		sum := 0.0
		for _, cid := range n.Children {
			c := t.nodes[cid]
			c.Intrinsic = share
			c.Weight = share
			sum += share
		}
		n.Weight = sum
		return
	}
	if len(n.Children) == 0 {
		if n.Kind != KindMapping {
			n.Weight = n.Intrinsic
		}
		return
	}
	sum := 0.0
	for _, cid := range n.Children {
		c := t.nodes[cid]
		t.aggregate(c)
		sum += c.Weight
	}
	n.Weight = sum
}
