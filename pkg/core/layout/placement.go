package layout

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
)

var (
	// ErrNonFinite is returned by [Placement.Validate] for NaN or infinite
	// positions or radii.
	ErrNonFinite = errors.New("non-finite placement")

	// ErrEscapesParent is returned by [Placement.Validate] when a child
	// reaches outside its parent's bounds.
	ErrEscapesParent = errors.New("child escapes parent")

	// ErrOverlap is returned by [Placement.Validate] when two siblings
	// overlap.
	ErrOverlap = errors.New("siblings overlap")
)

// Placed is the layout of one node in a depth window.
type Placed struct {
	ID     int            `json:"id"`
	Parent int            `json:"parent"`
	Kind   hierarchy.Kind `json:"kind"`
	// Local is the center relative to the parent's center. The window root
	// sits at the origin.
	Local Vec3 `json:"local"`
	// World is the center relative to the window root.
	World    Vec3    `json:"world"`
	Radius   float64 `json:"radius"`
	Weight   float64 `json:"weight"`
	Depth    int     `json:"depth"`
	Expanded bool    `json:"expanded"`
}

// Placement is the layout of a depth window. It is shared between callers
// and must be treated as read-only.
type Placement struct {
	Revision    uuid.UUID       `json:"revision"`
	Focus       int             `json:"focus"`
	Depth       int             `json:"depth"`
	Selection   []string        `json:"selection"`
	OnlyMapped  bool            `json:"only_mapped"`
	BoundsScale float64         `json:"bounds_scale"`
	Nodes       map[int]*Placed `json:"nodes"`
	// Order lists node ids in pre-order, window root first.
	Order []int `json:"order"`
}

// Get returns the placement of id.
func (p *Placement) Get(id int) (*Placed, bool) {
	n, ok := p.Nodes[id]
	return n, ok
}

// Root returns the window root.
func (p *Placement) Root() *Placed { return p.Nodes[p.Focus] }

// Children returns the placed children of id in pre-order.
func (p *Placement) Children(id int) []*Placed {
	var out []*Placed
	for _, cid := range p.Order {
		if n := p.Nodes[cid]; n.Parent == id {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of placed nodes.
func (p *Placement) Len() int { return len(p.Order) }

// Validate checks that every position and radius is finite, that every child
// lies within its parent's radius times BoundsScale, and that no two
// siblings overlap. eps absorbs floating-point error.
func (p *Placement) Validate(eps float64) error {
	scale := max(p.BoundsScale, 1)
	siblings := make(map[int][]*Placed)
	for _, id := range p.Order {
		n := p.Nodes[id]
		if !n.Local.IsFinite() || !n.World.IsFinite() || !finite(n.Radius) {
			return fmt.Errorf("%w: node %d", ErrNonFinite, id)
		}
		if n.Parent == hierarchy.NoParent || id == p.Focus {
			continue
		}
		parent, ok := p.Nodes[n.Parent]
		if !ok {
			continue
		}
		if reach := n.Local.Len() + n.Radius; reach > parent.Radius*scale+eps {
			return fmt.Errorf("%w: node %d reaches %.4f, parent %d radius %.4f",
				ErrEscapesParent, id, reach, parent.ID, parent.Radius)
		}
		siblings[n.Parent] = append(siblings[n.Parent], n)
	}
	for _, group := range siblings {
		for i, a := range group {
			for _, b := range group[i+1:] {
				if d := a.Local.Dist(b.Local); d < a.Radius+b.Radius-eps {
					return fmt.Errorf("%w: nodes %d and %d at distance %.4f, radii %.4f + %.4f",
						ErrOverlap, a.ID, b.ID, d, a.Radius, b.Radius)
				}
			}
		}
	}
	return nil
}
