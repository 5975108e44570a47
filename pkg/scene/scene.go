package scene

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/layout"
	"github.com/matzehuels/controlsphere/pkg/core/nav"
	"github.com/matzehuels/controlsphere/pkg/core/regime"
)

var (
	// ErrNoPlacement is returned by [Build] without a placement.
	ErrNoPlacement = errors.New("scene: no placement")

	// ErrStaleRevision is returned by [Build] when the placement was computed
	// for a different dataset revision than the tree.
	ErrStaleRevision = errors.New("scene: placement revision differs from tree")

	// ErrEmptyScene is returned when decoding a scene without nodes.
	ErrEmptyScene = errors.New("scene: no nodes")
)

// =============================================================================
// Scene - Render-Facing Format
// =============================================================================

// Scene is everything a renderer needs to draw one settled view: positioned
// spheres with their styles, the containment edges, and the breadcrumbs.
//
// Nodes are listed in pre-order with the view root first, so drawing them in
// order paints every parent before its children.
type Scene struct {
	Revision    uuid.UUID   `json:"revision" bson:"revision"`
	RootName    string      `json:"root_name" bson:"root_name"`
	FocusID     int         `json:"focus_id" bson:"focus_id"`
	Inside      bool        `json:"inside" bson:"inside"`
	DepthWindow int         `json:"depth_window" bson:"depth_window"`
	Selection   []string    `json:"selection,omitempty" bson:"selection,omitempty"`
	OnlyMapped  bool        `json:"only_mapped,omitempty" bson:"only_mapped,omitempty"`
	BoundsScale float64     `json:"bounds_scale" bson:"bounds_scale"`
	Nodes       []Node      `json:"nodes" bson:"nodes"`
	Edges       []Edge      `json:"edges,omitempty" bson:"edges,omitempty"`
	Breadcrumbs []nav.Crumb `json:"breadcrumbs,omitempty" bson:"breadcrumbs,omitempty"`
}

// Node is one sphere.
type Node struct {
	ID          int            `json:"id" bson:"id"`
	ParentID    int            `json:"parent_id" bson:"parent_id"`
	Kind        hierarchy.Kind `json:"kind" bson:"kind"`
	Name        string         `json:"name" bson:"name"`
	FullName    string         `json:"full_name,omitempty" bson:"full_name,omitempty"`
	Description string         `json:"description,omitempty" bson:"description,omitempty"`
	Regime      string         `json:"regime,omitempty" bson:"regime,omitempty"`

	Position layout.Vec3 `json:"position" bson:"position"` // Relative to the parent
	World    layout.Vec3 `json:"world" bson:"world"`       // Relative to the view root
	Radius   float64     `json:"radius" bson:"radius"`
	Weight   float64     `json:"weight" bson:"weight"`
	Share    float64     `json:"share" bson:"share"` // Percent of the root's weight
	Depth    int         `json:"depth" bson:"depth"`

	Color       string  `json:"color" bson:"color"`
	Opacity     float64 `json:"opacity" bson:"opacity"`
	Emissive    float64 `json:"emissive,omitempty" bson:"emissive,omitempty"`
	IsLeaf      bool    `json:"is_leaf" bson:"is_leaf"`
	Expanded    bool    `json:"expanded,omitempty" bson:"expanded,omitempty"`
	Shell       bool    `json:"shell,omitempty" bson:"shell,omitempty"`
	Interactive bool    `json:"interactive" bson:"interactive"`
}

// Edge links a container to one of its children.
type Edge struct {
	ParentID int `json:"parent_id" bson:"parent_id"`
	ChildID  int `json:"child_id" bson:"child_id"`
}

// Node returns the node with the given id.
func (s *Scene) Node(id int) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// =============================================================================
// Build
// =============================================================================

// Options controls how a placement becomes a scene.
type Options struct {
	// Palette resolves regime colors. Nil uses the presets.
	Palette *regime.Palette
	// Inside draws the view root as a translucent, non-interactive shell
	// around its window. Outside, the scene is the view root alone, drawn
	// as one opaque bubble.
	Inside      bool
	Breadcrumbs []nav.Crumb
}

// Build converts a placement into a scene. Styles come from a
// [regime.Highlighter] for the placement's selection; geometry is copied
// unchanged. Without opts.Inside only the focus node is emitted.
func Build(tree *hierarchy.Tree, p *layout.Placement, opts Options) (*Scene, error) {
	if p == nil {
		return nil, ErrNoPlacement
	}
	if tree.Revision != p.Revision {
		return nil, fmt.Errorf("%w: %s != %s", ErrStaleRevision, p.Revision, tree.Revision)
	}

	sel := regime.NewSelection(p.Selection...)
	proj := tree.Project(sel.Filter(p.OnlyMapped))
	hl := regime.Highlighter{Palette: opts.Palette, Selection: sel}
	total := proj.Weight(tree.RootID())

	s := &Scene{
		Revision:    p.Revision,
		RootName:    tree.Root().Name,
		FocusID:     p.Focus,
		Inside:      opts.Inside,
		DepthWindow: p.Depth,
		Selection:   p.Selection,
		OnlyMapped:  p.OnlyMapped,
		BoundsScale: p.BoundsScale,
		Nodes:       make([]Node, 0, len(p.Order)),
		Breadcrumbs: opts.Breadcrumbs,
	}

	if !opts.Inside {
		n, ok := tree.Lookup(p.Focus)
		pl, placed := p.Nodes[p.Focus]
		if !ok || !placed {
			return nil, fmt.Errorf("%w: node %d", hierarchy.ErrUnknownNode, p.Focus)
		}
		style := hl.Outside(n)
		s.Nodes = append(s.Nodes, Node{
			ID:          n.ID,
			ParentID:    hierarchy.NoParent,
			Kind:        n.Kind,
			Name:        n.Name,
			FullName:    n.FullName,
			Description: n.Description,
			Regime:      n.Regime,
			Position:    pl.Local,
			World:       pl.World,
			Radius:      pl.Radius,
			Weight:      pl.Weight,
			Share:       share(pl.Weight, total),
			Depth:       pl.Depth,
			Color:       style.Hex(),
			Opacity:     style.Opacity,
			Emissive:    style.Emissive,
			IsLeaf:      proj.IsLeaf(n.ID),
			Interactive: style.Interactive,
		})
		return s, nil
	}

	for _, id := range p.Order {
		pl := p.Nodes[id]
		n, ok := tree.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: node %d", hierarchy.ErrUnknownNode, id)
		}
		leaf := proj.IsLeaf(id)
		shell := id == p.Focus
		style := hl.Style(n, leaf, shell)

		node := Node{
			ID:          id,
			ParentID:    pl.Parent,
			Kind:        n.Kind,
			Name:        n.Name,
			FullName:    n.FullName,
			Description: n.Description,
			Regime:      n.Regime,
			Position:    pl.Local,
			World:       pl.World,
			Radius:      pl.Radius,
			Weight:      pl.Weight,
			Share:       share(pl.Weight, total),
			Depth:       pl.Depth,
			Color:       style.Hex(),
			Opacity:     style.Opacity,
			Emissive:    style.Emissive,
			IsLeaf:      leaf,
			Expanded:    pl.Expanded,
			Shell:       shell,
			Interactive: style.Interactive,
		}
		if id == p.Focus {
			node.ParentID = hierarchy.NoParent
		} else {
			s.Edges = append(s.Edges, Edge{ParentID: pl.Parent, ChildID: id})
		}
		s.Nodes = append(s.Nodes, node)
	}
	return s, nil
}

// FromEvent builds the scene of a settled navigator view.
func FromEvent(tree *hierarchy.Tree, ev nav.FocusEvent, palette *regime.Palette) (*Scene, error) {
	return Build(tree, ev.Placement, Options{
		Palette:     palette,
		Inside:      ev.Inside,
		Breadcrumbs: ev.Path,
	})
}

func share(w, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return w / total * 100
}
