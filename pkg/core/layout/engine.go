package layout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/regime"
	"github.com/matzehuels/controlsphere/pkg/observability"
)

// ErrNoTree is returned when a layout request carries no tree.
var ErrNoTree = errors.New("layout: no tree")

// Request describes a depth window to lay out.
type Request struct {
	Tree *hierarchy.Tree
	// Focus is the window root. Unknown ids fall back to the tree root;
	// nodes hidden by the selection fall back to their nearest visible
	// ancestor.
	Focus int
	// Depth is the number of levels below Focus that are expanded. Values
	// below 1 are treated as 1.
	Depth      int
	Selection  regime.Selection
	OnlyMapped bool
}

type stateKey struct {
	container  int
	remaining  int
	selection  string
	onlyMapped bool
}

// Engine lays out depth windows one container at a time, bottom up.
//
// Each container keeps its simulation between calls. A repeated request
// reuses the settled positions; new options or changed child radii reheat
// the existing simulation instead of starting over. The cache is dropped
// when the tree revision changes.
//
// Engine is safe for concurrent use. Identical concurrent requests share one
// computation.
type Engine struct {
	mu       sync.Mutex
	opts     Options
	version  uint64
	revision uuid.UUID
	states   map[stateKey]*subtreeSim
	logger   *log.Logger
	group    singleflight.Group
}

// NewEngine creates an engine. Zero option fields take defaults; a nil logger
// discards output.
func NewEngine(opts Options, logger *log.Logger) (*Engine, error) {
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Engine{
		opts:   opts,
		states: make(map[stateKey]*subtreeSim),
		logger: logger,
	}, nil
}

// Options returns the current options.
func (e *Engine) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// RadiusModel returns the radius model of the current options.
func (e *Engine) RadiusModel() RadiusModel {
	return e.Options().Radius
}

// SetOptions replaces the physics options. Cached simulations are re-warmed
// from their current positions the next time they are requested.
func (e *Engine) SetOptions(opts Options) error {
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if opts == e.opts {
		return nil
	}
	e.opts = opts
	e.version++
	e.logger.Debug("layout options changed", "version", e.version, "cached", len(e.states))
	return nil
}

// Reset drops every cached simulation.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.states)
}

// Cached returns the number of cached container simulations.
func (e *Engine) Cached() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

// LayoutWindow lays out the window described by req. The returned placement
// may be shared with concurrent callers of the same request.
func (e *Engine) LayoutWindow(ctx context.Context, req Request) (*Placement, error) {
	if req.Tree == nil {
		return nil, ErrNoTree
	}
	req.Depth = max(req.Depth, 1)
	key := fmt.Sprintf("%s/%d/%d/%s/%t", req.Tree.Revision, req.Focus, req.Depth, req.Selection.Key(), req.OnlyMapped)
	v, err, _ := e.group.Do(key, func() (any, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.layout(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Placement), nil
}

func (e *Engine) layout(ctx context.Context, req Request) (p *Placement, err error) {
	tree := req.Tree
	if tree.Revision != e.revision {
		clear(e.states)
		e.revision = tree.Revision
	}

	proj := tree.Project(req.Selection.Filter(req.OnlyMapped))
	focus := visibleAncestor(tree, proj, req.Focus)
	focusNode, _ := tree.Lookup(focus)

	start := time.Now()
	observability.Pipeline().OnLayoutStart(ctx, focusNode.Name, req.Depth)
	defer func() {
		n := 0
		if p != nil {
			n = p.Len()
		}
		observability.Pipeline().OnLayoutComplete(ctx, focusNode.Name, n, time.Since(start), err)
	}()

	entries := Flatten(proj, focus, req.Depth)
	radii := make(map[int]float64, len(entries))
	local := make(map[int]Vec3, len(entries))
	model := e.opts.Radius

	for i := len(entries) - 1; i >= 0; i-- {
		en := entries[i]
		if !en.Expanded {
			radii[en.ID] = model.Volume(proj.Weight(en.ID))
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := e.subtree(ctx, tree, proj, en, req, radii)
		res := st.result()
		radii[en.ID] = res.Radius
		for id, pos := range res.Positions {
			local[id] = pos
		}
	}

	p = &Placement{
		Revision:    tree.Revision,
		Focus:       focus,
		Depth:       req.Depth,
		Selection:   req.Selection.Names(),
		OnlyMapped:  req.OnlyMapped,
		BoundsScale: e.opts.BoundsScale,
		Nodes:       make(map[int]*Placed, len(entries)),
		Order:       make([]int, 0, len(entries)),
	}
	for _, en := range entries {
		n, _ := tree.Lookup(en.ID)
		pl := &Placed{
			ID:       en.ID,
			Parent:   en.Parent,
			Kind:     n.Kind,
			Local:    local[en.ID],
			Radius:   radii[en.ID],
			Weight:   proj.Weight(en.ID),
			Depth:    en.Depth,
			Expanded: en.Expanded,
		}
		if parent, ok := p.Nodes[en.Parent]; ok {
			pl.World = parent.World.Add(pl.Local)
		}
		p.Nodes[en.ID] = pl
		p.Order = append(p.Order, en.ID)
	}

	e.logger.Debug("layout window", "focus", focusNode.Name, "depth", req.Depth,
		"nodes", p.Len(), "cached", len(e.states), "elapsed", time.Since(start))
	return p, nil
}

// subtree returns the settled simulation for one expanded container,
// creating or re-warming it as needed. radii must already hold every child.
func (e *Engine) subtree(ctx context.Context, tree *hierarchy.Tree, proj *hierarchy.Projection, en Entry, req Request, radii map[int]float64) *subtreeSim {
	node, _ := tree.Lookup(en.ID)
	container := Item{ID: node.ID, Name: node.Name, Kind: node.Kind, Weight: proj.Weight(node.ID)}
	kids := proj.Children(node.ID)
	children := make([]Item, 0, len(kids))
	for _, cid := range kids {
		c, _ := tree.Lookup(cid)
		it := Item{ID: c.ID, Name: c.Name, Kind: c.Kind, Weight: proj.Weight(c.ID), Radius: radii[c.ID]}
		if c.Kind == hierarchy.KindMapping {
			it.Group = c.Regime
		}
		children = append(children, it)
	}
	key := stateKey{
		container:  node.ID,
		remaining:  req.Depth - en.Depth,
		selection:  req.Selection.Key(),
		onlyMapped: req.OnlyMapped,
	}
	st, ok := e.states[key]
	if ok && st.sameChildren(children) {
		reason := ""
		if st.version != e.version {
			st.setOptions(e.opts)
			st.version = e.version
			reason = "options"
		}
		if st.setRadii(children) && reason == "" {
			reason = "radii"
		}
		ticks := 0
		if reason != "" {
			observability.Layout().OnRewarm(ctx, node.Name, reason)
			ticks = st.rewarm(WarmAlpha)
			e.logger.Debug("rewarm subtree", "container", node.Name, "reason", reason, "ticks", ticks)
		}
		observability.Layout().OnSubtree(ctx, node.Name, len(children), ticks)
		return st
	}

	st = newSubtreeSim(container, tree.Depth(node.ID), children, e.opts)
	st.version = e.version
	st.sim.Run(e.opts.Iterations)
	e.states[key] = st
	observability.Layout().OnSubtree(ctx, node.Name, len(children), e.opts.Iterations)
	return st
}

// visibleAncestor resolves id to itself or its closest visible ancestor.
// Unknown ids resolve to the root.
func visibleAncestor(tree *hierarchy.Tree, proj *hierarchy.Projection, id int) int {
	n, ok := tree.Lookup(id)
	if !ok {
		return tree.RootID()
	}
	for !proj.Visible(n.ID) {
		parent, ok := tree.Parent(n.ID)
		if !ok {
			return tree.RootID()
		}
		n = parent
	}
	return n.ID
}
