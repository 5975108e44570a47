package nav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/layout"
	"github.com/matzehuels/controlsphere/pkg/core/regime"
	"github.com/matzehuels/controlsphere/pkg/observability"
)

// DefaultDepthWindow is the number of levels expanded below the focus.
const DefaultDepthWindow = 2

var (
	// ErrInvalidDepth is returned for depth windows below 1.
	ErrInvalidDepth = errors.New("depth window must be at least 1")

	// ErrNoTree is returned by [New] without a tree.
	ErrNoTree = errors.New("navigator: no tree")
)

// Layouter lays out depth windows. [layout.Engine] implements it.
type Layouter interface {
	LayoutWindow(ctx context.Context, req layout.Request) (*layout.Placement, error)
	RadiusModel() layout.RadiusModel
}

// FocusEvent is emitted after every settled change of the view.
type FocusEvent struct {
	Focus       Crumb             `json:"focus"`
	Path        []Crumb           `json:"path"`
	Inside      bool              `json:"inside"`
	DepthWindow int               `json:"depth_window"`
	Selection   []string          `json:"selection"`
	Revision    uuid.UUID         `json:"revision"`
	Placement   *layout.Placement `json:"-"`
}

// Options configures a [Navigator].
type Options struct {
	DepthWindow int
	Selection   regime.Selection
	OnlyMapped  bool
	// Animator plays animated transitions. Nil completes them immediately.
	Animator Animator
	Logger   *log.Logger
}

type subscriber struct {
	id int
	fn func(FocusEvent)
}

// Navigator is the focus state machine.
//
// The focus path runs from the root to the focused container; an empty path
// is the outside view of the root. Requests that move the focus produce a
// [Transition]; only the most recent one settles. Completion callbacks of
// superseded transitions do nothing.
type Navigator struct {
	mu         sync.Mutex
	tree       *hierarchy.Tree
	proj       *hierarchy.Projection
	layouter   Layouter
	animator   Animator
	logger     *log.Logger
	depth      int
	selection  regime.Selection
	onlyMapped bool

	path      []int
	inside    bool
	placement *layout.Placement
	pending   *Transition
	seq       uint64
	err       error

	subs    []subscriber
	nextSub int
}

// New creates a navigator showing the root from outside. Call
// [Navigator.Refresh] to compute the initial placement.
func New(tree *hierarchy.Tree, layouter Layouter, opts Options) (*Navigator, error) {
	if tree == nil {
		return nil, ErrNoTree
	}
	if opts.DepthWindow == 0 {
		opts.DepthWindow = DefaultDepthWindow
	}
	if opts.DepthWindow < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, opts.DepthWindow)
	}
	if opts.Animator == nil {
		opts.Animator = Immediate
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	n := &Navigator{
		tree:       tree,
		layouter:   layouter,
		animator:   opts.Animator,
		logger:     opts.Logger,
		depth:      opts.DepthWindow,
		selection:  opts.Selection,
		onlyMapped: opts.OnlyMapped,
	}
	n.project()
	return n, nil
}

func (n *Navigator) project() {
	n.proj = n.tree.Project(n.selection.Filter(n.onlyMapped))
}

// =============================================================================
// Accessors
// =============================================================================

// Tree returns the current tree.
func (n *Navigator) Tree() *hierarchy.Tree {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tree
}

// FocusPath returns the settled focus path, root first. It is empty while
// the root is viewed from outside.
func (n *Navigator) FocusPath() []Crumb {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.crumbs()
}

// Focus returns the focused container, the root when outside.
func (n *Navigator) Focus() Crumb {
	n.mu.Lock()
	defer n.mu.Unlock()
	return crumbOf(n.focusNode())
}

// Inside reports whether the view is inside a container.
func (n *Navigator) Inside() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inside
}

// DepthWindow returns the number of levels expanded below the focus.
func (n *Navigator) DepthWindow() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.depth
}

// Selection returns the active regime selection.
func (n *Navigator) Selection() regime.Selection {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.selection
}

// OnlyMapped reports whether unmapped controls are hidden.
func (n *Navigator) OnlyMapped() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.onlyMapped
}

// Placement returns the layout of the settled view, nil before the first
// refresh.
func (n *Navigator) Placement() *layout.Placement {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.placement
}

// Pending returns the in-flight transition, if any.
func (n *Navigator) Pending() (Transition, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending == nil {
		return Transition{}, false
	}
	return *n.pending, true
}

// Err returns the error of the last settle attempt, nil when it succeeded.
func (n *Navigator) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Event returns the current state as a focus event.
func (n *Navigator) Event() FocusEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.event()
}

// Subscribe registers fn for focus events. The returned function removes it.
// Callbacks run without the navigator lock held and may call back into it.
func (n *Navigator) Subscribe(fn func(FocusEvent)) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextSub++
	id := n.nextSub
	n.subs = append(n.subs, subscriber{id: id, fn: fn})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.subs = slices.DeleteFunc(n.subs, func(s subscriber) bool { return s.id == id })
	}
}

// =============================================================================
// Transitions
// =============================================================================

// DrillInto flies into the container id. Leaves redirect to their nearest
// container, unknown ids to the root. Drilling into the current focus or
// into the target of the in-flight transition does nothing.
func (n *Navigator) DrillInto(ctx context.Context, id int) error {
	n.mu.Lock()
	target := n.containerFor(id)
	if n.pending != nil && n.pending.Inside && n.pending.To.ID == target.ID {
		n.mu.Unlock()
		return nil
	}
	if n.pending == nil && n.inside && n.focusNode().ID == target.ID {
		n.mu.Unlock()
		return nil
	}
	tr := n.begin(ctx, KindDrill, target, true, true)
	n.mu.Unlock()
	return n.play(ctx, tr)
}

// BreadcrumbJump truncates the focus path to its first depth crumbs. Zero
// returns to the outside view.
func (n *Navigator) BreadcrumbJump(ctx context.Context, depth int, animate bool) error {
	n.mu.Lock()
	if depth <= 0 {
		n.mu.Unlock()
		return n.ZoomToRoot(ctx)
	}
	if len(n.path) == 0 || (depth >= len(n.path) && n.pending == nil) {
		n.mu.Unlock()
		return nil
	}
	target, _ := n.tree.Lookup(n.path[min(depth, len(n.path))-1])
	tr := n.begin(ctx, KindJump, target, true, animate)
	n.mu.Unlock()
	return n.play(ctx, tr)
}

// JumpTo focuses the container id directly. Stale ids fall back to the root.
func (n *Navigator) JumpTo(ctx context.Context, id int, animate bool) error {
	n.mu.Lock()
	target := n.containerFor(id)
	if n.pending == nil && n.inside && n.focusNode().ID == target.ID {
		n.mu.Unlock()
		return nil
	}
	tr := n.begin(ctx, KindJump, target, true, animate)
	n.mu.Unlock()
	return n.play(ctx, tr)
}

// ZoomOut moves the focus one level up. From the root it returns to the
// outside view.
func (n *Navigator) ZoomOut(ctx context.Context) error {
	n.mu.Lock()
	if len(n.path) <= 1 {
		n.mu.Unlock()
		return n.ZoomToRoot(ctx)
	}
	target, _ := n.tree.Lookup(n.path[len(n.path)-2])
	tr := n.begin(ctx, KindZoomOut, target, true, false)
	n.mu.Unlock()
	return n.play(ctx, tr)
}

// ZoomToRoot clears the focus path and shows the root from outside.
func (n *Navigator) ZoomToRoot(ctx context.Context) error {
	n.mu.Lock()
	if n.pending == nil && !n.inside && n.placement != nil {
		n.mu.Unlock()
		return nil
	}
	tr := n.begin(ctx, KindRoot, n.tree.Root(), false, false)
	n.mu.Unlock()
	return n.play(ctx, tr)
}

// SetDepthWindow changes how many levels below the focus are expanded and
// refreshes the current view. The focus path is unchanged.
func (n *Navigator) SetDepthWindow(ctx context.Context, depth int) error {
	if depth < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	n.mu.Lock()
	n.depth = depth
	n.mu.Unlock()
	return n.Refresh(ctx)
}

// SetSelection changes the highlighted regimes. Mapping leaves outside the
// selection leave the layout; the focus path is unchanged unless the focus
// itself disappears.
func (n *Navigator) SetSelection(ctx context.Context, sel regime.Selection) error {
	n.mu.Lock()
	n.selection = sel
	n.project()
	n.mu.Unlock()
	return n.Refresh(ctx)
}

// SetOnlyMapped toggles hiding of controls without a selected mapping.
func (n *Navigator) SetOnlyMapped(ctx context.Context, on bool) error {
	n.mu.Lock()
	n.onlyMapped = on
	n.project()
	n.mu.Unlock()
	return n.Refresh(ctx)
}

// Reload swaps the tree. The focus path is re-resolved against the new tree
// by id, then by name, keeping the deepest node still present. An in-flight
// transition settles against the new tree.
func (n *Navigator) Reload(ctx context.Context, tree *hierarchy.Tree) error {
	if tree == nil {
		return ErrNoTree
	}
	n.mu.Lock()
	names := n.names(n.path)
	n.tree = tree
	n.project()
	if len(n.path) > 0 {
		n.path = n.resolve(n.path, names)
	}
	n.mu.Unlock()
	return n.Refresh(ctx)
}

// Refresh lays out the settled view again, for example after the layout
// options changed.
func (n *Navigator) Refresh(ctx context.Context) error {
	n.mu.Lock()
	ev, err := n.settle(ctx, n.path, n.inside)
	subs := slices.Clone(n.subs)
	n.mu.Unlock()
	if err != nil {
		return err
	}
	n.emit(subs, ev)
	return nil
}

// begin registers a new transition, superseding any pending one. Callers
// hold the lock.
func (n *Navigator) begin(ctx context.Context, kind TransitionKind, target *hierarchy.Node, inside, animated bool) Transition {
	n.seq++
	path := pathIDs(n.tree, target.ID)
	if !inside {
		path = nil
	}
	tr := Transition{
		Seq:      n.seq,
		Kind:     kind,
		From:     crumbOf(n.focusNode()),
		To:       crumbOf(target),
		Path:     path,
		Names:    n.names(path),
		Inside:   inside,
		Animated: animated,
	}
	if animated {
		tr.Duration = DefaultDuration
		tr.TargetRadius = n.radiusOf(target)
		if n.inside {
			tr.CameraStart = InsideDistance * n.radiusOf(n.focusNode())
		} else {
			tr.CameraStart = OutsideDistance * n.radiusOf(n.tree.Root())
		}
		tr.CameraEnd = ThroughDistance * tr.TargetRadius
	}
	n.pending = &tr
	observability.Navigation().OnTransition(ctx, kind.String(), animated)
	n.logger.Debug("transition", "seq", tr.Seq, "kind", kind, "to", target.Name, "animated", animated)
	return tr
}

// play hands animated transitions to the animator and settles the rest
// synchronously.
func (n *Navigator) play(ctx context.Context, tr Transition) error {
	if !tr.Animated {
		return n.complete(ctx, tr)
	}
	n.animator.Play(tr, func() {
		if err := n.complete(ctx, tr); err != nil {
			n.logger.Error("transition failed", "seq", tr.Seq, "to", tr.To.Name, "err", err)
		}
	})
	return nil
}

// complete settles tr unless a newer transition has started.
func (n *Navigator) complete(ctx context.Context, tr Transition) error {
	n.mu.Lock()
	if n.pending == nil || n.pending.Seq != tr.Seq {
		n.mu.Unlock()
		observability.Navigation().OnSuperseded(ctx, tr.Kind.String())
		n.logger.Debug("transition superseded", "seq", tr.Seq, "current", n.currentSeq())
		return nil
	}
	n.pending = nil
	path := tr.Path
	if tr.Inside {
		path = n.resolve(tr.Path, tr.Names)
	}
	ev, err := n.settle(ctx, path, tr.Inside)
	subs := slices.Clone(n.subs)
	n.mu.Unlock()
	if err != nil {
		return err
	}
	n.emit(subs, ev)
	return nil
}

func (n *Navigator) currentSeq() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}

// settle lays out the view for path and makes it current. Callers hold the
// lock.
func (n *Navigator) settle(ctx context.Context, path []int, inside bool) (FocusEvent, error) {
	focus := n.tree.RootID()
	if len(path) > 0 {
		focus = path[len(path)-1]
	}
	p, err := n.layouter.LayoutWindow(ctx, layout.Request{
		Tree:       n.tree,
		Focus:      focus,
		Depth:      n.depth,
		Selection:  n.selection,
		OnlyMapped: n.onlyMapped,
	})
	n.err = err
	if err != nil {
		return FocusEvent{}, err
	}
	// The layouter moves hidden foci to their nearest visible ancestor.
	if inside && p.Focus != focus {
		path = pathIDs(n.tree, p.Focus)
	}
	n.path = path
	n.inside = inside
	n.placement = p

	focusNode := n.focusNode()
	observability.Navigation().OnFocusChanged(ctx, focusNode.Name, len(n.path), n.inside)
	return n.event(), nil
}

func (n *Navigator) emit(subs []subscriber, ev FocusEvent) {
	for _, s := range subs {
		s.fn(ev)
	}
}

// =============================================================================
// Helpers (callers hold the lock)
// =============================================================================

func (n *Navigator) focusNode() *hierarchy.Node {
	if len(n.path) == 0 {
		return n.tree.Root()
	}
	if node, ok := n.tree.Lookup(n.path[len(n.path)-1]); ok {
		return node
	}
	return n.tree.Root()
}

// containerFor resolves id to the container a drill lands in.
func (n *Navigator) containerFor(id int) *hierarchy.Node {
	if _, ok := n.tree.Lookup(id); !ok {
		return n.tree.Root()
	}
	return n.proj.NearestContainer(id)
}

func (n *Navigator) crumbs() []Crumb {
	out := make([]Crumb, 0, len(n.path))
	for _, id := range n.path {
		if node, ok := n.tree.Lookup(id); ok {
			out = append(out, crumbOf(node))
		}
	}
	return out
}

func (n *Navigator) names(path []int) []string {
	out := make([]string, 0, len(path))
	for _, id := range path {
		if node, ok := n.tree.Lookup(id); ok {
			out = append(out, node.Name)
		}
	}
	return out
}

// resolve maps a recorded path onto the current tree: the deepest id still
// present wins, then the deepest node reachable by the recorded names, then
// the root.
func (n *Navigator) resolve(path []int, names []string) []int {
	for i := len(path) - 1; i >= 0; i-- {
		if _, ok := n.tree.Lookup(path[i]); ok {
			return pathIDs(n.tree, path[i])
		}
	}
	if len(names) > 1 {
		node, _ := n.tree.Resolve(names[1:])
		return pathIDs(n.tree, node.ID)
	}
	return []int{n.tree.RootID()}
}

// radiusOf returns the settled radius of id, or its provisional radius when
// it is not part of the current placement.
func (n *Navigator) radiusOf(node *hierarchy.Node) float64 {
	if n.placement != nil {
		if p, ok := n.placement.Get(node.ID); ok {
			return p.Radius
		}
	}
	return n.layouter.RadiusModel().Volume(n.proj.Weight(node.ID))
}

func (n *Navigator) event() FocusEvent {
	return FocusEvent{
		Focus:       crumbOf(n.focusNode()),
		Path:        n.crumbs(),
		Inside:      n.inside,
		DepthWindow: n.depth,
		Selection:   n.selection.Names(),
		Revision:    n.tree.Revision,
		Placement:   n.placement,
	}
}

func pathIDs(t *hierarchy.Tree, id int) []int {
	nodes := t.Path(id)
	out := make([]int, len(nodes))
	for i, node := range nodes {
		out[i] = node.ID
	}
	return out
}
