package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	"github.com/matzehuels/controlsphere/pkg/core/nav"
	"github.com/matzehuels/controlsphere/pkg/core/regime"
	"github.com/matzehuels/controlsphere/pkg/pipeline"
	"github.com/matzehuels/controlsphere/pkg/session"
	"github.com/matzehuels/controlsphere/pkg/source"
)

// frameInterval is the redraw rate while a transition plays.
const frameInterval = 33 * time.Millisecond

// exploreCommand creates the interactive explorer.
func (c *CLI) exploreCommand() *cobra.Command {
	var (
		fresh bool
		flags viewFlags
	)

	cmd := &cobra.Command{
		Use:   "explore [dataset]",
		Short: "Navigate the hierarchy interactively",
		Long: `Navigate the control hierarchy in the terminal.

The view starts outside the root. Drilling into a container flies the camera
through its surface; the contents of the focus are listed with their weights.
The last view of each dataset is saved and restored on the next run unless
--fresh is given or --focus names a starting point.

Keys:
  ↑/↓ j/k     move the cursor
  ⏎ → l       drill into the selected container
  ⌫ ← h esc   zoom out one level
  1-9         jump to a breadcrumb
  r           back to the outside view
  + -         expand more or fewer levels
  m           only show controls mapped to a selected regime
  g           choose regimes
  /           search
  s           save the view
  q           save and quit`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			src, err := sourceArg(args, cfg)
			if err != nil {
				return err
			}
			opts := flags.options(cmd, cfg, src)
			runner, err := c.newRunner(cmd.Context(), cfg, flags.noCache)
			if err != nil {
				return fmt.Errorf("initialize runner: %w", err)
			}
			defer runner.Close()
			return c.runExplore(cmd.Context(), runner, opts, fresh)
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore the saved view")
	flags.register(cmd)

	return cmd
}

func (c *CLI) runExplore(ctx context.Context, runner *pipeline.Runner, opts pipeline.Options, fresh bool) error {
	spinner := newSpinnerWithContext(ctx, "Loading dataset...")
	spinner.Start()

	ds, _, _, err := runner.LoadWithCacheInfo(ctx, opts)
	if err != nil {
		spinner.StopWithError("Load failed")
		return err
	}
	built, err := runner.Build(ctx, ds, opts)
	if err != nil {
		spinner.StopWithError("Build failed")
		return err
	}
	spinner.Update("Computing layout...")

	palette, err := opts.Palette()
	if err != nil {
		spinner.Stop()
		return err
	}
	engine, err := runner.Engine(opts.Physics)
	if err != nil {
		spinner.Stop()
		return err
	}

	animator := newFrameAnimator()
	n, err := nav.New(built.Tree, engine, nav.Options{
		DepthWindow: opts.Depth,
		Selection:   opts.Selection(),
		OnlyMapped:  opts.OnlyMapped,
		Animator:    animator,
		Logger:      log.New(io.Discard),
	})
	if err != nil {
		spinner.Stop()
		return err
	}
	if err := n.Refresh(ctx); err != nil {
		spinner.StopWithError("Layout failed")
		return err
	}

	var store session.Store
	if fs, err := session.NewFileStore(""); err != nil {
		c.Logger.Warn("sessions disabled", "error", err)
	} else {
		store = fs
	}
	sess, err := c.startView(ctx, n, store, opts, fresh)
	spinner.Stop()
	if err != nil {
		return err
	}

	m := newExploreModel(ctx, n, animator, palette, catalogOf(ds, built))
	m.store, m.sess = store, sess
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return err
	}

	animator.finishAll()
	if err := saveView(context.WithoutCancel(ctx), store, sess, n); err != nil {
		c.Logger.Warn("could not save view", "error", err)
	}
	return nil
}

// saveView captures the navigator's view into sess and stores it.
func saveView(ctx context.Context, store session.Store, sess *session.Session, n *nav.Navigator) error {
	if store == nil || sess == nil {
		return nil
	}
	sess.Capture(n, session.DefaultTTL)
	return store.Set(ctx, sess)
}

// startView positions the navigator on the --focus path or the saved view.
func (c *CLI) startView(ctx context.Context, n *nav.Navigator, store session.Store, opts pipeline.Options, fresh bool) (*session.Session, error) {
	var sess *session.Session
	if store != nil && !fresh {
		saved, err := store.Get(ctx, session.IDFor(opts.Source))
		if err != nil {
			c.Logger.Warn("could not read saved view", "error", err)
		}
		sess = saved
	}

	if opts.Inside() {
		target, exact := n.Tree().Resolve(opts.Focus)
		if !exact {
			c.Logger.Warn("focus path not found, using deepest match", "focus", strings.Join(opts.Focus, focusSeparator), "match", target.Name)
		}
		if err := n.JumpTo(ctx, target.ID, false); err != nil {
			return nil, err
		}
	} else if sess != nil {
		exact, err := sess.Restore(ctx, n)
		if err != nil {
			return nil, err
		}
		if !exact {
			c.Logger.Info("saved focus no longer exists, using deepest match")
		}
	}

	if sess == nil {
		sess = session.New(opts.Source, session.DefaultTTL)
	}
	return sess, nil
}

// catalogOf returns the regime catalog of a dataset, falling back to the
// regimes found in its mappings.
func catalogOf(ds *source.Dataset, built *hierarchy.Result) regime.Catalog {
	if catalog := regime.ParseCatalog(ds.Regimes); len(catalog) > 0 {
		return catalog
	}
	return regime.ParseCatalog(built.Regimes)
}

// =============================================================================
// Animator
// =============================================================================

// frameAnimator parks the completion callbacks of animated transitions until
// the model has drawn their frames.
type frameAnimator struct {
	mu      sync.Mutex
	pending map[uint64]func()
}

func newFrameAnimator() *frameAnimator {
	return &frameAnimator{pending: make(map[uint64]func())}
}

func (a *frameAnimator) Play(t nav.Transition, done func()) {
	a.mu.Lock()
	a.pending[t.Seq] = done
	a.mu.Unlock()
}

// finish completes the transition seq. Unknown or finished seqs are ignored.
func (a *frameAnimator) finish(seq uint64) {
	a.mu.Lock()
	done := a.pending[seq]
	delete(a.pending, seq)
	a.mu.Unlock()
	if done != nil {
		done()
	}
}

// finishAll completes every parked transition in start order.
func (a *frameAnimator) finishAll() {
	a.mu.Lock()
	seqs := make([]uint64, 0, len(a.pending))
	for seq := range a.pending {
		seqs = append(seqs, seq)
	}
	a.mu.Unlock()
	slices.Sort(seqs)
	for _, seq := range seqs {
		a.finish(seq)
	}
}

// =============================================================================
// Model
// =============================================================================

type exploreMode int

const (
	modeBrowse exploreMode = iota
	modeRegimes
	modeSearch
)

// frameMsg drives an animated transition.
type frameMsg struct {
	seq uint64
	at  time.Time
}

// flight is the transition being drawn.
type flight struct {
	nav.Transition
	start time.Time
}

// progress returns how far the flight is at t, in [0, 1].
func (f flight) progress(t time.Time) float64 {
	if f.Duration <= 0 {
		return 1
	}
	return min(float64(t.Sub(f.start))/float64(f.Duration), 1)
}

// exploreModel is the bubbletea model of the explorer.
type exploreModel struct {
	ctx      context.Context
	nav      *nav.Navigator
	animator *frameAnimator
	palette  *regime.Palette
	catalog  regime.Catalog

	mode   exploreMode
	items  []*hierarchy.Node
	cursor int
	offset int
	height int
	width  int

	flight   *flight
	progress float64

	regimeCursor int
	query        string
	hits         []*hierarchy.Node
	hitCursor    int

	store session.Store
	sess  *session.Session

	status string
}

func newExploreModel(ctx context.Context, n *nav.Navigator, animator *frameAnimator, palette *regime.Palette, catalog regime.Catalog) exploreModel {
	m := exploreModel{
		ctx:      ctx,
		nav:      n,
		animator: animator,
		palette:  palette,
		catalog:  catalog,
		height:   15,
		width:    80,
	}
	m.sync()
	return m
}

func (m exploreModel) Init() tea.Cmd {
	return nil
}

func (m exploreModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = max(msg.Height-12, 5)
		m.clampOffset()
		return m, nil
	case frameMsg:
		return m.frame(msg)
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case modeRegimes:
			return m.updateRegimes(msg)
		case modeSearch:
			return m.updateSearch(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m exploreModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q":
		return m, tea.Quit
	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "enter", "right", "l":
		if n := m.selected(); n != nil && !n.IsLeaf() {
			return m.navigate(m.nav.DrillInto(m.ctx, n.ID))
		}
	case "backspace", "left", "h", "esc":
		return m.navigate(m.nav.ZoomOut(m.ctx))
	case "r":
		return m.navigate(m.nav.ZoomToRoot(m.ctx))
	case "+", "=":
		return m.navigate(m.nav.SetDepthWindow(m.ctx, m.nav.DepthWindow()+1))
	case "-":
		if d := m.nav.DepthWindow(); d > 1 {
			return m.navigate(m.nav.SetDepthWindow(m.ctx, d-1))
		}
	case "m":
		return m.navigate(m.nav.SetOnlyMapped(m.ctx, !m.nav.OnlyMapped()))
	case "g":
		if len(m.catalog) > 0 {
			m.mode = modeRegimes
		}
	case "/":
		m.mode = modeSearch
		m.query, m.hits, m.hitCursor = "", nil, 0
	case "s":
		if m.store == nil {
			m.status = "sessions are disabled"
		} else if err := saveView(m.ctx, m.store, m.sess, m.nav); err != nil {
			m.status = err.Error()
		} else {
			m.status = "view saved"
		}
	default:
		if d, err := strconv.Atoi(key); err == nil && d >= 1 && d <= 9 {
			return m.navigate(m.nav.BreadcrumbJump(m.ctx, d, false))
		}
	}
	return m, nil
}

func (m exploreModel) updateRegimes(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "g", "enter":
		m.mode = modeBrowse
	case "up", "k":
		if m.regimeCursor > 0 {
			m.regimeCursor--
		}
	case "down", "j":
		if m.regimeCursor < len(m.catalog)-1 {
			m.regimeCursor++
		}
	case " ", "space", "x":
		sel := m.nav.Selection().Toggle(m.catalog[m.regimeCursor].Regime)
		return m.navigate(m.nav.SetSelection(m.ctx, sel))
	}
	return m, nil
}

func (m exploreModel) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeBrowse
		return m, nil
	case tea.KeyEnter:
		m.mode = modeBrowse
		if len(m.hits) == 0 {
			return m, nil
		}
		return m.navigate(m.nav.JumpTo(m.ctx, m.hits[m.hitCursor].ID, true))
	case tea.KeyUp:
		if m.hitCursor > 0 {
			m.hitCursor--
		}
		return m, nil
	case tea.KeyDown:
		if m.hitCursor < len(m.hits)-1 {
			m.hitCursor++
		}
		return m, nil
	case tea.KeyBackspace:
		if r := []rune(m.query); len(r) > 0 {
			m.query = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.query += " "
	case tea.KeyRunes:
		m.query += string(msg.Runes)
	default:
		return m, nil
	}
	m.hits, m.hitCursor = m.nav.Tree().Find(m.query), 0
	return m, nil
}

// navigate records the outcome of a navigator call and starts drawing a new
// animated transition if one began.
func (m exploreModel) navigate(err error) (tea.Model, tea.Cmd) {
	if err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.status = ""
	tr, ok := m.nav.Pending()
	if !ok || !tr.Animated {
		if m.flight != nil {
			m.animator.finish(m.flight.Seq)
		}
		m.land()
		return m, nil
	}
	if m.flight != nil && m.flight.Seq == tr.Seq {
		return m, nil
	}
	if m.flight != nil {
		m.animator.finish(m.flight.Seq)
	}
	m.flight = &flight{Transition: tr, start: time.Now()}
	m.progress = 0
	return m, nextFrame(tr.Seq)
}

func nextFrame(seq uint64) tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return frameMsg{seq: seq, at: t}
	})
}

func (m exploreModel) frame(msg frameMsg) (tea.Model, tea.Cmd) {
	if m.flight == nil || m.flight.Seq != msg.seq {
		return m, nil
	}
	if tr, ok := m.nav.Pending(); !ok || tr.Seq != msg.seq {
		// Superseded by a call that settled synchronously.
		m.animator.finish(msg.seq)
		m.land()
		return m, nil
	}
	m.progress = m.flight.progress(msg.at)
	if m.progress < 1 {
		return m, nextFrame(msg.seq)
	}
	m.animator.finish(msg.seq)
	m.land()
	return m, nil
}

// land clears the flight and reads the settled view.
func (m *exploreModel) land() {
	m.flight = nil
	m.progress = 0
	m.sync()
}

// sync rebuilds the item list from the navigator's placement.
func (m *exploreModel) sync() {
	if err := m.nav.Err(); err != nil {
		m.status = err.Error()
	}
	t := m.nav.Tree()
	m.items = m.items[:0]
	if !m.nav.Inside() {
		m.items = append(m.items, t.Root())
	} else if p := m.nav.Placement(); p != nil {
		for _, placed := range p.Children(p.Focus) {
			if n, ok := t.Lookup(placed.ID); ok {
				m.items = append(m.items, n)
			}
		}
	}
	m.cursor = min(m.cursor, max(len(m.items)-1, 0))
	m.clampOffset()
}

func (m *exploreModel) moveCursor(delta int) {
	m.cursor = min(max(m.cursor+delta, 0), max(len(m.items)-1, 0))
	m.clampOffset()
}

func (m *exploreModel) clampOffset() {
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+m.height {
		m.offset = m.cursor - m.height + 1
	}
}

func (m exploreModel) selected() *hierarchy.Node {
	if m.cursor < len(m.items) {
		return m.items[m.cursor]
	}
	return nil
}

// =============================================================================
// View
// =============================================================================

var (
	crumbStyle    = lipgloss.NewStyle().Foreground(colorGray)
	cursorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	detailStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorDim).Padding(0, 1)
	progressStyle = lipgloss.NewStyle().Foreground(colorCyan)
)

func (m exploreModel) View() string {
	var b strings.Builder

	b.WriteString(m.breadcrumbs())
	b.WriteString("\n")
	b.WriteString(m.settings())
	b.WriteString("\n\n")

	switch {
	case m.flight != nil:
		b.WriteString(m.flightView())
	case m.mode == modeRegimes:
		b.WriteString(m.regimesView())
	case m.mode == modeSearch:
		b.WriteString(m.searchView())
	default:
		b.WriteString(m.listView())
		if n := m.selected(); n != nil {
			b.WriteString("\n")
			b.WriteString(m.detailView(n))
		}
	}

	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(StyleWarning.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(StyleDim.Render(m.help()))
	return b.String()
}

func (m exploreModel) breadcrumbs() string {
	path := m.nav.FocusPath()
	if len(path) == 0 {
		return StyleTitle.Render(m.nav.Tree().Root().Name) + " " + StyleDim.Render("(outside)")
	}
	parts := make([]string, len(path))
	for i, c := range path {
		label := fmt.Sprintf("%d %s", i+1, c.Name)
		if i == len(path)-1 {
			parts[i] = StyleTitle.Render(label)
		} else {
			parts[i] = crumbStyle.Render(label)
		}
	}
	return strings.Join(parts, StyleDim.Render(" › "))
}

func (m exploreModel) settings() string {
	parts := []string{fmt.Sprintf("depth %d", m.nav.DepthWindow())}
	if m.nav.OnlyMapped() {
		parts = append(parts, "only mapped")
	}
	line := StyleDim.Render(strings.Join(parts, " · "))
	for _, name := range m.nav.Selection().Names() {
		line += "  " + swatch(m.palette.Color(name).Hex()) + " " + StyleValue.Render(name)
	}
	return line
}

func (m exploreModel) listView() string {
	if len(m.items) == 0 {
		return StyleDim.Render("  nothing to show; try m or g")
	}
	var b strings.Builder
	end := min(m.offset+m.height, len(m.items))
	for i := m.offset; i < end; i++ {
		n := m.items[i]
		cursor := "  "
		name := kindStyles[n.Kind].Render(n.Name)
		if i == m.cursor {
			cursor = cursorStyle.Render("▸ ")
			name = cursorStyle.Render(n.Name)
		}
		marker := " "
		if n.Kind == hierarchy.KindMapping {
			marker = lipgloss.NewStyle().Foreground(lipgloss.Color(m.palette.Color(n.Regime).Hex())).Render("●")
		} else if !n.IsLeaf() {
			marker = StyleDim.Render("○")
		}
		fmt.Fprintf(&b, "%s%s %s  %s\n", cursor, marker, name, StyleNumber.Render(fmt.Sprintf("%.4g", n.Weight)))
	}
	if len(m.items) > m.height {
		b.WriteString(StyleDim.Render(fmt.Sprintf("  [%d/%d]", m.cursor+1, len(m.items))))
		b.WriteString("\n")
	}
	return b.String()
}

func (m exploreModel) detailView(n *hierarchy.Node) string {
	lines := []string{StyleTitle.Render(n.Name) + " " + StyleDim.Render(n.Kind.String())}
	if n.FullName != "" && n.FullName != n.Name {
		lines = append(lines, StyleValue.Render(n.FullName))
	}
	if n.Description != "" {
		desc := n.Description
		if w := m.width - 8; w > 20 && len(desc) > w {
			desc = desc[:w-1] + "…"
		}
		lines = append(lines, StyleDim.Render(desc))
	}
	lines = append(lines, fmt.Sprintf("%s %s", StyleDim.Render("weight"), StyleNumber.Render(fmt.Sprintf("%.4g", n.Weight))))
	if !n.IsLeaf() {
		lines = append(lines, fmt.Sprintf("%s %s", StyleDim.Render("children"), StyleNumber.Render(strconv.Itoa(len(n.Children)))))
	}
	return detailStyle.Render(strings.Join(lines, "\n"))
}

func (m exploreModel) flightView() string {
	f := m.flight
	const width = 30
	filled := int(m.progress * width)
	bar := progressStyle.Render(strings.Repeat("█", filled)) + StyleDim.Render(strings.Repeat("░", width-filled))

	state := "approaching"
	if f.CrossedSurface(m.progress) {
		state = "inside"
	}
	return fmt.Sprintf("  %s %s\n  %s  %s\n",
		StyleDim.Render("flying into"), StyleTitle.Render(f.To.Name),
		bar,
		StyleDim.Render(fmt.Sprintf("camera %.2f · %s", f.CameraAt(m.progress), state)),
	)
}

func (m exploreModel) regimesView() string {
	var b strings.Builder
	b.WriteString(StyleTitle.Render("Regimes"))
	b.WriteString("\n")
	sel := m.nav.Selection()
	end := min(len(m.catalog), max(m.regimeCursor+1, m.height))
	start := max(end-m.height, 0)
	for i := start; i < end; i++ {
		e := m.catalog[i]
		cursor := "  "
		if i == m.regimeCursor {
			cursor = cursorStyle.Render("▸ ")
		}
		box := "[ ]"
		if sel.Contains(e.Regime) {
			box = StyleSuccess.Render("[x]")
		}
		fmt.Fprintf(&b, "%s%s %s %s %s\n", cursor, box, swatch(m.palette.Color(e.Regime).Hex()), StyleValue.Render(e.Name), StyleDim.Render(e.Category))
	}
	return b.String()
}

func (m exploreModel) searchView() string {
	var b strings.Builder
	b.WriteString(StyleHighlight.Render("/ ") + StyleValue.Render(m.query) + cursorStyle.Render("_"))
	b.WriteString("\n")
	t := m.nav.Tree()
	for i, n := range m.hits {
		if i >= m.height {
			b.WriteString(StyleDim.Render(fmt.Sprintf("  … %d more", len(m.hits)-i)))
			b.WriteString("\n")
			break
		}
		cursor := "  "
		if i == m.hitCursor {
			cursor = cursorStyle.Render("▸ ")
		}
		fmt.Fprintf(&b, "%s%s %s\n", cursor, kindStyles[n.Kind].Render(n.Name), StyleDim.Render(focusPath(t, n.ID)))
	}
	return b.String()
}

func (m exploreModel) help() string {
	switch m.mode {
	case modeRegimes:
		return "↑/↓ move  space toggle  esc back"
	case modeSearch:
		return "type to search  ↑/↓ choose  ⏎ jump  esc cancel"
	}
	return "⏎ drill  ⌫ out  1-9 crumb  r root  +/- depth  m mapped  g regimes  / search  q quit"
}
