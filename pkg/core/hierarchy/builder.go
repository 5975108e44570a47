package hierarchy

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// DefaultRootName names the root when [Options.RootName] is empty.
const DefaultRootName = "SCF"

// Options configures a [Builder].
type Options struct {
	// RootName is the display name of the root node.
	RootName string
	// DomainDescriptions attaches descriptions to domain nodes by name.
	DomainDescriptions map[string]string
	// IDs allocates node identifiers. Defaults to [NextID].
	IDs func() int
}

// Result is the output of [Builder.Build].
type Result struct {
	Tree    *Tree
	Regimes []string // Distinct regime names with at least one mapping, sorted
	Skipped int      // Records dropped for lacking a control identifier or domain
}

// Builder assembles a [Tree] from records. The tree it returns stays owned by
// the builder: records added after [Builder.Build] extend the same tree and the
// next Build re-aggregates it.
type Builder struct {
	opts Options
	tree *Tree

	domains    map[string]*Node
	categories map[string]*Node
	controls   map[string]*Node
	tokens     map[int]map[string]bool // control ID -> "regime\x00token"
	regimes    map[string]bool
	skipped    int
}

// NewBuilder creates a builder with an empty root.
func NewBuilder(opts Options) *Builder {
	if opts.RootName == "" {
		opts.RootName = DefaultRootName
	}
	if opts.IDs == nil {
		opts.IDs = NextID
	}
	return &Builder{
		opts:       opts,
		tree:       newTree(opts.RootName, opts.IDs),
		domains:    make(map[string]*Node),
		categories: make(map[string]*Node),
		controls:   make(map[string]*Node),
		tokens:     make(map[int]map[string]bool),
		regimes:    make(map[string]bool),
	}
}

// Build is shorthand for adding every record to a fresh builder.
func Build(records []Record, opts Options) *Result {
	b := NewBuilder(opts)
	for _, r := range records {
		b.Add(r)
	}
	return b.Build()
}

// Add ingests one record and reports whether it was accepted.
//
// The first record for a control identifier creates the control under its
// domain and category. Later records for the same identifier only add
// mapping tokens that the control does not already have for that regime.
func (b *Builder) Add(r Record) bool {
	id := strings.TrimSpace(r.ControlID)
	domain := strings.TrimSpace(r.Domain)
	if id == "" || domain == "" {
		b.skipped++
		return false
	}

	ctrl, ok := b.controls[id]
	if !ok {
		category := strings.TrimSpace(r.Category)
		if category == "" {
			category = Uncategorized
		}
		cat := b.category(b.domain(domain), category)

		name := strings.TrimSpace(r.ControlName)
		if name == "" {
			name = id
		}
		ctrl = &Node{
			ID:          b.opts.IDs(),
			Name:        id,
			FullName:    name,
			Description: strings.TrimSpace(r.Description),
			Kind:        KindControl,
			Intrinsic:   ParseWeight(r.Weight),
		}
		b.tree.attach(cat, ctrl)
		b.controls[id] = ctrl
		b.tokens[ctrl.ID] = make(map[string]bool)
	}

	seen := b.tokens[ctrl.ID]
	for _, m := range r.Mappings {
		regime := NormalizeRegime(m.Regime)
		if regime == "" {
			continue
		}
		for _, tok := range Tokens(m.Value, id) {
			key := regime + "\x00" + tok
			if seen[key] {
				continue
			}
			seen[key] = true
			b.regimes[regime] = true
			b.tree.attach(ctrl, &Node{
				ID:       b.opts.IDs(),
				Name:     tok,
				FullName: regime + " " + tok,
				Kind:     KindMapping,
				Regime:   regime,
			})
		}
	}
	return true
}

func (b *Builder) domain(name string) *Node {
	if d, ok := b.domains[name]; ok {
		return d
	}
	d := &Node{
		ID:          b.opts.IDs(),
		Name:        name,
		FullName:    name,
		Description: b.opts.DomainDescriptions[name],
		Kind:        KindDomain,
	}
	b.tree.attach(b.tree.Root(), d)
	b.domains[name] = d
	return d
}

func (b *Builder) category(domain *Node, name string) *Node {
	key := domain.Name + "\x00" + name
	if c, ok := b.categories[key]; ok {
		return c
	}
	c := &Node{ID: b.opts.IDs(), Name: name, FullName: name, Kind: KindCategory}
	b.tree.attach(domain, c)
	b.categories[key] = c
	return c
}

// Build aggregates weights bottom-up and returns the tree.
func (b *Builder) Build() *Result {
	b.tree.aggregate(b.tree.Root())
	b.tree.Revision = uuid.New()

	regimes := make([]string, 0, len(b.regimes))
	for r := range b.regimes {
		regimes = append(regimes, r)
	}
	slices.Sort(regimes)

	return &Result{Tree: b.tree, Regimes: regimes, Skipped: b.skipped}
}
