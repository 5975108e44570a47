package regime

import (
	"slices"
	"strings"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
)

// DefaultSelection is the regime selection used when nothing is configured.
var DefaultSelection = []string{"NIST CSF 2.0"}

// Selection is an immutable set of active regime names. The zero value
// selects nothing, so every mapping leaf is hidden.
type Selection struct {
	names map[string]struct{}
}

// NewSelection builds a selection. Names are normalized the same way the
// hierarchy builder normalizes regime headers; blanks are ignored.
func NewSelection(names ...string) Selection {
	s := Selection{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if n = hierarchy.NormalizeRegime(n); n != "" {
			s.names[n] = struct{}{}
		}
	}
	return s
}

// Contains reports whether a regime is active.
func (s Selection) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len returns the number of active regimes.
func (s Selection) Len() int { return len(s.names) }

// Names returns the active regimes in sorted order.
func (s Selection) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Key returns a stable string identifying the selection, for cache keys.
func (s Selection) Key() string {
	return strings.Join(s.Names(), "|")
}

// Toggle returns a copy of the selection with name added or removed.
func (s Selection) Toggle(name string) Selection {
	names := s.Names()
	name = hierarchy.NormalizeRegime(name)
	if i := slices.Index(names, name); i >= 0 {
		names = slices.Delete(names, i, i+1)
	} else {
		names = append(names, name)
	}
	return NewSelection(names...)
}

// Equal reports whether two selections hold the same regimes.
func (s Selection) Equal(o Selection) bool {
	return s.Key() == o.Key()
}

// Keep reports whether a mapping leaf belongs to an active regime.
func (s Selection) Keep(n *hierarchy.Node) bool {
	return s.Contains(n.Regime)
}

// Filter returns the hierarchy filter for this selection.
func (s Selection) Filter(onlyMapped bool) hierarchy.Filter {
	return hierarchy.Filter{Keep: s.Keep, OnlyMapped: onlyMapped}
}
