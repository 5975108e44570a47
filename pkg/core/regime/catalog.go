package regime

import (
	"cmp"
	"slices"
	"strings"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
)

// Entry describes one regime column of the source dataset.
type Entry struct {
	Regime   string `json:"regime"`   // Normalized name, as used by the hierarchy
	Category string `json:"category"` // First header line, e.g. "EMEA EU"
	Name     string `json:"name"`     // Remaining header lines
}

// Catalog is the list of known regimes sorted by category, then name.
type Catalog []Entry

// ParseEntry splits a raw column header. Multi-line headers carry the
// category on their first line and the regime name on the rest; single-line
// headers have no category.
func ParseEntry(header string) Entry {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(header, "\r", "\n"), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	e := Entry{Regime: hierarchy.NormalizeRegime(header)}
	switch len(lines) {
	case 0:
	case 1:
		e.Name = lines[0]
	default:
		e.Category = lines[0]
		e.Name = hierarchy.NormalizeRegime(strings.Join(lines[1:], " "))
	}
	return e
}

// ParseCatalog parses headers into a deduplicated, sorted catalog.
func ParseCatalog(headers []string) Catalog {
	seen := make(map[string]bool, len(headers))
	var out Catalog
	for _, h := range headers {
		e := ParseEntry(h)
		if e.Regime == "" || seen[e.Regime] {
			continue
		}
		seen[e.Regime] = true
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(a.Category, b.Category), cmp.Compare(a.Name, b.Name))
	})
	return out
}

// Names returns the normalized regime names in catalog order.
func (c Catalog) Names() []string {
	out := make([]string, len(c))
	for i, e := range c {
		out[i] = e.Regime
	}
	return out
}

// Categories returns the distinct categories in order.
func (c Catalog) Categories() []string {
	var out []string
	for _, e := range c {
		if len(out) == 0 || out[len(out)-1] != e.Category {
			out = append(out, e.Category)
		}
	}
	return out
}
