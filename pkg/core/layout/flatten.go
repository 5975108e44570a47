package layout

import "github.com/matzehuels/controlsphere/pkg/core/hierarchy"

// Entry is one node of a flattened depth window.
type Entry struct {
	ID     int
	Parent int // hierarchy.NoParent for the window root
	Depth  int // 0 for the window root
	// Expanded is set when the node's children are part of the window.
	Expanded bool
}

// Flatten lists the visible nodes of the window rooted at focus in pre-order.
// Nodes deeper than depth levels below focus are omitted; nodes at exactly
// that depth are listed but not expanded. Nodes hidden by the projection are
// absent. A hidden or unknown focus yields nil.
func Flatten(p *hierarchy.Projection, focus, depth int) []Entry {
	if !p.Visible(focus) {
		return nil
	}
	var out []Entry
	var visit func(id, parent, d int)
	visit = func(id, parent, d int) {
		kids := p.Children(id)
		expanded := d < depth && len(kids) > 0
		out = append(out, Entry{ID: id, Parent: parent, Depth: d, Expanded: expanded})
		if !expanded {
			return
		}
		for _, c := range kids {
			visit(c, id, d+1)
		}
	}
	visit(focus, hierarchy.NoParent, 0)
	return out
}
