package regime

import (
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
)

// Opacity and emissive levels applied by [Highlighter].
const (
	ActiveOpacity    = 1.0
	ActiveEmissive   = 0.6
	InactiveOpacity  = 0.3
	LeafOpacity      = 0.9
	ContainerOpacity = 0.4
	ShellOpacity     = 0.05
	OutsideOpacity   = 1.0
)

// Style is the visual treatment of one node. Highlighting never changes
// geometry, only these fields.
type Style struct {
	Color       colorful.Color
	Opacity     float64
	Emissive    float64
	Interactive bool
}

// Hex returns the color as "#rrggbb".
func (s Style) Hex() string { return s.Color.Hex() }

// Highlighter styles nodes for the current selection.
type Highlighter struct {
	Palette   *Palette
	Selection Selection
}

// Style returns the style of n. A shell is the focused container drawn around
// its own children: translucent and not clickable.
func (h Highlighter) Style(n *hierarchy.Node, leaf, shell bool) Style {
	base := BaseColor(n.Kind)
	if shell {
		return Style{Color: base, Opacity: ShellOpacity}
	}
	if n.Kind == hierarchy.KindMapping {
		if h.Selection.Contains(n.Regime) {
			return Style{
				Color:       h.Palette.Color(n.Regime),
				Opacity:     ActiveOpacity,
				Emissive:    ActiveEmissive,
				Interactive: true,
			}
		}
		return Style{Color: base, Opacity: InactiveOpacity, Interactive: true}
	}
	if leaf {
		return Style{Color: base, Opacity: LeafOpacity, Interactive: true}
	}
	return Style{Color: base, Opacity: ContainerOpacity, Interactive: true}
}

// Outside returns the style of the single bubble drawn when the view is
// outside the focus: opaque and clickable.
func (h Highlighter) Outside(n *hierarchy.Node) Style {
	return Style{Color: BaseColor(n.Kind), Opacity: OutsideOpacity, Interactive: true}
}

// BaseColor returns the non-highlighted color for a node kind.
func BaseColor(k hierarchy.Kind) colorful.Color {
	switch k {
	case hierarchy.KindDomain:
		return DomainColor
	case hierarchy.KindCategory:
		return CategoryColor
	default:
		return NeutralColor
	}
}
